// Package escalation tracks collaboration between worker roles and raises an
// ordinal escalation level when two roles stop converging.
//
// The level only moves up, one step per trigger, and only Reset moves it
// back to normal. The number of consecutive non-improving handoffs needed
// for the next step grows with the level:
//
//	Threshold(level) = Base + level*Step
//
// so escalation slows down as it climbs instead of oscillating.
package escalation

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Suggested worker identities for levels that leave the worker pool.
const (
	SuggestUser  = "user"
	SuggestHuman = "human"
)

// Config holds the escalation tunables.
type Config struct {
	// Base is the number of consecutive non-improving handoffs that raises
	// level 0 to level 1.
	Base int `mapstructure:"base"`
	// Step is how much the threshold grows per level.
	Step int `mapstructure:"step"`
	// MinQualityDelta is the quality rise that counts as improvement.
	MinQualityDelta float64 `mapstructure:"min_quality_delta"`
	// Alternates maps a worker to the worker suggested in its place.
	Alternates map[string]string `mapstructure:"alternates"`
	// ResearchWorker is suggested for the research levels.
	ResearchWorker string `mapstructure:"research_worker"`
	// ArbitrationWorker is suggested at the arbitration level.
	ArbitrationWorker string `mapstructure:"arbitration_worker"`
}

// DefaultConfig returns the default escalation configuration.
func DefaultConfig() Config {
	return Config{
		Base:              3,
		Step:              1,
		MinQualityDelta:   0.05,
		Alternates:        map[string]string{"fixer": "debugger", "reviewer": "architect", "codesmith": "debugger"},
		ResearchWorker:    "research",
		ArbitrationWorker: "architect",
	}
}

// Handoff is one transfer of work between two workers.
type Handoff struct {
	From    string
	To      string
	Query   string
	Quality *float64 // Measured quality after the handoff, if any
	// Improved reports an observed status or quality improvement.
	Improved bool
}

// HandoffRecord is a handoff in the collaboration history.
type HandoffRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Query     string    `json:"query,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Improved  bool      `json:"improved,omitempty"`
}

// Transition is one escalation level change.
type Transition struct {
	Level           Level     `json:"level"`
	Reason          string    `json:"reason"`
	SuggestedWorker string    `json:"suggested_worker,omitempty"`
	SuggestedQuery  string    `json:"suggested_query,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	// Reset marks an explicit return to LevelNormal.
	Reset bool `json:"reset,omitempty"`
}

// CollaborationState is the observable collaboration state.
type CollaborationState struct {
	TotalHandoffs int `json:"total_handoffs"`
	// PairCounts counts handoffs per unordered worker pair.
	PairCounts map[string]int `json:"pair_counts"`
	// CurrentPair is the pair of the most recent handoff.
	CurrentPair string `json:"current_pair,omitempty"`
	// Consecutive counts non-improving handoffs on CurrentPair toward the
	// next threshold. It resets on improvement, pair change and escalation.
	Consecutive int `json:"consecutive"`
	// Streak counts non-improving handoffs on CurrentPair. Unlike
	// Consecutive it survives escalation.
	Streak      int      `json:"streak"`
	LastQuality *float64 `json:"last_quality,omitempty"`

	Level       Level           `json:"level"`
	History     []HandoffRecord `json:"history,omitempty"`
	Transitions []Transition    `json:"transitions,omitempty"`

	ReplanRequested bool   `json:"replan_requested"`
	SuggestedWorker string `json:"suggested_worker,omitempty"`
	SuggestedQuery  string `json:"suggested_query,omitempty"`
}

// Clone returns a deep copy.
func (s CollaborationState) Clone() CollaborationState {
	c := s
	c.PairCounts = maps.Clone(s.PairCounts)
	c.History = slices.Clone(s.History)
	c.Transitions = slices.Clone(s.Transitions)
	if s.LastQuality != nil {
		q := *s.LastQuality
		c.LastQuality = &q
	}
	return c
}

// PairKey returns the unordered key for two workers.
func PairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "<->")
}

// Controller is the escalation state machine. It is safe for concurrent use.
type Controller struct {
	mu    sync.Mutex
	cfg   Config
	state CollaborationState
	now   func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller at LevelNormal.
func NewController(cfg Config, opts ...Option) *Controller {
	if cfg.Base <= 0 {
		cfg.Base = DefaultConfig().Base
	}
	if cfg.Step < 0 {
		cfg.Step = 0
	}
	c := &Controller{
		cfg:   cfg,
		state: CollaborationState{PairCounts: make(map[string]int)},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold returns the consecutive-handoff count that raises level by one.
func (c *Controller) Threshold(level Level) int {
	return c.cfg.Base + int(level)*c.cfg.Step
}

// Level returns the current level.
func (c *Controller) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Level
}

// HumanRequired reports whether the final level has been reached.
func (c *Controller) HumanRequired() bool {
	return c.Level() == MaxLevel
}

// State returns a deep copy of the collaboration state.
func (c *Controller) State() CollaborationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// RecordHandoff records a handoff. When it raises the level, the transition
// is returned with ok set.
func (c *Controller) RecordHandoff(h Handoff) (t Transition, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	s := &c.state
	key := PairKey(h.From, h.To)

	s.TotalHandoffs++
	s.PairCounts[key]++
	if key != s.CurrentPair {
		s.CurrentPair = key
		s.Consecutive = 0
		s.Streak = 0
		s.LastQuality = nil
	}

	improved := h.Improved
	if h.Quality != nil {
		if s.LastQuality != nil && *h.Quality-*s.LastQuality >= c.cfg.MinQualityDelta {
			improved = true
		}
		q := *h.Quality
		s.LastQuality = &q
	}

	s.History = append(s.History, HandoffRecord{
		From:      h.From,
		To:        h.To,
		Query:     h.Query,
		Timestamp: now,
		Improved:  improved,
	})

	if improved {
		s.Consecutive = 0
		s.Streak = 0
		return Transition{}, false
	}

	s.Consecutive++
	s.Streak++

	if s.Level >= MaxLevel || s.Consecutive < c.Threshold(s.Level) {
		return Transition{}, false
	}

	next := s.Level + 1
	worker, query := c.suggest(next, h)
	t = Transition{
		Level: next,
		Reason: fmt.Sprintf("%d consecutive handoffs between %s without improvement",
			s.Consecutive, key),
		SuggestedWorker: worker,
		SuggestedQuery:  query,
		Timestamp:       now,
	}

	s.Level = next
	s.Consecutive = 0
	s.Transitions = append(s.Transitions, t)
	s.ReplanRequested = true
	s.SuggestedWorker = worker
	s.SuggestedQuery = query
	return t, true
}

func (c *Controller) alternate(worker string) (string, bool) {
	alt, ok := c.cfg.Alternates[worker]
	return alt, ok && alt != ""
}

func (c *Controller) suggest(level Level, h Handoff) (worker, query string) {
	switch level {
	case LevelRetry:
		if alt, ok := c.alternate(h.To); ok {
			return alt, h.Query
		}
		return h.To, h.Query
	case LevelBroadenResearch:
		return c.cfg.ResearchWorker, "broaden: " + h.Query
	case LevelTargetedResearch:
		return c.cfg.ResearchWorker, "targeted: " + h.Query
	case LevelAlternateApproach:
		return h.To, "alternate approach: " + h.Query
	case LevelAlternateWorker:
		if alt, ok := c.alternate(h.To); ok {
			return alt, h.Query
		}
		if alt, ok := c.alternate(h.From); ok {
			return alt, h.Query
		}
		return c.cfg.ArbitrationWorker, h.Query
	case LevelAskUser:
		return SuggestUser, h.Query
	case LevelArbitration:
		return c.cfg.ArbitrationWorker, h.Query
	default:
		return SuggestHuman, h.Query
	}
}

// AcknowledgeReplan clears the replan request without changing the level.
func (c *Controller) AcknowledgeReplan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ReplanRequested = false
}

// Reset returns the controller to LevelNormal after a successful replan.
// It is the only way the level decreases. The reset is recorded as a
// transition and returned.
func (c *Controller) Reset(reason string) Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := Transition{
		Level:     LevelNormal,
		Reason:    reason,
		Timestamp: c.now(),
		Reset:     true,
	}
	s := &c.state
	s.Level = LevelNormal
	s.Consecutive = 0
	s.Streak = 0
	s.CurrentPair = ""
	s.LastQuality = nil
	s.ReplanRequested = false
	s.SuggestedWorker = ""
	s.SuggestedQuery = ""
	s.Transitions = append(s.Transitions, t)
	return t
}

// Transitions returns the recorded transitions, resets included.
func (c *Controller) Transitions() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.state.Transitions)
}
