package router

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Signal is a classification of a task text.
type Signal struct {
	IsActionable bool
	Category     string
	Confidence   float64
}

// Classifier decides whether a task should be scheduled at all.
type Classifier interface {
	Classify(task string) Signal
}

// Classification categories produced by GlobClassifier.
const (
	CategoryTask      = "task"
	CategorySmallTalk = "small_talk"
	CategoryEmpty     = "empty"
)

// DefaultSmallTalkPatterns are glob patterns for text that carries no work.
// Each pattern must match the whole normalized text, so a greeting followed
// by a request stays actionable.
var DefaultSmallTalkPatterns = []string{
	"{hi,hello,hey}", "{hi,hello,hey} there", "{hi,hello,hey} {all,everyone,team,folks}",
	"{thanks,thank you,thx,ty}", "{thanks,thank you} {a lot,so much,very much}",
	"good {morning,afternoon,evening}",
	"how are you", "how are you doing",
	"{ok,okay,cool,nice,great}",
	"{bye,goodbye,see you,see you later}",
}

// GlobClassifier marks text matching any small-talk glob as non-actionable.
// Text is lower-cased, whitespace-collapsed and stripped of trailing
// punctuation before matching.
type GlobClassifier struct {
	patterns []glob.Glob
	sources  []string
}

// NewGlobClassifier compiles the given patterns. With no patterns it uses
// DefaultSmallTalkPatterns.
func NewGlobClassifier(patterns ...string) (*GlobClassifier, error) {
	if len(patterns) == 0 {
		patterns = DefaultSmallTalkPatterns
	}
	c := &GlobClassifier{}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid small-talk pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, g)
		c.sources = append(c.sources, p)
	}
	return c, nil
}

// Patterns returns the source patterns.
func (c *GlobClassifier) Patterns() []string {
	return append([]string(nil), c.sources...)
}

// Classify implements Classifier.
func (c *GlobClassifier) Classify(task string) Signal {
	text := normalizeText(task)
	if text == "" {
		return Signal{IsActionable: false, Category: CategoryEmpty, Confidence: 1}
	}
	for _, g := range c.patterns {
		if g.Match(text) {
			return Signal{IsActionable: false, Category: CategorySmallTalk, Confidence: 1}
		}
	}
	return Signal{IsActionable: true, Category: CategoryTask, Confidence: 0.5}
}

func normalizeText(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	return strings.TrimRight(s, ".!?,;: ")
}
