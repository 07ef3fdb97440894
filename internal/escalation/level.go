package escalation

import "fmt"

// Level is the ordinal escalation level. Its display value is Value():
// LevelAlternateWorker sits between 4 and 5 and displays as 4.5.
type Level int

const (
	LevelNormal Level = iota
	LevelRetry
	LevelBroadenResearch
	LevelTargetedResearch
	LevelAlternateApproach
	LevelAlternateWorker
	LevelAskUser
	LevelArbitration
	LevelHumanIntervention
)

// MaxLevel is the final level. Nothing escalates past it.
const MaxLevel = LevelHumanIntervention

var levelInfo = [...]struct {
	value float64
	label string
}{
	LevelNormal:            {0, "normal"},
	LevelRetry:             {1, "retry"},
	LevelBroadenResearch:   {2, "broaden research"},
	LevelTargetedResearch:  {3, "targeted research"},
	LevelAlternateApproach: {4, "alternate approach"},
	LevelAlternateWorker:   {4.5, "alternate worker"},
	LevelAskUser:           {5, "ask user"},
	LevelArbitration:       {6, "arbitration"},
	LevelHumanIntervention: {7, "human intervention"},
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l >= LevelNormal && l <= MaxLevel
}

// Value returns the display value (0, 1, ... 4, 4.5, 5, 6, 7).
func (l Level) Value() float64 {
	if !l.Valid() {
		return -1
	}
	return levelInfo[l].value
}

// String returns the level label.
func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelInfo[l].label
}
