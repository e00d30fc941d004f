package models

import (
	"fmt"
	"time"
)

// Priority is an alert priority level. Lower numbers are more urgent;
// PriorityNone means no level has been triggered.
type Priority int

const (
	PriorityNone          Priority = 0
	PriorityCritical      Priority = 1
	PriorityHigh          Priority = 2
	PriorityModerate      Priority = 3
	PriorityLow           Priority = 4
	PriorityInformational Priority = 5
)

// prioritiesHighToLow is the evaluation order for rules: the first level
// that triggers wins.
var prioritiesHighToLow = []Priority{
	PriorityCritical,
	PriorityHigh,
	PriorityModerate,
	PriorityLow,
	PriorityInformational,
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityModerate:
		return "moderate"
	case PriorityLow:
		return "low"
	case PriorityInformational:
		return "informational"
	default:
		return "none"
	}
}

// PriorityLevels maps each priority to the rule value that triggers it. A
// nil level never triggers.
type PriorityLevels struct {
	Informational *float64 `yaml:"informational"`
	Low           *float64 `yaml:"low"`
	Moderate      *float64 `yaml:"moderate"`
	High          *float64 `yaml:"high"`
	Critical      *float64 `yaml:"critical"`
}

// Level returns the configured trigger value for the given priority.
func (l PriorityLevels) Level(p Priority) *float64 {
	switch p {
	case PriorityCritical:
		return l.Critical
	case PriorityHigh:
		return l.High
	case PriorityModerate:
		return l.Moderate
	case PriorityLow:
		return l.Low
	case PriorityInformational:
		return l.Informational
	default:
		return nil
	}
}

// Rule computes an alert priority from the alert's active issues.
type Rule interface {
	// Evaluate returns the triggered priority, or PriorityNone when no
	// level triggers.
	Evaluate(now time.Time, issues []Issue) Priority
	// Validate reports configuration problems with the rule.
	Validate() error
}

// CountRule triggers a level when the number of active issues is strictly
// greater than the level's value.
type CountRule struct {
	Levels PriorityLevels `yaml:"priority_levels"`
}

func (r CountRule) Evaluate(now time.Time, issues []Issue) Priority {
	count := float64(len(issues))
	for _, p := range prioritiesHighToLow {
		level := r.Levels.Level(p)
		if level == nil {
			continue
		}
		if count > *level {
			return p
		}
	}
	return PriorityNone
}

func (r CountRule) Validate() error {
	return validateLevels(r.Levels)
}

// AgeRule triggers a level when the oldest active issue is strictly older
// than the level's value, in seconds.
type AgeRule struct {
	Levels PriorityLevels `yaml:"priority_levels"`
}

func (r AgeRule) Evaluate(now time.Time, issues []Issue) Priority {
	ages := make([]float64, 0, len(issues))
	for _, issue := range issues {
		ages = append(ages, now.Sub(issue.CreatedAt).Seconds())
	}

	for _, p := range prioritiesHighToLow {
		level := r.Levels.Level(p)
		if level == nil {
			continue
		}
		for _, age := range ages {
			if age > *level {
				return p
			}
		}
	}
	return PriorityNone
}

func (r AgeRule) Validate() error {
	return validateLevels(r.Levels)
}

// Value rule comparison operations.
const (
	OperationGreaterThan = "greater_than"
	OperationLesserThan  = "lesser_than"
)

// ValueRule triggers a level when at least one active issue carries a
// numeric value under Key that compares against the level's value with the
// configured operation. Equal-to-level does not trigger.
type ValueRule struct {
	Key       string         `yaml:"value_key"`
	Operation string         `yaml:"operation"`
	Levels    PriorityLevels `yaml:"priority_levels"`
}

func (r ValueRule) Evaluate(now time.Time, issues []Issue) Priority {
	values := make([]float64, 0, len(issues))
	for _, issue := range issues {
		if v, ok := numericValue(issue.Data[r.Key]); ok {
			values = append(values, v)
		}
	}

	for _, p := range prioritiesHighToLow {
		level := r.Levels.Level(p)
		if level == nil {
			continue
		}
		for _, v := range values {
			if r.triggers(v, *level) {
				return p
			}
		}
	}
	return PriorityNone
}

func (r ValueRule) triggers(value, level float64) bool {
	switch r.Operation {
	case OperationGreaterThan:
		return value > level
	case OperationLesserThan:
		return value < level
	default:
		return false
	}
}

func (r ValueRule) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("value rule requires a value_key")
	}
	if r.Operation != OperationGreaterThan && r.Operation != OperationLesserThan {
		return fmt.Errorf("invalid value rule operation %q", r.Operation)
	}
	return validateLevels(r.Levels)
}

func validateLevels(levels PriorityLevels) error {
	for _, p := range prioritiesHighToLow {
		if levels.Level(p) != nil {
			return nil
		}
	}
	return fmt.Errorf("priority levels must define at least one level")
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
