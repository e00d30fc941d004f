package models

import (
	"testing"
	"time"
)

func issueWithData(data map[string]any) Issue {
	return Issue{Status: IssueActive, Data: data}
}

func issuesOfAge(now time.Time, ages ...time.Duration) []Issue {
	issues := make([]Issue, 0, len(ages))
	for _, age := range ages {
		issues = append(issues, Issue{Status: IssueActive, CreatedAt: now.Add(-age)})
	}
	return issues
}

func TestCountRuleEvaluate(t *testing.T) {
	rule := CountRule{Levels: PriorityLevels{
		Informational: floatPtr(0),
		Moderate:      floatPtr(5),
		Critical:      floatPtr(10),
	}}
	now := time.Now()

	tests := []struct {
		name  string
		count int
		want  Priority
	}{
		{"no issues", 0, PriorityNone},
		{"above informational", 1, PriorityInformational},
		{"equal to moderate does not trigger", 5, PriorityInformational},
		{"above moderate", 6, PriorityModerate},
		{"equal to critical does not trigger", 10, PriorityModerate},
		{"above critical", 11, PriorityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := make([]Issue, tt.count)
			if got := rule.Evaluate(now, issues); got != tt.want {
				t.Errorf("Evaluate() with %d issues = %v, want %v", tt.count, got, tt.want)
			}
		})
	}
}

func TestCountRuleScanOrder(t *testing.T) {
	// Every level triggers, the most urgent one must win.
	rule := CountRule{Levels: PriorityLevels{
		Informational: floatPtr(0),
		Low:           floatPtr(0),
		Moderate:      floatPtr(0),
		High:          floatPtr(0),
		Critical:      floatPtr(0),
	}}

	if got := rule.Evaluate(time.Now(), make([]Issue, 1)); got != PriorityCritical {
		t.Errorf("Evaluate() = %v, want %v", got, PriorityCritical)
	}
}

func TestAgeRuleEvaluate(t *testing.T) {
	rule := AgeRule{Levels: PriorityLevels{
		Low:  floatPtr(60),
		High: floatPtr(3600),
	}}
	now := time.Now()

	tests := []struct {
		name   string
		issues []Issue
		want   Priority
	}{
		{"no issues", nil, PriorityNone},
		{"young issue", issuesOfAge(now, 30*time.Second), PriorityNone},
		{"exactly at level does not trigger", issuesOfAge(now, 60*time.Second), PriorityNone},
		{"above low", issuesOfAge(now, 61*time.Second), PriorityLow},
		{"one old issue wins", issuesOfAge(now, 30*time.Second, 2*time.Hour), PriorityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rule.Evaluate(now, tt.issues); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValueRuleEvaluate(t *testing.T) {
	now := time.Now()

	t.Run("greater than", func(t *testing.T) {
		rule := ValueRule{
			Key:       "lag",
			Operation: OperationGreaterThan,
			Levels:    PriorityLevels{Moderate: floatPtr(100), Critical: floatPtr(1000)},
		}

		tests := []struct {
			name   string
			issues []Issue
			want   Priority
		}{
			{"below level", []Issue{issueWithData(map[string]any{"lag": 50})}, PriorityNone},
			{"equal does not trigger", []Issue{issueWithData(map[string]any{"lag": 100})}, PriorityNone},
			{"above moderate", []Issue{issueWithData(map[string]any{"lag": 101})}, PriorityModerate},
			{"above critical", []Issue{issueWithData(map[string]any{"lag": 1500.5})}, PriorityCritical},
			{"non-numeric value skipped", []Issue{issueWithData(map[string]any{"lag": "broken"})}, PriorityNone},
			{"missing key skipped", []Issue{issueWithData(map[string]any{"other": 9999})}, PriorityNone},
			{
				"worst issue wins",
				[]Issue{
					issueWithData(map[string]any{"lag": 200}),
					issueWithData(map[string]any{"lag": 2000}),
				},
				PriorityCritical,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := rule.Evaluate(now, tt.issues); got != tt.want {
					t.Errorf("Evaluate() = %v, want %v", got, tt.want)
				}
			})
		}
	})

	t.Run("lesser than", func(t *testing.T) {
		rule := ValueRule{
			Key:       "free_space",
			Operation: OperationLesserThan,
			Levels:    PriorityLevels{High: floatPtr(10), Low: floatPtr(25)},
		}

		if got := rule.Evaluate(now, []Issue{issueWithData(map[string]any{"free_space": 5})}); got != PriorityHigh {
			t.Errorf("Evaluate() = %v, want %v", got, PriorityHigh)
		}
		if got := rule.Evaluate(now, []Issue{issueWithData(map[string]any{"free_space": 20})}); got != PriorityLow {
			t.Errorf("Evaluate() = %v, want %v", got, PriorityLow)
		}
		if got := rule.Evaluate(now, []Issue{issueWithData(map[string]any{"free_space": 25})}); got != PriorityNone {
			t.Errorf("Evaluate() at the level = %v, want %v", got, PriorityNone)
		}
	})
}

func TestValueRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    ValueRule
		wantErr bool
	}{
		{
			"valid",
			ValueRule{Key: "v", Operation: OperationGreaterThan, Levels: PriorityLevels{Low: floatPtr(1)}},
			false,
		},
		{
			"missing key",
			ValueRule{Operation: OperationGreaterThan, Levels: PriorityLevels{Low: floatPtr(1)}},
			true,
		},
		{
			"bad operation",
			ValueRule{Key: "v", Operation: "equals", Levels: PriorityLevels{Low: floatPtr(1)}},
			true,
		},
		{
			"no levels",
			ValueRule{Key: "v", Operation: OperationGreaterThan},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rule.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAlertIsPriorityAcknowledged(t *testing.T) {
	ack := func(p Priority) *Priority { return &p }

	tests := []struct {
		name  string
		alert Alert
		want  bool
	}{
		{"not acknowledged", Alert{Priority: PriorityLow}, false},
		{"acknowledged without level", Alert{Acknowledged: true, Priority: PriorityLow}, false},
		{
			"acknowledged at same level",
			Alert{Acknowledged: true, Priority: PriorityLow, AcknowledgePriority: ack(PriorityLow)},
			true,
		},
		{
			"priority increased past acknowledgement",
			Alert{Acknowledged: true, Priority: PriorityCritical, AcknowledgePriority: ack(PriorityLow)},
			false,
		},
		{
			"priority decreased below acknowledgement",
			Alert{Acknowledged: true, Priority: PriorityInformational, AcknowledgePriority: ack(PriorityLow)},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.alert.IsPriorityAcknowledged(); got != tt.want {
				t.Errorf("IsPriorityAcknowledged() = %v, want %v", got, tt.want)
			}
		})
	}
}

func floatPtr(v float64) *float64 { return &v }
