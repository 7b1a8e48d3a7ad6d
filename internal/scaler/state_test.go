package scaler

import (
	"fmt"
	"testing"
)

func TestTickResult_Changed(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    bool
	}{
		{OutcomeSkipped, false},
		{OutcomeFailed, false},
		{OutcomeUnchanged, false},
		{OutcomeApplied, true},
		{OutcomeRolledBack, true},
		{OutcomeDegraded, true},
		{OutcomePlanned, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			if got := (TickResult{Outcome: tt.outcome}).Changed(); got != tt.want {
				t.Errorf("Changed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTickResult_Error(t *testing.T) {
	if got := (TickResult{}).Error(); got != "" {
		t.Errorf("Error() = %q, want empty", got)
	}
	if got := (TickResult{Err: fmt.Errorf("boom")}).Error(); got != "boom" {
		t.Errorf("Error() = %q, want boom", got)
	}
}

func TestOutcomes_ExcludesPlanned(t *testing.T) {
	for _, o := range Outcomes() {
		if o == OutcomePlanned {
			t.Fatal("Outcomes() must only list outcomes a tick can end in")
		}
	}
}
