package turn

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{name: "collecting to detecting", from: StateCollecting, to: StateDetecting, want: true},
		{name: "collecting to closed via abort", from: StateCollecting, to: StateClosed, want: true},
		{name: "collecting skips resolving", from: StateCollecting, to: StateResolving, want: false},
		{name: "detecting to resolving", from: StateDetecting, to: StateResolving, want: true},
		{name: "detecting to failed", from: StateDetecting, to: StateFailed, want: true},
		{name: "resolving to applying", from: StateResolving, to: StateApplying, want: true},
		{name: "resolving cannot reopen intake", from: StateResolving, to: StateCollecting, want: false},
		{name: "applying to closed", from: StateApplying, to: StateClosed, want: true},
		{name: "closed is terminal", from: StateClosed, to: StateDetecting, want: false},
		{name: "failed is terminal", from: StateFailed, to: StateCollecting, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStateTerminal(t *testing.T) {
	if !StateClosed.Terminal() || !StateFailed.Terminal() {
		t.Fatal("closed and failed must be terminal")
	}
	if StateCollecting.Terminal() || StateApplying.Terminal() {
		t.Fatal("pipeline states must not be terminal")
	}
}
