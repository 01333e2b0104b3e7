package cluster

import "testing"

func TestStateForAge(t *testing.T) {
	t.Parallel()

	boundaries := DefaultLifecycleBoundaries()

	tests := []struct {
		name     string
		ageHours float64
		want     string
	}{
		{name: "fresh", ageHours: 0, want: StatusEmerging},
		{name: "clock skew clamps to zero", ageHours: -3, want: StatusEmerging},
		{name: "emerging boundary", ageHours: 6, want: StatusEmerging},
		{name: "just past emerging", ageHours: 6.01, want: StatusGrowing},
		{name: "growing boundary", ageHours: 48, want: StatusGrowing},
		{name: "stable", ageHours: 72, want: StatusStable},
		{name: "stable boundary", ageHours: 120, want: StatusStable},
		{name: "stale", ageHours: 120.5, want: StatusStale},
		{name: "very old", ageHours: 2000, want: StatusStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := StateForAge(tt.ageHours, boundaries); got != tt.want {
				t.Fatalf("StateForAge(%v) = %q, want %q", tt.ageHours, got, tt.want)
			}
		})
	}
}
