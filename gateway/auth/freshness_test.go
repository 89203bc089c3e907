package auth

import "testing"

func TestFreshnessBoundaries(t *testing.T) {
	const serverMs = int64(1_700_000_000_000)
	const maxAge, maxAhead = 24, 1

	cases := []struct {
		name     string
		clientMs int64
		want     bool
	}{
		{"just inside age bound", serverMs - 24*millisPerHour + 1, true},
		{"exactly at age bound", serverMs - 24*millisPerHour, true},
		{"just past age bound", serverMs - 24*millisPerHour - 1, false},
		{"just inside ahead bound", serverMs + millisPerHour - 1, true},
		{"exactly at ahead bound", serverMs + millisPerHour, true},
		{"just past ahead bound", serverMs + millisPerHour + 1, false},
		{"current time", serverMs, true},
		{"zero client time", 0, false},
	}
	for _, tc := range cases {
		if got := Fresh(tc.clientMs, serverMs, maxAge, maxAhead); got != tc.want {
			t.Fatalf("%s: Fresh(%d, %d) = %v, want %v", tc.name, tc.clientMs, serverMs, got, tc.want)
		}
	}
}
