package jitter

import "testing"

func TestFullModeClampsReconnectJump(t *testing.T) {
	c := New(Full, false)

	first := c.Correct(Video, 5040)
	if first != 5040 {
		t.Fatalf("expected first corrected timestamp to seed at 5040, got %d", first)
	}

	second := c.Correct(Video, 10000000)
	if second != 5290 {
		t.Fatalf("expected clamped jump to 5290, got %d", second)
	}
}

func TestOffModePassesThrough(t *testing.T) {
	c := New(Off, false)
	if c.Correct(Audio, 123456) != 123456 {
		t.Fatalf("expected off mode to pass timestamps through unchanged")
	}
}

func TestZeroModeSeedsAtZero(t *testing.T) {
	c := New(Zero, false)
	if got := c.Correct(Data, 9999); got != 0 {
		t.Fatalf("expected zero mode to seed output at 0, got %d", got)
	}
}

func TestMixCorrectSharesState(t *testing.T) {
	c := New(Full, true)

	c.Correct(Audio, 1000)
	// With shared state the video jump is measured against the audio clock
	// and clamped to MaxJump; separate state would seed video at 10000000.
	out := c.Correct(Video, 10000000)

	if out != 1000+MaxJump {
		t.Fatalf("expected shared state across audio/video (%d), got %d", 1000+MaxJump, out)
	}
}

func TestMonotonicNonDecreasing(t *testing.T) {
	c := New(Full, false)
	prev := c.Correct(Video, 100)
	for _, in := range []uint32{110, 90, 500, 80} {
		out := c.Correct(Video, in)
		if out < prev {
			t.Fatalf("jitter output went backwards: %d -> %d", prev, out)
		}
		prev = out
	}
}
