// Package jitter corrects publisher timestamp discontinuities (clock resets
// on reconnect, out-of-order delivery) into a monotonically paced output
// clock for player consumption.
package jitter

// Mode selects the correction strategy.
type Mode string

const (
	Full Mode = "full"
	Zero Mode = "zero"
	Off  Mode = "off"
)

// MaxJump is the largest forward step a corrected timestamp may take in one
// message, absorbing publisher clock resets without visible pacing jumps.
const MaxJump = 250

// state is the per-stream-type correction state (one per audio/video/data,
// or one shared instance when mix-correct is enabled).
type state struct {
	hasLast bool
	lastIn  uint32
	lastOut uint32
}

func (s *state) correct(in uint32, zeroStart bool) uint32 {
	if !s.hasLast {
		s.hasLast = true
		s.lastIn = in
		if zeroStart {
			s.lastOut = 0
		} else {
			s.lastOut = in
		}
		return s.lastOut
	}

	delta := int64(in) - int64(s.lastIn)
	if delta < 0 {
		delta = 0
	}
	if delta > MaxJump {
		delta = MaxJump
	}

	s.lastIn = in
	s.lastOut += uint32(delta)

	return s.lastOut
}

// Corrector holds per-stream-type state for audio, video and data messages.
// When MixCorrect is set, all three share one state, matching the
// mix_correct configuration tunable.
type Corrector struct {
	mode       Mode
	mixCorrect bool

	audio state
	video state
	data  state
	mixed state
}

func New(mode Mode, mixCorrect bool) *Corrector {
	return &Corrector{mode: mode, mixCorrect: mixCorrect}
}

type StreamType int

const (
	Audio StreamType = iota
	Video
	Data
)

func (c *Corrector) stateFor(t StreamType) *state {
	if c.mixCorrect {
		return &c.mixed
	}
	switch t {
	case Audio:
		return &c.audio
	case Video:
		return &c.video
	default:
		return &c.data
	}
}

// Correct rewrites an input timestamp (ms) into the corrected output clock
// for the given stream type.
func (c *Corrector) Correct(t StreamType, in uint32) uint32 {
	switch c.mode {
	case Off:
		return in
	case Zero:
		return c.stateFor(t).correct(in, true)
	default: // Full
		return c.stateFor(t).correct(in, false)
	}
}

// Reset clears correction state, used when a publisher resumes with
// atc=false so the next message re-seeds the output clock.
func (c *Corrector) Reset() {
	c.audio = state{}
	c.video = state{}
	c.data = state{}
	c.mixed = state{}
}
