// Package queue implements the bounded per-consumer message queue with the
// shrink-to-keyframe / drop-oldest overflow policy.
package queue

import (
	"sync"

	"github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"
)

// EnqueueResult reports what Enqueue had to do to keep the queue within its
// configured duration.
type EnqueueResult int

const (
	Ok EnqueueResult = iota
	Shrink
	Drop
)

// Queue is an ordered sequence of shared messages bounded by elapsed
// duration (timestamp span), not by count. One Queue belongs to exactly one
// consumer; it is safe for concurrent use since the producer (source fiber)
// and drainer (play loop) run on different goroutines in this port.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	messages []*rtmpmsg.SharedMessage
	maxMs    int64

	firstTs    uint32
	lastTs     uint32
	hasMessage bool

	hasVideo bool

	overflowCount uint64
	closed        bool
}

func New(maxDurationMs int64) *Queue {
	q := &Queue{maxMs: maxDurationMs}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends m, rewriting its effective timestamp is the caller's
// responsibility (jitter correction happens before Enqueue is called); it
// returns whether the queue had to shrink or drop messages to stay within
// its configured duration.
func (q *Queue) Enqueue(m *rtmpmsg.SharedMessage) EnqueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Drop
	}

	wasEmpty := len(q.messages) == 0

	if m.IsVideo() {
		q.hasVideo = true
	}

	q.messages = append(q.messages, m)
	if !q.hasMessage {
		q.firstTs = m.Clock()
		q.hasMessage = true
	}
	q.lastTs = m.Clock()

	result := Ok

	if q.durationLocked() > q.maxMs {
		if q.hasVideo {
			result = q.shrinkToLastKeyframeLocked()
		} else {
			result = q.dropOldestLocked()
		}
		q.overflowCount++
	}

	if wasEmpty && len(q.messages) > 0 {
		q.cond.Broadcast()
	}

	return result
}

func (q *Queue) durationLocked() int64 {
	if !q.hasMessage {
		return 0
	}
	return int64(q.lastTs) - int64(q.firstTs)
}

// shrinkToLastKeyframeLocked drops every message before the newest
// keyframe, satisfying the testable property that after overflow the first
// video message in the queue is a keyframe (or the queue is empty).
func (q *Queue) shrinkToLastKeyframeLocked() EnqueueResult {
	lastKeyIdx := -1
	for i := len(q.messages) - 1; i >= 0; i-- {
		if q.messages[i].IsVideoKeyFrame() {
			lastKeyIdx = i
			break
		}
	}

	if lastKeyIdx <= 0 {
		return Shrink
	}

	q.messages = q.messages[lastKeyIdx:]
	if len(q.messages) > 0 {
		q.firstTs = q.messages[0].Clock()
	}

	return Shrink
}

func (q *Queue) dropOldestLocked() EnqueueResult {
	for q.durationLocked() > q.maxMs && len(q.messages) > 1 {
		q.messages = q.messages[1:]
		q.firstTs = q.messages[0].Clock()
	}
	return Drop
}

// DumpPackets drains up to maxN oldest messages, or all of them if maxN<=0.
func (q *Queue) DumpPackets(maxN int) []*rtmpmsg.SharedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dumpLocked(maxN)
}

func (q *Queue) dumpLocked(maxN int) []*rtmpmsg.SharedMessage {
	n := len(q.messages)
	if maxN > 0 && maxN < n {
		n = maxN
	}

	out := q.messages[:n]
	q.messages = q.messages[n:]

	if len(q.messages) > 0 {
		q.firstTs = q.messages[0].Clock()
	} else {
		q.hasMessage = false
	}

	return out
}

// Wait blocks until the queue is non-empty or Close is called, then drains
// up to maxN messages. Returns an empty (possibly nil) slice if closed with
// nothing pending.
func (q *Queue) Wait(maxN int) []*rtmpmsg.SharedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.messages) == 0 && !q.closed {
		q.cond.Wait()
	}

	return q.dumpLocked(maxN)
}

// Close wakes any blocked Wait call and marks the queue to reject further
// enqueues, used on consumer/source teardown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *Queue) OverflowCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflowCount
}
