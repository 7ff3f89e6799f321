// Package gop implements the group-of-pictures cache: the messages since
// the latest video keyframe, plus the audio/video sequence headers which
// are always retained and always delivered first to a new consumer.
package gop

import "github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"

// Cache holds the current GOP (cleared and refilled on every new keyframe)
// and the most recent audio/video sequence headers, which live outside the
// GOP window and are never cleared by it.
type Cache struct {
	enabled bool
	limit   int64 // byte cap, 0 = unlimited

	messages []*rtmpmsg.SharedMessage
	size     int64

	audioSeqHeader *rtmpmsg.SharedMessage
	videoSeqHeader *rtmpmsg.SharedMessage
}

// New creates a cache. limitBytes caps total cached payload size; 0 means
// unlimited (the original single-GOP-only invariant, which in practice is
// bounded by keyframe interval but not enforced numerically).
func New(enabled bool, limitBytes int64) *Cache {
	return &Cache{enabled: enabled, limit: limitBytes}
}

func (c *Cache) Enabled() bool {
	return c.enabled
}

// SetSequenceHeader updates the retained audio or video sequence header,
// replacing any previous one of the same kind.
func (c *Cache) SetSequenceHeader(m *rtmpmsg.SharedMessage) {
	if m.IsAudio() {
		c.audioSeqHeader = m
	} else if m.IsVideo() {
		c.videoSeqHeader = m
	}
}

func (c *Cache) AudioSequenceHeader() *rtmpmsg.SharedMessage {
	return c.audioSeqHeader
}

func (c *Cache) VideoSequenceHeader() *rtmpmsg.SharedMessage {
	return c.videoSeqHeader
}

// Push appends a message to the GOP, clearing the cache first if the
// message is a new video keyframe. Sequence headers are never pushed here;
// callers route them through SetSequenceHeader instead.
func (c *Cache) Push(m *rtmpmsg.SharedMessage) {
	if !c.enabled {
		return
	}

	if m.IsVideoKeyFrame() {
		c.clear()
	}

	// Video frames are cached only behind a keyframe at the head of the
	// cache, and evicting that keyframe empties the cache; this keeps
	// invariant (i): the first video message in the cache, if any, is a
	// keyframe.
	if m.IsVideo() && !m.IsVideoKeyFrame() && (len(c.messages) == 0 || !c.messages[0].IsVideoKeyFrame()) {
		return
	}

	c.messages = append(c.messages, m)
	c.size += int64(len(m.Payload))

	if c.limit > 0 {
		for c.size > c.limit && len(c.messages) > 1 {
			evicted := c.messages[0]
			if evicted.IsVideoKeyFrame() {
				c.clear()
				break
			}
			c.messages = c.messages[1:]
			c.size -= int64(len(evicted.Payload))
		}
	}
}

func (c *Cache) clear() {
	c.messages = nil
	c.size = 0
}

// Messages returns the cached GOP in insertion order. The returned slice is
// owned by the cache; callers must not retain it past the next mutation.
func (c *Cache) Messages() []*rtmpmsg.SharedMessage {
	return c.messages
}

// Reset drops the GOP and both sequence headers, used on unpublish when
// configured to clear on disconnect.
func (c *Cache) Reset() {
	c.clear()
	c.audioSeqHeader = nil
	c.videoSeqHeader = nil
}
