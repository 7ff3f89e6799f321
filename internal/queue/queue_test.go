package queue

import (
	"testing"

	"github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"
)

func mkMsg(typeID byte, payload []byte, ts uint32) *rtmpmsg.SharedMessage {
	return rtmpmsg.FromCommon(&rtmpmsg.CommonMessage{
		Header: rtmpmsg.Header{
			MessageTypeID: typeID,
			Timestamp:     ts,
			MessageLength: uint32(len(payload)),
		},
		Payload: payload,
	})
}

func videoKey(ts uint32) *rtmpmsg.SharedMessage {
	return mkMsg(rtmpmsg.TypeVideo, []byte{0x17, 0x01}, ts)
}

func videoInter(ts uint32) *rtmpmsg.SharedMessage {
	return mkMsg(rtmpmsg.TypeVideo, []byte{0x27, 0x01}, ts)
}

func audio(ts uint32) *rtmpmsg.SharedMessage {
	return mkMsg(rtmpmsg.TypeAudio, []byte{0xAF, 0x01}, ts)
}

func TestOverflowShrinksToLastKeyframe(t *testing.T) {
	q := New(1000)

	for _, m := range []*rtmpmsg.SharedMessage{
		videoKey(0), audio(20), videoInter(40), audio(60),
	} {
		q.Enqueue(m)
	}

	// The keyframe at 1020 takes the span to 1020 ms, past the 1000 ms bound.
	result := q.Enqueue(videoKey(1020))
	if result != Shrink {
		t.Fatalf("expected Shrink result, got %v", result)
	}
	q.Enqueue(audio(1040))
	q.Enqueue(videoInter(1080))

	msgs := q.DumpPackets(0)
	if len(msgs) == 0 {
		t.Fatalf("expected messages remaining after shrink")
	}
	if msgs[0].Clock() != 1020 || !msgs[0].IsVideoKeyFrame() {
		t.Fatalf("expected queue to start with keyframe at ts 1020, got ts=%d key=%v", msgs[0].Clock(), msgs[0].IsVideoKeyFrame())
	}
	if int64(msgs[len(msgs)-1].Clock())-int64(msgs[0].Clock()) > 1000 {
		t.Fatalf("expected duration within bound after shrink")
	}
}

func TestDropOldestWithoutVideo(t *testing.T) {
	q := New(100)

	q.Enqueue(audio(0))
	q.Enqueue(audio(50))
	result := q.Enqueue(audio(200))

	if result != Drop {
		t.Fatalf("expected Drop result for audio-only overflow, got %v", result)
	}

	msgs := q.DumpPackets(0)
	if int64(msgs[len(msgs)-1].Clock())-int64(msgs[0].Clock()) > 100 {
		t.Fatalf("expected duration within bound after drop")
	}
}

func TestWaitWakesOnEnqueue(t *testing.T) {
	q := New(1000)
	done := make(chan []*rtmpmsg.SharedMessage, 1)

	go func() {
		done <- q.Wait(0)
	}()

	q.Enqueue(audio(0))

	msgs := <-done
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message delivered to waiter, got %d", len(msgs))
	}
}

func TestCloseWakesWaiter(t *testing.T) {
	q := New(1000)
	done := make(chan []*rtmpmsg.SharedMessage, 1)

	go func() {
		done <- q.Wait(0)
	}()

	q.Close()

	msgs := <-done
	if len(msgs) != 0 {
		t.Fatalf("expected no messages on close-wakeup, got %d", len(msgs))
	}
}
