package gop

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

func videoKeyFrame(ts uint32) *rtmpmsg.SharedMessage {
	return mkMsg(rtmpmsg.TypeVideo, []byte{0x17, 0x01, 0, 0, 0}, ts)
}

func videoInterFrame(ts uint32) *rtmpmsg.SharedMessage {
	return mkMsg(rtmpmsg.TypeVideo, []byte{0x27, 0x01, 0, 0, 0}, ts)
}

func audioFrame(ts uint32) *rtmpmsg.SharedMessage {
	return mkMsg(rtmpmsg.TypeAudio, []byte{0xAF, 0x01}, ts)
}

func TestGopClearsOnNewKeyframe(t *testing.T) {
	c := New(true, 0)

	c.Push(videoKeyFrame(0))
	c.Push(audioFrame(20))
	c.Push(videoInterFrame(40))

	if len(c.Messages()) != 3 {
		t.Fatalf("expected 3 messages before new keyframe, got %d", len(c.Messages()))
	}

	c.Push(videoKeyFrame(1000))

	if len(c.Messages()) != 1 {
		t.Fatalf("expected cache cleared to 1 message after new keyframe, got %d", len(c.Messages()))
	}
}

func TestGopFirstVideoIsKeyframe(t *testing.T) {
	c := New(true, 0)

	// An inter-frame arriving before any keyframe must be dropped.
	c.Push(videoInterFrame(0))
	if len(c.Messages()) != 0 {
		t.Fatalf("expected inter-frame before first keyframe to be dropped")
	}

	c.Push(videoKeyFrame(10))
	if len(c.Messages()) != 1 || !c.Messages()[0].IsVideoKeyFrame() {
		t.Fatalf("expected first cached video message to be a keyframe")
	}
}

func TestSequenceHeadersRetainedOutsideGop(t *testing.T) {
	c := New(true, 0)

	aSeq := mkMsg(rtmpmsg.TypeAudio, []byte{0xAF, 0x00, 0x12, 0x10}, 0)
	vSeq := mkMsg(rtmpmsg.TypeVideo, []byte{0x17, 0x00, 0, 0, 0}, 0)

	c.SetSequenceHeader(aSeq)
	c.SetSequenceHeader(vSeq)

	c.Push(videoKeyFrame(1000))
	c.Push(videoKeyFrame(2000)) // clears GOP, must not touch sequence headers

	if c.AudioSequenceHeader() != aSeq {
		t.Fatalf("expected audio sequence header to survive GOP clears")
	}
	if c.VideoSequenceHeader() != vSeq {
		t.Fatalf("expected video sequence header to survive GOP clears")
	}
}
