package chunk

import (
	"encoding/binary"

	"github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"
)

// outStreamState tracks the last header sent for a chunk stream id, so later
// messages on the same stream can use fmt 1/2/3 where it applies.
type outStreamState struct {
	header rtmpmsg.Header
	sent   bool
}

// Encoder splits outbound messages into chunks for a single connection. Not
// safe for concurrent use; callers serialize writes externally (the session
// write goroutine / mutex) when fanning a shared message to several peers.
type Encoder struct {
	chunkSize uint32
	streams   map[uint32]*outStreamState
}

func NewEncoder() *Encoder {
	return &Encoder{
		chunkSize: DefaultChunkSize,
		streams:   make(map[uint32]*outStreamState),
	}
}

func (e *Encoder) SetChunkSize(size uint32) {
	if size < MinChunkSize {
		size = MinChunkSize
	}
	if size > MaxChunkSize {
		size = MaxChunkSize
	}
	e.chunkSize = size
}

func basicHeader(fmtType byte, csID uint32) []byte {
	switch {
	case csID >= 2 && csID <= 63:
		return []byte{fmtType<<6 | byte(csID)}
	case csID >= 64 && csID <= 319:
		return []byte{fmtType << 6, byte(csID - 64)}
	default:
		rel := csID - 64
		return []byte{fmtType<<6 | 0x01, byte(rel & 0xFF), byte(rel >> 8)}
	}
}

// EncodeMessage chunks a full message (header + payload) starting with a
// type 0 chunk, matching the teacher's always-fmt0-first policy; this keeps
// encoding simple at a small bandwidth cost and is always correct.
func (e *Encoder) EncodeMessage(h rtmpmsg.Header, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+32)

	ts := h.Timestamp
	tsField := ts
	extended := ts >= 0xFFFFFF
	if extended {
		tsField = 0xFFFFFF
	}

	out = append(out, basicHeader(0, h.ChunkStreamID)...)
	out = append(out, byte(tsField>>16), byte(tsField>>8), byte(tsField))
	out = append(out, byte(len(payload)>>16), byte(len(payload)>>8), byte(len(payload)))
	out = append(out, h.MessageTypeID)

	sid := make([]byte, 4)
	binary.LittleEndian.PutUint32(sid, h.MessageStreamID)
	out = append(out, sid...)

	if extended {
		out = append(out, extTS(ts)...)
	}

	remaining := payload
	first := true
	for len(remaining) > 0 {
		n := uint32(len(remaining))
		if n > e.chunkSize {
			n = e.chunkSize
		}

		if !first {
			out = append(out, basicHeader(3, h.ChunkStreamID)...)
			if extended {
				out = append(out, extTS(ts)...)
			}
		}
		first = false

		out = append(out, remaining[:n]...)
		remaining = remaining[n:]
	}

	e.streams[h.ChunkStreamID] = &outStreamState{header: h, sent: true}

	return out
}

func extTS(ts uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, ts)
	return b
}

// EncodeShared chunks a message for a chunk stream id using the shared
// message's per-chunk-size cache, so repeat consumers at the same output
// chunk size only pay the chunking cost once.
func (e *Encoder) EncodeShared(m *rtmpmsg.SharedMessage) []byte {
	if cached, ok := m.CachedChunks(e.chunkSize); ok {
		return cached
	}

	enc := e.EncodeMessage(m.Header, m.Payload)
	m.StoreChunks(e.chunkSize, enc)

	return enc
}
