// Package chunk implements the RTMP chunk stream: splitting messages into
// chunks on the way out, and reassembling them into messages on the way in,
// each direction keeping its own per chunk-stream-id state.
package chunk

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"
	"github.com/AgustinSRG/go-live-rtmp/internal/transport"
)

const (
	DefaultChunkSize = 128
	MinChunkSize     = 128
	MaxChunkSize     = 65536

	maxPayloadLength = 16777215 // 0xFFFFFF, 3-byte length field ceiling
)

var (
	ErrPayloadTooLarge = errors.New("chunk: message payload exceeds 16777215 bytes")
	ErrBadBasicHeader  = errors.New("chunk: invalid basic header chunk stream id")
)

// inStreamState tracks the last complete/partial message header seen for one
// chunk stream id on the receive side, as required to interpret fmt 1/2/3
// continuation chunks.
type inStreamState struct {
	header      rtmpmsg.Header
	payload     []byte
	readBytes   uint32
	hasExtended bool
	lastExtTS   uint32 // raw extended timestamp field from the chunk that set hasExtended
}

// Decoder reassembles chunks read from a transport.Conn into full messages.
// It is not safe for concurrent use; one Decoder serves one connection.
type Decoder struct {
	conn      transport.Conn
	chunkSize uint32
	streams   map[uint32]*inStreamState

	onBytesRead func(n int)
}

func NewDecoder(conn transport.Conn) *Decoder {
	return &Decoder{
		conn:      conn,
		chunkSize: DefaultChunkSize,
		streams:   make(map[uint32]*inStreamState),
	}
}

// SetChunkSize applies a Set Chunk Size negotiated over the protocol control
// channel to subsequent reads.
func (d *Decoder) SetChunkSize(size uint32) {
	if size < MinChunkSize {
		size = MinChunkSize
	}
	if size > MaxChunkSize {
		size = MaxChunkSize
	}
	d.chunkSize = size
}

func (d *Decoder) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(d.conn, buf)
	if err != nil {
		return nil, err
	}
	if d.onBytesRead != nil {
		d.onBytesRead(n)
	}
	return buf, nil
}

// ReadMessage blocks until one full message has been reassembled from one or
// more chunks and returns it.
func (d *Decoder) ReadMessage() (*rtmpmsg.CommonMessage, error) {
	for {
		msg, done, err := d.readOneChunk()
		if err != nil {
			return nil, err
		}
		if done {
			return msg, nil
		}
	}
}

// readOneChunk reads exactly one chunk. It returns done=true along with the
// completed message once a message's final chunk has been consumed.
func (d *Decoder) readOneChunk() (*rtmpmsg.CommonMessage, bool, error) {
	basic, err := d.readFull(1)
	if err != nil {
		return nil, false, err
	}

	fmtType := basic[0] >> 6
	csID, err := d.readBasicHeaderCSID(basic[0])
	if err != nil {
		return nil, false, err
	}

	st, ok := d.streams[csID]
	if !ok {
		st = &inStreamState{}
		d.streams[csID] = st
	}

	switch fmtType {
	case 0:
		if err := d.readMessageHeaderType0(st, csID); err != nil {
			return nil, false, err
		}
	case 1:
		if err := d.readMessageHeaderType1(st); err != nil {
			return nil, false, err
		}
	case 2:
		if err := d.readMessageHeaderType2(st); err != nil {
			return nil, false, err
		}
	case 3:
		if err := d.readMessageHeaderType3(st); err != nil {
			return nil, false, err
		}
	}

	need := st.header.MessageLength - uint32(len(st.payload))
	if need > d.chunkSize {
		need = d.chunkSize
	}

	chunk, err := d.readFull(int(need))
	if err != nil {
		return nil, false, err
	}
	st.payload = append(st.payload, chunk...)

	if uint32(len(st.payload)) < st.header.MessageLength {
		return nil, false, nil
	}

	msg := &rtmpmsg.CommonMessage{
		Header:  st.header,
		Payload: st.payload,
	}
	st.payload = nil
	st.hasExtended = false

	return msg, true, nil
}

// readBasicHeaderCSID decodes the 1/2/3-byte basic header forms. csID 0 and
// 1 encode an extended range in the second (and third) byte.
func (d *Decoder) readBasicHeaderCSID(first byte) (uint32, error) {
	low := first & 0x3F

	switch low {
	case 0:
		b, err := d.readFull(1)
		if err != nil {
			return 0, err
		}
		return uint32(b[0]) + 64, nil
	case 1:
		b, err := d.readFull(2)
		if err != nil {
			return 0, err
		}
		return uint32(b[0]) + uint32(b[1])*256 + 64, nil
	default:
		return uint32(low), nil
	}
}

func (d *Decoder) readMessageHeaderType0(st *inStreamState, csID uint32) error {
	b, err := d.readFull(11)
	if err != nil {
		return err
	}

	ts := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	length := uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5])
	typeID := b[6]
	streamID := binary.LittleEndian.Uint32(b[7:11])

	if length > maxPayloadLength {
		return ErrPayloadTooLarge
	}

	extended := ts == 0xFFFFFF
	if extended {
		ts, err = d.readExtendedTimestamp()
		if err != nil {
			return err
		}
	}

	st.header = rtmpmsg.Header{
		ChunkStreamID:   csID,
		Timestamp:       ts,
		TimestampDelta:  0,
		ExtendedTS:      extended,
		MessageTypeID:   typeID,
		MessageLength:   length,
		MessageStreamID: streamID,
	}
	st.hasExtended = extended
	st.lastExtTS = ts
	st.payload = nil

	return nil
}

func (d *Decoder) readMessageHeaderType1(st *inStreamState) error {
	b, err := d.readFull(7)
	if err != nil {
		return err
	}

	delta := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	length := uint32(b[3])<<16 | uint32(b[4])<<8 | uint32(b[5])
	typeID := b[6]

	if length > maxPayloadLength {
		return ErrPayloadTooLarge
	}

	extended := delta == 0xFFFFFF
	if extended {
		delta, err = d.readExtendedTimestamp()
		if err != nil {
			return err
		}
	}

	st.header.Timestamp += delta
	st.header.TimestampDelta = delta
	st.header.ExtendedTS = extended
	st.header.MessageLength = length
	st.header.MessageTypeID = typeID
	st.hasExtended = extended
	st.lastExtTS = delta
	st.payload = nil

	return nil
}

func (d *Decoder) readMessageHeaderType2(st *inStreamState) error {
	b, err := d.readFull(3)
	if err != nil {
		return err
	}

	delta := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])

	extended := delta == 0xFFFFFF
	if extended {
		delta, err = d.readExtendedTimestamp()
		if err != nil {
			return err
		}
	}

	st.header.Timestamp += delta
	st.header.TimestampDelta = delta
	st.header.ExtendedTS = extended
	st.hasExtended = extended
	st.lastExtTS = delta
	st.payload = nil

	return nil
}

func (d *Decoder) readMessageHeaderType3(st *inStreamState) error {
	// Type 3 chunks carry no header of their own. When the previous chunk
	// for this stream used an extended timestamp, a conforming continuation
	// chunk repeats the same 4-byte field; some publishers omit it. Peek
	// ahead and only consume the field if it actually matches the stored
	// extended timestamp, leaving it alone (for the next chunk's basic
	// header) otherwise. A type 3 chunk that *starts* a new message
	// (payload empty) advances the clock by the stream's last delta.
	if st.hasExtended {
		peeked, err := d.conn.Peek(4)
		if err != nil {
			return err
		}
		if binary.BigEndian.Uint32(peeked) == st.lastExtTS {
			if _, err := d.readFull(4); err != nil {
				return err
			}
		}
		if len(st.payload) == 0 {
			st.header.Timestamp += st.lastExtTS
		}
	} else if len(st.payload) == 0 {
		st.header.Timestamp += st.header.TimestampDelta
	}

	return nil
}

func (d *Decoder) readExtendedTimestamp() (uint32, error) {
	b, err := d.readFull(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// SetByteCounter installs a callback invoked with the number of raw bytes
// consumed from the transport for each read, used to drive ACK accounting.
func (d *Decoder) SetByteCounter(f func(n int)) {
	d.onBytesRead = f
}
