// Package command implements the RTMP application layer: the connect /
// createStream / publish / play state machine and the status/user-control
// messages the server sends in response.
package command

import (
	"github.com/AgustinSRG/go-live-rtmp/internal/amf"
	"github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"
)

// Invoke is a decoded AMF command: a name, transaction id, command object
// and trailing arguments.
type Invoke struct {
	Name          string
	TransactionID float64
	CommandObject amf.Value
	Args          []amf.Value
}

// ParseInvoke decodes a command message payload (type 20, AMF0; AMF3
// command messages carry a leading 0x00 byte and are otherwise identical).
func ParseInvoke(payload []byte, isAMF3 bool) Invoke {
	if isAMF3 && len(payload) > 0 {
		payload = payload[1:]
	}

	s := amf.NewDecodingStream(payload)

	inv := Invoke{}

	if !s.IsEnded() {
		name := s.ReadOne()
		inv.Name = name.GetString()
	}
	if !s.IsEnded() {
		tid := s.ReadOne()
		inv.TransactionID = tid.GetDouble()
	}
	if !s.IsEnded() {
		inv.CommandObject = s.ReadOne()
	}

	for !s.IsEnded() {
		inv.Args = append(inv.Args, s.ReadOne())
	}

	return inv
}

// EncodeInvoke serializes name, transaction id and args into an AMF0
// command payload.
func EncodeInvoke(name string, txID float64, args ...amf.Value) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, amf.EncodeOne(amf.NewString(name))...)
	buf = append(buf, amf.EncodeOne(amf.NewNumber(txID))...)
	for _, a := range args {
		buf = append(buf, amf.EncodeOne(a)...)
	}
	return buf
}

// CommandMessage wraps an AMF0 command payload with the header fields
// needed to chunk and send it.
func CommandMessage(streamID uint32, payload []byte) (rtmpmsg.Header, []byte) {
	h := rtmpmsg.Header{
		ChunkStreamID:   rtmpmsg.CSIDCommand,
		MessageTypeID:   rtmpmsg.TypeCommandAMF0,
		MessageLength:   uint32(len(payload)),
		MessageStreamID: streamID,
	}
	return h, payload
}

// DataMessage wraps an AMF0 data payload (onMetaData, @setDataFrame) with
// the data chunk stream id.
func DataMessage(streamID uint32, payload []byte) (rtmpmsg.Header, []byte) {
	h := rtmpmsg.Header{
		ChunkStreamID:   rtmpmsg.CSIDData,
		MessageTypeID:   rtmpmsg.TypeDataAMF0,
		MessageLength:   uint32(len(payload)),
		MessageStreamID: streamID,
	}
	return h, payload
}
