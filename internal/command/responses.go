package command

import (
	"encoding/binary"

	"github.com/AgustinSRG/go-live-rtmp/internal/amf"
	"github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"
)

// User control event types (RTMP spec 7.1.7).
const (
	UserControlStreamBegin      = 0
	UserControlStreamEOF        = 1
	UserControlStreamDry        = 2
	UserControlSetBufferLength  = 3
	UserControlStreamIsRecorded = 4
	UserControlPingRequest      = 6
	UserControlPingResponse     = 7
)

// Status level/code pairs the command protocol sends in response to
// publish/play/pause requests.
const (
	StatusLevelStatus  = "status"
	StatusLevelError   = "error"
	StatusLevelWarning = "warning"

	CodePublishStart       = "NetStream.Publish.Start"
	CodePublishBadName     = "NetStream.Publish.BadName"
	CodeUnpublishSuccess   = "NetStream.Unpublish.Success"
	CodePlayReset          = "NetStream.Play.Reset"
	CodePlayStart          = "NetStream.Play.Start"
	CodeDataStart          = "NetStream.Data.Start"
	CodePauseNotify        = "NetStream.Pause.Notify"
	CodeUnpauseNotify      = "NetStream.Unpause.Notify"
	CodeUnpublishNotify    = "NetStream.Play.UnpublishNotify"
	CodeStreamNotFound     = "NetStream.Play.StreamNotFound"
)

// ConnectResult builds the _result response to connect, with FMS capability
// properties and the client's objectEncoding echoed back.
func ConnectResult(txID float64, objectEncoding float64) []byte {
	props := amf.NewObject()
	props.SetProperty("fmsVer", amf.NewString("FMS/3,5,7,7009"))
	props.SetProperty("capabilities", amf.NewNumber(127))
	props.SetProperty("mode", amf.NewNumber(1))

	info := amf.NewObject()
	info.SetProperty("level", amf.NewString(StatusLevelStatus))
	info.SetProperty("code", amf.NewString("NetConnection.Connect.Success"))
	info.SetProperty("description", amf.NewString("Connection succeeded."))
	info.SetProperty("objectEncoding", amf.NewNumber(objectEncoding))

	return EncodeInvoke("_result", txID, props, info)
}

// CreateStreamResult builds the _result response to createStream.
func CreateStreamResult(txID float64, streamID float64) []byte {
	n := amf.NewNull()
	return EncodeInvoke("_result", txID, n, amf.NewNumber(streamID))
}

// GenericResult builds a bare _result(txID, null, null) reply used for
// releaseStream/FCPublish/_checkbw/FCSubscribe acknowledgements.
func GenericResult(txID float64) []byte {
	a := amf.NewNull()
	b := amf.NewNull()
	return EncodeInvoke("_result", txID, a, b)
}

// OnStatus builds an onStatus(level, code, description) invoke with
// transaction id 0, as the server always sends it.
func OnStatus(level, code, description string) []byte {
	info := amf.NewObject()
	info.SetProperty("level", amf.NewString(level))
	info.SetProperty("code", amf.NewString(code))
	info.SetProperty("description", amf.NewString(description))

	n := amf.NewNull()
	return EncodeInvoke("onStatus", 0, n, info)
}

// OnFCPublish builds the FMLE-specific onFCPublish notification.
func OnFCPublish(code, description string) []byte {
	info := amf.NewObject()
	info.SetProperty("code", amf.NewString(code))
	info.SetProperty("description", amf.NewString(description))

	n := amf.NewNull()
	return EncodeInvoke("onFCPublish", 0, n, info)
}

// OnFCUnpublish builds the FMLE-specific onFCUnpublish notification.
func OnFCUnpublish(code, description string) []byte {
	info := amf.NewObject()
	info.SetProperty("code", amf.NewString(code))
	info.SetProperty("description", amf.NewString(description))

	n := amf.NewNull()
	return EncodeInvoke("onFCUnpublish", 0, n, info)
}

// SampleAccess builds the |RtmpSampleAccess data message sent after play
// start, reporting whether audio/video sample access is permitted.
func SampleAccess(audio, video bool) []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, amf.EncodeOne(amf.NewString("|RtmpSampleAccess"))...)
	buf = append(buf, amf.EncodeOne(amf.NewBool(audio))...)
	buf = append(buf, amf.EncodeOne(amf.NewBool(video))...)
	return buf
}

// UserControl builds a protocol control User Control Message (type 4) with
// the given event type and up to two uint32 parameters.
func UserControl(eventType uint16, params ...uint32) (rtmpmsg.Header, []byte) {
	buf := make([]byte, 2+4*len(params))
	binary.BigEndian.PutUint16(buf[0:2], eventType)
	for i, p := range params {
		binary.BigEndian.PutUint32(buf[2+4*i:2+4*i+4], p)
	}

	h := rtmpmsg.Header{
		ChunkStreamID: rtmpmsg.CSIDUserControl,
		MessageTypeID: rtmpmsg.TypeUserControl,
		MessageLength: uint32(len(buf)),
	}
	return h, buf
}

// SetChunkSize builds a protocol control Set Chunk Size message (type 1).
func SetChunkSize(size uint32) (rtmpmsg.Header, []byte) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, size&0x7FFFFFFF)

	h := rtmpmsg.Header{
		ChunkStreamID: rtmpmsg.CSIDProtocolControl,
		MessageTypeID: rtmpmsg.TypeSetChunkSize,
		MessageLength: 4,
	}
	return h, buf
}

// WindowAckSize builds a Window Acknowledgement Size message (type 5).
func WindowAckSize(size uint32) (rtmpmsg.Header, []byte) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, size)

	h := rtmpmsg.Header{
		ChunkStreamID: rtmpmsg.CSIDProtocolControl,
		MessageTypeID: rtmpmsg.TypeWindowAckSize,
		MessageLength: 4,
	}
	return h, buf
}

// Acknowledgement builds an Acknowledgement message (type 3) reporting
// total bytes received.
func Acknowledgement(bytesReceived uint32) (rtmpmsg.Header, []byte) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, bytesReceived)

	h := rtmpmsg.Header{
		ChunkStreamID: rtmpmsg.CSIDProtocolControl,
		MessageTypeID: rtmpmsg.TypeAck,
		MessageLength: 4,
	}
	return h, buf
}

// PeerBandwidth limit types.
const (
	LimitHard    = 0
	LimitSoft    = 1
	LimitDynamic = 2
)

// SetPeerBandwidth builds a Set Peer Bandwidth message (type 6).
func SetPeerBandwidth(size uint32, limitType byte) (rtmpmsg.Header, []byte) {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint32(buf[0:4], size)
	buf[4] = limitType

	h := rtmpmsg.Header{
		ChunkStreamID: rtmpmsg.CSIDProtocolControl,
		MessageTypeID: rtmpmsg.TypePeerBandwidth,
		MessageLength: 5,
	}
	return h, buf
}
