// Package session implements the per-connection coordinator: the fiber that
// drives one TCP connection through handshake, connect, role identification
// and into its play or publish loop.
package session

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/AgustinSRG/go-live-rtmp/internal/amf"
	"github.com/AgustinSRG/go-live-rtmp/internal/chunk"
	"github.com/AgustinSRG/go-live-rtmp/internal/command"
	"github.com/AgustinSRG/go-live-rtmp/internal/config"
	"github.com/AgustinSRG/go-live-rtmp/internal/handshake"
	"github.com/AgustinSRG/go-live-rtmp/internal/logging"
	"github.com/AgustinSRG/go-live-rtmp/internal/rtmpmsg"
	"github.com/AgustinSRG/go-live-rtmp/internal/source"
	"github.com/AgustinSRG/go-live-rtmp/internal/transport"
)

// Role identifies the connection's purpose, determined while identifying
// the client after createStream.
type Role int

const (
	RoleUnknown Role = iota
	RolePlay
	RoleFMLEPublish
	RoleFlashPublish
	RoleHaivisionPublish
)

// AuthHook authorizes connect/publish/play requests; any non-nil error is
// fatal to the connection, per the external auth hook contract.
type AuthHook interface {
	OnConnect(req *command.Request) error
	OnPublish(req *command.Request) error
	OnPlay(req *command.Request) error
	OnStop(req *command.Request)
	OnClose(req *command.Request)
}

// Session is one RTMP connection's coordinator.
type Session struct {
	ID   uint64
	conn transport.Conn
	cfg  *config.Config

	registry *source.Registry
	auth     AuthHook

	dec *chunk.Decoder
	enc *chunk.Encoder

	req      command.Request
	streamID uint32
	role     Role

	src      *source.Source
	consumer *source.Consumer

	peerWindowAckSize uint32
	bytesReceived     uint32
	bytesAckedAt      uint32

	outChunkSize uint32
}

func New(id uint64, conn transport.Conn, cfg *config.Config, registry *source.Registry, auth AuthHook) *Session {
	return &Session{
		ID:           id,
		conn:         conn,
		cfg:          cfg,
		registry:     registry,
		auth:         auth,
		dec:          chunk.NewDecoder(conn),
		enc:          chunk.NewEncoder(),
		outChunkSize: cfg.ChunkSize,
	}
}

// Run drives the connection to completion, recovering from any panic so
// that one malformed connection cannot take the process down, mirroring
// the teacher's top-level HandleConnection recover.
func (s *Session) Run() {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorMessage("session panic recovered: session continues shutting down")
		}
		s.teardown()
	}()

	s.dec.SetByteCounter(func(n int) {
		s.bytesReceived += uint32(n)
		if s.peerWindowAckSize > 0 && s.bytesReceived-s.bytesAckedAt >= s.peerWindowAckSize {
			s.sendAck()
		}
	})

	if _, err := handshake.Perform(s.conn); err != nil {
		logging.Debug("handshake failed: " + err.Error())
		return
	}

	if err := s.connectCycle(); err != nil {
		logging.Debug("connect cycle failed: " + err.Error())
		return
	}

	switch s.role {
	case RolePlay:
		s.playingLoop()
	case RoleFMLEPublish, RoleFlashPublish, RoleHaivisionPublish:
		s.publishingLoop()
	}
}

func (s *Session) teardown() {
	if s.consumer != nil {
		s.consumer.Close()
	}
	if s.src != nil && s.src.IsPublishing() && (s.role == RoleFMLEPublish || s.role == RoleFlashPublish || s.role == RoleHaivisionPublish) {
		s.src.OnUnpublish()
		if s.auth != nil {
			s.auth.OnStop(&s.req)
		}
	}
	if s.auth != nil {
		s.auth.OnClose(&s.req)
	}
	_ = s.conn.Close()
}

// connectCycle reads the handshake-adjacent connect()/createStream() and
// identifies the connection's role, per the command protocol state
// machine (connect -> identify client -> role).
func (s *Session) connectCycle() error {
	inv, err := s.readInvoke()
	if err != nil {
		return err
	}
	if inv.Name != "connect" {
		return errors.New("session: expected connect, got " + inv.Name)
	}

	s.req.ClientIP = s.conn.RemoteIP()
	s.req.TcUrl = inv.CommandObject.EnsurePropertyString("tcUrl", "")
	s.req.PageUrl = inv.CommandObject.EnsurePropertyString("pageUrl", "")
	s.req.SwfUrl = inv.CommandObject.EnsurePropertyString("swfUrl", "")
	s.req.App = inv.CommandObject.EnsurePropertyString("app", "")
	s.req.ObjectEncoding = inv.CommandObject.EnsurePropertyNumber("objectEncoding", 0)

	schema, host, port, _ := command.ParseTcUrl(s.req.TcUrl)
	s.req.Schema = schema
	s.req.Host = host
	s.req.Port = port
	s.req.Vhost = command.ExtractVhost(s.req.TcUrl)
	s.req.ApplyVhostDefault()

	if s.auth != nil {
		if err := s.auth.OnConnect(&s.req); err != nil {
			return err
		}
	}

	if err := s.sendProtocolControlStartup(); err != nil {
		return err
	}

	if err := s.writeCommand(command.ConnectResult(inv.TransactionID, s.req.ObjectEncoding)); err != nil {
		return err
	}

	return s.identifyClient()
}

func (s *Session) sendProtocolControlStartup() error {
	h, p := command.WindowAckSize(2500000)
	if err := s.writeMessage(h, p); err != nil {
		return err
	}

	h, p = command.SetPeerBandwidth(2500000, command.LimitDynamic)
	if err := s.writeMessage(h, p); err != nil {
		return err
	}

	h, p = command.UserControl(command.UserControlStreamBegin, 0)
	if err := s.writeMessage(h, p); err != nil {
		return err
	}

	h, p = command.SetChunkSize(s.outChunkSize)
	s.enc.SetChunkSize(s.outChunkSize)
	return s.writeMessage(h, p)
}

// identifyClient loops reading commands until a play/publish role is
// determined, per the FMLE/Flash/Haivision discovery sequence.
func (s *Session) identifyClient() error {
	for {
		inv, err := s.readInvoke()
		if err != nil {
			return err
		}

		switch inv.Name {
		case "createStream":
			s.streamID = 1
			if err := s.writeCommand(command.CreateStreamResult(inv.TransactionID, float64(s.streamID))); err != nil {
				return err
			}
		case "releaseStream", "FCSubscribe":
			if err := s.writeCommand(command.GenericResult(inv.TransactionID)); err != nil {
				return err
			}
		case "FCPublish":
			s.role = RoleFMLEPublish
			if err := s.writeCommand(command.GenericResult(inv.TransactionID)); err != nil {
				return err
			}
		case "_checkbw", "getStreamLength":
			if err := s.writeCommand(command.GenericResult(inv.TransactionID)); err != nil {
				return err
			}
		case "publish":
			if len(inv.Args) > 0 {
				s.req.Stream = inv.Args[0].GetString()
			}
			if s.role != RoleFMLEPublish {
				s.role = RoleFlashPublish
			}
			if len(inv.Args) > 0 {
				if streamArg := inv.Args[0].GetString(); streamArg == "haivision" {
					s.role = RoleHaivisionPublish
				}
			}
			return s.startPublish()
		case "play":
			s.role = RolePlay
			if len(inv.Args) > 0 {
				s.req.Stream = inv.Args[0].GetString()
			}
			return s.startPlay()
		default:
			// Unknown command before role identification; ignore and keep
			// reading, matching the teacher's tolerant dispatch.
		}
	}
}

func (s *Session) startPublish() error {
	if s.auth != nil {
		if err := s.auth.OnPublish(&s.req); err != nil {
			return err
		}
	}

	s.src = s.registry.FindOrCreate(s.req.StreamKey())

	if err := s.src.OnPublish(); err != nil {
		if err := s.writeCommand(command.OnStatus(command.StatusLevelError, command.CodePublishBadName, "already publishing")); err != nil {
			return err
		}
		return err
	}

	killID := s.req.StreamID
	if killID == "" {
		killID = strconv.FormatUint(s.ID, 10)
	}
	s.src.SetPublisherKillSwitch(killID, func() {
		_ = s.conn.Close()
	})

	if s.role == RoleFMLEPublish {
		if err := s.writeCommand(command.OnFCPublish(command.CodePublishStart, "Started publishing stream.")); err != nil {
			return err
		}
	}

	return s.writeCommand(command.OnStatus(command.StatusLevelStatus, command.CodePublishStart, "Started publishing stream."))
}

func (s *Session) startPlay() error {
	if s.auth != nil {
		if err := s.auth.OnPlay(&s.req); err != nil {
			return err
		}
	}

	s.src = s.registry.FindOrCreate(s.req.StreamKey())
	s.consumer = s.src.CreateConsumer(s.cfg.QueueLengthMs)

	h, p := command.SetChunkSize(s.outChunkSize)
	if err := s.writeMessage(h, p); err != nil {
		return err
	}

	h, p = command.UserControl(command.UserControlStreamIsRecorded, s.streamID)
	if err := s.writeMessage(h, p); err != nil {
		return err
	}
	h, p = command.UserControl(command.UserControlStreamBegin, s.streamID)
	if err := s.writeMessage(h, p); err != nil {
		return err
	}

	if err := s.writeCommand(command.OnStatus(command.StatusLevelStatus, command.CodePlayReset, "Playing and resetting stream.")); err != nil {
		return err
	}
	if err := s.writeCommand(command.OnStatus(command.StatusLevelStatus, command.CodePlayStart, "Started playing stream.")); err != nil {
		return err
	}
	if err := s.writeDataMessage(command.SampleAccess(true, true)); err != nil {
		return err
	}
	return s.writeCommand(command.OnStatus(command.StatusLevelStatus, command.CodeDataStart, "Data start."))
}

func (s *Session) readInvoke() (command.Invoke, error) {
	for {
		msg, err := s.dec.ReadMessage()
		if err != nil {
			return command.Invoke{}, err
		}

		switch msg.Header.MessageTypeID {
		case rtmpmsg.TypeCommandAMF0:
			return command.ParseInvoke(msg.Payload, false), nil
		case rtmpmsg.TypeCommandAMF3:
			return command.ParseInvoke(msg.Payload, true), nil
		case rtmpmsg.TypeSetChunkSize:
			if len(msg.Payload) >= 4 {
				size := uint32(msg.Payload[0])<<24 | uint32(msg.Payload[1])<<16 | uint32(msg.Payload[2])<<8 | uint32(msg.Payload[3])
				s.dec.SetChunkSize(size & 0x7FFFFFFF)
			}
		case rtmpmsg.TypeWindowAckSize:
			if len(msg.Payload) >= 4 {
				s.peerWindowAckSize = uint32(msg.Payload[0])<<24 | uint32(msg.Payload[1])<<16 | uint32(msg.Payload[2])<<8 | uint32(msg.Payload[3])
			}
		default:
			// protocol control / user control messages received before
			// role identification are informational only at this stage.
		}
	}
}

func (s *Session) writeCommand(payload []byte) error {
	h, p := command.CommandMessage(s.streamID, payload)
	return s.writeMessage(h, p)
}

func (s *Session) writeDataMessage(payload []byte) error {
	h, p := command.DataMessage(s.streamID, payload)
	return s.writeMessage(h, p)
}

func (s *Session) writeMessage(h rtmpmsg.Header, payload []byte) error {
	wire := s.enc.EncodeMessage(h, payload)
	_, err := s.conn.Write(wire)
	return err
}

func (s *Session) sendAck() {
	s.bytesAckedAt = s.bytesReceived
	h, p := command.Acknowledgement(s.bytesReceived)
	_ = s.writeMessage(h, p)
}

// publishingLoop reads messages from the client and forwards audio/video/
// data to the live source until the connection ends or unpublish happens.
func (s *Session) publishingLoop() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.Publish1stPktTimeout))

	for {
		msg, err := s.dec.ReadMessage()
		if err != nil {
			if err != io.EOF {
				logging.Debug("publish read error: " + err.Error())
			}
			return
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PublishNormalTimeout))

		switch msg.Header.MessageTypeID {
		case rtmpmsg.TypeAudio:
			s.src.OnAudio(msg)
		case rtmpmsg.TypeVideo:
			s.src.OnVideo(msg)
		case rtmpmsg.TypeAggregate:
			s.src.Demux(msg)
		case rtmpmsg.TypeDataAMF0:
			s.handleDataMessage(msg.Payload, false)
		case rtmpmsg.TypeDataAMF3:
			s.handleDataMessage(msg.Payload, true)
		case rtmpmsg.TypeCommandAMF0:
			if s.handlePublishCommand(command.ParseInvoke(msg.Payload, false)) {
				return
			}
		case rtmpmsg.TypeCommandAMF3:
			if s.handlePublishCommand(command.ParseInvoke(msg.Payload, true)) {
				return
			}
		case rtmpmsg.TypeSetChunkSize:
			if len(msg.Payload) >= 4 {
				size := uint32(msg.Payload[0])<<24 | uint32(msg.Payload[1])<<16 | uint32(msg.Payload[2])<<8 | uint32(msg.Payload[3])
				s.dec.SetChunkSize(size & 0x7FFFFFFF)
			}
		}
	}
}

func (s *Session) handleDataMessage(payload []byte, isAMF3 bool) {
	stream := amf.NewDecodingStream(payload)
	if isAMF3 && len(payload) > 0 {
		stream = amf.NewDecodingStream(payload[1:])
	}
	if stream.IsEnded() {
		return
	}

	name := stream.ReadOne()
	if name.GetString() == "@setDataFrame" {
		s.src.OnMetaData(payload, isAMF3)
	}
}

// handlePublishCommand processes unpublish commands (FCUnpublish,
// deleteStream, closeStream) during the publish loop,
// returning true if the connection should end.
func (s *Session) handlePublishCommand(inv command.Invoke) bool {
	switch inv.Name {
	case "FCUnpublish", "deleteStream", "closeStream":
		if s.src != nil {
			_ = s.writeCommand(command.OnFCUnpublish(command.CodeUnpublishSuccess, "Stop publishing."))
			_ = s.writeCommand(command.OnStatus(command.StatusLevelStatus, command.CodeUnpublishSuccess, "Stop publishing."))
			s.src.OnUnpublish()
			if s.auth != nil {
				s.auth.OnStop(&s.req)
			}
		}
		return true
	}
	return false
}

// playingLoop pulls messages from the consumer queue and writes them to the
// transport, while draining any control messages the client sends (acks,
// pause, set-chunk-size) using a short read deadline so the write side is
// never blocked waiting on the read side.
func (s *Session) playingLoop() {
	mwLatency := time.Duration(s.cfg.MWLatencyMs) * time.Millisecond
	if mwLatency <= 0 {
		mwLatency = time.Millisecond
	}

	for {
		msgs := s.consumer.Queue.Wait(64)
		if len(msgs) == 0 {
			return // closed
		}

		if mwLatency > time.Millisecond {
			time.Sleep(mwLatency / 4)
			more := s.consumer.Queue.DumpPackets(64)
			msgs = append(msgs, more...)
		}

		for _, m := range msgs {
			wire := s.enc.EncodeShared(m)
			if _, err := s.conn.Write(wire); err != nil {
				return
			}
		}

		s.drainControlMessages()
	}
}

// drainControlMessages performs a handful of non-blocking reads to process
// any control/command messages the player sends (pause, set-chunk-size),
// without letting the read side stall the write side.
//
// A short deadline guards only the peek for a chunk's first byte. Once that
// byte is in hand we know a chunk is arriving, so the deadline is relaxed
// before ReadMessage is allowed to consume it; otherwise a timeout landing
// mid-chunk would discard the bytes already read and tear the decoder's
// per-stream state for the next read.
func (s *Session) drainControlMessages() {
	for i := 0; i < 8; i++ {
		_ = s.conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		if _, err := s.conn.Peek(1); err != nil {
			return // nothing pending; timeout is the expected steady state
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(time.Second))

		msg, err := s.dec.ReadMessage()
		if err != nil {
			return
		}

		switch msg.Header.MessageTypeID {
		case rtmpmsg.TypeCommandAMF0:
			s.handlePlayCommand(command.ParseInvoke(msg.Payload, false))
		case rtmpmsg.TypeCommandAMF3:
			s.handlePlayCommand(command.ParseInvoke(msg.Payload, true))
		case rtmpmsg.TypeSetChunkSize:
			if len(msg.Payload) >= 4 {
				size := uint32(msg.Payload[0])<<24 | uint32(msg.Payload[1])<<16 | uint32(msg.Payload[2])<<8 | uint32(msg.Payload[3])
				s.dec.SetChunkSize(size & 0x7FFFFFFF)
			}
		}
	}
}

func (s *Session) handlePlayCommand(inv command.Invoke) {
	switch inv.Name {
	case "pause":
		paused := len(inv.Args) > 0 && inv.Args[0].GetBool()
		if paused {
			_ = s.writeCommand(command.OnStatus(command.StatusLevelStatus, command.CodePauseNotify, "Paused."))
			h, p := command.UserControl(command.UserControlStreamEOF, s.streamID)
			_ = s.writeMessage(h, p)
		} else {
			_ = s.writeCommand(command.OnStatus(command.StatusLevelStatus, command.CodeUnpauseNotify, "Unpaused."))
			h, p := command.UserControl(command.UserControlStreamBegin, s.streamID)
			_ = s.writeMessage(h, p)
		}
	case "closeStream":
		if s.consumer != nil {
			s.consumer.Close()
			s.consumer = nil
		}
	}
}
