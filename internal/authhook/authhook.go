// Package authhook combines the webhook transport, the control-plane
// publish-admission round trip and the play whitelist into the single
// session.AuthHook a connection coordinator calls into at each lifecycle
// event, mirroring how the teacher's session methods call SendStartCallback/
// SendStopCallback directly but generalized to a pluggable interface.
package authhook

import (
	"errors"
	"time"

	"github.com/AgustinSRG/go-live-rtmp/internal/admission"
	"github.com/AgustinSRG/go-live-rtmp/internal/command"
	"github.com/AgustinSRG/go-live-rtmp/internal/coordinator"
	"github.com/AgustinSRG/go-live-rtmp/internal/logging"
	"github.com/AgustinSRG/go-live-rtmp/internal/webhook"
)

var ErrPublishDenied = errors.New("authhook: publish request denied by control plane")
var ErrPlayNotAllowed = errors.New("authhook: client ip not in play whitelist")

// Hook implements session.AuthHook.
type Hook struct {
	webhook     *webhook.Client
	coordinator *coordinator.Client
	playAllow   *admission.Whitelist
}

func New(wh *webhook.Client, ctrl *coordinator.Client, playAllow *admission.Whitelist) *Hook {
	return &Hook{webhook: wh, coordinator: ctrl, playAllow: playAllow}
}

func (h *Hook) OnConnect(req *command.Request) error {
	return nil
}

// OnPublish asks the control plane to admit the publish attempt, then fires
// the start webhook. A stream id reported by either transport is written
// back onto req.StreamID, for the session to use as its kill-switch id and
// for OnStop's matching PublishEnd notification.
func (h *Hook) OnPublish(req *command.Request) error {
	decision := h.coordinator.RequestPublish(req.App, req.Stream, req.ClientIP)
	if !decision.Accepted {
		return ErrPublishDenied
	}

	streamID, err := h.webhook.Send("start", req.Vhost, req.App, req.Stream, req.ClientIP, time.Now().UnixMilli())
	if err != nil {
		return err
	}

	if streamID == "" {
		streamID = decision.StreamID
	}
	req.StreamID = streamID

	return nil
}

func (h *Hook) OnPlay(req *command.Request) error {
	if h.playAllow != nil && !h.playAllow.Allows(req.ClientIP) {
		return ErrPlayNotAllowed
	}
	return nil
}

// OnStop notifies the control plane and the stop webhook that publishing
// ended; failures are logged rather than propagated, since by the time this
// fires the connection is already tearing down.
func (h *Hook) OnStop(req *command.Request) {
	h.coordinator.PublishEnd(req.App, req.StreamID)

	if _, err := h.webhook.Send("stop", req.Vhost, req.App, req.Stream, req.ClientIP, time.Now().UnixMilli()); err != nil {
		logging.Debug("stop webhook failed: " + err.Error())
	}
}

func (h *Hook) OnClose(req *command.Request) {
}
