// File: relay/messages.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"encoding/json"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/session"
)

// Actions carried in the envelope "action" field.
const (
	ActionRegisterManager = "registerManager"
	ActionRegisterDevice  = "registerDevice"
	ActionRegisterClient  = "registerClient"
	ActionGetClients      = "getClients"
	ActionClose           = "close"
	ActionClientMsg       = "clientMsg"
	ActionDeviceMsg       = "deviceMsg"

	ActionLogged     = "logged"
	ActionLoginError = "loginError"
)

// Close reasons sent by the hub.
const (
	ReasonManagerReplaced = "MANAGER_REPLACED"
	ReasonStopReconnect   = "WS_CLOSE_STOP_RECONNECT"
)

// ErrCode is the errCode value of a loginError response.
type ErrCode string

const (
	ErrDeviceNotExists  ErrCode = "DEVICE_NOT_EXISTS"
	ErrPasswordNotValid ErrCode = "PASSWORD_NOT_VALID"

	// Reserved for peers; the hub never produces these.
	ErrScreenImageNotExists ErrCode = "SCREEN_IMAGE_NOT_EXISTS"
	ErrScreenImageNotUpdate ErrCode = "SCREEN_IMAGE_NOT_UPDATE"
	ErrEventNotUpdate       ErrCode = "EVENT_NOT_UPDATE"
)

// envelope is the outer shape of every inbound message.
type envelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// credentials is the payload of registerDevice and registerClient.
type credentials struct {
	DeviceID string `json:"deviceId"`
	Platform string `json:"platform"`
	Password string `json:"password"`
}

func (c credentials) identity() *session.Identity {
	return &session.Identity{DeviceID: c.DeviceID, Password: c.Password, Platform: c.Platform}
}

type closeRequest struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type loginErrorMsg struct {
	Action  string  `json:"action"`
	ErrCode ErrCode `json:"errCode"`
}

// ClientInfo is one entry of the getClients listing.
type ClientInfo struct {
	ID        string            `json:"id"`
	Metadata  api.Metadata      `json:"metadata"`
	CreatedAt int64             `json:"createdAt"` // unix milliseconds
	Device    *session.Identity `json:"device,omitempty"`
	Client    *session.Identity `json:"client,omitempty"`
	Manager   bool              `json:"manager"`
}

type clientsPayload struct {
	Clients []ClientInfo `json:"clients"`
}

type clientsMsg struct {
	Action  string         `json:"action"`
	Payload clientsPayload `json:"payload"`
}

var (
	loggedFrame      = []byte(`{"action":"logged","payload":{}}`)
	stopPushingFrame = []byte(`{"action":"clientMsg","payload":{"eventType":"stopPushingImage"}}`)
)

func infoOf(s *session.Session) ClientInfo {
	return ClientInfo{
		ID:        s.ID,
		Metadata:  s.Meta,
		CreatedAt: s.CreatedAt.UnixMilli(),
		Device:    s.Device,
		Client:    s.Client,
		Manager:   s.Manager,
	}
}
