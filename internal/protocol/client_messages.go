package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/scarlin90/signingroom/internal/apperr"
)

// MessageType is the "type" discriminant carried by every message.
type MessageType string

// Client to server.
const (
	VerifyLicense   MessageType = "VERIFY_LICENSE"
	Auth            MessageType = "AUTH"
	UploadPartial   MessageType = "UPLOAD_PARTIAL"
	UpdateLabel     MessageType = "UPDATE_LABEL"
	RenameRoom      MessageType = "RENAME_ROOM"
	LogAction       MessageType = "LOG_ACTION"
	UpdateWhitelist MessageType = "UPDATE_WHITELIST"
	ToggleLock      MessageType = "TOGGLE_LOCK"
	CloseRoom       MessageType = "CLOSE_ROOM"
)

// ClientMessage is one of the messages a participant may send. The set is
// closed: only the types in this file implement it.
type ClientMessage interface {
	Type() MessageType
	Accept(h Handler)
	isClientMessage()
}

// Handler receives each client message kind. Adding a kind adds a method
// here, so every handler must deal with it.
type Handler interface {
	OnVerifyLicense(*VerifyLicenseMsg)
	OnAuth(*AuthMsg)
	OnUploadPartial(*UploadPartialMsg)
	OnUpdateLabel(*UpdateLabelMsg)
	OnRenameRoom(*RenameRoomMsg)
	OnLogAction(*LogActionMsg)
	OnUpdateWhitelist(*UpdateWhitelistMsg)
	OnToggleLock(*ToggleLockMsg)
	OnCloseRoom(*CloseRoomMsg)
}

type VerifyLicenseMsg struct {
	Key string `json:"key"`
}

type AuthMsg struct {
	Token string `json:"token"`
}

type UploadPartialMsg struct {
	Data        EncryptedBlob `json:"data"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	SignerID    string        `json:"signerId,omitempty"`
}

type UpdateLabelMsg struct {
	Fingerprint string `json:"fingerprint"`
	Label       string `json:"label"`
}

type RenameRoomMsg struct {
	Name string `json:"name"`
}

type LogActionMsg struct {
	Action string `json:"action"`
	Detail string `json:"detail"`
}

type UpdateWhitelistMsg struct {
	Address string `json:"address"`
	Remove  bool   `json:"remove"`
}

type ToggleLockMsg struct {
	Locked bool `json:"locked"`
}

type CloseRoomMsg struct{}

func (*VerifyLicenseMsg) Type() MessageType   { return VerifyLicense }
func (*AuthMsg) Type() MessageType            { return Auth }
func (*UploadPartialMsg) Type() MessageType   { return UploadPartial }
func (*UpdateLabelMsg) Type() MessageType     { return UpdateLabel }
func (*RenameRoomMsg) Type() MessageType      { return RenameRoom }
func (*LogActionMsg) Type() MessageType       { return LogAction }
func (*UpdateWhitelistMsg) Type() MessageType { return UpdateWhitelist }
func (*ToggleLockMsg) Type() MessageType      { return ToggleLock }
func (*CloseRoomMsg) Type() MessageType       { return CloseRoom }

func (*VerifyLicenseMsg) isClientMessage()   {}
func (*AuthMsg) isClientMessage()            {}
func (*UploadPartialMsg) isClientMessage()   {}
func (*UpdateLabelMsg) isClientMessage()     {}
func (*RenameRoomMsg) isClientMessage()      {}
func (*LogActionMsg) isClientMessage()       {}
func (*UpdateWhitelistMsg) isClientMessage() {}
func (*ToggleLockMsg) isClientMessage()      {}
func (*CloseRoomMsg) isClientMessage()       {}

func (m *VerifyLicenseMsg) Accept(h Handler)   { h.OnVerifyLicense(m) }
func (m *AuthMsg) Accept(h Handler)            { h.OnAuth(m) }
func (m *UploadPartialMsg) Accept(h Handler)   { h.OnUploadPartial(m) }
func (m *UpdateLabelMsg) Accept(h Handler)     { h.OnUpdateLabel(m) }
func (m *RenameRoomMsg) Accept(h Handler)      { h.OnRenameRoom(m) }
func (m *LogActionMsg) Accept(h Handler)       { h.OnLogAction(m) }
func (m *UpdateWhitelistMsg) Accept(h Handler) { h.OnUpdateWhitelist(m) }
func (m *ToggleLockMsg) Accept(h Handler)      { h.OnToggleLock(m) }
func (m *CloseRoomMsg) Accept(h Handler)       { h.OnCloseRoom(m) }

type envelope struct {
	Type MessageType `json:"type"`
}

// DecodeClientMessage parses a frame from a participant.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", apperr.ErrBadRequest)
	}

	var msg ClientMessage
	switch env.Type {
	case VerifyLicense:
		msg = &VerifyLicenseMsg{}
	case Auth:
		msg = &AuthMsg{}
	case UploadPartial:
		msg = &UploadPartialMsg{}
	case UpdateLabel:
		msg = &UpdateLabelMsg{}
	case RenameRoom:
		msg = &RenameRoomMsg{}
	case LogAction:
		msg = &LogActionMsg{}
	case UpdateWhitelist:
		msg = &UpdateWhitelistMsg{}
	case ToggleLock:
		msg = &ToggleLockMsg{}
	case CloseRoom:
		return &CloseRoomMsg{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q: %w", env.Type, apperr.ErrBadRequest)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", env.Type, apperr.ErrBadRequest)
	}
	return msg, nil
}

// EncodeClientMessage renders a client message as a flat JSON object with
// its type.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	return withType(m.Type(), m)
}
