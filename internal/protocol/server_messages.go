package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/scarlin90/signingroom/internal/apperr"
)

// Server to client.
const (
	StateSync         MessageType = "STATE_SYNC"
	NewPartialData    MessageType = "NEW_PARTIAL_DATA"
	LabelsUpdated     MessageType = "LABELS_UPDATED"
	RoomRenamed       MessageType = "ROOM_RENAMED"
	LogUpdate         MessageType = "LOG_UPDATE"
	WhitelistUpdated  MessageType = "WHITELIST_UPDATED"
	LockUpdated       MessageType = "LOCK_UPDATED"
	TimeExtended      MessageType = "TIME_EXTENDED"
	RoomUnlocked      MessageType = "ROOM_UNLOCKED"
	ConnectionsUpdate MessageType = "CONNECTIONS_UPDATE"
	RoleUpdate        MessageType = "ROLE_UPDATE"
	RoomClosed        MessageType = "ROOM_CLOSED"
	ErrorLocked       MessageType = "ERROR_LOCKED"
	ErrorNotFound     MessageType = "ERROR_NOT_FOUND"
	Error             MessageType = "ERROR"
)

// ServerMessage is a notification sent to participants.
type ServerMessage interface {
	Type() MessageType
}

// StateSyncMsg is sent once to a session when it is admitted.
type StateSyncMsg struct {
	RoomView
	ConnectedCount int `json:"connectedCount"`
}

type NewPartialDataMsg struct {
	Data     EncryptedBlob `json:"data"`
	SignerID string        `json:"signerId,omitempty"`
	AuditLog []AuditEntry  `json:"auditLog"`
}

type LabelsUpdatedMsg struct {
	SignerLabels map[string]string `json:"signerLabels"`
}

type RoomRenamedMsg struct {
	Name string `json:"name"`
}

type LogUpdateMsg struct {
	AuditLog []AuditEntry `json:"auditLog"`
}

type WhitelistUpdatedMsg struct {
	Whitelist []string `json:"whitelist"`
}

type LockUpdatedMsg struct {
	IsLocked bool `json:"isLocked"`
}

type TimeExtendedMsg struct {
	ExpiresAt int64 `json:"expiresAt"`
}

type RoomUnlockedMsg struct {
	Tier      Tier  `json:"tier,omitempty"`
	IsPaid    bool  `json:"isPaid"`
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

type ConnectionsUpdateMsg struct {
	Count int `json:"count"`
}

type RoleUpdateMsg struct {
	Role Role `json:"role"`
}

type RoomClosedMsg struct {
	FinalLog []AuditEntry `json:"finalLog"`
}

type ErrorLockedMsg struct{}

type ErrorNotFoundMsg struct{}

// ErrorMsg tells the sender alone that its message was rejected.
type ErrorMsg struct {
	Message string `json:"message"`
}

func (*StateSyncMsg) Type() MessageType         { return StateSync }
func (*NewPartialDataMsg) Type() MessageType    { return NewPartialData }
func (*LabelsUpdatedMsg) Type() MessageType     { return LabelsUpdated }
func (*RoomRenamedMsg) Type() MessageType       { return RoomRenamed }
func (*LogUpdateMsg) Type() MessageType         { return LogUpdate }
func (*WhitelistUpdatedMsg) Type() MessageType  { return WhitelistUpdated }
func (*LockUpdatedMsg) Type() MessageType       { return LockUpdated }
func (*TimeExtendedMsg) Type() MessageType      { return TimeExtended }
func (*RoomUnlockedMsg) Type() MessageType      { return RoomUnlocked }
func (*ConnectionsUpdateMsg) Type() MessageType { return ConnectionsUpdate }
func (*RoleUpdateMsg) Type() MessageType        { return RoleUpdate }
func (*RoomClosedMsg) Type() MessageType        { return RoomClosed }
func (*ErrorLockedMsg) Type() MessageType       { return ErrorLocked }
func (*ErrorNotFoundMsg) Type() MessageType     { return ErrorNotFound }
func (*ErrorMsg) Type() MessageType             { return Error }

// Encode renders a server message as a flat JSON object with its type.
func Encode(m ServerMessage) ([]byte, error) {
	return withType(m.Type(), m)
}

// MustEncode is Encode for messages built from plain data, which cannot
// fail to marshal.
func MustEncode(m ServerMessage) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(fmt.Sprintf("encode %s: %v", m.Type(), err))
	}
	return b
}

// DecodeServerMessage parses a frame received from the server.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", apperr.ErrBadRequest)
	}

	var msg ServerMessage
	switch env.Type {
	case StateSync:
		msg = &StateSyncMsg{}
	case NewPartialData:
		msg = &NewPartialDataMsg{}
	case LabelsUpdated:
		msg = &LabelsUpdatedMsg{}
	case RoomRenamed:
		msg = &RoomRenamedMsg{}
	case LogUpdate:
		msg = &LogUpdateMsg{}
	case WhitelistUpdated:
		msg = &WhitelistUpdatedMsg{}
	case LockUpdated:
		msg = &LockUpdatedMsg{}
	case TimeExtended:
		msg = &TimeExtendedMsg{}
	case RoomUnlocked:
		msg = &RoomUnlockedMsg{}
	case ConnectionsUpdate:
		msg = &ConnectionsUpdateMsg{}
	case RoleUpdate:
		msg = &RoleUpdateMsg{}
	case RoomClosed:
		msg = &RoomClosedMsg{}
	case ErrorLocked:
		return &ErrorLockedMsg{}, nil
	case ErrorNotFound:
		return &ErrorNotFoundMsg{}, nil
	case Error:
		msg = &ErrorMsg{}
	default:
		return nil, fmt.Errorf("unknown message type %q: %w", env.Type, apperr.ErrBadRequest)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", env.Type, apperr.ErrBadRequest)
	}
	return msg, nil
}

// withType marshals v, which must encode as a JSON object, and prepends the
// type field.
func withType(t MessageType, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("%s does not encode as an object", t)
	}
	typ, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typ) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if rest := body[1:]; !bytes.Equal(rest, []byte("}")) {
		buf.WriteByte(',')
		buf.Write(rest)
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}
