// Package protocol defines the room WebSocket protocol: the closed set of
// client messages, the server notifications, and the shared vocabulary of
// tiers, roles, networks and close codes.
package protocol

import (
	"fmt"

	"github.com/scarlin90/signingroom/internal/apperr"
)

// Tier is a room's service level.
type Tier string

const (
	TierFree       Tier = "free"
	TierEnterprise Tier = "enterprise"
)

// ParseTier defaults an empty tier to free and rejects unknown ones.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case "", TierFree:
		return TierFree, nil
	case TierEnterprise:
		return TierEnterprise, nil
	}
	return "", fmt.Errorf("tier %q: %w", s, apperr.ErrBadRequest)
}

// Role is a session's authority within a room.
type Role string

const (
	RoleGuest       Role = "guest"
	RoleCoordinator Role = "coordinator"
)

// Network is the chain a room's transaction spends on.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Signet  Network = "signet"
)

// ParseNetwork accepts the network names clients send. "bitcoin" and an
// empty value mean mainnet.
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "", "bitcoin", string(Mainnet):
		return Mainnet, nil
	case string(Testnet):
		return Testnet, nil
	case string(Signet):
		return Signet, nil
	}
	return "", fmt.Errorf("network %q: %w", s, apperr.ErrBadRequest)
}

// Limits shared by the server and clients.
const (
	MaxPayloadBytes = 500 * 1024
	MaxSignatures   = 50
)

// WebSocket close codes.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseRoomFull  = 4001
	CloseNotFound  = 4004
)

// Close reasons sent with the codes above.
const (
	ReasonRoomFull = "Room Full"
	ReasonNotFound = "Room Not Found"
	ReasonLocked   = "Room is Locked"
	ReasonClosed   = "Closed"
	ReasonExpired  = "Expired"
	ReasonShutdown = "Server shutting down"
	ReasonDropped  = "Connection dropped"
)

// AuditEntry is one line of a room's append-only audit log. Timestamp is
// in Unix milliseconds.
type AuditEntry struct {
	Timestamp int64  `json:"timestamp"`
	Event     string `json:"event"`
	Detail    string `json:"detail"`
	User      string `json:"user"`
}

// EncryptedBlob is ciphertext the server stores and relays unread.
type EncryptedBlob struct {
	EncryptedData string `json:"encryptedData"`
}

// RoomView is the state every participant may see. It is the room state
// minus the admin token. Times are Unix milliseconds.
type RoomView struct {
	RoomID        string            `json:"roomId"`
	RoomName      string            `json:"roomName"`
	Tier          Tier              `json:"tier"`
	IsPaid        bool              `json:"isPaid"`
	IsGenesis     bool              `json:"isGenesis"`
	Network       Network           `json:"network"`
	EncryptedPsbt string            `json:"encryptedPsbt"`
	Signatures    []EncryptedBlob   `json:"signatures"`
	CreatedAt     int64             `json:"createdAt"`
	ExpiresAt     int64             `json:"expiresAt"`
	IsExtended    bool              `json:"isExtended"`
	IsLocked      bool              `json:"isLocked"`
	AuditLog      []AuditEntry      `json:"auditLog"`
	SignerLabels  map[string]string `json:"signerLabels"`
	Whitelist     []string          `json:"whitelist"`
}
