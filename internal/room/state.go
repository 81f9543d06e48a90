package room

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/scarlin90/signingroom/internal/protocol"
)

const (
	freeTTL       = 1200 * time.Second
	enterpriseTTL = 86400 * time.Second
	extension     = 24 * time.Hour
	defaultName   = "Untitled Room"
)

// State is everything persisted for a room. Only the room's actor reads or
// writes it.
type State struct {
	protocol.RoomView
	AdminToken string `json:"adminToken"`
}

func (s *State) expiresAt() time.Time {
	return time.UnixMilli(s.ExpiresAt).UTC()
}

func (s *State) setExpiry(t time.Time) {
	s.ExpiresAt = t.UnixMilli()
}

func (s *State) audit(now time.Time, event, detail, user string) {
	s.AuditLog = append(s.AuditLog, protocol.AuditEntry{
		Timestamp: now.UnixMilli(),
		Event:     event,
		Detail:    detail,
		User:      user,
	})
}

// capacity is how many sessions the room admits at once.
func (s *State) capacity() int {
	if s.Tier == protocol.TierEnterprise {
		if s.IsPaid {
			return 40
		}
		return 5
	}
	return 10
}

// view copies the public part of the state so it can leave the actor.
func (s *State) view() protocol.RoomView {
	v := s.RoomView
	v.Signatures = slices.Clone(s.Signatures)
	v.AuditLog = slices.Clone(s.AuditLog)
	v.SignerLabels = maps.Clone(s.SignerLabels)
	v.Whitelist = slices.Clone(s.Whitelist)
	return v
}

func (s *State) clone() *State {
	return &State{RoomView: s.view(), AdminToken: s.AdminToken}
}

func (s *State) marshal() ([]byte, error) {
	return json.Marshal(s)
}

func unmarshalState(data []byte) (*State, error) {
	s := &State{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	if s.SignerLabels == nil {
		s.SignerLabels = make(map[string]string)
	}
	return s, nil
}
