package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/license"
	"github.com/scarlin90/signingroom/internal/logger"
	"github.com/scarlin90/signingroom/internal/protocol"
	"github.com/scarlin90/signingroom/internal/storage"
	"github.com/sirupsen/logrus"
)

// DefaultShards is the registry shard count used by NewHub.
const DefaultShards = 16

// Hub creates room actors and finds them by id.
type Hub struct {
	store    *storage.Store
	licenses LicenseValidator
	clock    clockwork.Clock
	shards   []*registry
}

// NewHub creates a Hub. licenses may be nil, in which case license keys are
// never accepted. A nil clock means the real clock.
func NewHub(store *storage.Store, licenses LicenseValidator, clock clockwork.Clock) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h := &Hub{
		store:    store,
		licenses: licenses,
		clock:    clock,
		shards:   make([]*registry, DefaultShards),
	}
	for i := range h.shards {
		h.shards[i] = newRegistry()
	}
	return h
}

func (h *Hub) shard(roomID string) *registry {
	return h.shards[shardFor(roomID, len(h.shards))]
}

func (h *Hub) deregister(r *Room) {
	h.shard(r.id).deregister(r)
}

// CreateParams describes a new room.
type CreateParams struct {
	EncryptedPsbt string `json:"encryptedPsbt"`
	Tier          string `json:"tier"`
	LicenseKey    string `json:"licenseKey"`
	Network       string `json:"network"`
}

// Created is what the creator needs to reach and administer a room.
type Created struct {
	RoomID     string    `json:"roomId"`
	AdminToken string    `json:"adminToken"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Create persists a new room and starts its actor.
func (h *Hub) Create(ctx context.Context, p CreateParams) (*Created, error) {
	if p.EncryptedPsbt == "" {
		return nil, fmt.Errorf("encryptedPsbt is required: %w", apperr.ErrBadRequest)
	}
	if len(p.EncryptedPsbt) > protocol.MaxPayloadBytes {
		return nil, apperr.ErrPayloadTooLarge
	}
	tier, err := protocol.ParseTier(p.Tier)
	if err != nil {
		return nil, err
	}
	network, err := protocol.ParseNetwork(p.Network)
	if err != nil {
		return nil, err
	}

	isPaid := tier != protocol.TierEnterprise
	isGenesis := false
	if p.LicenseKey != "" && h.licenses != nil {
		if lic, err := h.licenses.Validate(ctx, p.LicenseKey); err == nil {
			tier = protocol.TierEnterprise
			isPaid = true
			isGenesis = lic.Type == string(license.Genesis)
		} else {
			logger.Log.WithError(err).Info("Ignoring license key on room creation")
		}
	}

	ttl := freeTTL
	if tier == protocol.TierEnterprise {
		ttl = enterpriseTTL
	}
	now := h.clock.Now()
	st := &State{
		RoomView: protocol.RoomView{
			RoomID:        uuid.NewString(),
			RoomName:      defaultName,
			Tier:          tier,
			IsPaid:        isPaid,
			IsGenesis:     isGenesis,
			Network:       network,
			EncryptedPsbt: p.EncryptedPsbt,
			Signatures:    []protocol.EncryptedBlob{},
			CreatedAt:     now.UnixMilli(),
			SignerLabels:  make(map[string]string),
			Whitelist:     []string{},
		},
		AdminToken: uuid.NewString(),
	}
	st.setExpiry(now.Add(ttl))
	st.audit(now, "Room Created", "Tier: "+string(tier), "System")

	data, err := st.marshal()
	if err != nil {
		return nil, err
	}
	if err := h.store.SaveRoom(ctx, st.RoomID, data, st.expiresAt()); err != nil {
		return nil, fmt.Errorf("failed to save room: %w", err)
	}
	h.spawn(st)

	logger.ForRoom(st.RoomID).WithFields(logrus.Fields{
		"tier":    tier,
		"network": network,
	}).Info("Room created")
	return &Created{RoomID: st.RoomID, AdminToken: st.AdminToken, ExpiresAt: st.expiresAt()}, nil
}

func (h *Hub) spawn(st *State) *Room {
	r := newRoom(h, st)
	h.shard(r.id).register(r)
	r.start()
	return r
}

// Lookup returns the running actor for a room id.
func (h *Hub) Lookup(roomID string) (*Room, bool) {
	return h.shard(roomID).get(roomID)
}

// Join admits a session to a room. An unknown room gets ERROR_NOT_FOUND and
// close code 4004.
func (h *Hub) Join(ctx context.Context, roomID string, s Session) (*Room, error) {
	r, ok := h.Lookup(roomID)
	if !ok {
		rejectNotFound(s)
		return nil, fmt.Errorf("room %s: %w", roomID, apperr.ErrNotFound)
	}
	if err := r.Join(ctx, s); err != nil {
		return nil, err
	}
	return r, nil
}

// Len returns the number of running rooms.
func (h *Hub) Len() int {
	n := 0
	for _, s := range h.shards {
		s.mu.RLock()
		n += len(s.rooms)
		s.mu.RUnlock()
	}
	return n
}

// Bootstrap restarts actors for rooms persisted before a restart. Rooms
// already past their expiry go through the normal teardown.
func (h *Hub) Bootstrap(ctx context.Context) (int, error) {
	rows, err := h.store.ListRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list rooms: %w", err)
	}

	now := h.clock.Now()
	live := 0
	for _, row := range rows {
		st, err := unmarshalState(row.Data)
		if err != nil || st.RoomID != row.ID {
			logger.ForRoom(row.ID).WithError(err).Warn("Discarding unreadable room state")
			if err := h.store.DeleteRoom(ctx, row.ID); err != nil {
				return live, err
			}
			continue
		}
		if _, running := h.Lookup(st.RoomID); running {
			continue
		}

		r := h.spawn(st)
		if !now.Before(st.expiresAt()) {
			// The alarm may already have torn it down.
			if err := r.do(ctx, r.expire); err != nil && !errors.Is(err, ErrClosed) {
				return live, err
			}
			continue
		}
		live++
	}
	logger.Log.Infof("Restored %d rooms", live)
	return live, nil
}

// Shutdown stops every room actor. Persisted state is kept for the next
// Bootstrap.
func (h *Hub) Shutdown() {
	for _, s := range h.shards {
		for _, r := range s.all() {
			r.shutdown()
			s.deregister(r)
		}
	}
}
