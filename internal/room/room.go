// Package room runs one actor goroutine per signing room. The actor owns the
// room state and its sessions; everything else talks to it through its
// command queue.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/logger"
	"github.com/scarlin90/signingroom/internal/protocol"
	"github.com/scarlin90/signingroom/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	sessionIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	sessionIDLength   = 4
	storeTimeout      = 5 * time.Second
)

// ErrClosed is returned by a room whose actor has stopped.
var ErrClosed = errors.New("room actor stopped")

// Session is a participant connection as seen by the room. Send must not
// block; Close may be called more than once.
type Session interface {
	Send(msg []byte) error
	Close(code int, reason string)
}

type member struct {
	id   string
	role protocol.Role
}

func (m *member) label() string {
	if m.role == protocol.RoleCoordinator {
		return "Coordinator"
	}
	return fmt.Sprintf("Guest (%s)", m.id)
}

// Room is the single authority for one room id.
type Room struct {
	id       string
	store    *storage.Store
	licenses LicenseValidator
	clock    clockwork.Clock
	onGone   func(*Room)
	log      *logrus.Entry

	cmds     chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the actor goroutine.
	state    *State
	sessions map[Session]*member
	alarm    clockwork.Timer
}

func newRoom(h *Hub, state *State) *Room {
	return &Room{
		id:       state.RoomID,
		store:    h.store,
		licenses: h.licenses,
		clock:    h.clock,
		onGone:   h.deregister,
		log:      logger.ForRoom(state.RoomID),
		cmds:     make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		state:    state,
		sessions: make(map[Session]*member),
	}
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

func (r *Room) start() {
	r.scheduleAlarm()
	go r.run()
}

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case fn := <-r.cmds:
			fn()
		case <-r.quit:
			return
		}
	}
}

func (r *Room) stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// do runs fn on the actor goroutine and waits for it to finish.
func (r *Room) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case r.cmds <- func() { fn(); close(finished) }:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join admits a session, or rejects it with the matching notification and
// close code.
func (r *Room) Join(ctx context.Context, s Session) error {
	var err error
	if doErr := r.do(ctx, func() { err = r.admit(s) }); doErr != nil {
		if errors.Is(doErr, ErrClosed) {
			rejectNotFound(s)
			return fmt.Errorf("room %s: %w", r.id, apperr.ErrNotFound)
		}
		return doErr
	}
	return err
}

func (r *Room) admit(s Session) error {
	if r.state == nil {
		rejectNotFound(s)
		return fmt.Errorf("room %s: %w", r.id, apperr.ErrNotFound)
	}
	if len(r.sessions) >= r.state.capacity() {
		s.Close(protocol.CloseRoomFull, protocol.ReasonRoomFull)
		return apperr.ErrRoomFull
	}
	if r.state.IsLocked {
		_ = s.Send(protocol.MustEncode(&protocol.ErrorLockedMsg{}))
		s.Close(protocol.CloseNormal, protocol.ReasonLocked)
		return apperr.ErrLocked
	}

	id, err := gonanoid.Generate(sessionIDAlphabet, sessionIDLength)
	if err != nil {
		s.Close(protocol.CloseNormal, protocol.ReasonDropped)
		return fmt.Errorf("failed to generate session id: %w", err)
	}
	r.sessions[s] = &member{id: id, role: protocol.RoleGuest}
	r.state.audit(r.clock.Now(), "User Joined", "Session: "+id, "Guest")
	r.persist()

	r.broadcast(&protocol.ConnectionsUpdateMsg{Count: len(r.sessions)})
	r.send(s, &protocol.StateSyncMsg{
		RoomView:       r.state.view(),
		ConnectedCount: len(r.sessions),
	})
	r.log.WithField("session", id).Debug("Session joined")
	return nil
}

func rejectNotFound(s Session) {
	_ = s.Send(protocol.MustEncode(&protocol.ErrorNotFoundMsg{}))
	s.Close(protocol.CloseNotFound, protocol.ReasonNotFound)
}

// Leave unregisters a session whose connection has gone away.
func (r *Room) Leave(ctx context.Context, s Session) {
	_ = r.do(ctx, func() {
		m, ok := r.sessions[s]
		if !ok {
			return
		}
		delete(r.sessions, s)
		if r.state == nil {
			return
		}
		r.broadcast(&protocol.ConnectionsUpdateMsg{Count: len(r.sessions)})
		r.state.audit(r.clock.Now(), "User Left", "Session ID: "+m.id, "Guest")
		r.persist()
	})
}

// Deliver handles one frame from a session. Malformed frames and frames
// from sessions the room no longer knows are dropped.
func (r *Room) Deliver(ctx context.Context, s Session, frame []byte) error {
	msg, err := protocol.DecodeClientMessage(frame)
	if err != nil {
		r.log.WithError(err).Debug("Dropping malformed frame")
		return nil
	}
	return r.do(ctx, func() {
		m, ok := r.sessions[s]
		if !ok || r.state == nil {
			return
		}
		msg.Accept(&dispatcher{room: r, sess: s, member: m})
	})
}

// Extend pushes the expiry 24 hours past the later of now and the current
// expiry.
func (r *Room) Extend(ctx context.Context) (time.Time, error) {
	var (
		expiresAt time.Time
		err       error
	)
	doErr := r.do(ctx, func() {
		if r.state == nil {
			err = apperr.ErrNotFound
			return
		}
		now := r.clock.Now()
		base := r.state.expiresAt()
		if now.After(base) {
			base = now
		}
		r.state.setExpiry(base.Add(extension))
		r.state.IsExtended = true
		r.state.audit(now, "Time Extended", "+24 Hours added", "System")
		r.persist()
		r.scheduleAlarm()
		r.broadcast(&protocol.TimeExtendedMsg{ExpiresAt: r.state.ExpiresAt})
		expiresAt = r.state.expiresAt()
	})
	if doErr != nil {
		return time.Time{}, r.gone(doErr)
	}
	return expiresAt, err
}

// Unlock marks the room paid.
func (r *Room) Unlock(ctx context.Context) error {
	var err error
	doErr := r.do(ctx, func() {
		if r.state == nil {
			err = apperr.ErrNotFound
			return
		}
		r.state.IsPaid = true
		r.state.audit(r.clock.Now(), "Room Unlocked", "Payment confirmed", "System")
		r.persist()
		r.broadcast(&protocol.RoomUnlockedMsg{
			Tier:      r.state.Tier,
			IsPaid:    true,
			ExpiresAt: r.state.ExpiresAt,
		})
	})
	if doErr != nil {
		return r.gone(doErr)
	}
	return err
}

// Snapshot returns a copy of the full state, admin token included.
func (r *Room) Snapshot(ctx context.Context) (*State, error) {
	var st *State
	if err := r.do(ctx, func() {
		if r.state != nil {
			st = r.state.clone()
		}
	}); err != nil {
		return nil, r.gone(err)
	}
	if st == nil {
		return nil, fmt.Errorf("room %s: %w", r.id, apperr.ErrNotFound)
	}
	return st, nil
}

// Connected returns the number of admitted sessions.
func (r *Room) Connected(ctx context.Context) (int, error) {
	var n int
	err := r.do(ctx, func() { n = len(r.sessions) })
	return n, r.gone(err)
}

func (r *Room) gone(err error) error {
	if errors.Is(err, ErrClosed) {
		return fmt.Errorf("room %s: %w", r.id, apperr.ErrNotFound)
	}
	return err
}

func (r *Room) scheduleAlarm() {
	r.stopAlarm()
	d := r.state.expiresAt().Sub(r.clock.Now())
	r.alarm = r.clock.AfterFunc(d, func() {
		_ = r.do(context.Background(), r.expire)
	})
}

func (r *Room) stopAlarm() {
	if r.alarm != nil {
		r.alarm.Stop()
		r.alarm = nil
	}
}

// expire runs when the alarm fires. An alarm that fires early, because it
// raced a reschedule, is ignored.
func (r *Room) expire() {
	if r.state == nil {
		return
	}
	if r.clock.Now().Before(r.state.expiresAt()) {
		r.scheduleAlarm()
		return
	}
	r.log.Info("Room expired")
	r.teardown(protocol.ReasonExpired)
}

// teardown is the one way a room ends: explicit close, expiry, or recovery
// of an already expired room after restart.
func (r *Room) teardown(reason string) {
	r.stopAlarm()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.DeleteRoom(ctx, r.id); err != nil {
		r.log.WithError(err).Error("Failed to delete room state")
	}
	r.state = nil
	for s := range r.sessions {
		s.Close(protocol.CloseNormal, reason)
	}
	clear(r.sessions)
	r.onGone(r)
	r.stop()
	r.log.WithField("reason", reason).Info("Room torn down")
}

// shutdown stops the actor without touching persisted state.
func (r *Room) shutdown() {
	_ = r.do(context.Background(), func() {
		r.stopAlarm()
		for s := range r.sessions {
			s.Close(protocol.CloseGoingAway, protocol.ReasonShutdown)
		}
		clear(r.sessions)
	})
	r.stop()
	<-r.done
}

func (r *Room) persist() {
	data, err := r.state.marshal()
	if err != nil {
		r.log.WithError(err).Error("Failed to encode room state")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.SaveRoom(ctx, r.id, data, r.state.expiresAt()); err != nil {
		r.log.WithError(err).Error("Failed to persist room state")
	}
}

// broadcast sends to every session. A session that cannot take the message
// is dropped from the room.
func (r *Room) broadcast(msg protocol.ServerMessage) {
	b := protocol.MustEncode(msg)
	for s, m := range r.sessions {
		if err := s.Send(b); err != nil {
			r.log.WithField("session", m.id).WithError(err).Warn("Dropping session")
			delete(r.sessions, s)
			s.Close(protocol.CloseNormal, protocol.ReasonDropped)
		}
	}
}

func (r *Room) send(s Session, msg protocol.ServerMessage) {
	if err := s.Send(protocol.MustEncode(msg)); err != nil {
		if m, ok := r.sessions[s]; ok {
			r.log.WithField("session", m.id).WithError(err).Warn("Dropping session")
			delete(r.sessions, s)
		}
		s.Close(protocol.CloseNormal, protocol.ReasonDropped)
	}
}
