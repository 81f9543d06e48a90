package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/gorilla/websocket"
	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/scarlin90/signingroom/internal/encryption"
	"github.com/scarlin90/signingroom/internal/logger"
	"github.com/scarlin90/signingroom/internal/protocol"
	"github.com/scarlin90/signingroom/internal/psbtkit"
	"github.com/sirupsen/logrus"
)

const (
	reconnectDelay = 3 * time.Second
	writeWait      = 10 * time.Second
)

// SessionConfig configures a Session. URL and Key are required.
type SessionConfig struct {
	URL        string
	Key        string
	AdminToken string
	LicenseKey string

	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	// OnMessage, if set, sees every server message after it is applied.
	OnMessage func(protocol.ServerMessage)
}

// View is the decrypted state of a room as this participant sees it.
type View struct {
	protocol.RoomView
	Role      protocol.Role
	Connected int
	// Psbt is every readable contribution merged, base64.
	Psbt      string
	Signers   []psbtkit.SignerStatus
	Threshold int
	// Err is a blocking failure, such as a key that does not open the room.
	Err error
}

// Session keeps one participant connected to a room.
type Session struct {
	cfg SessionConfig
	log *logrus.Entry

	mu        sync.Mutex
	key       string
	synced    bool
	room      protocol.RoomView
	role      protocol.Role
	connected int
	psbt      string
	blocked   error
	terminal  error
	conn      *websocket.Conn

	writeMu sync.Mutex
	kick    chan struct{}
}

// NewSession prepares a session. Nothing is dialed until Run.
func NewSession(cfg SessionConfig) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = reconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Session{
		cfg:  cfg,
		log:  logger.Log.WithField("socket", cfg.URL),
		key:  cfg.Key,
		role: protocol.RoleGuest,
		kick: make(chan struct{}, 1),
	}
}

// Run keeps the session connected until ctx ends or the server sends a
// terminal signal, which is returned as one of apperr.ErrRoomClosed,
// ErrLocked, ErrNotFound or ErrRoomFull.
func (s *Session) Run(ctx context.Context) error {
	for {
		err := s.connect(ctx)
		if term := s.terminalErr(); term != nil {
			return term
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.WithError(err).Debug("connection lost, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kick:
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Session) connect(ctx context.Context) error {
	conn, _, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()
	}()

	if s.cfg.LicenseKey != "" {
		if err := s.send(&protocol.VerifyLicenseMsg{Key: s.cfg.LicenseKey}); err != nil {
			return err
		}
	}
	if s.cfg.AdminToken != "" {
		if err := s.send(&protocol.AuthMsg{Token: s.cfg.AdminToken}); err != nil {
			return err
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				switch ce.Code {
				case protocol.CloseRoomFull:
					s.setTerminal(apperr.ErrRoomFull)
				case protocol.CloseNotFound:
					s.setTerminal(apperr.ErrNotFound)
				}
			}
			return err
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			s.log.WithError(err).Warn("ignoring server message")
			continue
		}
		s.apply(msg)
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(msg)
		}
		if s.terminalErr() != nil {
			return nil
		}
	}
}

func (s *Session) apply(msg protocol.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.StateSyncMsg:
		s.room = m.RoomView
		s.connected = m.ConnectedCount
		s.synced = true
		s.rebuild()
	case *protocol.NewPartialDataMsg:
		s.room.Signatures = append(s.room.Signatures, m.Data)
		s.room.AuditLog = m.AuditLog
		s.mergePartial(m.Data)
	case *protocol.LabelsUpdatedMsg:
		s.room.SignerLabels = m.SignerLabels
	case *protocol.RoomRenamedMsg:
		s.room.RoomName = m.Name
	case *protocol.LogUpdateMsg:
		s.room.AuditLog = m.AuditLog
	case *protocol.WhitelistUpdatedMsg:
		s.room.Whitelist = m.Whitelist
	case *protocol.LockUpdatedMsg:
		s.room.IsLocked = m.IsLocked
	case *protocol.TimeExtendedMsg:
		s.room.ExpiresAt = m.ExpiresAt
		s.room.IsExtended = true
	case *protocol.RoomUnlockedMsg:
		s.room.IsPaid = m.IsPaid
		if m.Tier != "" {
			s.room.Tier = m.Tier
		}
		if m.ExpiresAt != 0 {
			s.room.ExpiresAt = m.ExpiresAt
		}
	case *protocol.ConnectionsUpdateMsg:
		s.connected = m.Count
	case *protocol.RoleUpdateMsg:
		s.role = m.Role
	case *protocol.RoomClosedMsg:
		s.room.AuditLog = m.FinalLog
		s.terminal = apperr.ErrRoomClosed
	case *protocol.ErrorLockedMsg:
		s.terminal = apperr.ErrLocked
	case *protocol.ErrorNotFoundMsg:
		s.terminal = apperr.ErrNotFound
	case *protocol.ErrorMsg:
		s.log.WithField("message", m.Message).Warn("server rejected request")
	}
}

// rebuild decrypts the master PSBT and merges every stored partial onto it.
// Callers hold s.mu.
func (s *Session) rebuild() {
	s.psbt = ""
	plain, err := encryption.Decrypt(s.room.EncryptedPsbt, s.key)
	if err != nil {
		s.blocked = err
		return
	}
	base, err := psbtkit.Decode(string(plain))
	if err != nil {
		s.blocked = err
		return
	}
	s.blocked = nil
	s.psbt = base
	for _, blob := range s.room.Signatures {
		s.mergePartial(blob)
	}
}

// mergePartial folds one encrypted contribution into the current PSBT. A
// contribution that does not decrypt or merge leaves the PSBT as it was.
func (s *Session) mergePartial(blob protocol.EncryptedBlob) {
	if s.psbt == "" {
		return
	}
	plain, err := encryption.Decrypt(blob.EncryptedData, s.key)
	if err != nil {
		s.log.WithError(err).Warn("skipping unreadable partial")
		return
	}
	merged, err := psbtkit.Combine(s.psbt, string(plain))
	if err != nil {
		s.log.WithError(err).Warn("skipping partial that does not merge")
		return
	}
	s.psbt = merged
}

// SetKey replaces the room key and reconnects so the state is re-read.
func (s *Session) SetKey(key string) {
	s.mu.Lock()
	s.key = key
	s.blocked = nil
	conn := s.conn
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
	if conn != nil {
		conn.Close()
	}
}

// View returns a snapshot of the decrypted room.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		RoomView:  s.room,
		Role:      s.role,
		Connected: s.connected,
		Err:       s.blocked,
	}
	if s.blocked != nil {
		return v
	}
	v.Psbt = s.psbt
	if p, err := psbtkit.Parse(s.psbt); err == nil {
		v.Signers = psbtkit.ExtractSigners(p)
		v.Threshold = psbtkit.Threshold(p)
	}
	return v
}

// Synced reports whether a STATE_SYNC has been received.
func (s *Session) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

// UploadPartial merges a signed PSBT into the local view, then sends it
// encrypted to the room attributed to the signer it newly signs for.
func (s *Session) UploadPartial(signed string) error {
	normalized, err := psbtkit.Decode(signed)
	if err != nil {
		return err
	}
	next, err := psbtkit.Parse(normalized)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.blocked != nil {
		err := s.blocked
		s.mu.Unlock()
		return err
	}
	key, current := s.key, s.psbt
	s.mu.Unlock()

	fingerprint := newSigner(current, next)
	merged := normalized
	if current != "" {
		if merged, err = psbtkit.Combine(current, normalized); err != nil {
			return err
		}
	}
	ciphertext, err := encryption.Encrypt([]byte(normalized), key)
	if err != nil {
		return err
	}
	if len(ciphertext) > protocol.MaxPayloadBytes {
		return apperr.ErrPayloadTooLarge
	}

	s.mu.Lock()
	s.psbt = merged
	s.mu.Unlock()

	return s.send(&protocol.UploadPartialMsg{
		Data:        protocol.EncryptedBlob{EncryptedData: ciphertext},
		Fingerprint: fingerprint,
	})
}

// newSigner names the first fingerprint signed in next but not in current,
// falling back to the first fingerprint next mentions.
func newSigner(current string, next *psbt.Packet) string {
	before := make(map[string]bool)
	if p, err := psbtkit.Parse(current); err == nil {
		for _, st := range psbtkit.ExtractSigners(p) {
			before[st.Fingerprint] = st.Signed
		}
	}
	for _, st := range psbtkit.ExtractSigners(next) {
		if st.Signed && !before[st.Fingerprint] {
			return st.Fingerprint
		}
	}
	fp, _ := psbtkit.Fingerprint(next)
	return fp
}

// Finalize extracts the signed transaction once the threshold is met and
// records it in the audit log.
func (s *Session) Finalize() (*psbtkit.Finalized, error) {
	v := s.View()
	if v.Err != nil {
		return nil, v.Err
	}
	p, err := psbtkit.Parse(v.Psbt)
	if err != nil {
		return nil, err
	}
	if v.Threshold == 0 {
		return nil, apperr.ErrThresholdUnknown
	}
	if n := psbtkit.SignedCount(v.Signers); n < v.Threshold {
		return nil, fmt.Errorf("%w: %d of %d", apperr.ErrNotEnoughSignatures, n, v.Threshold)
	}
	fin, err := psbtkit.Finalize(p)
	if err != nil {
		return nil, err
	}
	if err := s.LogAction("Tx Finalized", "TxID: "+fin.TxID); err != nil {
		s.log.WithError(err).Warn("could not record finalization")
	}
	return fin, nil
}

// UnverifiedOutputs lists the non-change outputs paying addresses missing
// from the room's whitelist. Only enterprise rooms with a whitelist check.
func (s *Session) UnverifiedOutputs() ([]psbtkit.OutputDetail, error) {
	v := s.View()
	if v.Err != nil {
		return nil, v.Err
	}
	if v.Tier != protocol.TierEnterprise || len(v.Whitelist) == 0 {
		return nil, nil
	}
	p, err := psbtkit.Parse(v.Psbt)
	if err != nil {
		return nil, err
	}
	d, err := psbtkit.Details(p, string(v.Network))
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(v.Whitelist))
	for _, a := range v.Whitelist {
		allowed[strings.TrimSpace(a)] = true
	}
	var out []psbtkit.OutputDetail
	for _, o := range d.Outputs {
		if !o.IsChange && !allowed[o.Address] {
			out = append(out, o)
		}
	}
	return out, nil
}

// Claim asks for the coordinator role with an admin token.
func (s *Session) Claim(token string) error {
	return s.send(&protocol.AuthMsg{Token: token})
}

func (s *Session) VerifyLicense(key string) error {
	return s.send(&protocol.VerifyLicenseMsg{Key: key})
}

func (s *Session) Rename(name string) error {
	return s.send(&protocol.RenameRoomMsg{Name: name})
}

func (s *Session) Label(fingerprint, label string) error {
	return s.send(&protocol.UpdateLabelMsg{Fingerprint: fingerprint, Label: label})
}

func (s *Session) Whitelist(address string, remove bool) error {
	return s.send(&protocol.UpdateWhitelistMsg{Address: address, Remove: remove})
}

func (s *Session) ToggleLock(locked bool) error {
	return s.send(&protocol.ToggleLockMsg{Locked: locked})
}

func (s *Session) Close() error {
	return s.send(&protocol.CloseRoomMsg{})
}

func (s *Session) LogAction(action, detail string) error {
	return s.send(&protocol.LogActionMsg{Action: action, Detail: detail})
}

var errNotConnected = errors.New("not connected")

func (s *Session) send(m protocol.ClientMessage) error {
	data, err := protocol.EncodeClientMessage(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) setTerminal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal == nil {
		s.terminal = err
	}
}

func (s *Session) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}
