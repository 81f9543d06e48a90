package room

import (
	"context"
	"crypto/subtle"
	"slices"
	"strings"

	"github.com/scarlin90/signingroom/internal/license"
	"github.com/scarlin90/signingroom/internal/protocol"
	"github.com/scarlin90/signingroom/internal/storage/models"
)

// LicenseValidator resolves a license key to a live license.
type LicenseValidator interface {
	Validate(ctx context.Context, key string) (*models.License, error)
}

// dispatcher applies one client message from one session. It only ever runs
// on the room's actor goroutine.
type dispatcher struct {
	room   *Room
	sess   Session
	member *member
}

var _ protocol.Handler = (*dispatcher)(nil)

func (d *dispatcher) state() *State { return d.room.state }

func (d *dispatcher) coordinatorOnly(kind protocol.MessageType) bool {
	if d.member.role == protocol.RoleCoordinator {
		return true
	}
	d.room.log.WithField("session", d.member.id).Warnf("Dropping %s from non-coordinator", kind)
	return false
}

func (d *dispatcher) reject(message string) {
	d.room.send(d.sess, &protocol.ErrorMsg{Message: message})
}

func (d *dispatcher) OnVerifyLicense(m *protocol.VerifyLicenseMsg) {
	st := d.state()
	if st.Tier == protocol.TierEnterprise && st.IsPaid {
		return
	}
	if d.room.licenses == nil || m.Key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	lic, err := d.room.licenses.Validate(ctx, m.Key)
	if err != nil {
		d.room.log.WithError(err).Info("License verification failed")
		return
	}

	now := d.room.clock.Now()
	st.Tier = protocol.TierEnterprise
	st.IsPaid = true
	if lic.Type == string(license.Genesis) {
		st.IsGenesis = true
	}
	if st.expiresAt().Sub(now) < enterpriseTTL {
		st.setExpiry(now.Add(enterpriseTTL))
		d.room.scheduleAlarm()
	}
	st.audit(now, "License Verified", "Type: "+lic.Type, d.member.label())
	d.room.persist()
	d.room.broadcast(&protocol.RoomUnlockedMsg{
		Tier:      protocol.TierEnterprise,
		IsPaid:    true,
		ExpiresAt: st.ExpiresAt,
	})
}

func (d *dispatcher) OnAuth(m *protocol.AuthMsg) {
	st := d.state()
	if subtle.ConstantTimeCompare([]byte(m.Token), []byte(st.AdminToken)) != 1 {
		d.room.log.WithField("session", d.member.id).Warn("Rejected coordinator token")
		return
	}
	d.member.role = protocol.RoleCoordinator
	d.room.send(d.sess, &protocol.RoleUpdateMsg{Role: protocol.RoleCoordinator})
	st.audit(d.room.clock.Now(), "Role Claimed", "User became Coordinator", d.member.label())
	d.room.persist()
}

func (d *dispatcher) OnUploadPartial(m *protocol.UploadPartialMsg) {
	st := d.state()
	if m.Data.EncryptedData == "" {
		return
	}
	if len(m.Data.EncryptedData) > protocol.MaxPayloadBytes {
		d.reject("Payload too large.")
		return
	}
	if len(st.Signatures) >= protocol.MaxSignatures {
		d.reject("Signature limit reached.")
		return
	}

	st.Signatures = append(st.Signatures, m.Data)
	detail := "Unknown Signer"
	if m.Fingerprint != "" {
		detail = "Signer: " + m.Fingerprint
	}
	st.audit(d.room.clock.Now(), "Signature Uploaded", detail, d.member.label())
	d.room.persist()
	d.room.broadcast(&protocol.NewPartialDataMsg{
		Data:     m.Data,
		SignerID: m.SignerID,
		AuditLog: slices.Clone(st.AuditLog),
	})
}

func (d *dispatcher) OnUpdateLabel(m *protocol.UpdateLabelMsg) {
	if !d.coordinatorOnly(protocol.UpdateLabel) || m.Fingerprint == "" {
		return
	}
	st := d.state()
	st.SignerLabels[m.Fingerprint] = m.Label
	st.audit(d.room.clock.Now(), "Label Updated", m.Fingerprint+" -> "+m.Label, d.member.label())
	d.room.persist()
	d.room.broadcast(&protocol.LabelsUpdatedMsg{SignerLabels: st.view().SignerLabels})
}

func (d *dispatcher) OnRenameRoom(m *protocol.RenameRoomMsg) {
	if !d.coordinatorOnly(protocol.RenameRoom) {
		return
	}
	st := d.state()
	name := strings.TrimSpace(m.Name)
	if st.Tier != protocol.TierEnterprise || name == "" {
		return
	}
	old := st.RoomName
	st.RoomName = name
	st.audit(d.room.clock.Now(), "Room Renamed", old+" -> "+name, d.member.label())
	d.room.persist()
	d.room.broadcast(&protocol.RoomRenamedMsg{Name: name})
}

func (d *dispatcher) OnLogAction(m *protocol.LogActionMsg) {
	if m.Action == "" {
		return
	}
	st := d.state()
	st.audit(d.room.clock.Now(), m.Action, m.Detail, d.member.label())
	d.room.persist()
	d.room.broadcast(&protocol.LogUpdateMsg{AuditLog: slices.Clone(st.AuditLog)})
}

func (d *dispatcher) OnUpdateWhitelist(m *protocol.UpdateWhitelistMsg) {
	if !d.coordinatorOnly(protocol.UpdateWhitelist) || m.Address == "" {
		return
	}
	st := d.state()
	var detail string
	if m.Remove {
		st.Whitelist = slices.DeleteFunc(st.Whitelist, func(a string) bool { return a == m.Address })
		detail = "Removed " + m.Address
	} else {
		if !slices.Contains(st.Whitelist, m.Address) {
			st.Whitelist = append(st.Whitelist, m.Address)
		}
		detail = "Added " + m.Address
	}
	st.audit(d.room.clock.Now(), "Whitelist Updated", detail, d.member.label())
	d.room.persist()
	d.room.broadcast(&protocol.WhitelistUpdatedMsg{Whitelist: slices.Clone(st.Whitelist)})
}

func (d *dispatcher) OnToggleLock(m *protocol.ToggleLockMsg) {
	if !d.coordinatorOnly(protocol.ToggleLock) {
		return
	}
	st := d.state()
	st.IsLocked = m.Locked
	detail := "Room UNLOCKED"
	if m.Locked {
		detail = "Room LOCKED"
	}
	st.audit(d.room.clock.Now(), "Security Alert", detail, "Coordinator")
	d.room.persist()
	d.room.broadcast(&protocol.LockUpdatedMsg{IsLocked: st.IsLocked})
}

func (d *dispatcher) OnCloseRoom(*protocol.CloseRoomMsg) {
	if !d.coordinatorOnly(protocol.CloseRoom) {
		return
	}
	st := d.state()
	st.audit(d.room.clock.Now(), "Room Destroyed", "Coordinator closed session", "Coordinator")
	d.room.broadcast(&protocol.RoomClosedMsg{FinalLog: slices.Clone(st.AuditLog)})
	d.room.teardown(protocol.ReasonClosed)
}
