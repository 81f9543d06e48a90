package protocol

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/scarlin90/signingroom/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []string
}

func (r *recorder) OnVerifyLicense(m *VerifyLicenseMsg)     { r.got = append(r.got, "license:"+m.Key) }
func (r *recorder) OnAuth(m *AuthMsg)                       { r.got = append(r.got, "auth:"+m.Token) }
func (r *recorder) OnUploadPartial(m *UploadPartialMsg)     { r.got = append(r.got, "upload:"+m.Data.EncryptedData) }
func (r *recorder) OnUpdateLabel(m *UpdateLabelMsg)         { r.got = append(r.got, "label:"+m.Label) }
func (r *recorder) OnRenameRoom(m *RenameRoomMsg)           { r.got = append(r.got, "rename:"+m.Name) }
func (r *recorder) OnLogAction(m *LogActionMsg)             { r.got = append(r.got, "log:"+m.Action) }
func (r *recorder) OnUpdateWhitelist(m *UpdateWhitelistMsg) { r.got = append(r.got, "whitelist:"+m.Address) }
func (r *recorder) OnToggleLock(m *ToggleLockMsg)           { r.got = append(r.got, "lock") }
func (r *recorder) OnCloseRoom(*CloseRoomMsg)               { r.got = append(r.got, "close") }

func TestDecodeClientMessageDispatch(t *testing.T) {
	frames := []string{
		`{"type":"VERIFY_LICENSE","key":"sk_annual_x"}`,
		`{"type":"AUTH","token":"t"}`,
		`{"type":"UPLOAD_PARTIAL","data":{"encryptedData":"abc"},"fingerprint":"d0c3b2a1"}`,
		`{"type":"UPDATE_LABEL","fingerprint":"d0c3b2a1","label":"Alice"}`,
		`{"type":"RENAME_ROOM","name":"Treasury"}`,
		`{"type":"LOG_ACTION","action":"PDF Exported","detail":""}`,
		`{"type":"UPDATE_WHITELIST","address":"bc1qxyz","remove":false}`,
		`{"type":"TOGGLE_LOCK","locked":true}`,
		`{"type":"CLOSE_ROOM"}`,
	}

	r := &recorder{}
	for _, f := range frames {
		msg, err := DecodeClientMessage([]byte(f))
		require.NoError(t, err, f)
		msg.Accept(r)
	}
	assert.Equal(t, []string{
		"license:sk_annual_x", "auth:t", "upload:abc", "label:Alice", "rename:Treasury",
		"log:PDF Exported", "whitelist:bc1qxyz", "lock", "close",
	}, r.got)
}

func TestClientMessageIsClosed(t *testing.T) {
	iface := reflect.TypeOf((*ClientMessage)(nil)).Elem()
	sealed := false
	for i := 0; i < iface.NumMethod(); i++ {
		if !iface.Method(i).IsExported() {
			sealed = true
		}
	}
	assert.True(t, sealed, "ClientMessage must carry an unexported method")

	handler := reflect.TypeOf((*Handler)(nil)).Elem()
	msgs := []ClientMessage{
		&VerifyLicenseMsg{}, &AuthMsg{}, &UploadPartialMsg{}, &UpdateLabelMsg{}, &RenameRoomMsg{},
		&LogActionMsg{}, &UpdateWhitelistMsg{}, &ToggleLockMsg{}, &CloseRoomMsg{},
	}
	assert.Len(t, msgs, handler.NumMethod())

	r := &recorder{}
	for _, m := range msgs {
		m.Accept(r)
	}
	assert.Len(t, r.got, len(msgs))
}

func TestDecodeClientMessageRejects(t *testing.T) {
	for _, f := range []string{
		`not json`,
		`{"type":"SELF_DESTRUCT"}`,
		`{"token":"t"}`,
		`{"type":"TOGGLE_LOCK","locked":"yes"}`,
	} {
		_, err := DecodeClientMessage([]byte(f))
		require.ErrorIs(t, err, apperr.ErrBadRequest, f)
	}
}

func TestEncodeIsFlat(t *testing.T) {
	b, err := Encode(&ConnectionsUpdateMsg{Count: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"CONNECTIONS_UPDATE","count":3}`, string(b))

	b, err = Encode(&ErrorLockedMsg{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"ERROR_LOCKED"}`, string(b))

	b, err = EncodeClientMessage(&CloseRoomMsg{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"CLOSE_ROOM"}`, string(b))
}

func TestStateSyncCarriesPublicViewOnly(t *testing.T) {
	sync := &StateSyncMsg{
		RoomView: RoomView{
			RoomID:   "r1",
			RoomName: "Untitled Room",
			Tier:     TierFree,
			IsPaid:   true,
			Network:  Testnet,
		},
		ConnectedCount: 2,
	}
	b := MustEncode(sync)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(b, &flat))
	assert.Equal(t, "STATE_SYNC", flat["type"])
	assert.Equal(t, "r1", flat["roomId"])
	assert.EqualValues(t, 2, flat["connectedCount"])
	assert.NotContains(t, flat, "adminToken")

	back, err := DecodeServerMessage(b)
	require.NoError(t, err)
	assert.Equal(t, sync, back)
}

func TestDecodeServerMessage(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"ROOM_UNLOCKED","tier":"enterprise","isPaid":true,"expiresAt":5}`))
	require.NoError(t, err)
	assert.Equal(t, &RoomUnlockedMsg{Tier: TierEnterprise, IsPaid: true, ExpiresAt: 5}, msg)

	msg, err = DecodeServerMessage([]byte(`{"type":"ERROR","message":"Signature limit reached."}`))
	require.NoError(t, err)
	assert.Equal(t, "Signature limit reached.", msg.(*ErrorMsg).Message)

	_, err = DecodeServerMessage([]byte(`{"type":"NOPE"}`))
	require.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestParseNetworkAndTier(t *testing.T) {
	n, err := ParseNetwork("bitcoin")
	require.NoError(t, err)
	assert.Equal(t, Mainnet, n)
	n, err = ParseNetwork("")
	require.NoError(t, err)
	assert.Equal(t, Mainnet, n)
	n, err = ParseNetwork("signet")
	require.NoError(t, err)
	assert.Equal(t, Signet, n)
	_, err = ParseNetwork("litecoin")
	require.ErrorIs(t, err, apperr.ErrBadRequest)

	tier, err := ParseTier("")
	require.NoError(t, err)
	assert.Equal(t, TierFree, tier)
	_, err = ParseTier("gold")
	require.ErrorIs(t, err, apperr.ErrBadRequest)
}
