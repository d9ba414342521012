package kmscommon

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/ruteri/agentsec-relay/cryptoutils"
	"github.com/ruteri/agentsec-relay/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSealedRoundTrip(t *testing.T) {
	var admins []AdminKey
	privs := map[string][]byte{}
	for _, id := range []string{"a", "b", "c"} {
		priv, pub, err := cryptoutils.GenerateKeyPair(cryptoutils.SchemeECDSA)
		require.NoError(t, err)
		admins = append(admins, AdminKey{ID: id, PublicKey: string(pub)})
		privs[id] = priv
	}

	masterKey, err := NewMasterKey()
	require.NoError(t, err)
	sealed, err := SplitSealed(masterKey, 2, admins)
	require.NoError(t, err)
	require.Len(t, sealed, 3)

	keeper, err := kms.NewShamirKeeperRecovery(kms.ShamirConfig{Threshold: 2, AdminPubKeys: PEMs(admins)})
	require.NoError(t, err)

	for _, s := range sealed[1:] {
		sub, err := OpenAndSign(s, privs[s.AdminID])
		require.NoError(t, err)

		share, err := base64.StdEncoding.DecodeString(sub.Share)
		require.NoError(t, err)
		sig, err := base64.StdEncoding.DecodeString(sub.Signature)
		require.NoError(t, err)
		require.NoError(t, keeper.SubmitShare(sub.ShareIndex, share, sig, []byte(sub.AdminKey)))
	}
	require.True(t, keeper.IsUnlocked())

	got, err := keeper.Secrets()
	require.NoError(t, err)
	want, err := kms.DeriveSecrets(masterKey)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOpenAndSignWrongAdmin(t *testing.T) {
	privA, pubA, err := cryptoutils.GenerateKeyPair(cryptoutils.SchemeECDSA)
	require.NoError(t, err)
	_, pubB, err := cryptoutils.GenerateKeyPair(cryptoutils.SchemeECDSA)
	require.NoError(t, err)

	masterKey, err := NewMasterKey()
	require.NoError(t, err)
	sealed, err := SplitSealed(masterKey, 2, []AdminKey{{ID: "a", PublicKey: string(pubA)}, {ID: "b", PublicKey: string(pubB)}})
	require.NoError(t, err)

	_, err = OpenAndSign(sealed[1], privA)
	assert.Error(t, err)
}

func TestSplitSealedRejectsNonECKeys(t *testing.T) {
	_, pub1, err := cryptoutils.GenerateKeyPair(cryptoutils.SchemeEd25519)
	require.NoError(t, err)
	_, pub2, err := cryptoutils.GenerateKeyPair(cryptoutils.SchemeEd25519)
	require.NoError(t, err)

	masterKey, err := NewMasterKey()
	require.NoError(t, err)
	_, err = SplitSealed(masterKey, 2, []AdminKey{{ID: "a", PublicKey: string(pub1)}, {ID: "b", PublicKey: string(pub2)}})
	assert.Error(t, err)
}

func TestLoadAdminKeys(t *testing.T) {
	keys, err := LoadAdminKeys(strings.NewReader(`[{"id":"a","public_key":"PEM-A"},{"id":"b","public_key":"PEM-B"}]`))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("PEM-A"), []byte("PEM-B")}, PEMs(keys))

	_, err = LoadAdminKeys(strings.NewReader(`[]`))
	assert.Error(t, err)
	_, err = LoadAdminKeys(strings.NewReader(`[{"id":"a"}]`))
	assert.Error(t, err)
}
