package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/equa/scoring-ledger/ledger/model"
	"github.com/equa/scoring-ledger/ledger/wallet"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestCanonicalizeDeterministicAcrossFieldOrder(t *testing.T) {
	type v1 struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	type v2 struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	first, err := Canonicalize(v1{B: 1, A: 2})
	require.NoError(t, err)
	second, err := Canonicalize(v2{A: 2, B: 1})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestHashSectionStable(t *testing.T) {
	h1, err := HashSection([]int{1, 2, 3})
	require.NoError(t, err)
	h2, err := HashSection([]int{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 64)
}

func testKeypair(t *testing.T) wallet.Keypair {
	t.Helper()
	priv := make([]byte, 32)
	for i := range priv {
		priv[i] = byte(i + 1)
	}
	kp, err := wallet.NewKeypair(priv)
	require.NoError(t, err)
	return kp
}

func TestSignAndVerifyManifestRoundTrip(t *testing.T) {
	kp := testKeypair(t)
	m := model.LedgerManifest{
		SchemaVersion:   model.SchemaVersion,
		WindowType:      model.WindowCheckpoint,
		CheckpointEpoch: 1,
		ContentHashes:   map[string]string{"roster": "abc"},
	}
	signed, err := SignManifest(m, kp)
	require.NoError(t, err)
	require.NotEmpty(t, signed.Signature)
	require.True(t, VerifyManifest(signed, wallet.DefaultVerifier()))
}

func TestVerifyManifestRejectsTamperedContent(t *testing.T) {
	kp := testKeypair(t)
	m := model.LedgerManifest{SchemaVersion: model.SchemaVersion, CheckpointEpoch: 1}
	signed, err := SignManifest(m, kp)
	require.NoError(t, err)
	signed.CheckpointEpoch = 2
	require.False(t, VerifyManifest(signed, wallet.DefaultVerifier()))
}

func TestVerifyManifestNeverPanicsOnMalformedSignature(t *testing.T) {
	m := model.LedgerManifest{PrimaryHotkey: "not-a-hex-key", Signature: "zz"}
	require.NotPanics(t, func() {
		require.False(t, VerifyManifest(m, wallet.DefaultVerifier()))
	})
}
