package wallet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestKeypair(t *testing.T, seed byte) Keypair {
	t.Helper()
	priv := make([]byte, 32)
	for i := range priv {
		priv[i] = seed + byte(i)
	}
	kp, err := NewKeypair(priv)
	require.NoError(t, err)
	return kp
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp := newTestKeypair(t, 1)
	msg := []byte("checkpoint payload")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.True(t, DefaultVerifier().Verify(kp.Hotkey(), msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp := newTestKeypair(t, 1)
	sig, err := kp.Sign([]byte("original"))
	require.NoError(t, err)
	require.False(t, DefaultVerifier().Verify(kp.Hotkey(), []byte("tampered"), sig))
}

func TestVerifyRejectsWrongHotkey(t *testing.T) {
	kp1 := newTestKeypair(t, 1)
	kp2 := newTestKeypair(t, 50)
	sig, err := kp1.Sign([]byte("msg"))
	require.NoError(t, err)
	require.False(t, DefaultVerifier().Verify(kp2.Hotkey(), []byte("msg"), sig))
}

func TestVerifyNeverPanicsOnGarbageInput(t *testing.T) {
	require.NotPanics(t, func() {
		require.False(t, DefaultVerifier().Verify("not-hex-!!", []byte("msg"), "also-not-hex"))
	})
}

func TestNewKeypairRejectsWrongLength(t *testing.T) {
	_, err := NewKeypair([]byte{1, 2, 3})
	require.Error(t, err)
}
