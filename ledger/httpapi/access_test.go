package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/equa/scoring-ledger/ledger/wallet"
)

type fakeMetagraph struct {
	hotkeys map[string]bool
	permits map[string]bool
	stakes  map[string]float64
}

func (f fakeMetagraph) HasHotkey(h string) bool        { return f.hotkeys[h] }
func (f fakeMetagraph) ValidatorPermit(h string) bool  { return f.permits[h] }
func (f fakeMetagraph) Stake(h string) float64         { return f.stakes[h] }

func newPolicy(t *testing.T, mg Metagraph, testMode bool) *AccessPolicy {
	t.Helper()
	p, err := NewAccessPolicy(mg, wallet.DefaultVerifier(), 100, testMode, time.Minute, time.Hour, 8, 60)
	require.NoError(t, err)
	return p
}

func TestCheckEligibilityUnknownHotkey(t *testing.T) {
	p := newPolicy(t, fakeMetagraph{hotkeys: map[string]bool{}}, false)
	result := p.CheckEligibility("hk1")
	require.False(t, result.Eligible)
	require.Equal(t, "unknown_hotkey", result.Reason)
}

func TestCheckEligibilityNoPermit(t *testing.T) {
	mg := fakeMetagraph{hotkeys: map[string]bool{"hk1": true}, permits: map[string]bool{}}
	p := newPolicy(t, mg, false)
	result := p.CheckEligibility("hk1")
	require.False(t, result.Eligible)
	require.Equal(t, "no_validator_permit", result.Reason)
}

func TestCheckEligibilityStakeTooLow(t *testing.T) {
	mg := fakeMetagraph{
		hotkeys: map[string]bool{"hk1": true},
		permits: map[string]bool{"hk1": true},
		stakes:  map[string]float64{"hk1": 10},
	}
	p := newPolicy(t, mg, false)
	result := p.CheckEligibility("hk1")
	require.False(t, result.Eligible)
	require.Equal(t, "stake_too_low", result.Reason)
}

func TestTestModeBypassesPermitAndStake(t *testing.T) {
	mg := fakeMetagraph{hotkeys: map[string]bool{"hk1": true}}
	p := newPolicy(t, mg, true)
	result := p.CheckEligibility("hk1")
	require.True(t, result.Eligible)
}

func TestChallengeResponseRoundTrip(t *testing.T) {
	mg := fakeMetagraph{
		hotkeys: map[string]bool{"hk1": true}, permits: map[string]bool{"hk1": true},
		stakes: map[string]float64{"hk1": 1000},
	}
	p := newPolicy(t, mg, false)

	priv := make([]byte, 32)
	for i := range priv {
		priv[i] = byte(i + 5)
	}
	kp, err := wallet.NewKeypair(priv)
	require.NoError(t, err)

	mg.hotkeys[kp.Hotkey()] = true
	mg.permits[kp.Hotkey()] = true
	mg.stakes[kp.Hotkey()] = 1000

	nonce, err := p.IssueChallenge(kp.Hotkey())
	require.NoError(t, err)

	sig, err := kp.Sign([]byte(nonce))
	require.NoError(t, err)

	token, err := p.RespondChallenge(kp.Hotkey(), nonce, sig)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	hotkey, ok := p.ValidateToken(token)
	require.True(t, ok)
	require.Equal(t, kp.Hotkey(), hotkey)
}

func TestRespondChallengeRejectsNonceReplay(t *testing.T) {
	mg := fakeMetagraph{
		hotkeys: map[string]bool{"hk1": true}, permits: map[string]bool{"hk1": true},
		stakes: map[string]float64{"hk1": 1000},
	}
	p := newPolicy(t, mg, false)
	nonce, err := p.IssueChallenge("hk1")
	require.NoError(t, err)

	_, err = p.RespondChallenge("hk1", nonce, "deadbeef")
	require.Error(t, err)

	_, err = p.RespondChallenge("hk1", nonce, "deadbeef")
	require.Error(t, err)
}

func TestAllowRequestRateLimits(t *testing.T) {
	mg := fakeMetagraph{hotkeys: map[string]bool{"hk1": true}}
	p := newPolicy(t, mg, true)
	for i := 0; i < 60; i++ {
		require.True(t, p.AllowRequest("hk1"), "request %d", i+1)
	}
	require.False(t, p.AllowRequest("hk1"))
}
