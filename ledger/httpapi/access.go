// Package httpapi implements the primary-side authenticated HTTP
// surface: challenge/response auth, bearer tokens with an
// LRU eviction cap, per-hotkey token-bucket rate limiting, and the
// route handlers themselves. Grounded on the upstream
// sparket/validator/ledger/store/auth.py and http_server.py.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/equa/scoring-ledger/internal/errkind"
	"github.com/equa/scoring-ledger/ledger/wallet"
)

// Metagraph is the chain collaborator AccessPolicy consults for
// eligibility: hotkey presence, validator permit, and stake.
type Metagraph interface {
	HasHotkey(hotkey string) bool
	ValidatorPermit(hotkey string) bool
	Stake(hotkey string) float64
}

type EligibilityResult struct {
	Eligible bool
	Reason   string // "no_validator_permit", "stake_too_low", "unknown_hotkey", ""
}

type pendingChallenge struct {
	nonce     string
	expiresAt time.Time
}

type tokenEntry struct {
	hotkey    string
	expiresAt time.Time
}

// AccessPolicy implements the full auth state machine: Unknown ->
// ChallengeIssued -> TokenValid -> RateLimited/Expired.
type AccessPolicy struct {
	mu sync.Mutex

	metagraph         Metagraph
	verifier          wallet.Verifier
	minStakeThreshold float64
	testMode          bool

	challengeTTL time.Duration
	tokenTTL     time.Duration
	maxTokens    int

	pending map[string]pendingChallenge // hotkey -> challenge
	tokens  *lru.Cache                  // token -> tokenEntry

	rateLimitPerHour float64
	limiters         map[string]*rate.Limiter // hotkey -> limiter
}

func NewAccessPolicy(mg Metagraph, v wallet.Verifier, minStake float64, testMode bool, challengeTTL, tokenTTL time.Duration, maxTokens int, rateLimitPerHour float64) (*AccessPolicy, error) {
	cache, err := lru.New(maxTokens)
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, err, "create token LRU")
	}
	return &AccessPolicy{
		metagraph: mg, verifier: v, minStakeThreshold: minStake, testMode: testMode,
		challengeTTL: challengeTTL, tokenTTL: tokenTTL, maxTokens: maxTokens,
		pending: make(map[string]pendingChallenge), tokens: cache,
		rateLimitPerHour: rateLimitPerHour, limiters: make(map[string]*rate.Limiter),
	}, nil
}

// CheckEligibility implements the eligibility gate, with a documented
// test-mode escape hatch restored from the upstream implementation
// (presence-only).
func (p *AccessPolicy) CheckEligibility(hotkey string) EligibilityResult {
	if !p.metagraph.HasHotkey(hotkey) {
		return EligibilityResult{Eligible: false, Reason: "unknown_hotkey"}
	}
	if p.testMode {
		return EligibilityResult{Eligible: true}
	}
	if !p.metagraph.ValidatorPermit(hotkey) {
		return EligibilityResult{Eligible: false, Reason: "no_validator_permit"}
	}
	if p.metagraph.Stake(hotkey) < p.minStakeThreshold {
		return EligibilityResult{Eligible: false, Reason: "stake_too_low"}
	}
	return EligibilityResult{Eligible: true}
}

// IssueChallenge returns a fresh 64-hex-char nonce for hotkey, or an
// error if hotkey is ineligible. Eligibility is re-checked on every
// challenge but not on each subsequent request.
func (p *AccessPolicy) IssueChallenge(hotkey string) (string, error) {
	elig := p.CheckEligibility(hotkey)
	if !elig.Eligible {
		return "", errkind.New(errkind.Authentication, elig.Reason)
	}
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", errkind.Wrap(errkind.Transient, err, "generate nonce")
	}
	nonce := hex.EncodeToString(nonceBytes)
	p.mu.Lock()
	p.pending[hotkey] = pendingChallenge{nonce: nonce, expiresAt: time.Now().Add(p.challengeTTL)}
	p.mu.Unlock()
	return nonce, nil
}

// RespondChallenge verifies signature over the pending nonce for hotkey
// and, on success, issues and returns a bearer token. The nonce is
// consumed on first response (replay impossible).
func (p *AccessPolicy) RespondChallenge(hotkey, nonce, signature string) (string, error) {
	p.mu.Lock()
	pc, ok := p.pending[hotkey]
	if ok {
		delete(p.pending, hotkey)
	}
	p.mu.Unlock()
	if !ok {
		return "", errkind.New(errkind.Authentication, "no pending challenge")
	}
	if time.Now().After(pc.expiresAt) {
		return "", errkind.New(errkind.Authentication, "challenge expired")
	}
	if pc.nonce != nonce {
		return "", errkind.New(errkind.Authentication, "nonce mismatch")
	}
	if !p.verifier.Verify(hotkey, []byte(nonce), signature) {
		return "", errkind.New(errkind.Authentication, "signature invalid")
	}
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", errkind.Wrap(errkind.Transient, err, "generate token")
	}
	token := hex.EncodeToString(tokenBytes)
	p.mu.Lock()
	p.tokens.Add(token, tokenEntry{hotkey: hotkey, expiresAt: time.Now().Add(p.tokenTTL)})
	p.mu.Unlock()
	return token, nil
}

// ValidateToken reports the hotkey bound to token, touching it to
// MRU position on success (matching the upstream OrderedDict
// move_to_end semantics) via the LRU's own Get promotion.
func (p *AccessPolicy) ValidateToken(token string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.tokens.Get(token)
	if !ok {
		return "", false
	}
	entry := v.(tokenEntry)
	if time.Now().After(entry.expiresAt) {
		p.tokens.Remove(token)
		return "", false
	}
	return entry.hotkey, true
}

// AllowRequest applies the per-hotkey hourly rate limit (default 60
// requests/hour) via golang.org/x/time/rate, configured as a token
// bucket refilling at rateLimitPerHour/hour with a burst equal to the
// hourly cap. It is not a sliding window: tokens refill continuously, so
// a hotkey that spends its full burst can be admitted again as the
// bucket refills, up to about twice the cap within one hour.
func (p *AccessPolicy) AllowRequest(hotkey string) bool {
	p.mu.Lock()
	lim, ok := p.limiters[hotkey]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(p.rateLimitPerHour/3600.0), int(p.rateLimitPerHour))
		p.limiters[hotkey] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}
