package codec

import (
	"github.com/equa/scoring-ledger/internal/errkind"
	"github.com/equa/scoring-ledger/ledger/model"
	"github.com/equa/scoring-ledger/ledger/wallet"
)

// manifestSigningPayload returns the manifest's canonical form with its
// signature field zeroed, the exact bytes every signature is computed
// and verified over.
func manifestSigningPayload(m model.LedgerManifest) ([]byte, error) {
	m.Signature = ""
	return Canonicalize(m)
}

// SignManifest signs m with kp and returns a copy with Signature set.
func SignManifest(m model.LedgerManifest, kp wallet.Keypair) (model.LedgerManifest, error) {
	m.PrimaryHotkey = kp.Hotkey()
	payload, err := manifestSigningPayload(m)
	if err != nil {
		return m, errkind.Wrap(errkind.Integrity, err, "build manifest signing payload")
	}
	sig, err := kp.Sign(payload)
	if err != nil {
		return m, errkind.Wrap(errkind.Integrity, err, "sign manifest")
	}
	m.Signature = sig
	return m, nil
}

// VerifyManifest reports whether m's signature verifies against its
// primary_hotkey. It never panics on malformed hex.
func VerifyManifest(m model.LedgerManifest, v wallet.Verifier) bool {
	payload, err := manifestSigningPayload(m)
	if err != nil {
		return false
	}
	return v.Verify(m.PrimaryHotkey, payload, m.Signature)
}

// HashNamedSection computes the section hash of a list section: it wraps
// the value as {"items": list} and hashes that with HashSection. It does
// not inspect the value's shape, so callers pass it list sections only;
// record sections (the scoring config) are hashed with HashSection
// directly, and this package has no {"value": v} wrapping for scalars.
func HashNamedSection(list any) (string, error) {
	return HashSection(map[string]any{"items": list})
}
