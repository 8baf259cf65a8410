package auditor

import (
	"time"

	"github.com/equa/scoring-ledger/ledger/codec"
	"github.com/equa/scoring-ledger/ledger/wallet"
)

// Attestation is a signed claim over a plugin's (name, version, status,
// evidence_hash, completed_at), restored from the upstream
// sparket/validator/auditor/attestation.py.
type Attestation struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	Status       string    `json:"status"`
	EvidenceHash string    `json:"evidence_hash"`
	CompletedAt  time.Time `json:"completed_at"`
	Hotkey       string    `json:"hotkey"`
	Signature    string    `json:"signature"`
}

func attestationSigningPayload(a Attestation) ([]byte, error) {
	a.Hotkey = ""
	a.Signature = ""
	return codec.Canonicalize(a)
}

func CreateAttestation(name, version, status string, evidence any, kp wallet.Keypair) (Attestation, error) {
	evidenceHash, err := codec.HashSection(evidence)
	if err != nil {
		return Attestation{}, err
	}
	a := Attestation{
		Name: name, Version: version, Status: status,
		EvidenceHash: evidenceHash, CompletedAt: time.Now().UTC(),
	}
	payload, err := attestationSigningPayload(a)
	if err != nil {
		return Attestation{}, err
	}
	sig, err := kp.Sign(payload)
	if err != nil {
		return Attestation{}, err
	}
	a.Hotkey = kp.Hotkey()
	a.Signature = sig
	return a, nil
}

func VerifyAttestation(a Attestation, v wallet.Verifier) bool {
	payload, err := attestationSigningPayload(a)
	if err != nil {
		return false
	}
	return v.Verify(a.Hotkey, payload, a.Signature)
}
