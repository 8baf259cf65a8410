// Package wallet provides the signing/verification collaborator the
// specification treats as external ("the wallet/keypair library"). A
// concrete secp256k1 implementation is supplied so the rest of the
// ledger has something real to sign against; any other keypair scheme
// can be substituted behind the same two-method interface.
package wallet

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/pkg/errors"
)

// Keypair signs arbitrary message bytes (verification is Verifier's
// job), standing in for the chain's wallet/keypair library.
type Keypair interface {
	Hotkey() string
	Sign(message []byte) (signatureHex string, err error)
}

// Verifier verifies a signature against a hotkey without needing the
// private key, the shape auditors use to check a primary's manifest.
type Verifier interface {
	Verify(hotkey string, message []byte, signatureHex string) bool
}

type secp256k1Keypair struct {
	priv   *secp256k1.PrivateKey
	hotkey string
}

// NewKeypair derives a keypair from a raw 32-byte private key, with the
// hotkey set to the hex-encoded compressed public key.
func NewKeypair(privKey []byte) (Keypair, error) {
	if len(privKey) != 32 {
		return nil, errors.New("private key must be 32 bytes")
	}
	priv := secp256k1.PrivKeyFromBytes(privKey)
	hotkey := hex.EncodeToString(priv.PubKey().SerializeCompressed())
	return &secp256k1Keypair{priv: priv, hotkey: hotkey}, nil
}

func (k *secp256k1Keypair) Hotkey() string { return k.hotkey }

func (k *secp256k1Keypair) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig := ecdsa.Sign(k.priv, digest[:])
	return hex.EncodeToString(sig.Serialize()), nil
}

type secp256k1Verifier struct{}

// DefaultVerifier is the verifier counterpart to NewKeypair.
func DefaultVerifier() Verifier { return secp256k1Verifier{} }

func (secp256k1Verifier) Verify(hotkey string, message []byte, signatureHex string) bool {
	pubBytes, err := hex.DecodeString(hotkey)
	if err != nil {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return sig.Verify(digest[:], pub)
}
