// Package identity implements per-node cryptographic identity: Ed25519
// keypair generation, signing, verification, and the canonical byte
// encoding used to make signatures portable across implementations
// (spec §4.2).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Identity is the per-node keypair and metadata described in spec §3.
type Identity struct {
	NodeID      string
	PublicKey   ed25519.PublicKey
	PrivateKey  ed25519.PrivateKey
	CreatedAt   time.Time
	Certificate []byte // optional; unused unless a PKI layer is configured
}

// SignatureError is raised by Sign/Verify on cryptographic failure
// (spec §7).
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string { return "signature error: " + e.Reason }

// New generates a fresh identity with a random Ed25519 keypair. nodeID
// is the caller-supplied stable node identifier; if empty a uuid is
// generated, matching the teacher's convention of uuid-backed primary
// identifiers (apps/*-service use google/uuid for every entity id).
func New(nodeID string) (*Identity, error) {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, &SignatureError{Reason: "key generation: " + err.Error()}
	}
	return &Identity{
		NodeID:     nodeID,
		PublicKey:  pub,
		PrivateKey: priv,
		CreatedAt:  time.Now(),
	}, nil
}

// FromSeed rebuilds an identity from a previously persisted 32-byte
// Ed25519 seed, e.g. one retrieved from Vault
// (internal/platform/config.SecretManager).
func FromSeed(nodeID string, seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, &SignatureError{Reason: "seed must be 32 bytes"}
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{
		NodeID:     nodeID,
		PublicKey:  priv.Public().(ed25519.PublicKey),
		PrivateKey: priv,
		CreatedAt:  time.Now(),
	}, nil
}

// Sign produces a url-safe base64 signature over bytes.
func Sign(priv ed25519.PrivateKey, bytes []byte) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", &SignatureError{Reason: "invalid private key size"}
	}
	sig := ed25519.Sign(priv, bytes)
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify checks a url-safe base64 signature over bytes using a
// caller-supplied public key. It never panics on malformed input —
// malformed signatures and keys simply fail verification, satisfying
// the constant-time, fail-closed contract spec §3 requires of AuthN.
func Verify(pub ed25519.PublicKey, signature string, bytes []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, sig, bytes)
}

// EncodePublicKey renders a public key as url-safe base64 for transport
// in Event.Context.Integrity.PublicKey.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)
}

// DecodePublicKey parses a public key previously produced by
// EncodePublicKey.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("identity: invalid public key length")
	}
	return ed25519.PublicKey(raw), nil
}

// Hash produces a stable content digest of payload, used as the
// schema fingerprint checked by the Schema gate (spec §4.10). It is
// independent of signing: it digests the canonical encoding of the
// payload alone, not the full signed metadata subset.
func Hash(payload any) (string, error) {
	b, err := CanonicalBytes(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
