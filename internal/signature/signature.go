// Package signature verifies wallet-ownership proofs and binds wallet
// addresses to external identities. A client proves control of an
// address by signing a challenge message with the ed25519 key behind
// it; on success the address is upserted into the user mapping store.
package signature

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"shares-market/internal/domain"
	"shares-market/internal/observability"
	"shares-market/internal/storage"
)

var (
	// ErrInvalidPublicKey means the address does not decode to a
	// canonical ed25519 public key on the curve.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidSignature means the signature is malformed.
	ErrInvalidSignature = errors.New("invalid signature encoding")

	// ErrSignatureMismatch means the signature does not verify against
	// the message and key.
	ErrSignatureMismatch = errors.New("signature does not match message")

	// ErrMessageMismatch means the signed message does not reference the
	// identity being bound.
	ErrMessageMismatch = errors.New("message does not reference the external identity")

	// ErrUserBanned means the address is banned and may not re-bind.
	ErrUserBanned = errors.New("user is banned")
)

// Verifier checks ownership proofs and maintains identity bindings.
type Verifier struct {
	users  storage.UserMappingStore
	logger *log.Logger
	now    func() int64
}

// Options contains configuration for creating a Verifier.
type Options struct {
	Users  storage.UserMappingStore
	Logger *log.Logger

	// Now returns the current Unix time in milliseconds. Tests override it.
	Now func() int64
}

// NewVerifier creates a Verifier.
func NewVerifier(opts Options) *Verifier {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Verifier{users: opts.Users, logger: logger, now: now}
}

// BindRequest is a wallet-ownership proof plus the identity to bind.
type BindRequest struct {
	// Address is the wallet address; for ed25519 chains it is the
	// base58 form of the public key itself.
	Address string

	// Message is the challenge text that was signed. It must mention
	// ExternalID so a captured signature cannot bind a different account.
	Message string

	// Signature is the base58-encoded ed25519 signature over Message.
	Signature string

	// ExternalID is the external identity to bind, e.g. a messenger
	// account ID.
	ExternalID string
}

// VerifyAndBind checks the ownership proof and, on success, binds the
// address to the external identity. Banned addresses are refused before
// any cryptography runs.
func (v *Verifier) VerifyAndBind(ctx context.Context, req BindRequest) (*domain.UserMapping, error) {
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		observability.RecordSignatureCheck("bad_address")
		return nil, fmt.Errorf("parse address: %w", err)
	}

	existing, err := v.users.GetByAddress(ctx, addr)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load user mapping: %w", err)
	}
	if existing != nil && existing.Banned {
		observability.RecordSignatureCheck("banned")
		return nil, ErrUserBanned
	}

	if req.ExternalID == "" || !strings.Contains(req.Message, req.ExternalID) {
		observability.RecordSignatureCheck("message_mismatch")
		return nil, ErrMessageMismatch
	}

	pubkey, err := addr.Bytes()
	if err != nil || len(pubkey) != ed25519.PublicKeySize {
		observability.RecordSignatureCheck("bad_key")
		return nil, ErrInvalidPublicKey
	}

	sig, err := base58.Decode(req.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		observability.RecordSignatureCheck("bad_signature")
		return nil, ErrInvalidSignature
	}

	if err := VerifyMessage(pubkey, []byte(req.Message), sig); err != nil {
		observability.RecordSignatureCheck("mismatch")
		return nil, err
	}

	mapping := &domain.UserMapping{
		Address:    addr,
		ExternalID: req.ExternalID,
		CreatedAt:  v.now(),
	}
	if err := v.users.Upsert(ctx, mapping); err != nil {
		return nil, fmt.Errorf("bind identity: %w", err)
	}

	observability.RecordSignatureCheck("ok")
	v.logger.Printf("[signature] Bound %s to external ID %s", addr, req.ExternalID)
	return mapping, nil
}

// VerifyMessage checks an ed25519 signature. The key must be a
// canonical encoding of a curve point; ed25519.Verify alone accepts
// some encodings a strict verifier should not.
func VerifyMessage(pubkey, message, sig []byte) error {
	if len(pubkey) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	if _, err := new(edwards25519.Point).SetBytes(pubkey); err != nil {
		return ErrInvalidPublicKey
	}
	if !ed25519.Verify(ed25519.PublicKey(pubkey), message, sig) {
		return ErrSignatureMismatch
	}
	return nil
}
