package venue

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dex-trading-bot/internal/order"
)

var (
	ErrInvalidSeed      = errors.New("signer seed must be 32 bytes")
	ErrInvalidSignature = errors.New("transaction signature does not verify")
)

// Signer signs transactions with an ed25519 key derived from a 32-byte seed
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewSigner derives the key pair from seed
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSeed, len(seed))
	}
	private := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		private: private,
		public:  private.Public().(ed25519.PublicKey),
	}, nil
}

// ParseSeed decodes a hex or base64 seed string
func ParseSeed(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSeed)
	}
	if b, err := hex.DecodeString(s); err == nil && len(b) == ed25519.SeedSize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == ed25519.SeedSize {
		return b, nil
	}
	return nil, fmt.Errorf("%w: expected 64 hex chars or base64", ErrInvalidSeed)
}

// PublicKey returns the signer's public key
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.public
}

// Address is the hex public key
func (s *Signer) Address() string {
	return hex.EncodeToString(s.public)
}

// Sign fills tx.Payload, tx.Signature and tx.PublicKey
func (s *Signer) Sign(tx *order.Transaction) error {
	payload, err := canonicalPayload(tx)
	if err != nil {
		return err
	}
	tx.Payload = payload
	tx.PublicKey = append([]byte(nil), s.public...)
	tx.Signature = ed25519.Sign(s.private, payload)
	return nil
}

// Verify checks that tx was signed by the key it carries and that its
// fields match the signed payload
func Verify(tx *order.Transaction) error {
	if len(tx.PublicKey) != ed25519.PublicKeySize || len(tx.Signature) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	payload, err := canonicalPayload(tx)
	if err != nil {
		return err
	}
	if string(payload) != string(tx.Payload) {
		return fmt.Errorf("%w: payload mismatch", ErrInvalidSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(tx.PublicKey), payload, tx.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

type signedFields struct {
	ID           string  `json:"id"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	AmountIn     float64 `json:"amount_in"`
	MinAmountOut float64 `json:"min_amount_out"`
	Price        float64 `json:"price"`
	CreatedAt    int64   `json:"created_at"`
}

func canonicalPayload(tx *order.Transaction) ([]byte, error) {
	b, err := json.Marshal(signedFields{
		ID:           tx.ID,
		Symbol:       tx.Symbol,
		Side:         tx.Side,
		AmountIn:     tx.AmountIn,
		MinAmountOut: tx.MinAmountOut,
		Price:        tx.Price,
		CreatedAt:    tx.CreatedAt.UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
