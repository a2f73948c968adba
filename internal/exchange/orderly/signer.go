package orderly

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

const keyPrefix = "ed25519:"

// Signer produces Orderly request signatures: ed25519 over timestamp+METHOD+path+body.
type Signer struct {
	accountID string
	publicKey string
	key       ed25519.PrivateKey
	now       func() time.Time
}

// NewSigner decodes a base58 secret, with or without the "ed25519:" prefix.
// A 64-byte secret is treated as seed followed by public key.
func NewSigner(accountID, publicKey, secret string) (*Signer, error) {
	raw, err := base58.Decode(strings.TrimPrefix(secret, keyPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode orderly secret: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
	case ed25519.PrivateKeySize:
		raw = raw[:ed25519.SeedSize]
	default:
		return nil, fmt.Errorf("orderly secret is %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	return &Signer{
		accountID: accountID,
		publicKey: publicKey,
		key:       ed25519.NewKeyFromSeed(raw),
		now:       time.Now,
	}, nil
}

// Sign returns the url-safe base64 signature of message.
func (s *Signer) Sign(message string) string {
	return base64.URLEncoding.EncodeToString(ed25519.Sign(s.key, []byte(message)))
}

// Headers returns the authentication headers for one request. path includes any query string.
func (s *Signer) Headers(method, path, body string) map[string]string {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	return map[string]string{
		"orderly-timestamp":  ts,
		"orderly-account-id": s.accountID,
		"orderly-key":        s.publicKey,
		"orderly-signature":  s.Sign(ts + strings.ToUpper(method) + path + body),
	}
}

// PublicKey returns the verifying key of the loaded secret.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}
