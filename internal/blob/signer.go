package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	ErrBadSignature = errors.New("invalid signature")
	ErrExpired      = errors.New("signed url expired")
)

// Signer issues and verifies time-limited URLs for blobs. The
// signature covers the key and the expiry, so neither can be swapped
// without the secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	prefix string // URL path prefix the handler is mounted at

	now func() time.Time
}

func NewSigner(secret string, ttl time.Duration, prefix string) *Signer {
	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		prefix: prefix,
		now:    time.Now,
	}
}

// Sign returns a relative URL for the blob, valid for the signer TTL.
func (s *Signer) Sign(key string) string {
	expires := s.now().Add(s.ttl).Unix()
	sig := s.signature(key, expires)
	return fmt.Sprintf("%s/%s?expires=%d&signature=%s", s.prefix, key, expires, sig)
}

// Verify checks the signature and expiry extracted from request query
// parameters.
func (s *Signer) Verify(key string, query url.Values) error {
	expires, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil {
		return ErrBadSignature
	}

	want := s.signature(key, expires)
	if !hmac.Equal([]byte(want), []byte(query.Get("signature"))) {
		return ErrBadSignature
	}
	if s.now().Unix() > expires {
		return ErrExpired
	}
	return nil
}

func (s *Signer) signature(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
