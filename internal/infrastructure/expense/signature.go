package expense

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
)

// Signature headers sent with every status callback
const (
	HeaderTimestamp = "X-Approval-Timestamp"
	HeaderNonce     = "X-Approval-Nonce"
	HeaderSignature = "X-Approval-Signature"
)

// Signer signs callback bodies as hex(SHA256(timestamp + nonce + secret + body)),
// the same scheme Lark uses for its event callbacks
type Signer struct {
	secret string
}

// NewSigner creates a signer. An empty secret disables signing.
func NewSigner(secret string) *Signer {
	return &Signer{secret: secret}
}

// Enabled reports whether a secret is configured
func (s *Signer) Enabled() bool {
	return s.secret != ""
}

// Sign returns the signature for body
func (s *Signer) Sign(timestamp, nonce string, body []byte) string {
	hash := sha256.Sum256([]byte(timestamp + nonce + s.secret + string(body)))
	return fmt.Sprintf("%x", hash)
}

// Verify checks a received signature. Receivers of the callback can use it.
func (s *Signer) Verify(timestamp, nonce, signature string, body []byte) bool {
	if !s.Enabled() {
		return true
	}
	expected := s.Sign(timestamp, nonce, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
