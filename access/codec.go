// Package access derives and validates per-signer tokens embedded in
// signing links. Tokens are stateless: validation recomputes what issuance
// would produce for the session/signer pair.
package access

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
)

// Codec issues and validates per-signer, per-session tokens.
type Codec interface {
	Issue(sessionID, signerEmail string) (string, error)
	Validate(sessionID, signerEmail, token string) bool
}

// LinkCodec is a deterministic, reversible encoding of sessionID:signerEmail.
// It gives every signer a stable, shareable link; it is obfuscation, not a
// tamper-resistant credential. Use SignedCodec where that matters.
type LinkCodec struct{}

func (LinkCodec) Issue(sessionID, signerEmail string) (string, error) {
	if sessionID == "" || signerEmail == "" {
		return "", fmt.Errorf("access: session id and signer email required")
	}
	return base64.RawURLEncoding.EncodeToString([]byte(sessionID + ":" + signerEmail)), nil
}

func (c LinkCodec) Validate(sessionID, signerEmail, token string) bool {
	if token == "" {
		return false
	}
	expected, err := c.Issue(sessionID, signerEmail)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// SigningLink builds the per-signer URL artifact: base URL plus session id,
// signer email, and token as query parameters.
func SigningLink(base, sessionID, signerEmail string, codec Codec) (string, error) {
	token, err := codec.Issue(sessionID, signerEmail)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("access: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("session", sessionID)
	q.Set("email", signerEmail)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
