package access

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// SignedCodec issues HMAC-signed tokens binding the session id and signer
// email. Unlike LinkCodec the token cannot be forged for another
// session/signer pair without the secret.
type SignedCodec struct {
	secret []byte
}

func NewSignedCodec(secret string) *SignedCodec {
	return &SignedCodec{secret: []byte(secret)}
}

func (c *SignedCodec) Issue(sessionID, signerEmail string) (string, error) {
	if sessionID == "" || signerEmail == "" {
		return "", fmt.Errorf("access: session id and signer email required")
	}
	claims := jwt.MapClaims{
		"session_id":   sessionID,
		"signer_email": signerEmail,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("access: sign token: %w", err)
	}
	return signed, nil
}

func (c *SignedCodec) Validate(sessionID, signerEmail, tokenString string) bool {
	if tokenString == "" {
		return false
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	sid, _ := claims["session_id"].(string)
	email, _ := claims["signer_email"].(string)
	return sid == sessionID && email == signerEmail
}
