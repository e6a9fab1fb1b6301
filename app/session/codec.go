// Package session translates session tokens between the client-facing cookie and the
// backend-facing cookie. It never interprets tokens, only moves them between cookie names.
package session

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrMalformedToken is returned by Codec.Decode when a token can't be decoded.
var ErrMalformedToken = errors.New("malformed session token")

// Codec converts raw session bytes to the text stored in the client cookie and back.
type Codec interface {
	Encode(raw []byte) string
	Decode(token string) ([]byte, error)
}

// Base64Codec encodes tokens with unpadded base64url, safe for cookie values and URLs.
type Base64Codec struct{}

// Encode returns base64url text for raw bytes.
func (Base64Codec) Encode(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode reverses Encode, trailing padding is accepted.
// Returns ErrMalformedToken for empty or non-base64url input.
func (Base64Codec) Decode(token string) ([]byte, error) {
	token = strings.TrimRight(token, "=")
	if token == "" {
		return nil, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformedToken
	}
	return raw, nil
}

// PlainCodec keeps tokens as is, client cookie carries exactly what the backend issued.
type PlainCodec struct{}

// Encode returns raw bytes as a string.
func (PlainCodec) Encode(raw []byte) string { return string(raw) }

// Decode returns token bytes, empty token is malformed.
func (PlainCodec) Decode(token string) ([]byte, error) {
	if token == "" {
		return nil, ErrMalformedToken
	}
	return []byte(token), nil
}

// MaskToken returns a masked version of token for safe logging (shows first 4 chars).
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
