/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package jmtalksdk

import (
	"encoding/json"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// allowedTokenAlgorithms is the set of JWS algorithms the platform issues
// tokens with. Anything else is rejected at parse time.
var allowedTokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.ES256, jose.EdDSA,
}

// TokenInfo holds the claims extracted from a JMTalk access token.
type TokenInfo struct {
	// Subject is the bare account address the token was issued to.
	Subject Address

	// Issuer is the issuing service URL.
	Issuer string

	// IssuedAt is the token issue time.
	IssuedAt time.Time

	// Expiry is the token expiry time. Zero if the token never expires.
	Expiry time.Time
}

// tokenClaims mirrors the registered JWT claim names used by the platform.
type tokenClaims struct {
	Subject  string `json:"sub"`
	Issuer   string `json:"iss"`
	IssuedAt int64  `json:"iat"`
	Expiry   int64  `json:"exp"`
}

// ParseAccessToken extracts the claims from a JWS access token without
// verifying the signature. The SDK uses it to learn the local account
// address; verification is the server's job on every request. Use
// VerifyAccessToken when the issuer's public key is available locally.
func ParseAccessToken(token string) (*TokenInfo, error) {
	sig, err := jose.ParseSigned(token, allowedTokenAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	return tokenInfoFromPayload(sig.UnsafePayloadWithoutVerification())
}

// VerifyAccessToken parses a JWS access token and verifies its signature
// against the issuer's public key.
func VerifyAccessToken(token string, key interface{}) (*TokenInfo, error) {
	sig, err := jose.ParseSigned(token, allowedTokenAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	payload, err := sig.Verify(key)
	if err != nil {
		return nil, fmt.Errorf("access token signature verification failed: %w", err)
	}
	return tokenInfoFromPayload(payload)
}

func tokenInfoFromPayload(payload []byte) (*TokenInfo, error) {
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode access token claims: %w", err)
	}

	subject, err := ParseAddress(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("access token subject: %w", err)
	}

	info := &TokenInfo{
		Subject: subject.Bare(),
		Issuer:  claims.Issuer,
	}
	if claims.IssuedAt != 0 {
		info.IssuedAt = time.Unix(claims.IssuedAt, 0)
	}
	if claims.Expiry != 0 {
		info.Expiry = time.Unix(claims.Expiry, 0)
	}
	return info, nil
}

// Expired reports whether the token carries an expiry claim in the past.
func (t *TokenInfo) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && now.After(t.Expiry)
}
