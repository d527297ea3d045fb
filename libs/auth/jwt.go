package auth

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired and ErrUnsupportedAlg wrap ErrInvalidToken.
	ErrTokenExpired   = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrUnsupportedAlg = fmt.Errorf("%w: unsupported alg", ErrInvalidToken)
)

// Leeway absorbs clock drift between the issuer and this service on exp and nbf.
const Leeway = 30 * time.Second

const (
	algHS256 = "HS256"
	algRS256 = "RS256"
)

// Claims is the token payload. Sub is the person id of the caller (staff member or
// patient) and Role one of the clinic roles; both are required.
type Claims struct {
	Sub  string `json:"sub"`
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	Exp  int64  `json:"exp"`
	Iat  int64  `json:"iat"`
	Nbf  int64  `json:"nbf,omitempty"`
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// token is a compact JWS split into its three segments.
type token struct {
	header    Header
	signed    string
	payload   string
	signature []byte
}

func splitToken(raw string) (token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return token{}, ErrInvalidToken
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return token{}, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return token{}, ErrInvalidToken
	}
	var t token
	if err := json.Unmarshal(headerJSON, &t.header); err != nil {
		return token{}, ErrInvalidToken
	}
	t.signed = parts[0] + "." + parts[1]
	t.payload = parts[1]
	t.signature = sig
	return t, nil
}

// Verifier checks bearer tokens. The header's alg picks the key: RS256 tokens are
// checked against the JWKS client, HS256 tokens against the shared secret. An alg
// with no configured key is refused, so a secret-only verifier never accepts RS256
// and vice versa.
type Verifier struct {
	secret []byte
	keys   *JWKSClient
	now    func() time.Time
}

func NewVerifier(secret string, keys *JWKSClient) *Verifier {
	v := &Verifier{keys: keys, now: time.Now}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v
}

func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	t, err := splitToken(raw)
	if err != nil {
		return nil, err
	}
	switch {
	case t.header.Alg == algHS256 && v.secret != nil:
		if !hmac.Equal(t.signature, hmacSHA256(t.signed, v.secret)) {
			return nil, ErrInvalidToken
		}
	case t.header.Alg == algRS256 && v.keys != nil:
		if t.header.Kid == "" {
			return nil, fmt.Errorf("%w: missing kid", ErrInvalidToken)
		}
		pub, err := v.keys.Get(ctx, t.header.Kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if err := verifyRS256(t, pub); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnsupportedAlg
	}
	return decodeClaims(t.payload, v.now())
}

// SignHS256 issues a token for development tools and tests.
func SignHS256(claims Claims, secret string) (string, error) {
	headerJSON, err := json.Marshal(Header{Alg: algHS256, Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signed := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return signed + "." + base64.RawURLEncoding.EncodeToString(hmacSHA256(signed, []byte(secret))), nil
}

// VerifyRS256 checks a token against a single known key.
func VerifyRS256(raw string, pubKey crypto.PublicKey) (*Claims, error) {
	t, err := splitToken(raw)
	if err != nil {
		return nil, err
	}
	if t.header.Alg != algRS256 {
		return nil, ErrUnsupportedAlg
	}
	if err := verifyRS256(t, pubKey); err != nil {
		return nil, err
	}
	return decodeClaims(t.payload, time.Now())
}

func verifyRS256(t token, pubKey crypto.PublicKey) error {
	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return ErrInvalidToken
	}
	hash := sha256.Sum256([]byte(t.signed))
	if err := rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, hash[:], t.signature); err != nil {
		return ErrInvalidToken
	}
	return nil
}

func hmacSHA256(data string, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(data))
	return mac.Sum(nil)
}

func decodeClaims(segment string, now time.Time) (*Claims, error) {
	payload, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Sub == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: sub and role are required", ErrInvalidToken)
	}
	if claims.Exp > 0 && now.After(time.Unix(claims.Exp, 0).Add(Leeway)) {
		return nil, ErrTokenExpired
	}
	if claims.Nbf > 0 && now.Add(Leeway).Before(time.Unix(claims.Nbf, 0)) {
		return nil, fmt.Errorf("%w: not yet valid", ErrInvalidToken)
	}
	return &claims, nil
}
