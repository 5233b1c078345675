// Package auth signs and verifies the compact HS256 tokens peers present when they join a
// match topic on the relay.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates a malformed token or a signature mismatch.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrWrongTopic is returned when a token was issued for another match topic.
	ErrWrongTopic = errors.New("token issued for another topic")
)

// Claims identify a peer and the match topic it may join.
type Claims struct {
	Subject   string
	Topic     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type payload struct {
	Subject  string `json:"sub"`
	Audience string `json:"aud,omitempty"`
	Expires  int64  `json:"exp"`
	Issued   int64  `json:"iat"`
}

type keyed struct {
	secret []byte
	now    func() time.Time
}

func newKeyed(secret string) (keyed, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return keyed{}, errors.New("hmac secret must not be empty")
	}
	return keyed{secret: []byte(secret), now: time.Now}, nil
}

func (k keyed) sign(data string) []byte {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// Signer issues tokens for one peer identity.
type Signer struct {
	keyed
	ttl time.Duration
}

// NewSigner prepares a signer whose tokens stay valid for ttl.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	k, err := newKeyed(secret)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Signer{keyed: k, ttl: ttl}, nil
}

// WithClock overrides the signing clock.
func (s *Signer) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Issue returns a token for subject scoped to topic. An empty topic grants every topic.
func (s *Signer) Issue(subject, topic string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject must not be empty")
	}
	now := s.now()
	head, err := json.Marshal(header{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload{Subject: subject, Audience: topic, Issued: now.Unix(), Expires: now.Add(s.ttl).Unix()})
	if err != nil {
		return "", err
	}
	signed := encodeSegment(head) + "." + encodeSegment(body)
	return signed + "." + encodeSegment(s.sign(signed)), nil
}

// Verifier validates tokens presented to the relay.
type Verifier struct {
	keyed
	leeway time.Duration
}

// NewVerifier constructs a verifier for the shared secret and clock skew allowance.
func NewVerifier(secret string, leeway time.Duration) (*Verifier, error) {
	k, err := newKeyed(secret)
	if err != nil {
		return nil, err
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Verifier{keyed: k, leeway: leeway}, nil
}

// WithClock overrides the verifier clock.
func (v *Verifier) WithClock(clock func() time.Time) {
	if clock != nil {
		v.now = clock
	}
}

// Verify checks the signature and expiry and that the token grants topic.
func (v *Verifier) Verify(token, topic string) (*Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	//1.- Check the algorithm before trusting anything else in the token.
	var head header
	if err := decodeJSON(parts[0], &head); err != nil {
		return nil, ErrInvalidToken
	}
	if head.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, head.Algorithm)
	}
	signature, err := decodeSegment(parts[2])
	if err != nil || !hmac.Equal(signature, v.sign(parts[0]+"."+parts[1])) {
		return nil, ErrInvalidToken
	}

	var body payload
	if err := decodeJSON(parts[1], &body); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(body.Subject) == "" || body.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	expiresAt := time.Unix(body.Expires, 0)
	if expiresAt.Add(v.leeway).Before(v.now()) {
		return nil, ErrExpiredToken
	}
	//2.- Audience scopes the token to one match topic.
	if body.Audience != "" && body.Audience != topic {
		return nil, ErrWrongTopic
	}
	return &Claims{
		Subject:   body.Subject,
		Topic:     body.Audience,
		IssuedAt:  time.Unix(body.Issued, 0),
		ExpiresAt: expiresAt,
	}, nil
}

func encodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeSegment(segment string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(segment)
}

func decodeJSON(segment string, into any) error {
	raw, err := decodeSegment(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, into)
}
