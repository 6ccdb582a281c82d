package security

import (
	"crypto"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when a token is malformed, expired, or not for the session.
var ErrInvalidToken = errors.New("invalid token")

const (
	// DefaultIssuer is the iss claim of session tokens.
	DefaultIssuer = "rouyeshno-bridge"
	// DefaultSessionTTL is used when NewSessionTokens is given a non-positive ttl.
	DefaultSessionTTL = 30 * 24 * time.Hour
)

// SessionTokens issues and verifies proofs that a client owns a session id. The subject of
// each token is the session id; tokens are signed with RS256 or ES256.
type SessionTokens struct {
	signer crypto.Signer
	public crypto.PublicKey
	method jwt.SigningMethod
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionTokens returns a token provider for the key pair.
func NewSessionTokens(signer crypto.Signer, public crypto.PublicKey, ttl time.Duration) (*SessionTokens, error) {
	var method jwt.SigningMethod
	switch KeyAlg(signer.Public()) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionTokens{
		signer: signer,
		public: public,
		method: method,
		issuer: DefaultIssuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue returns a signed token for sessionID and its expiry.
func (p *SessionTokens) Issue(sessionID string) (string, time.Time, error) {
	now := p.now().UTC()
	exp := now.Add(p.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   sessionID,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(p.method, claims).SignedString(p.signer)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// Verify checks signature, expiry, issuer and that the token was issued for sessionID.
func (p *SessionTokens) Verify(token, sessionID string) error {
	if token == "" || sessionID == "" {
		return ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.public, nil
	},
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithSubject(sessionID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
