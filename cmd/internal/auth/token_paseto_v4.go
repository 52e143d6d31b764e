package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

const claimUserID = "uid"

// PasetoVerifier is an Authenticator for PASETO v4.public tokens.
type PasetoVerifier struct {
	issuer    string
	clockSkew time.Duration
	public    paseto.V4AsymmetricPublicKey
	now       func() time.Time
}

// NewPasetoVerifier builds a verifier from a hex-encoded Ed25519 public key.
//
// Clock skew is applied during verification via ValidAt to tolerate minor clock differences.
func NewPasetoVerifier(publicKeyHex, issuer string, clockSkew time.Duration) (*PasetoVerifier, error) {
	public, err := paseto.NewV4AsymmetricPublicKeyFromHex(strings.TrimSpace(publicKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, ErrConfig
	}
	return &PasetoVerifier{
		issuer:    issuer,
		clockSkew: clockSkew,
		public:    public,
		now:       time.Now,
	}, nil
}

func (v *PasetoVerifier) Verify(_ context.Context, token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	// Validate slightly in the future to avoid failing "nbf" when clocks differ.
	validNow := v.now().Add(v.clockSkew)

	// Build a fresh parser per call to avoid accumulating rules across verifies.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(v.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(v.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	raw, err := parsed.GetString(claimUserID)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || uid <= 0 {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		UserID:    uid,
		Issuer:    iss,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}

// PasetoSigner issues tokens accepted by PasetoVerifier. Used by tests and the smoke client.
type PasetoSigner struct {
	issuer string
	ttl    time.Duration
	secret paseto.V4AsymmetricSecretKey
}

// NewPasetoSigner builds a signer from a hex-encoded Ed25519 secret key.
func NewPasetoSigner(secretKeyHex, issuer string, ttl time.Duration) (*PasetoSigner, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(secretKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &PasetoSigner{issuer: issuer, ttl: ttl, secret: secret}, nil
}

// PublicKeyHex returns the verifier key for this signer.
func (s *PasetoSigner) PublicKeyHex() string {
	return s.secret.Public().ExportHex()
}

// Issue signs a token for userID valid from now.
func (s *PasetoSigner) Issue(userID int64, now time.Time) (string, time.Time) {
	exp := now.Add(s.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(s.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString(claimUserID, strconv.FormatInt(userID, 10))

	return tok.V4Sign(s.secret, nil), exp
}
