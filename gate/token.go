package gate

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jws"

	"github.com/datanova-ai/datanova-exchange/domain"
)

// Claims are the contents of an access token.
type Claims struct {
	DatasetID   uuid.UUID `json:"dataset"`
	ConsumerID  string    `json:"sub"`
	AgreementID string    `json:"agreement,omitempty"`
	IssuedAt    int64     `json:"iat"`
	ExpiresAt   int64     `json:"exp"`
}

// Expiry returns the expiry of the token as a time.
func (c Claims) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

func (g *Gate) sign(dec *Decision, datasetID uuid.UUID, consumerID string) error {
	now := TimeNow()
	expires := now.Add(g.cfg.TokenTTL)
	if !dec.ExpiresAt.IsZero() && dec.ExpiresAt.Before(expires) {
		expires = dec.ExpiresAt
	}
	claims := Claims{
		DatasetID:  datasetID,
		ConsumerID: consumerID,
		IssuedAt:   now.Unix(),
		ExpiresAt:  expires.Unix(),
	}
	if dec.AgreementID != uuid.Nil {
		claims.AgreementID = dec.AgreementID.String()
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return err
	}
	token, err := jws.Sign(payload, jwa.HS256, g.cfg.SigningSecret)
	if err != nil {
		return err
	}
	dec.Token = string(token)
	dec.ExpiresAt = expires
	return nil
}

// VerifyToken checks the signature and expiry of an access token.
func (g *Gate) VerifyToken(token string) (*Claims, error) {
	payload, err := jws.Verify([]byte(token), jwa.HS256, g.cfg.SigningSecret)
	if err != nil {
		return nil, domain.Errorf(domain.ErrAccessDenied, "invalid token: %v", err)
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, domain.Errorf(domain.ErrAccessDenied, "malformed token claims: %v", err)
	}
	if !TimeNow().Before(claims.Expiry()) {
		return nil, domain.Errorf(domain.ErrAccessDenied, "token expired")
	}
	return &claims, nil
}
