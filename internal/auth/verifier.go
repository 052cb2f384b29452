package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt"
	"uk.co.dudmesh.courier/internal/model"
)

// Claims carried by a bearer token. Issuance belongs to the external
// auth service; the relay only ever verifies.
type Claims struct {
	ID string `json:"id"`
	jwt.StandardClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken checks the token's signature and expiry and returns the
// identity it was issued for.
func (v *Verifier) VerifyToken(token string) (model.UserID, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", model.ErrorInvalidToken
	}
	if !parsed.Valid || claims.ID == "" {
		return "", model.ErrorInvalidToken
	}
	return model.UserID(claims.ID), nil
}
