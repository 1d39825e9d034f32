package httpapi

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

const stateTTL = 5 * time.Minute

type stateClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// signState signs sessionID into the OAuth state parameter so callback
// can verify it was minted by this server for that session, instead of
// trusting an opaque passthrough value.
func signState(secret []byte, sessionID string) (string, error) {
	claims := stateClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(stateTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// verifyState recovers the session-id carried by a signed state
// parameter, rejecting anything not signed by secret or expired.
func verifyState(secret []byte, state string) (string, error) {
	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.Wrap(err, "invalid oauth state")
	}
	return claims.SessionID, nil
}
