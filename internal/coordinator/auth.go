package coordinator

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MakeAuthToken signs a short-lived token identifying this server instance
// to the control-plane websocket endpoint.
func MakeAuthToken(secret, serverID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": serverID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Minute).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
