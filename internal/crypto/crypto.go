package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
)

// Agent credentials are fernet tokens carrying the device identity.
// They are long-lived (no embedded TTL): a credential stays valid until
// the relay key is rotated. They are distinct from the one-time
// terminal tokens, which never leave process memory.

var ErrInvalidCredential = errors.New("invalid agent credential")

// GenerateKey creates a new base64-encoded fernet key.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("generate fernet key: %w", err)
	}
	return k.Encode(), nil
}

// DecodeKey parses a base64-encoded fernet key.
func DecodeKey(encoded string) (*fernet.Key, error) {
	key, err := fernet.DecodeKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return key, nil
}

type agentClaims struct {
	DeviceID string `json:"deviceId"`
	IssuedAt int64  `json:"issuedAt"`
}

// IssueAgentCredential mints a device-bound credential for the agent's
// control connection.
func IssueAgentCredential(key *fernet.Key, deviceID string) (string, error) {
	if deviceID == "" {
		return "", errors.New("device id required")
	}
	payload, err := json.Marshal(agentClaims{
		DeviceID: deviceID,
		IssuedAt: time.Now().Unix(),
	})
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign(payload, key)
	if err != nil {
		return "", fmt.Errorf("encrypt agent credential: %w", err)
	}
	return string(tok), nil
}

// VerifyAgentCredential checks a credential and returns the device
// identity it is bound to.
func VerifyAgentCredential(key *fernet.Key, credential string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(credential), 0*time.Second, []*fernet.Key{key})
	if msg == nil {
		return "", ErrInvalidCredential
	}
	var claims agentClaims
	if err := json.Unmarshal(msg, &claims); err != nil {
		return "", ErrInvalidCredential
	}
	if claims.DeviceID == "" {
		return "", ErrInvalidCredential
	}
	return claims.DeviceID, nil
}
