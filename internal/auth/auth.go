// Package auth implements Kalshi API authentication: RSA-PSS request
// signing for REST calls and the WebSocket login command.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Header names attached to every signed request.
const (
	HeaderKey       = "KALSHI-ACCESS-KEY"
	HeaderSignature = "KALSHI-ACCESS-SIGNATURE"
	HeaderTimestamp = "KALSHI-ACCESS-TIMESTAMP"
)

// WebSocketPath is the path signed for WebSocket logins.
const WebSocketPath = "/trade-api/ws/v2"

// Credentials holds the API key ID and private key for signing requests.
// Signature bytes and key material are never logged.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
}

// LoadCredentials loads credentials from a key ID and a PEM key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("API key ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	key, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{KeyID: keyID, PrivateKey: key}, nil
}

// CredentialsFromPEM builds credentials from an in-memory PEM block,
// avoiding a disk round-trip when keys arrive via the control API.
func CredentialsFromPEM(keyID string, pemData []byte) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("API key ID is required")
	}
	key, err := ParsePrivateKeyPEM(pemData)
	if err != nil {
		return nil, err
	}
	return &Credentials{KeyID: keyID, PrivateKey: key}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParsePrivateKeyPEM(data)
}

// ParsePrivateKeyPEM parses a PEM-encoded RSA private key, accepting
// PKCS#8 (newer) and PKCS#1 (older) encodings.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// SignRequest generates the three authentication headers for a request.
// The signed message is timestamp_ms + METHOD + path; the path must be the
// full API prefix (e.g. /trade-api/v2/portfolio/orders) with no query.
func (c *Credentials) SignRequest(method, path string) (map[string]string, error) {
	timestampMs := time.Now().UnixMilli()
	return c.signAt(timestampMs, method, path)
}

func (c *Credentials) signAt(timestampMs int64, method, path string) (map[string]string, error) {
	signature, err := c.sign(timestampMs, method, path)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		HeaderKey:       c.KeyID,
		HeaderTimestamp: strconv.FormatInt(timestampMs, 10),
		HeaderSignature: signature,
	}, nil
}

// sign produces a Base64 RSA-PSS/SHA-256 signature with MGF1-SHA-256 and
// salt length equal to the digest length.
func (c *Credentials) sign(timestampMs int64, method, path string) (string, error) {
	message := strconv.FormatInt(timestampMs, 10) + method + path
	hashed := sha256.Sum256([]byte(message))

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

// LoginCommand is the WebSocket login message sent after connect.
type LoginCommand struct {
	ID     int64       `json:"id"`
	Cmd    string      `json:"cmd"`
	Params LoginParams `json:"params"`
}

// LoginParams carries the signed login payload.
type LoginParams struct {
	APIKey    string `json:"api_key"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// WSLogin builds the login command for a WebSocket session. The signature
// covers GET /trade-api/ws/v2 at the embedded timestamp.
func (c *Credentials) WSLogin(id int64) (LoginCommand, error) {
	timestampMs := time.Now().UnixMilli()
	signature, err := c.sign(timestampMs, "GET", WebSocketPath)
	if err != nil {
		return LoginCommand{}, err
	}

	return LoginCommand{
		ID:  id,
		Cmd: "login",
		Params: LoginParams{
			APIKey:    c.KeyID,
			Signature: signature,
			Timestamp: timestampMs,
		},
	}, nil
}
