// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNoToken is returned when a request carries no token and guests are off.
var ErrNoToken = errors.New("missing auth token")

// Identity is who a connection or request acts as.
type Identity struct {
	ID    string
	Name  string
	Cover string
	Admin bool
	Guest bool
}

// Issuer signs and verifies EdDSA tokens.
type Issuer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// expire of 0 means tokens carry no exp claim.
	expire time.Duration
	now    func() time.Time
}

// NewIssuer generates a fresh ed25519 key pair at runtime.
func NewIssuer(expire time.Duration) (*Issuer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Issuer{privateKey: priv, publicKey: pub, expire: expire, now: time.Now}, nil
}

// NewIssuerFromFiles reads raw ed25519 keys from disk.
func NewIssuerFromFiles(privatePath, publicPath string, expire time.Duration) (*Issuer, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(privateKeyData) != ed25519.PrivateKeySize || len(publicKeyData) != ed25519.PublicKeySize {
		return nil, errors.New("ed25519 key files have the wrong size")
	}
	return &Issuer{
		privateKey: ed25519.PrivateKey(privateKeyData),
		publicKey:  ed25519.PublicKey(publicKeyData),
		expire:     expire,
		now:        time.Now,
	}, nil
}

// CreateToken signs a token for id.
func (i *Issuer) CreateToken(id Identity) (string, error) {
	claims := jwt.MapClaims{
		"sub":   id.ID,
		"name":  id.Name,
		"guest": id.Guest,
	}
	if id.Cover != "" {
		claims["cover"] = id.Cover
	}
	if id.Admin {
		claims["admin"] = true
	}
	if i.expire > 0 {
		claims["exp"] = i.now().Add(i.expire).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(i.privateKey)
}

// Authenticate verifies a token and returns the identity in it.
func (i *Issuer) Authenticate(tokenString string) (Identity, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.publicKey, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return Identity{}, fmt.Errorf("jwt parse error: %w", err)
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return Identity{}, errors.New("invalid jwt claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, errors.New("missing sub in jwt")
	}
	id := Identity{ID: sub}
	id.Name, _ = claims["name"].(string)
	id.Cover, _ = claims["cover"].(string)
	id.Admin, _ = claims["admin"].(bool)
	id.Guest, _ = claims["guest"].(bool)
	return id, nil
}

// NewGuest mints a guest identity with a short display name.
func NewGuest() Identity {
	id := uuid.NewString()
	return Identity{ID: id, Name: "Guest " + id[:4], Guest: true}
}
