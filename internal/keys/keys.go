// Package keys derives the session key and network name from the shared
// password. Both peers run the same derivation, so the password alone is
// enough to agree on the WiFi network to use and on the AES-256-GCM key
// that authenticates every chunk sent over it.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
)

const (
	// NetworkPrefix starts every derived network name.
	NetworkPrefix = "flyingCarpet_"
	// PasswordLength is the length of generated passwords.
	PasswordLength = 8
	// KeySize is the AES-256 key size in bytes.
	KeySize = sha256.Size
)

// passwordAlphabet leaves out characters that are easy to misread (0/O, 1/l/I).
const passwordAlphabet = "23456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// Derive returns SHA-256(password) as the key and the network name built from
// the first two bytes of that digest. The two are never computed separately.
func Derive(password string) (key [KeySize]byte, networkName string) {
	key = sha256.Sum256([]byte(password))
	networkName = fmt.Sprintf("%s%02x%02x", NetworkPrefix, key[0], key[1])
	return key, networkName
}

// GeneratePassword returns a random password drawn from passwordAlphabet.
func GeneratePassword() (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	password := make([]byte, PasswordLength)
	for i := range password {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generating password: %w", err)
		}
		password[i] = passwordAlphabet[n.Int64()]
	}
	return string(password), nil
}
