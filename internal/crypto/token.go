package crypto

import (
	"crypto/rand"
	"crypto/subtle"
)

// alphabet used for generated tokens: URL-safe, no ambiguity on the wire.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"

// SecretKeyLength is the length of agent secret keys.
const SecretKeyLength = 48

// SessionIDLength is the length of terminal session identifiers.
const SessionIDLength = 24

// NewToken generates a random token of the given length.
func NewToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	for i, b := range buf {
		buf[i] = alphabet[int(b)&63]
	}

	return string(buf), nil
}

// NewSecretKey generates an agent secret key.
func NewSecretKey() (string, error) {
	return NewToken(SecretKeyLength)
}

// NewSessionID generates a terminal session identifier.
func NewSessionID() (string, error) {
	return NewToken(SessionIDLength)
}

// SecureCompare compares two tokens in constant time.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
