package platform

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const shortIDLength = 10

const secretAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

func NewID() string {
	return uuid.New().String()
}

// NewName returns prefix followed by a short random lower-case suffix.
func NewName(prefix string) string {
	return prefix + randomString(shortIDAlphabet, shortIDLength)
}

// NewSecret returns a random mixed-case password, used for PKCS#12 exports.
func NewSecret(length int) string {
	return randomString(secretAlphabet, length)
}

func randomString(alphabet string, n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b)
}
