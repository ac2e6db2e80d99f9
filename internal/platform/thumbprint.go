package platform

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Thumbprint returns the upper-case hex SHA-1 of a DER certificate, the
// identity hosting bindings refer to.
func Thumbprint(der []byte) string {
	sum := sha1.Sum(der)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
