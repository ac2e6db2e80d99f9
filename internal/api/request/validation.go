package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/certflow/internal/platform"
)

var validate = validator.New()

func init() {
	validate.RegisterValidation("certname", func(fl validator.FieldLevel) bool {
		return isValidCertName(fl.Field().String())
	})
}

func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

func RequireID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing required ID")
	}
	return s, nil
}

// isValidCertName accepts a host name a certificate can be issued for,
// after IDNA conversion. Only the leftmost label may be a wildcard.
func isValidCertName(name string) bool {
	ascii, err := platform.NormalizeHostName(name)
	if err != nil {
		return false
	}
	return isValidHostname(platform.BaseDomain(ascii)) && strings.Contains(ascii, ".")
}

// isValidHostname checks if s is a valid DNS hostname.
// Labels separated by dots, each label 1-63 chars, alphanumeric + hyphens,
// no leading/trailing hyphens, total max 253 chars.
func isValidHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if !isValidLabel(label) {
			return false
		}
	}
	return true
}

func isValidLabel(label string) bool {
	n := len(label)
	if n == 0 || n > 63 {
		return false
	}
	if label[0] == '-' || label[n-1] == '-' {
		return false
	}
	for _, c := range label {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
			return false
		}
	}
	return true
}
