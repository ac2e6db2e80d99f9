package platform

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeHostName converts a requested host name to its lower-case ASCII
// (punycode) form. A leading "*." wildcard label is preserved.
func NormalizeHostName(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if name == "" {
		return "", fmt.Errorf("empty host name")
	}
	wildcard := strings.HasPrefix(name, "*.")
	if wildcard {
		name = name[2:]
	}
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return "", fmt.Errorf("invalid host name %q: %w", name, err)
	}
	if wildcard {
		return "*." + ascii, nil
	}
	return ascii, nil
}

// NormalizeHostNames normalizes and de-duplicates names, keeping the first
// occurrence order.
func NormalizeHostNames(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		ascii, err := NormalizeHostName(n)
		if err != nil {
			return nil, err
		}
		if seen[ascii] {
			continue
		}
		seen[ascii] = true
		out = append(out, ascii)
	}
	return out, nil
}

// BaseDomain strips a leading wildcard label.
func BaseDomain(name string) string {
	return strings.TrimPrefix(name, "*.")
}
