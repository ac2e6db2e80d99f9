package model

import "strings"

// Platform kind flags reported by the hosting platform for a resource.
const (
	KindContainer = "container"
	KindLinux     = "linux"
)

// SSLState is the TLS binding mode of a host name.
type SSLState string

const (
	SSLStateDisabled SSLState = "disabled"
	SSLStateSNI      SSLState = "sni"
	SSLStateIPBased  SSLState = "ip_based"
)

// Marker for the virtual path certflow adds to serve HTTP-01 proofs. Cleanup
// only removes a virtual path whose physical path matches exactly.
const (
	ChallengeVirtualPath  = "/.well-known"
	ChallengePhysicalPath = "certflow-acme/.well-known"
)

type HostBinding struct {
	HostName   string   `json:"host_name" db:"host_name"`
	Thumbprint string   `json:"thumbprint,omitempty" db:"thumbprint"`
	SSLState   SSLState `json:"ssl_state" db:"ssl_state"`
}

type VirtualPath struct {
	Path         string `json:"path" db:"virtual_path"`
	PhysicalPath string `json:"physical_path" db:"physical_path"`
}

// HostingResource is a site or a named deployment slot of a site. It is
// always read fresh from the resource manager and never cached.
type HostingResource struct {
	ID            string        `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Slot          string        `json:"slot,omitempty" db:"slot"`
	ResourceGroup string        `json:"resource_group" db:"resource_group"`
	Kind          []string      `json:"kind" db:"kind"`
	Bindings      []HostBinding `json:"bindings" db:"-"`
	VirtualPaths  []VirtualPath `json:"virtual_paths,omitempty" db:"-"`
	StoragePath   string        `json:"storage_path" db:"storage_path"`
}

// HasKind reports whether the resource carries the given platform flag.
func (r HostingResource) HasKind(kind string) bool {
	for _, k := range r.Kind {
		if strings.Contains(strings.ToLower(k), kind) {
			return true
		}
	}
	return false
}

// BoundThumbprints returns the normalized thumbprints bound to any host name.
func (r HostingResource) BoundThumbprints() map[string]bool {
	out := make(map[string]bool, len(r.Bindings))
	for _, b := range r.Bindings {
		if b.Thumbprint == "" {
			continue
		}
		out[NormalizeThumbprint(b.Thumbprint)] = true
	}
	return out
}

// HasVirtualPath reports whether vp is configured on the resource.
func (r HostingResource) HasVirtualPath(vp VirtualPath) bool {
	for _, existing := range r.VirtualPaths {
		if existing.Path == vp.Path && existing.PhysicalPath == vp.PhysicalPath {
			return true
		}
	}
	return false
}

// NormalizeThumbprint upper-cases a hex thumbprint so comparisons ignore case.
func NormalizeThumbprint(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
