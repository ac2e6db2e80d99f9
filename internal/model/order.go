package model

import "strings"

// ACME order and authorization statuses.
const (
	OrderPending    = "pending"
	OrderReady      = "ready"
	OrderProcessing = "processing"
	OrderValid      = "valid"
	OrderInvalid    = "invalid"
)

// Challenge types.
const (
	ChallengeHTTP01 = "http-01"
	ChallengeDNS01  = "dns-01"
)

// Order is an in-flight ACME order. An invalid order is never resurrected;
// a new one is created instead.
type Order struct {
	URL         string   `json:"url"`
	Status      string   `json:"status"`
	FinalizeURL string   `json:"finalize_url"`
	AuthzURLs   []string `json:"authz_urls"`
	CertURL     string   `json:"cert_url,omitempty"`
	Identifiers []string `json:"identifiers"`
	Error       *Problem `json:"error,omitempty"`
}

// Problem is an RFC 8555 problem document.
type Problem struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// Kind returns the short ACME error type, e.g. "connection" for
// "urn:ietf:params:acme:error:connection".
func (p Problem) Kind() string {
	if i := strings.LastIndex(p.Type, ":error:"); i >= 0 {
		return strings.ToLower(p.Type[i+len(":error:"):])
	}
	return strings.ToLower(p.Type)
}

type Challenge struct {
	Type   string   `json:"type"`
	URL    string   `json:"url"`
	Token  string   `json:"token"`
	Status string   `json:"status"`
	Error  *Problem `json:"error,omitempty"`
}

type Authorization struct {
	URL        string      `json:"url"`
	Identifier string      `json:"identifier"`
	Wildcard   bool        `json:"wildcard"`
	Status     string      `json:"status"`
	Challenges []Challenge `json:"challenges"`
}

// Challenge returns the authorization's challenge of the given type.
func (a Authorization) Challenge(typ string) (Challenge, bool) {
	for _, c := range a.Challenges {
		if c.Type == typ {
			return c, true
		}
	}
	return Challenge{}, false
}

// Problems returns the errors reported on the authorization's challenges.
func (a Authorization) Problems() []Problem {
	var out []Problem
	for _, c := range a.Challenges {
		if c.Error != nil {
			out = append(out, *c.Error)
		}
	}
	return out
}

// ChallengeProof is what was provisioned to answer one authorization. It is
// discarded once the order reaches ready.
type ChallengeProof struct {
	Type          string `json:"type"`
	Domain        string `json:"domain"`
	AuthzURL      string `json:"authz_url"`
	ChallengeURL  string `json:"challenge_url"`
	Path          string `json:"path,omitempty"`
	Value         string `json:"value"`
	Zone          string `json:"zone,omitempty"`
	RecordName    string `json:"record_name,omitempty"`
	CorrelationID string `json:"correlation_id"`
}
