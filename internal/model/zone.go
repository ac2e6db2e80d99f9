package model

// Zone is a DNS zone visible to the configured DNS provider credentials.
type Zone struct {
	ID   int    `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// TXTRecordSet is the TXT record set at one name, together with the
// correlation tag of the workflow that last wrote it.
type TXTRecordSet struct {
	Zone           string   `json:"zone"`
	Name           string   `json:"name"`
	Values         []string `json:"values"`
	CorrelationTag string   `json:"correlation_tag,omitempty"`
}
