package model

import "time"

// RenewalReport summarizes one renewal scheduler run.
type RenewalReport struct {
	StartedAt  time.Time         `json:"started_at"`
	Candidates int               `json:"candidates"`
	Resources  int               `json:"resources"`
	Renewed    int               `json:"renewed"`
	Failed     []ResourceFailure `json:"failed,omitempty"`
}

// ResourceFailure records the certificates one resource failed to renew.
type ResourceFailure struct {
	ResourceID  string   `json:"resource_id"`
	Thumbprints []string `json:"thumbprints"`
	Error       string   `json:"error"`
}

// PurgeReport summarizes one purge run.
type PurgeReport struct {
	Issued  int      `json:"issued"`
	Deleted []string `json:"deleted,omitempty"`
	Failed  []string `json:"failed,omitempty"`
}
