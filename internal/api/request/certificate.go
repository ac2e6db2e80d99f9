package request

import "github.com/edvin/certflow/internal/model"

// IssueCertificate is the body of a manual add-certificate request.
type IssueCertificate struct {
	DomainNames []string       `json:"domain_names" validate:"required,min=1,max=100,dive,required,certname"`
	ForceDNS01  bool           `json:"force_dns01"`
	SSLState    model.SSLState `json:"ssl_state" validate:"omitempty,oneof=sni ip_based"`
}

// StartRenewal optionally narrows an on-demand renewal run.
type StartRenewal struct {
	ResourceGroups []string `json:"resource_groups" validate:"omitempty,dive,required"`
}
