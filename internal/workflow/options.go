package workflow

import "github.com/edvin/certflow/internal/config"

// OrderOptionsFromConfig returns the per-deployment order tunables every
// started order carries.
func OrderOptionsFromConfig(cfg *config.Config) OrderOptions {
	return OrderOptions{
		PropagationDelay: cfg.DNSPropagationDelay,
		LeaseDomains:     cfg.LeaseBackend != config.LeaseBackendNone,
	}
}

// RenewalParamsFromConfig returns the parameters of a renewal run, scheduled
// or on demand.
func RenewalParamsFromConfig(cfg *config.Config) RenewalParams {
	return RenewalParams{
		RenewBefore:    cfg.RenewBefore(),
		MaxJitter:      cfg.RenewalMaxJitter,
		Concurrency:    cfg.RenewalConcurrency,
		ResourceGroups: cfg.ResourceGroups,
		Options:        OrderOptionsFromConfig(cfg),
	}
}
