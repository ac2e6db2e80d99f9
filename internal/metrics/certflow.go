package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CertificatesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certflow_certificates_issued_total",
		Help: "Certificates issued and uploaded, by challenge type.",
	}, []string{"challenge"})

	ChallengeVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certflow_challenge_verifications_total",
		Help: "Independent challenge verification attempts, by challenge type and result.",
	}, []string{"challenge", "result"})

	RenewalRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certflow_renewal_runs_total",
		Help: "Completed renewal scheduler runs.",
	})

	RenewalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certflow_renewal_failures_total",
		Help: "Resources whose renewal failed within a scheduler run.",
	})

	CertificatesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certflow_certificates_purged_total",
		Help: "Unbound certificates deleted by the purge scheduler.",
	})
)
