package authz

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/org/sessionguard/pkg/models"
)

var decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "sessionguard_authorization_decisions_total",
	Help: "Authorization decisions by outcome.",
}, []string{"permitted", "sponsored", "reason", "sponsorship_reason"})

func init() {
	prometheus.MustRegister(decisionsTotal)
}

func observeDecision(d models.AuthorizationDecision) {
	decisionsTotal.WithLabelValues(
		strconv.FormatBool(d.Permitted),
		strconv.FormatBool(d.Sponsored),
		string(d.Reason),
		string(d.SponsorshipReason),
	).Inc()
}
