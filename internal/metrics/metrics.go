package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OffersTotal counts negotiation outcomes by result.
	OffersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shuq_offers_total",
		Help: "Total number of offer submissions by result",
	}, []string{"result"})

	// CouponsRedeemed counts successful redemptions (idempotent repeats excluded).
	CouponsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuq_coupons_redeemed_total",
		Help: "Total number of coupons marked as redeemed",
	})

	// LedgerFallback counts submissions served from device-only storage.
	LedgerFallback = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuq_ledger_fallback_total",
		Help: "Total number of submissions degraded to local persistence",
	})

	// NotificationsDropped counts mutations dropped because a subscriber was slow.
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuq_notifications_dropped_total",
		Help: "Total number of change notifications dropped by in-process subscribers",
	})
)
