package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Bookings created grouped by whether a vendor was matched.",
	}, []string{"vendor_found"})

	bookingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Booking status transitions grouped by target status and source.",
	}, []string{"status", "source"})

	deferredChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_deferred_checks_total",
		Help: "Still-searching checks grouped by outcome.",
	}, []string{"result"})

	notificationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_notification_failures_total",
		Help: "Notifications that could not be delivered grouped by recipient.",
	}, []string{"recipient"})
)
