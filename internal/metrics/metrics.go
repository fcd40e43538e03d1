/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newyear_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newyear_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newyear_websocket_clients",
			Help: "Connected websocket clients",
		},
	)

	// Barrage metrics
	BubblesSpawned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newyear_bubbles_spawned_total",
			Help: "Total bubbles placed on the wall",
		},
	)

	SpawnsDeclined = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newyear_spawns_declined_total",
			Help: "Total spawn attempts declined",
		},
		[]string{"reason"},
	)

	ActiveBubbles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newyear_active_bubbles",
			Help: "Bubbles currently on the wall",
		},
	)

	// Business metrics
	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newyear_messages_posted_total",
			Help: "Total wishes posted",
		},
		[]string{"result"}, // "stored", "failed" or "offline"
	)

	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newyear_lottery_registrations_total",
			Help: "Total lottery sign-up attempts",
		},
		[]string{"result"},
	)

	Draws = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newyear_lottery_draws_total",
			Help: "Total lottery draws that produced winners",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newyear_store_latency_seconds",
			Help:    "Store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .5},
		},
		[]string{"op"},
	)

	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newyear_feed_events_total",
			Help: "Change feed events published",
		},
		[]string{"table", "op"},
	)
)
