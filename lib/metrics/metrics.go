// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes sync engine activity as Prometheus metrics.
//
// *Metrics implements the Observer interface of every sync component,
// so one value is passed to all of them. A nil *Metrics is a valid
// observer that records nothing.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gmtsync"

// pushStates lists every value PushStateChanged receives, so the state
// gauge exports all of them from the start.
var pushStates = []string{"disconnected", "handshaking", "connected", "subscribing", "subscribed"}

// Metrics holds the collectors, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	updatesPosted     *prometheus.CounterVec
	consumerPanics    *prometheus.CounterVec
	pollFetches       *prometheus.CounterVec
	malformedPayloads *prometheus.CounterVec
	pushFrames        *prometheus.CounterVec
	pushState         *prometheus.GaugeVec
	pushReconnects    prometheus.Counter
	protocolErrors    *prometheus.CounterVec
	journalRecords    *prometheus.CounterVec
	journalDrops      *prometheus.CounterVec
	sends             *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		updatesPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "updates_posted_total",
			Help: "Updates posted on the bus, by kind.",
		}, []string{"kind"}),
		consumerPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "consumer_panics_total",
			Help: "Bus consumers that panicked, by update kind.",
		}, []string{"kind"}),
		pollFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_fetches_total",
			Help: "REST fetches made by the poller, by kind and result.",
		}, []string{"kind", "result"}),
		malformedPayloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "malformed_payloads_total",
			Help: "Payloads dropped because they failed validation, by kind.",
		}, []string{"kind"}),
		pushFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "push_frames_total",
			Help: "Bayeux frames sent and received.",
		}, []string{"direction", "kind"}),
		pushState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "push_state",
			Help: "1 for the push connection's current state, 0 for the others.",
		}, []string{"state"}),
		pushReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "push_reconnects_total",
			Help: "Reconnects scheduled after the push socket was lost.",
		}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "push_protocol_violations_total",
			Help: "Frames that arrived in a state that does not accept them.",
		}, []string{"kind"}),
		journalRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "journal_records_total",
			Help: "Updates written to the journal, by kind.",
		}, []string{"kind"}),
		journalDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "journal_dropped_total",
			Help: "Updates the journal could not record, by kind.",
		}, []string{"kind"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbox_sends_total",
			Help: "Outgoing message deliveries, by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.updatesPosted, m.consumerPanics, m.pollFetches, m.malformedPayloads,
		m.pushFrames, m.pushState, m.pushReconnects, m.protocolErrors,
		m.journalRecords, m.journalDrops, m.sends,
	)
	for _, state := range pushStates {
		m.pushState.WithLabelValues(state).Set(0)
	}
	m.pushState.WithLabelValues("disconnected").Set(1)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// UpdatePosted implements update.Observer.
func (m *Metrics) UpdatePosted(kind string) {
	if m == nil {
		return
	}
	m.updatesPosted.WithLabelValues(kind).Inc()
}

// ConsumerPanicked implements update.Observer.
func (m *Metrics) ConsumerPanicked(kind string) {
	if m == nil {
		return
	}
	m.consumerPanics.WithLabelValues(kind).Inc()
}

// PollFetched implements poll.Observer.
func (m *Metrics) PollFetched(kind, result string) {
	if m == nil {
		return
	}
	m.pollFetches.WithLabelValues(kind, result).Inc()
}

// PayloadDropped implements poll.Observer and push.Observer.
func (m *Metrics) PayloadDropped(kind string) {
	if m == nil {
		return
	}
	m.malformedPayloads.WithLabelValues(kind).Inc()
}

// FrameSent implements push.Observer. Subscription channels carry IDs,
// so they are counted by channel family.
func (m *Metrics) FrameSent(channel string) {
	if m == nil {
		return
	}
	m.pushFrames.WithLabelValues("sent", channelFamily(channel)).Inc()
}

// FrameReceived implements push.Observer.
func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.pushFrames.WithLabelValues("received", kind).Inc()
}

// PushStateChanged implements push.Observer.
func (m *Metrics) PushStateChanged(state string) {
	if m == nil {
		return
	}
	for _, known := range pushStates {
		value := 0.0
		if known == state {
			value = 1
		}
		m.pushState.WithLabelValues(known).Set(value)
	}
}

// Reconnecting implements push.Observer.
func (m *Metrics) Reconnecting() {
	if m == nil {
		return
	}
	m.pushReconnects.Inc()
}

// ProtocolViolation implements push.Observer.
func (m *Metrics) ProtocolViolation(kind string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(kind).Inc()
}

// JournalRecorded implements journal.Observer.
func (m *Metrics) JournalRecorded(kind string) {
	if m == nil {
		return
	}
	m.journalRecords.WithLabelValues(kind).Inc()
}

// JournalDropped implements journal.Observer.
func (m *Metrics) JournalDropped(kind string) {
	if m == nil {
		return
	}
	m.journalDrops.WithLabelValues(kind).Inc()
}

// SendFinished implements outbox.Observer.
func (m *Metrics) SendFinished(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

// channelFamily reduces a channel to "/meta/<name>", "group", "user",
// or "other".
func channelFamily(channel string) string {
	switch {
	case strings.HasPrefix(channel, "/meta/"):
		return channel
	case strings.HasPrefix(channel, "/group/"):
		return "group"
	case strings.HasPrefix(channel, "/user/"):
		return "user"
	}
	return "other"
}
