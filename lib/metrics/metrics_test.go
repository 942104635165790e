// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.UpdatePosted("joined")
	m.UpdatePosted("joined")
	m.PollFetched("messages", "ok")
	m.PollFetched("messages", "error")
	m.PayloadDropped("message")
	m.FrameSent("/meta/connect")
	m.FrameSent("/meta/subscribe")
	m.FrameSent("/meta/subscribe")
	m.FrameReceived("payload")
	m.Reconnecting()
	m.ProtocolViolation("subscribe_reply")
	m.JournalRecorded("left")
	m.JournalDropped("left")
	m.SendFinished("sent")
	m.ConsumerPanicked("typers")

	for _, check := range []struct {
		name string
		got  float64
		want float64
	}{
		{"updates joined", promtestutil.ToFloat64(m.updatesPosted.WithLabelValues("joined")), 2},
		{"poll ok", promtestutil.ToFloat64(m.pollFetches.WithLabelValues("messages", "ok")), 1},
		{"poll error", promtestutil.ToFloat64(m.pollFetches.WithLabelValues("messages", "error")), 1},
		{"malformed", promtestutil.ToFloat64(m.malformedPayloads.WithLabelValues("message")), 1},
		{"subscribe frames", promtestutil.ToFloat64(m.pushFrames.WithLabelValues("sent", "/meta/subscribe")), 2},
		{"payload frames", promtestutil.ToFloat64(m.pushFrames.WithLabelValues("received", "payload")), 1},
		{"reconnects", promtestutil.ToFloat64(m.pushReconnects), 1},
		{"violations", promtestutil.ToFloat64(m.protocolErrors.WithLabelValues("subscribe_reply")), 1},
		{"journal records", promtestutil.ToFloat64(m.journalRecords.WithLabelValues("left")), 1},
		{"journal drops", promtestutil.ToFloat64(m.journalDrops.WithLabelValues("left")), 1},
		{"sends", promtestutil.ToFloat64(m.sends.WithLabelValues("sent")), 1},
		{"panics", promtestutil.ToFloat64(m.consumerPanics.WithLabelValues("typers")), 1},
	} {
		if check.got != check.want {
			t.Errorf("%s = %v, want %v", check.name, check.got, check.want)
		}
	}
}

func TestPushStateIsOneHot(t *testing.T) {
	m := New()
	if got := promtestutil.ToFloat64(m.pushState.WithLabelValues("disconnected")); got != 1 {
		t.Fatalf("initial disconnected = %v, want 1", got)
	}
	m.PushStateChanged("subscribing")
	m.PushStateChanged("subscribed")
	for _, state := range pushStates {
		want := 0.0
		if state == "subscribed" {
			want = 1
		}
		if got := promtestutil.ToFloat64(m.pushState.WithLabelValues(state)); got != want {
			t.Errorf("push_state{state=%q} = %v, want %v", state, got, want)
		}
	}
}

func TestChannelFamily(t *testing.T) {
	for channel, want := range map[string]string{
		"/meta/handshake": "/meta/handshake",
		"/group/12345":    "group",
		"/user/987":       "user",
		"/service/x":      "other",
	} {
		if got := channelFamily(channel); got != want {
			t.Errorf("channelFamily(%q) = %q, want %q", channel, got, want)
		}
	}
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.UpdatePosted("joined")
	m.ConsumerPanicked("joined")
	m.PollFetched("profile", "ok")
	m.PayloadDropped("message")
	m.FrameSent("/meta/connect")
	m.FrameReceived("payload")
	m.PushStateChanged("connected")
	m.Reconnecting()
	m.ProtocolViolation("payload")
	m.JournalRecorded("left")
	m.JournalDropped("left")
	m.SendFinished("sent")
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.UpdatePosted("new_messages")

	server := httptest.NewServer(m.Handler())
	defer server.Close()
	response, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	for _, want := range []string{
		`gmtsync_updates_posted_total{kind="new_messages"} 1`,
		`gmtsync_push_state{state="disconnected"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition lacks %q", want)
		}
	}
}
