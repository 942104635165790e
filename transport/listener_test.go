// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gmtsync/gmtsync/lib/testutil"
)

func TestListenerServesUntilCancelled(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() {
		served <- listener.Serve(ctx, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			fmt.Fprintf(writer, "%s %s", request.Method, request.URL.Path)
		}))
	}()

	client := &http.Client{Timeout: 5 * time.Second}
	response, err := client.Get("http://" + listener.Address() + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, err := io.ReadAll(response.Body)
	response.Body.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if want := "GET /metrics"; string(body) != want {
		t.Errorf("body = %q, want %q", body, want)
	}

	cancel()
	if err := testutil.RequireReceive(t, served, 5*time.Second, "waiting for Serve to return"); err != nil {
		t.Errorf("Serve returned %v, want nil", err)
	}
}

func TestListenerCloseBeforeServe(t *testing.T) {
	listener, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := listener.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := listener.Serve(context.Background(), http.NotFoundHandler()); err != nil {
		t.Errorf("Serve after Close = %v, want nil", err)
	}
}
