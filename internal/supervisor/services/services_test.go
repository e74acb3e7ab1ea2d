// Churnguard - Churn Prediction and Incentive Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/churnguard

package services

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/churnguard/internal/retrain"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeRetrainer struct {
	calls atomic.Int32
	rep   *retrain.Report
	err   error
}

func (f *fakeRetrainer) Run(context.Context) (*retrain.Report, error) {
	f.calls.Add(1)
	return f.rep, f.err
}

func TestRetrainServiceOnStartup(t *testing.T) {
	t.Parallel()

	f := &fakeRetrainer{rep: &retrain.Report{RunID: "r1", Records: 10}}
	svc := NewRetrainService(f, RetrainServiceConfig{Interval: time.Hour, OnStartup: true}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("startup run did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v, want context.Canceled", err)
	}
	if svc.String() != "retrain-service" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestRetrainServiceTicks(t *testing.T) {
	t.Parallel()

	f := &fakeRetrainer{err: errors.New("store down")}
	svc := NewRetrainService(f, RetrainServiceConfig{Interval: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = svc.Serve(ctx)

	if f.calls.Load() < 2 {
		t.Errorf("calls = %d; a failed run must not stop the schedule", f.calls.Load())
	}
}

func TestRetrainServiceOutcomesLogged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rep  *retrain.Report
		err  error
		want string
	}{
		{"retrained", &retrain.Report{RunID: "a", Records: 3}, nil, "candidate models written"},
		{"carried over", &retrain.Report{RunID: "b"}, retrain.ErrInsufficientFeedback, "artifacts carried over"},
		{"locked", nil, retrain.ErrRunInProgress, "another run holds the lock"},
		{"failed", &retrain.Report{RunID: "c"}, errors.New("boom"), "correction run failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf syncBuffer
			svc := NewRetrainService(&fakeRetrainer{rep: tt.rep, err: tt.err}, RetrainServiceConfig{Interval: time.Hour}, zerolog.New(&buf))
			svc.runOnce(context.Background())
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestNewRetrainServiceDefaultsInterval(t *testing.T) {
	t.Parallel()

	svc := NewRetrainService(&fakeRetrainer{}, RetrainServiceConfig{}, zerolog.Nop())
	if svc.cfg.Interval != 24*time.Hour {
		t.Errorf("interval = %v", svc.cfg.Interval)
	}
}

type fakeServer struct {
	listenErr error
	stop      chan struct{}
	shutdowns atomic.Int32
}

func (f *fakeServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	close(f.stop)
	return nil
}

func TestHTTPServerServiceShutdown(t *testing.T) {
	t.Parallel()

	srv := &fakeServer{stop: make(chan struct{})}
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if srv.shutdowns.Load() != 1 {
		t.Errorf("shutdowns = %d, want 1", srv.shutdowns.Load())
	}
}

func TestNewHTTPServerServiceDefaultsTimeout(t *testing.T) {
	t.Parallel()

	for _, d := range []time.Duration{0, -time.Second} {
		svc := NewHTTPServerService(&fakeServer{}, d)
		if svc.shutdownTimeout != defaultShutdownTimeout {
			t.Errorf("NewHTTPServerService(%v): timeout = %v", d, svc.shutdownTimeout)
		}
	}
	if svc := NewHTTPServerService(&fakeServer{}, 3*time.Second); svc.shutdownTimeout != 3*time.Second {
		t.Errorf("explicit timeout = %v", svc.shutdownTimeout)
	}
}

func TestHTTPServerServiceListenError(t *testing.T) {
	t.Parallel()

	svc := NewHTTPServerService(&fakeServer{listenErr: errors.New("address in use")}, time.Second)
	err := svc.Serve(context.Background())
	if err == nil || !strings.Contains(err.Error(), "address in use") {
		t.Errorf("Serve returned %v", err)
	}
}

func TestHTTPServerServiceRealServer(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	srv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	}
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + addr + "/")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	<-done
}
