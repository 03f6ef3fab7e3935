package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloudpico-beacon/internal/advertising"
	"cloudpico-beacon/internal/telemetry"
	"cloudpico-beacon/internal/tlm"
)

type fakeSource struct {
	state   advertising.State
	counter uint32
	frame   tlm.Frame
}

func (f fakeSource) State() advertising.State { return f.state }
func (f fakeSource) Snapshot() telemetry.Snapshot {
	return telemetry.Snapshot{State: f.state, Counter: f.counter, Frame: f.frame}
}

func newTestServer(t *testing.T, src StatusSource) *httptest.Server {
	t.Helper()

	srv := NewServer(":0", NewMux(src))
	ts := httptest.NewServer(srv.Handler)

	t.Cleanup(ts.Close)
	return ts
}

func mustGetJSON[T any](t *testing.T, client *http.Client, url string, out *T) *http.Response {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name  string
		state advertising.State
		want  int
	}{
		{name: "advertising", state: advertising.Advertising, want: http.StatusOK},
		{name: "failed", state: advertising.Failed, want: http.StatusServiceUnavailable},
		{name: "radio not ready", state: advertising.Uninitialized, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, fakeSource{state: tt.state})

			var body map[string]string
			resp := mustGetJSON(t, ts.Client(), ts.URL+"/healthz", &body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (body %v)", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	counter := uint32(693)
	frame := tlm.Encode(tlm.Reading{TemperatureC: 23.5, HumidityPct: 45}, &counter, 1386700)
	ts := newTestServer(t, fakeSource{state: advertising.Advertising, counter: counter, frame: frame})

	var body statusResponse
	resp := mustGetJSON(t, ts.Client(), ts.URL+"/status", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body.State != "advertising" || !body.Advertising {
		t.Errorf("state = %q advertising = %v", body.State, body.Advertising)
	}
	if body.Counter != 694 {
		t.Errorf("adv_count = %d, want 694", body.Counter)
	}
	if body.Frame != "200005CD1780000002B60000362B" {
		t.Errorf("frame = %q", body.Frame)
	}
	if body.TemperatureC != 23.5 || body.HumidityPct != 45 {
		t.Errorf("reading = %v/%v, want 23.5/45", body.TemperatureC, body.HumidityPct)
	}
}

func TestStatus_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, fakeSource{})

	resp, err := ts.Client().Post(ts.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, NewServer(addr, NewMux(fakeSource{state: advertising.Advertising}))) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
