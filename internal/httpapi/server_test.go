package httpapi

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	logx "marketwire/pkg/logx"
)

func TestServerServesOnLoopback(t *testing.T) {
	s := NewServer(ServerConfig{Enabled: true, Addr: "127.0.0.1:0"}, &Handlers{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server not ready")
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}

	// Routes with a nil dependency answer 503.
	resp, err = http.Get("http://" + s.Addr() + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if s.Addr() != "" {
		t.Fatalf("addr after stop = %q", s.Addr())
	}
}

func TestServerRefusesPublicAddrWithoutToken(t *testing.T) {
	s := NewServer(ServerConfig{Enabled: true, Addr: "0.0.0.0:0"}, &Handlers{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	select {
	case <-s.Ready():
		t.Fatal("server must not bind a public address without a token")
	case <-time.After(200 * time.Millisecond):
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}

func TestServerDisabled(t *testing.T) {
	s := NewServer(ServerConfig{}, &Handlers{}, logx.Nop())
	s.Start(context.Background())
	if s.Addr() != "" {
		t.Fatal("disabled server should not listen")
	}
	s.Stop(context.Background())
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8787": true,
		"localhost:80":   true,
		"[::1]:80":       true,
		":8787":          false,
		"0.0.0.0:8787":   false,
		"10.0.0.5:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
