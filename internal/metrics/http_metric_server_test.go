package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestNewServer_ValidAddress(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{"port only", ":9090"},
		{"localhost with port", "localhost:9090"},
		{"loopback", "127.0.0.1:8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(tt.addr)

			if server == nil {
				t.Fatal("NewServer returned nil")
			}
			if server.addr != tt.addr {
				t.Errorf("server.addr = %q, want %q", server.addr, tt.addr)
			}
			if server.server == nil || server.server.Handler == nil {
				t.Fatal("server not fully initialized")
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"valid", "127.0.0.1:8000", false},
		{"port only", ":8000", false},
		{"empty", "", true},
		{"no port", "127.0.0.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateAddress(%q) error = %v, wantErr %t", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestServer_StartServesMetricsAndHealth(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := listener.Addr().String()
	if err := listener.Close(); err != nil {
		t.Fatalf("release port: %v", err)
	}

	server := NewServer(addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		if err := <-errCh; err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	}()

	healthURL := fmt.Sprintf("http://%s/api/v1/health", addr)
	body, err := waitForBody(healthURL, 2*time.Second)
	if err != nil {
		t.Fatalf("health endpoint never became reachable: %v", err)
	}
	if body != "OK" {
		t.Fatalf("health body = %q, want OK", body)
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/api/v1/metrics", addr))
	if err != nil {
		t.Fatalf("metrics endpoint: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
}

// waitForBody polls url until it answers 200 or the timeout elapses.
func waitForBody(url string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err != nil {
			lastErr = err
			time.Sleep(10 * time.Millisecond)
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return string(data), nil
	}

	return "", lastErr
}
