package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hallgate/edinbridge/internal/infrastructure/config"
	"github.com/hallgate/edinbridge/internal/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

// fakeInflux answers the health check and records line-protocol writes.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
}

func (f *fakeInflux) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"name":"influxdb","message":"ready","status":"pass"}`)
		case strings.HasSuffix(r.URL.Path, "/write"):
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.writes = append(f.writes, string(body))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeInflux) lines() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func TestConnectAndWrite(t *testing.T) {
	fake := &fakeInflux{}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	c, err := Connect(context.Background(), config.InfluxDBConfig{
		URL:           server.URL,
		Token:         "token",
		Org:           "home",
		Bucket:        "edin",
		BatchSize:     10,
		FlushInterval: 60,
	}, testLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.WriteChannelLevel("npu-local", "edinplus-1004339-1-1", "Kitchen Downlights", 1, 1, 180)
	c.WriteInputEvent("npu-local", "edinplus-1004339-7-1", "Hall Plate", "Button 3 Short-press")
	c.Close()

	lines := fake.lines()
	if !strings.Contains(lines, "channel_level") {
		t.Errorf("channel_level point never written; got %q", lines)
	}
	if !strings.Contains(lines, "level=180i") {
		t.Errorf("level field missing; got %q", lines)
	}
	if !strings.Contains(lines, "input_event") {
		t.Errorf("input_event point never written; got %q", lines)
	}
}

func TestConnectHealthCheckFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := Connect(context.Background(), config.InfluxDBConfig{
		URL: server.URL, Org: "home", Bucket: "edin",
	}, testLogger())
	if !errors.Is(err, ErrHealthCheck) {
		t.Errorf("err = %v, want ErrHealthCheck", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{
		URL: "http://127.0.0.1:1", Org: "home", Bucket: "edin",
	}, testLogger())
	if !errors.Is(err, ErrHealthCheck) {
		t.Errorf("err = %v, want ErrHealthCheck", err)
	}
}
