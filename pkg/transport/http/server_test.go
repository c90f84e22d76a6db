package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	gohttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/transport"
)

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	return bytes.NewReader(data)
}

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	runner := &mockRunner{
		run: &api.Run{
			ID:     "run_serverTestABCD5678901234",
			Object: "batch_run",
			Status: api.RunStatusCompleted,
			Model:  "test-model",
		},
	}

	srv := NewServer(runner, &mockStreamer{}, nil, WithAddr("127.0.0.1:0"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	go srv.ServeOn(ln)
	time.Sleep(50 * time.Millisecond)

	resp, err := gohttp.Post("http://"+addr+"/v1/completions/batch", "application/json",
		jsonBody(t, api.BatchRequest{Template: "{{x}}", Rows: api.Batch{{"x": "1"}}}))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}

	var got api.Run
	json.NewDecoder(resp.Body).Decode(&got)
	if got.ID != runner.run.ID {
		t.Errorf("run ID = %q, want %q", got.ID, runner.run.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func TestServerGracefulShutdown(t *testing.T) {
	slowRunner := transport.BatchRunnerFunc(func(ctx context.Context, _ *api.BatchRequest, w transport.RunWriter) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return w.WriteRun(ctx, &api.Run{
				ID:     "run_gracefulTestABCD56789012",
				Status: api.RunStatusCompleted,
			})
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	srv := NewServer(slowRunner, &mockStreamer{}, nil,
		WithAddr("127.0.0.1:0"),
		WithShutdownTimeout(5*time.Second),
	)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	go srv.ServeOn(ln)
	time.Sleep(50 * time.Millisecond)

	responseCh := make(chan int, 1)
	go func() {
		resp, err := gohttp.Post("http://"+addr+"/v1/completions/batch", "application/json",
			jsonBody(t, api.BatchRequest{Template: "{{x}}", Rows: api.Batch{{"x": "1"}}}))
		if err != nil {
			responseCh <- 0
			return
		}
		defer resp.Body.Close()
		responseCh <- resp.StatusCode
	}()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	status := <-responseCh
	if status != gohttp.StatusOK {
		t.Errorf("slow request status = %d, want %d", status, gohttp.StatusOK)
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	srv := NewServer(&mockRunner{run: &api.Run{ID: "run_x"}}, &mockStreamer{}, nil,
		WithAddr("127.0.0.1:0"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	go srv.ServeOn(ln)
	time.Sleep(50 * time.Millisecond)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	resp, err := gohttp.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("metrics body missing standard collectors")
	}
}

func TestServerFunctionalOptions(t *testing.T) {
	srv := NewServer(&mockRunner{}, &mockStreamer{}, nil,
		WithAddr(":9999"),
		WithMaxBodySize(1024),
		WithShutdownTimeout(10*time.Second),
		WithWriteTimeout(time.Minute),
		WithMetricsPath("/internal/metrics"),
	)

	if srv.config.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.config.Addr, ":9999")
	}
	if srv.config.MaxBodySize != 1024 {
		t.Errorf("max body size = %d, want %d", srv.config.MaxBodySize, 1024)
	}
	if srv.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, 10*time.Second)
	}
	if srv.config.WriteTimeout != time.Minute {
		t.Errorf("write timeout = %v", srv.config.WriteTimeout)
	}
	if srv.config.MetricsPath != "/internal/metrics" {
		t.Errorf("metrics path = %q", srv.config.MetricsPath)
	}
}
