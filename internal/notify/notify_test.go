package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telepresence/internal/capture"
)

type recordedRequest struct {
	title, priority, tags, auth, body string
	space, stream, generation, state  string
}

func startNtfy(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/alerts" {
			t.Errorf("unexpected topic path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{
			title:      r.Header.Get("Title"),
			priority:   r.Header.Get("Priority"),
			tags:       r.Header.Get("Tags"),
			auth:       r.Header.Get("Authorization"),
			body:       string(body),
			space:      r.Header.Get(HeaderSpace),
			stream:     r.Header.Get(HeaderStream),
			generation: r.Header.Get(HeaderGeneration),
			state:      r.Header.Get(HeaderState),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func TestClient_SendFailure(t *testing.T) {
	server, requests := startNtfy(t, http.StatusOK)
	cfg := &Config{Enabled: true, Server: server.URL + "/", Topic: "alerts", Priority: "default", Tags: "desktop_computer", Token: "tk"}

	err := NewClient(cfg, zap.NewNop()).SendFailure(context.Background(), Report{
		SpaceID:     "space-1",
		Participant: "Ada",
		Status: capture.Status{
			State:      capture.StateFailed,
			StreamID:   "stream-7",
			Generation: 4,
			Message:    "publish frame: boom",
			Published:  3,
		},
		Uptime:      90 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(reqs))
	}
	r := reqs[0]
	if r.title != "Sharing failed: Ada" || r.priority != "high" || r.tags != "desktop_computer,x" || r.auth != "Bearer tk" {
		t.Errorf("unexpected headers %+v", r)
	}
	if r.space != "space-1" || r.stream != "stream-7" || r.generation != "4" || r.state != capture.StateFailed.String() {
		t.Errorf("unexpected session headers %+v", r)
	}
	for _, want := range []string{"Space: space-1", "Published: 3", "Uptime: 1m30s", "Error: publish frame: boom"} {
		if !strings.Contains(r.body, want) {
			t.Errorf("body missing %q:\n%s", want, r.body)
		}
	}
}

func TestClient_StatusError(t *testing.T) {
	server, _ := startNtfy(t, http.StatusForbidden)
	cfg := &Config{Enabled: true, Server: server.URL, Topic: "alerts", Priority: "default"}
	if err := NewClient(cfg, zap.NewNop()).SendStarted(context.Background(), Report{}); err == nil {
		t.Error("expected error for 403")
	}
}

func TestNew_DisabledIsNoop(t *testing.T) {
	n := New(&Config{}, zap.NewNop())
	if _, ok := n.(*NoopNotifier); !ok {
		t.Fatalf("expected NoopNotifier, got %T", n)
	}
	if err := n.SendFailure(context.Background(), Report{}); err != nil {
		t.Error(err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"valid", Config{Enabled: true, Topic: "t", Priority: "high"}, false},
		{"missing topic", Config{Enabled: true, Priority: "high"}, true},
		{"bad priority", Config{Enabled: true, Topic: "t", Priority: "loud"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWatcher_SendsOnTransitions(t *testing.T) {
	server, requests := startNtfy(t, http.StatusOK)
	cfg := &Config{Enabled: true, Server: server.URL, Topic: "alerts", Priority: "default"}
	w := NewWatcher(New(cfg, zap.NewNop()), "space-1", "Ada", zap.NewNop())

	w.Observe(capture.Status{State: capture.StateActive, Generation: 1, StreamID: "s1"})
	w.Observe(capture.Status{State: capture.StateActive, Generation: 1, StreamID: "s1"})
	w.Observe(capture.Status{State: capture.StateFailed, Generation: 2, Message: "capture stream finished"})
	w.Observe(capture.Status{State: capture.StateIdle, Generation: 3})
	w.Wait()

	reqs := requests()
	if len(reqs) != 2 {
		t.Fatalf("expected started + failed, got %d requests", len(reqs))
	}
	titles := reqs[0].title + "|" + reqs[1].title
	if !strings.Contains(titles, "Sharing started: Ada") || !strings.Contains(titles, "Sharing failed: Ada") {
		t.Errorf("unexpected titles %s", titles)
	}
}
