package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"ex-snipe/modules/snipe"
	"ex-snipe/pkg/otogi"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	if _, err := snipe.NewMetrics(registry); err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	server := New("127.0.0.1:0",
		WithLogger(discardLogger()),
		WithGatherer(registry),
		WithSnipe(snipeStatusStub{}),
		WithSinks(sinkListerStub{sinks: []otogi.EventSink{{Platform: otogi.PlatformTelegram, ID: "tg-main"}}}),
		WithSubscriptions(subscriptionListerStub{}),
	)

	tests := []struct {
		name         string
		path         string
		wantStatus   int
		wantContains []string
	}{
		{name: "health", path: "/healthz", wantStatus: http.StatusOK, wantContains: []string{`"status":"ok"`}},
		{
			name:         "settings",
			path:         "/settings",
			wantStatus:   http.StatusOK,
			wantContains: []string{`"snipe_response_type":"embed"`, `"tracked_messages":3`},
		},
		{name: "drivers", path: "/drivers", wantStatus: http.StatusOK, wantContains: []string{`"id":"tg-main"`}},
		{
			name:         "subscriptions",
			path:         "/subscriptions",
			wantStatus:   http.StatusOK,
			wantContains: []string{`"name":"snipe-tracker"`, `"backpressure":"drop_oldest"`, `"dropped":2`},
		},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, wantContains: []string{"otogi_snipe_tracked_messages"}},
		{name: "unknown", path: "/nope", wantStatus: http.StatusNotFound},
	}

	handler := server.Handler()
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, testCase.path, nil))
			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, testCase.wantStatus)
			}
			body := recorder.Body.String()
			for _, want := range testCase.wantContains {
				if !strings.Contains(body, want) {
					t.Fatalf("body missing %q:\n%s", want, body)
				}
			}
		})
	}
}

func TestServerWithoutSnipe(t *testing.T) {
	t.Parallel()

	handler := New("127.0.0.1:0", WithLogger(discardLogger())).Handler()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/settings", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("settings status = %d, want 404", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/drivers", nil))
	var body struct {
		Sinks []sinkResponse `json:"sinks"`
	}
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode drivers: %v", err)
	}
	if body.Sinks == nil || len(body.Sinks) != 0 {
		t.Fatalf("sinks = %#v, want empty list", body.Sinks)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/subscriptions", nil))
	if body := recorder.Body.String(); !strings.Contains(body, `"subscriptions":[]`) {
		t.Fatalf("subscriptions body = %s, want empty list", body)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("metrics status = %d, want 404 without gatherer", recorder.Code)
	}
}

func TestServerStartShutdown(t *testing.T) {
	t.Parallel()

	server := New("127.0.0.1:0", WithLogger(discardLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := server.Start(ctx); err == nil {
		t.Fatal("second Start succeeded")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	response, err := client.Get("http://" + server.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_, _ = io.Copy(io.Discard, response.Body)
	_ = response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", response.StatusCode)
	}
	client.CloseIdleConnections()

	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if server.Addr() != "" {
		t.Fatalf("Addr() = %q after shutdown, want empty", server.Addr())
	}
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("repeated Shutdown failed: %v", err)
	}
}

type snipeStatusStub struct{}

func (snipeStatusStub) Settings() snipe.Settings {
	return snipe.DefaultSettings()
}

func (snipeStatusStub) Stats() snipe.Stats {
	return snipe.Stats{TrackedMessages: 3}
}

type subscriptionListerStub struct{}

func (subscriptionListerStub) Subscriptions() []otogi.SubscriptionStats {
	return []otogi.SubscriptionStats{{
		Name:         "snipe-tracker",
		Backpressure: otogi.BackpressureDropOldest,
		Buffer:       256,
		Workers:      1,
		Delivered:    40,
		Dropped:      2,
	}}
}

type sinkListerStub struct {
	sinks []otogi.EventSink
}

func (s sinkListerStub) Sinks() []otogi.EventSink {
	return s.sinks
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
