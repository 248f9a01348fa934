package observability_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/hopmq/internal/devbroker"
	"github.com/danmuck/hopmq/internal/observability"
	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/protocol/session"
	"github.com/danmuck/hopmq/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusRouterHealthAndMetrics(t *testing.T) {
	testlog.Start(t)

	r := observability.NewStatusRouter(observability.StatusOptions{Node: "status-test"})
	rec := get(t, r, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "status-test", body["node"])

	rec = get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "hopmq_http_requests_total"))

	assert.Equal(t, http.StatusNotFound, get(t, r, "/sessions").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/queues").Code)
}

func TestStatusRouterReportsSessionsAndQueues(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	b, err := devbroker.New(devbroker.Config{
		Listen: "127.0.0.1:0",
		VHosts: []devbroker.VHostSpec{{
			Name:      "MQ_HOST",
			Exchanges: []devbroker.ExchangeSpec{{Name: "base_exc", Routing: frame.Direct}},
			Queues:    []devbroker.QueueSpec{{Name: "base_queue", Bindings: []string{"base_exc"}}},
		}},
	})
	require.NoError(t, err)
	b.SetObserver(observability.NewBrokerMetrics("router-test-broker"))
	require.NoError(t, b.Listen())
	b.Serve()
	t.Cleanup(func() { _ = b.Close() })

	cfg := session.DefaultConfig()
	cfg.Address = b.Addr().String()
	cfg.ReadTimeout = 200 * time.Millisecond
	s, err := session.Dial(ctx, cfg, session.WithObserver(observability.NewSessionMetrics("router-test")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	_, err = s.CreateChannel(ctx, "MQ_CHANNEL")
	require.NoError(t, err)

	r := observability.NewStatusRouter(observability.StatusOptions{
		Node:     "router-test",
		Sessions: func() []*session.Session { return []*session.Session{s} },
		Queues:   b.Stats,
	})

	rec := get(t, r, "/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions struct {
		Sessions []session.Stats `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, s.ID(), sessions.Sessions[0].ID)
	require.Len(t, sessions.Sessions[0].Channels, 1)
	assert.Equal(t, "MQ_CHANNEL", sessions.Sessions[0].Channels[0].Name)

	rec = get(t, r, "/queues")
	require.Equal(t, http.StatusOK, rec.Code)
	var queues struct {
		VHosts []devbroker.VHostStats `json:"vhosts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queues))
	require.Len(t, queues.VHosts, 1)
	assert.Equal(t, "MQ_HOST", queues.VHosts[0].Name)
	require.Len(t, queues.VHosts[0].Queues, 1)
	assert.Equal(t, "base_queue", queues.VHosts[0].Queues[0].Name)
}

func TestServeStatusStopsOnCancel(t *testing.T) {
	testlog.Start(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- observability.ServeStatus(ctx, "127.0.0.1:0", http.NotFoundHandler())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeStatus did not return after cancel")
	}
}
