package server

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/aristath/rateintel/internal/config"
	"github.com/aristath/rateintel/internal/di"
	"github.com/aristath/rateintel/internal/events"
	"github.com/aristath/rateintel/internal/services"
)

var origin = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

const historyDays = 60

func newTestServer(t *testing.T) (*Server, *di.Container) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:  dir,
		LogLevel: "info",
		Port:     8001,
		DevMode:  true,
		Registry: config.RegistryConfig{Backend: config.RegistryFS, Dir: filepath.Join(dir, "models")},
		Forecasting: config.ForecastingConfig{
			Workers:              2,
			TrainingLookbackDays: 365,
			RecentLookbackDays:   90,
			InsightWindowDays:    90,
			Variants:             []string{"ensemble", "decomposition"},
		},
	}

	container, jobs, err := di.Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	container.ForecastService.SetClock(func() time.Time {
		return origin.AddDate(0, 0, historyDays).Add(9 * time.Hour)
	})

	srv := New(Config{Log: zerolog.Nop(), Config: cfg, Container: container, Jobs: jobs, DevMode: true})
	return srv, container
}

func ratesCSV() string {
	var b strings.Builder
	b.WriteString("hotel_id,name,location,is_own,date,rate\n")
	for i := 0; i < historyDays; i++ {
		day := origin.AddDate(0, 0, i).Format("2006-01-02")
		rate := 150 + 20*math.Sin(2*math.Pi*float64(i)/7)
		fmt.Fprintf(&b, "own,Harbor,athens,true,%s,%.2f\n", day, rate)
		fmt.Fprintf(&b, "rival,Plaza,athens,false,%s,%.2f\n", day, rate*1.2)
	}
	fmt.Fprintf(&b, "loner,Hut,delphi,false,%s,90\n", origin.Format("2006-01-02"))
	return b.String()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_ImportTrainForecastInsight(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/rates/import", ratesCSV())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, fmt.Sprintf(`{"hotels":3,"observations":%d}`, 2*historyDays+1), rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/forecasting/hotels/own/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"untrained"`)

	rec = do(t, h, http.MethodPost, "/api/forecasting/hotels/own/train", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report services.TrainingReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, []string{"decomposition", "ensemble"}, report.Trained())

	rec = do(t, h, http.MethodGet, "/api/forecasting/hotels/own/forecast?days=5", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result services.ForecastResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Points, 10)
	assert.Empty(t, result.Failures)

	rec = do(t, h, http.MethodGet, "/api/forecasting/hotels/own/forecast", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, defaultForecastDays, result.Horizon)

	rec = do(t, h, http.MethodGet, "/api/forecasting/hotels/own/insights", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"below_market"`)

	rec = do(t, h, http.MethodGet, "/api/forecasting/hotels/loner/insights", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/forecasting/hotels/own/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"untrained"`)
}

func TestServer_TrainOwnHotels(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/rates/import", ratesCSV()).Code)

	rec := do(t, h, http.MethodPost, "/api/forecasting/train", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var batch services.BatchReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	assert.Equal(t, 1, batch.Completed)
	assert.Contains(t, batch.Reports, "own")
}

func TestServer_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for _, path := range []string{
		"/api/forecasting/hotels/own/forecast?days=0",
		"/api/forecasting/hotels/own/forecast?days=400",
		"/api/forecasting/hotels/own/forecast?days=soon",
	} {
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, path, "").Code, path)
	}

	rec := do(t, h, http.MethodPost, "/api/rates/import", "hotel_id,rate\nown,100\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SystemEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.NotNil(t, status.Database)
	assert.Equal(t, []string{"ensemble", "decomposition"}, status.Variants)

	rec = do(t, h, http.MethodGet, "/api/system/database/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)

	rec = do(t, h, http.MethodPost, "/api/system/jobs/check-database", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/system/jobs/backup", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/system/backups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":1`)

	rec = do(t, h, http.MethodGet, "/api/work/types", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "forecast:train")
}

func TestEventsStream_SSE(t *testing.T) {
	srv, container := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream?types=RATES_IMPORTED", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "connected")

	// Filtered out
	container.EventManager.EmitTyped("test", &events.InsightGeneratedData{EntityID: "own"})
	container.EventManager.EmitTyped("test", &events.RatesImportedData{Hotels: 2, Observations: 7})

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Contains(t, line, "RATES_IMPORTED")
	assert.Contains(t, line, `"observations":7`)

	cancel()
	assert.Eventually(t, func() bool {
		return container.EventBus.SubscriberCount(events.RatesImported) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventsStream_WebSocket(t *testing.T) {
	srv, container := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return container.EventBus.SubscriberCount(events.ModelTrained) > 0
	}, 2*time.Second, 10*time.Millisecond)

	container.EventManager.EmitTyped("test", &events.ModelTrainedData{EntityID: "own", Variant: "ensemble", MAE: 1.5})

	_, msg, err := conn.Read(ctx)
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(msg, &payload))
	assert.Equal(t, "MODEL_TRAINED", payload["type"])
	assert.Equal(t, "test", payload["module"])
}

func TestEventsStream_WebSocketOriginCheck(t *testing.T) {
	foreign := &websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{"http://dashboard.example"}}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("rejects foreign origin by default", func(t *testing.T) {
		srv, _ := newTestServer(t)
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events/ws", foreign)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("accepts configured origin pattern", func(t *testing.T) {
		stream := NewEventsStreamHandler(events.NewBus(zerolog.Nop()), []string{"dashboard.example"}, zerolog.Nop())
		ts := httptest.NewServer(http.HandlerFunc(stream.ServeWebSocket))
		defer ts.Close()

		conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), foreign)
		require.NoError(t, err)
		conn.Close(websocket.StatusNormalClosure, "")
	})
}
