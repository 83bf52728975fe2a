package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/quentinrf/aquaflow/internal/domain"
	"github.com/quentinrf/aquaflow/internal/ports"
)

type fakeDashboard struct {
	mu      sync.Mutex
	view    ports.View
	ready   bool
	pump    domain.PumpCommand
	resets  int
	failErr error
}

func (f *fakeDashboard) View() ports.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeDashboard) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeDashboard) SetPump(_ context.Context, cmd domain.PumpCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.pump = cmd
	return nil
}

func (f *fakeDashboard) Reset(context.Context) (domain.UsageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return domain.UsageSnapshot{}, f.failErr
	}
	f.resets++
	return domain.UsageSnapshot{}, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	routes []string
}

func (o *recordingObserver) ObserveHTTPRequest(route, method string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, method+" "+route)
}

func sampleView() ports.View {
	usage := domain.UsageSnapshot{TotalLiters: 15, TotalPrice: 4.5, LastFlow2: 105}
	return ports.NewView(0.5, 0.1, domain.LeakAbnormal, domain.PumpOn, usage, true)
}

func TestDashboardEndpoints(t *testing.T) {
	dash := &fakeDashboard{view: sampleView(), ready: true}
	srv := httptest.NewServer(NewRouter(dash, NewHub(), Options{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/dashboard")
	if err != nil {
		t.Fatalf("GET /api/dashboard failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var v ports.View
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if v.Flow1 != "8.3" || v.TotalLiters != "15.00" || v.TotalPrice != "4.50" {
		t.Errorf("unexpected view: %+v", v)
	}
	if v.Leak != domain.LeakAbnormal || v.Pump != domain.PumpOn {
		t.Errorf("leak/pump = %v/%v", v.Leak, v.Pump)
	}

	resp2, err := http.Get(srv.URL + "/api/usage")
	if err != nil {
		t.Fatalf("GET /api/usage failed: %v", err)
	}
	defer resp2.Body.Close()

	var snap domain.UsageSnapshot
	if err := json.NewDecoder(resp2.Body).Decode(&snap); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snap.LastFlow2 != 105 {
		t.Errorf("LastFlow2 = %v, want 105", snap.LastFlow2)
	}
}

func TestReadyz(t *testing.T) {
	dash := &fakeDashboard{}
	router := NewRouter(dash, NewHub(), Options{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before load = %d, want 503", rec.Code)
	}

	dash.mu.Lock()
	dash.ready = true
	dash.mu.Unlock()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz after load = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}
}

func TestPump(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		failErr    error
		wantStatus int
		wantPump   domain.PumpCommand
	}{
		{name: "on", body: `{"state":"ON"}`, wantStatus: http.StatusOK, wantPump: domain.PumpOn},
		{name: "lowercase off", body: `{"state":"off"}`, wantStatus: http.StatusOK, wantPump: domain.PumpOff},
		{name: "auto", body: `{"state":"AUTO"}`, wantStatus: http.StatusOK, wantPump: domain.PumpAuto},
		{name: "unknown state", body: `{"state":"MAYBE"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", body: `{"state":`, wantStatus: http.StatusBadRequest},
		{name: "store closed", body: `{"state":"ON"}`, failErr: domain.ErrStoreClosed, wantStatus: http.StatusServiceUnavailable},
		{name: "store failure", body: `{"state":"ON"}`, failErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dash := &fakeDashboard{failErr: tt.failErr}
			router := NewRouter(dash, NewHub(), Options{})

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/pump", strings.NewReader(tt.body))
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if dash.pump != tt.wantPump {
				t.Errorf("pump = %q, want %q", dash.pump, tt.wantPump)
			}
		})
	}
}

func TestReset(t *testing.T) {
	dash := &fakeDashboard{}
	router := NewRouter(dash, NewHub(), Options{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/usage/reset", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if dash.resets != 1 {
		t.Errorf("resets = %d, want 1", dash.resets)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage/reset", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET reset = %d, want 405", rec.Code)
	}
}

func TestActionsAreRateLimited(t *testing.T) {
	dash := &fakeDashboard{}
	router := NewRouter(dash, NewHub(), Options{
		ActionLimiter: NewIPRateLimiter(rate.Every(time.Hour), 2, quartz.NewReal()),
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/usage/reset", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	// Another client has its own bucket.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/usage/reset", nil)
	req.RemoteAddr = "192.0.2.2:1234"
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second client = %d, want 200", rec.Code)
	}

	// Reads are never limited.
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("dashboard read %d = %d, want 200", i, rec.Code)
		}
	}
}

func TestActionLimiterIgnoresForwardedForByDefault(t *testing.T) {
	dash := &fakeDashboard{}
	router := NewRouter(dash, NewHub(), Options{
		ActionLimiter: NewIPRateLimiter(rate.Every(time.Hour), 2, quartz.NewReal()),
	})

	accepted := 0
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/usage/reset", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i))
		router.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			accepted++
		}
	}
	if accepted != 2 {
		t.Errorf("accepted %d resets from one peer with forged headers, want 2", accepted)
	}
	if dash.resets != 2 {
		t.Errorf("resets = %d, want 2", dash.resets)
	}
}

func TestActionLimiterTrustsProxyHeadersWhenEnabled(t *testing.T) {
	dash := &fakeDashboard{}
	router := NewRouter(dash, NewHub(), Options{
		ActionLimiter:     NewIPRateLimiter(rate.Every(time.Hour), 1, quartz.NewReal()),
		TrustProxyHeaders: true,
	})

	tests := []struct {
		forwardedFor string
		want         int
	}{
		{forwardedFor: "203.0.113.10", want: http.StatusOK},
		{forwardedFor: "203.0.113.11", want: http.StatusOK},
		{forwardedFor: "203.0.113.10", want: http.StatusTooManyRequests},
	}

	for i, tt := range tests {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/usage/reset", nil)
		req.RemoteAddr = "10.0.0.1:1234" // the proxy
		req.Header.Set("X-Forwarded-For", tt.forwardedFor)
		router.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("request %d from %s = %d, want %d", i, tt.forwardedFor, rec.Code, tt.want)
		}
	}
}

func TestObserverUsesRoutePattern(t *testing.T) {
	obs := &recordingObserver{}
	router := NewRouter(&fakeDashboard{}, NewHub(), Options{Observer: obs})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.routes) != 2 {
		t.Fatalf("observed %d requests, want 2", len(obs.routes))
	}
	if obs.routes[0] != "GET /api/dashboard" {
		t.Errorf("route = %q, want GET /api/dashboard", obs.routes[0])
	}
	if obs.routes[1] != "GET unmatched" {
		t.Errorf("route = %q, want GET unmatched", obs.routes[1])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("aquaflow_ready 1\n"))
	})
	router := NewRouter(&fakeDashboard{}, NewHub(), Options{Metrics: metricsHandler})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "aquaflow_ready") {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStream(t *testing.T) {
	dash := &fakeDashboard{view: sampleView(), ready: true}
	hub := NewHub()
	srv := httptest.NewServer(NewRouter(dash, hub, Options{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.CloseNow()

	var first ports.View
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read initial view failed: %v", err)
	}
	if first.TotalLiters != "15.00" {
		t.Errorf("initial TotalLiters = %q, want 15.00", first.TotalLiters)
	}

	// The initial view is written after subscribing, so the hub knows us now.
	if hub.Len() != 1 {
		t.Fatalf("hub clients = %d, want 1", hub.Len())
	}

	next := ports.NewView(0, 0, domain.LeakNormal, domain.PumpOff, domain.UsageSnapshot{}, true)
	hub.Render(next)

	var got ports.View
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read update failed: %v", err)
	}
	if got.Pump != domain.PumpOff || got.TotalLiters != "0.00" {
		t.Errorf("update = %+v", got)
	}

	hub.Close()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v, want going away", websocket.CloseStatus(err))
	}
}

func TestHub_KeepsOnlyLatestForSlowClient(t *testing.T) {
	hub := NewHub()
	id, updates := hub.subscribe()
	defer hub.unsubscribe(id)

	for _, pump := range []domain.PumpCommand{domain.PumpOn, domain.PumpOff, domain.PumpAuto} {
		hub.Render(ports.View{Pump: pump})
	}

	if got := (<-updates).Pump; got != domain.PumpAuto {
		t.Errorf("pump = %v, want latest AUTO", got)
	}
	select {
	case v := <-updates:
		t.Errorf("unexpected extra view %+v", v)
	default:
	}
}
