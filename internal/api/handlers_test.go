package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"courieropt/internal/broker"
	"courieropt/internal/config"
	"courieropt/internal/model"
	"courieropt/internal/store"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.Solver.AssignmentTimeLimit = 200 * time.Millisecond
	cfg.Solver.RouteTimeLimit = 200 * time.Millisecond
	cfg.Solver.UnimprovedStepLimit = 200
	cfg.Solver.Seed = 3
	s := newServer(cfg, store.NewMemory(), broker.NewBroker(), zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	var req *http.Request
	if rdr != nil {
		req = httptest.NewRequest(method, path, rdr)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func seed(t *testing.T, s *Server) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Store.UpsertPartner(ctx, model.Partner{ID: "p1", Status: model.PartnerOnline, Active: true, Location: &model.GeoPoint{Lat: 0, Lng: 0}})
	require.NoError(t, err)
	for i, id := range []string{"o1", "o2"} {
		_, err := s.Store.UpsertOrder(ctx, model.Order{ID: id, Status: model.OrderReady, Delivery: &model.GeoPoint{Lat: 0, Lng: 0.01 * float64(i+1)}})
		require.NoError(t, err)
	}
}

func TestHealthReady(t *testing.T) {
	_, h := newTestServer(t)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/admin/debug", "").Code)
}

func TestOptimizeAssignmentsSnapshot(t *testing.T) {
	_, h := newTestServer(t)
	body := `{"partners":[{"partnerId":"a","lat":0,"lon":0,"online":true,"maxCapacity":2},
	                      {"partnerId":"b","lat":0,"lon":1,"online":true,"maxCapacity":2}],
	          "orders":[{"orderId":"o1","lat":0,"lon":0.01},{"orderId":"o2","lat":0,"lon":0.99}]}`
	rr := do(t, h, http.MethodPost, "/v1/assignments/optimize", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[model.AssignmentResult](t, rr)
	assert.Equal(t, map[string]string{"o1": "a", "o2": "b"}, res.Assignments)
	assert.True(t, res.Score.Feasible)
	assert.NotEmpty(t, res.RunID)
}

func TestOptimizeAssignmentsStoreFlow(t *testing.T) {
	s, h := newTestServer(t)
	seed(t, s)
	rr := do(t, h, http.MethodPost, "/v1/assignments/optimize", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[model.AssignmentResult](t, rr)
	assert.Len(t, res.Assignments, 2)

	o, err := s.Store.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderPickUp, o.Status)

	rr = do(t, h, http.MethodGet, "/v1/admin/solve-runs?kind=assignment", "")
	require.Equal(t, http.StatusOK, rr.Code)
	runs := decode[struct {
		Items []model.SolveRun `json:"items"`
	}](t, rr)
	assert.Len(t, runs.Items, 1)

	// then route the partner
	rr = do(t, h, http.MethodPost, "/v1/partners/p1/route", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	plan := decode[model.RoutePlan](t, rr)
	require.Len(t, plan.Stops, 2)
	assert.Equal(t, "o1", plan.Stops[0].OrderID)

	rr = do(t, h, http.MethodPost, "/v1/routes/plan-all", "")
	require.Equal(t, http.StatusOK, rr.Code)
	batch := decode[model.RouteBatch](t, rr)
	require.Len(t, batch.Routes, 1)
	assert.Equal(t, "p1", batch.Routes[0].PartnerID)
	assert.Empty(t, batch.Failures)
}

func TestOptimizeValidation(t *testing.T) {
	_, h := newTestServer(t)
	cases := []struct {
		name, path, body string
		status           int
	}{
		{"bad json", "/v1/assignments/optimize", `{"partners":`, http.StatusBadRequest},
		{"unknown field", "/v1/assignments/optimize", `{"partnerz":[]}`, http.StatusBadRequest},
		{"zero capacity", "/v1/assignments/optimize", `{"partners":[{"partnerId":"a","maxCapacity":0}],"orders":[{"orderId":"o"}]}`, http.StatusBadRequest},
		{"half coordinate", "/v1/assignments/optimize", `{"partners":[{"partnerId":"a","maxCapacity":1,"lat":1}],"orders":[]}`, http.StatusBadRequest},
		{"duplicate partner", "/v1/assignments/optimize", `{"partners":[{"partnerId":"a","maxCapacity":1},{"partnerId":"a","maxCapacity":1}],"orders":[{"orderId":"o"}]}`, http.StatusUnprocessableEntity},
		{"route no body", "/v1/routes/optimize", ``, http.StatusBadRequest},
		{"route no vehicle", "/v1/routes/optimize", `{"stops":[{"orderId":"x"}]}`, http.StatusBadRequest},
		{"reserved assignment id", "/v1/assignments/optimize?problemId=store:assignment", `{"partners":[{"partnerId":"a","maxCapacity":1}],"orders":[{"orderId":"o"}]}`, http.StatusBadRequest},
		{"reserved route id", "/v1/routes/optimize", `{"vehicle":{"partnerId":"store:route:p","capacity":1},"stops":[{"orderId":"x"}]}`, http.StatusBadRequest},
		{"duplicate stop", "/v1/routes/optimize", `{"vehicle":{"partnerId":"p","capacity":2},"stops":[{"orderId":"x"},{"orderId":"x"}]}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
			if rr.Code >= 400 {
				p := decode[Problem](t, rr)
				assert.Equal(t, tc.status, p.Status)
			}
		})
	}
}

func TestOptimizeRouteSnapshot(t *testing.T) {
	_, h := newTestServer(t)
	body := `{"vehicle":{"partnerId":"p9","startLat":0,"startLon":0,"capacity":1},
	          "stops":[{"orderId":"b","lat":0,"lon":0.02},{"orderId":"a","lat":0,"lon":0.01}]}`
	rr := do(t, h, http.MethodPost, "/v1/routes/optimize", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	plan := decode[model.RoutePlan](t, rr)
	require.Len(t, plan.Stops, 2)
	assert.Equal(t, "a", plan.Stops[0].OrderID)
	assert.Equal(t, int64(-1), plan.Score.Hard)
	assert.False(t, plan.Score.Feasible)
	assert.Contains(t, rr.Body.String(), `"sequenceNumber":1`)
}

func TestNotFoundMappings(t *testing.T) {
	_, h := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/v1/partners/ghost/route", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/orders/ghost/eta", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/orders/ghost/route-info", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/jobs/route/ghost", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/v1/jobs/assignment/ghost", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/admin/solve-runs?limit=x", "").Code)
}

func TestLocationAndTracking(t *testing.T) {
	s, h := newTestServer(t)
	ctx := context.Background()
	_, err := s.Store.UpsertPartner(ctx, model.Partner{ID: "p1", Status: model.PartnerOnline, Active: true})
	require.NoError(t, err)
	_, err = s.Store.UpsertOrder(ctx, model.Order{ID: "o1", Status: model.OrderPickUp, PartnerID: "p1", Delivery: &model.GeoPoint{Lat: 1, Lng: 1}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnprocessableEntity, do(t, h, http.MethodGet, "/v1/orders/o1/route-info", "").Code)

	rr := do(t, h, http.MethodPost, "/v1/partners/p1/location", `{"lat":1.5,"lng":1.5}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, map[string]int{"notified": 1}, decode[map[string]int](t, rr))

	rr = do(t, h, http.MethodGet, "/v1/orders/o1/route-info", "")
	require.Equal(t, http.StatusOK, rr.Code)
	info := decode[model.RouteInfo](t, rr)
	assert.Equal(t, &model.GeoPoint{Lat: 1.5, Lng: 1.5}, info.Partner)

	rr = do(t, h, http.MethodGet, "/v1/orders/o1/eta", "")
	require.Equal(t, http.StatusOK, rr.Code)
	eta := decode[model.ETA](t, rr)
	assert.Greater(t, eta.DistanceKm, 50.0)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/partners/p1/location", `{"lat":123,"lng":0}`).Code)
}

func TestLocationRateLimited(t *testing.T) {
	s, h := newTestServer(t)
	_, err := s.Store.UpsertPartner(context.Background(), model.Partner{ID: "p1", Status: model.PartnerOnline})
	require.NoError(t, err)
	var last int
	for i := 0; i <= s.Config.Dispatch.LocationBurst; i++ {
		last = do(t, h, http.MethodPost, "/v1/partners/p1/location", `{"lat":1,"lng":1}`).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestLocationWebSocket(t *testing.T) {
	s, h := newTestServer(t)
	ctx := context.Background()
	_, err := s.Store.UpsertPartner(ctx, model.Partner{ID: "p1", Status: model.PartnerOnline})
	require.NoError(t, err)
	_, err = s.Store.UpsertOrder(ctx, model.Order{ID: "o1", Status: model.OrderPickUp, PartnerID: "p1"})
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/orders/o1/location/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello wsMessage
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "subscribed", hello.Type)

	resp, err := http.Post(srv.URL+"/v1/partners/p1/location", "application/json", bytes.NewBufferString(`{"lat":2,"lng":3}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "location", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, 2.0, msg.Event.Lat)
	assert.Equal(t, "p1", msg.Event.PartnerID)

	// unknown orders are refused before the upgrade
	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/orders/ghost/location/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t)
	do(t, h, http.MethodGet, "/healthz", "")
	rr := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="GET",path="GET /healthz",status="200"}`)
}
