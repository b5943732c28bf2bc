package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tickmatch/tickmatch/internal/trading/contract"
	"github.com/tickmatch/tickmatch/internal/trading/engine"
	"github.com/tickmatch/tickmatch/internal/trading/model"
)

func newTestServer(t *testing.T) (*HTTPServer, *engine.Engine) {
	t.Helper()
	cs, err := contract.New("ESZ5", 25, 400000, 650000)
	require.NoError(t, err)
	eng, err := engine.New(engine.Config{Partitions: 1}, []engine.BookSpec{{Contract: cs}}, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	t.Cleanup(func() {
		if eng.Stats().Running {
			require.NoError(t, eng.Stop())
			for range eng.Outputs() {
			}
		}
	})
	conv := NewPriceConverter(map[string]int32{"ESZ5": 2})
	return NewHTTPServer(HTTPConfig{}, eng, conv, nil, zap.NewNop()), eng
}

func doGet(t *testing.T, srv *HTTPServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHTTPServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doGet(t, srv, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestHTTPServer_Stats(t *testing.T) {
	srv, eng := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := eng.SubmitOrderWait(ctx, "", &model.NewOrderRequest{
		UserID: 1, Symbol: "ESZ5", Side: model.Buy, Price: 500000, Quantity: 1,
	})
	require.NoError(t, err)

	w := doGet(t, srv, "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var st engine.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.Symbols)
	assert.Equal(t, int64(1), st.Processed)
}

func TestHTTPServer_Contracts(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doGet(t, srv, "/api/v1/contracts")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Symbols []string `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"ESZ5"}, body.Symbols)
}

func TestHTTPServer_BookDepthDisplaysPrices(t *testing.T) {
	srv, eng := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, req := range []*model.NewOrderRequest{
		{UserID: 1, Symbol: "ESZ5", Side: model.Buy, Price: 500025, Quantity: 3},
		{UserID: 2, Symbol: "ESZ5", Side: model.Buy, Price: 500000, Quantity: 1},
		{UserID: 3, Symbol: "ESZ5", Side: model.Sell, Price: 500075, Quantity: 2},
	} {
		_, err := eng.SubmitOrderWait(ctx, "", req)
		require.NoError(t, err)
	}

	w := doGet(t, srv, "/api/v1/book/ESZ5?levels=5")
	require.Equal(t, http.StatusOK, w.Code)

	var depth DepthPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &depth))
	assert.Equal(t, "ESZ5", depth.Symbol)
	require.Len(t, depth.Bids, 2)
	require.Len(t, depth.Asks, 1)
	assert.Equal(t, "5000.25", depth.Bids[0].Price)
	assert.Equal(t, uint64(3), depth.Bids[0].Quantity)
	assert.Equal(t, "5000", depth.Bids[1].Price)
	assert.Equal(t, "5000.75", depth.Asks[0].Price)
}

func TestHTTPServer_BookDepthUnknownSymbol(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doGet(t, srv, "/api/v1/book/ZZZ9")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTPServer_BookDepthBadLevels(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doGet(t, srv, "/api/v1/book/ESZ5?levels=many")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPServer_BookDepthEngineStopped(t *testing.T) {
	srv, eng := newTestServer(t)
	require.NoError(t, eng.Stop())
	for range eng.Outputs() {
	}

	w := doGet(t, srv, "/api/v1/book/ESZ5")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHTTPServer_MetricsExported(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doGet(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tickmatch_")
}
