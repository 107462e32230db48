package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tc.com/oracle-consensus/pkg/logging"
	"tc.com/oracle-consensus/pkg/oracle/engine"
)

var testSignature = strings.Repeat("ab", 32)

type fakeClock struct {
	now uint64
}

func (c *fakeClock) Now() uint64 { return c.now }

func newTestServer() (*http.ServeMux, *fakeClock) {
	clk := &fakeClock{now: 1_700_000_000}
	eng := engine.New(engine.Config{Admin: "admin"}, clk, logging.NewNoopLogger())
	srv := NewServer(":0", eng, logging.NewNoopLogger())
	return srv.routes(), clk
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, caller string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set(callerHeader, caller)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func registerNode(t *testing.T, mux *http.ServeMux, id string, stake string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, mux, http.MethodPost, "/v1/nodes", "", map[string]interface{}{
		"node_id": id,
		"stake":   stake,
	})
}

func submitPrice(t *testing.T, mux *http.ServeMux, caller string, price, timestamp uint64) *httptest.ResponseRecorder {
	t.Helper()
	return doJSON(t, mux, http.MethodPost, "/v1/prices", caller, map[string]interface{}{
		"asset":     "XLM",
		"price":     price,
		"timestamp": timestamp,
		"signature": testSignature,
	})
}

// seedConsensus registers three nodes, runs the warm-up round and the
// follow-up submission that produces the first reliable aggregate.
func seedConsensus(t *testing.T, mux *http.ServeMux, clk *fakeClock) {
	t.Helper()
	for _, id := range []string{"node1", "node2", "node3"} {
		rec := registerNode(t, mux, id, "2000")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	for _, s := range []struct {
		id    string
		price uint64
	}{
		{"node1", 1_000_000},
		{"node2", 1_010_000},
		{"node3", 1_005_000},
	} {
		rec := submitPrice(t, mux, s.id, s.price, clk.now)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	clk.now += 60
	rec := submitPrice(t, mux, "node1", 1_006_000, clk.now)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp submitPriceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Aggregated)
}

func TestHandleHealth(t *testing.T) {
	mux, _ := newTestServer()

	rec := doJSON(t, mux, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleRegisterNode(t *testing.T) {
	mux, _ := newTestServer()

	rec := registerNode(t, mux, "node1", "2000")
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate registration conflicts.
	rec = registerNode(t, mux, "node1", "2000")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Below the stake minimum.
	rec = registerNode(t, mux, "node2", "500")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleNodeInfo(t *testing.T) {
	mux, _ := newTestServer()
	registerNode(t, mux, "node1", "2000")

	rec := doJSON(t, mux, http.MethodGet, "/v1/nodes/node1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var node struct {
		ID              string `json:"id"`
		ReputationScore uint32 `json:"reputation_score"`
		StakeAmount     uint64 `json:"stake_amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))
	assert.Equal(t, "node1", node.ID)
	assert.Equal(t, uint32(100), node.ReputationScore)
	assert.Equal(t, uint64(2000*10_000_000), node.StakeAmount)

	rec = doJSON(t, mux, http.MethodGet, "/v1/nodes/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSubmitPrice_RequiresCaller(t *testing.T) {
	mux, clk := newTestServer()

	rec := submitPrice(t, mux, "", 1_000_000, clk.now)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSubmitPrice_Unregistered(t *testing.T) {
	mux, clk := newTestServer()

	rec := submitPrice(t, mux, "ghost", 1_000_000, clk.now)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unregistered node")
}

func TestHandleGetPrice(t *testing.T) {
	mux, clk := newTestServer()
	seedConsensus(t, mux, clk)

	rec := doJSON(t, mux, http.MethodGet, "/v1/prices/XLM", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp aggregatedPriceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "XLM", resp.Asset)
	assert.Equal(t, uint64(1_006_000), resp.Price)
	assert.Equal(t, "0.1006", resp.PriceDisplay)
	assert.Equal(t, uint32(3), resp.NumSources)
}

func TestHandleGetPrice_NotFound(t *testing.T) {
	mux, _ := newTestServer()

	rec := doJSON(t, mux, http.MethodGet, "/v1/prices/XLM", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetPrice_StaleFallsBackToHistory(t *testing.T) {
	mux, clk := newTestServer()
	seedConsensus(t, mux, clk)

	clk.now += 400 // past the live staleness threshold

	rec := doJSON(t, mux, http.MethodGet, "/v1/prices/XLM", "", nil)
	assert.Equal(t, http.StatusGone, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/v1/prices/XLM/fallback", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp aggregatedPriceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1_006_000), resp.Price)
}

func TestHandlePriceHistory(t *testing.T) {
	mux, clk := newTestServer()
	seedConsensus(t, mux, clk)

	rec := doJSON(t, mux, http.MethodGet, "/v1/prices/XLM/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var history []aggregatedPriceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 1)

	rec = doJSON(t, mux, http.MethodGet, "/v1/prices/XLM/history?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAdminEndpoints(t *testing.T) {
	mux, _ := newTestServer()
	registerNode(t, mux, "node1", "2000")

	rec := doJSON(t, mux, http.MethodPost, "/v1/admin/deactivate", "mallory", map[string]string{"node_id": "node1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/v1/admin/deactivate", "admin", map[string]string{"node_id": "node1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/v1/admin/slash", "admin", map[string]interface{}{
		"node_id": "node1",
		"amount":  "1500",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleEmergencyStop(t *testing.T) {
	mux, clk := newTestServer()
	seedConsensus(t, mux, clk)

	rec := doJSON(t, mux, http.MethodPost, "/v1/admin/emergency", "admin", map[string]bool{"active": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/v1/prices/XLM", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = submitPrice(t, mux, "node1", 1_006_000, clk.now)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/v1/admin/emergency", "admin", map[string]bool{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/v1/prices/XLM", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSupportedAssets(t *testing.T) {
	mux, _ := newTestServer()

	rec := doJSON(t, mux, http.MethodPost, "/v1/assets", "admin", map[string]string{"asset": "XLM"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/v1/assets", "mallory", map[string]string{"asset": "BTC"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/v1/assets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"XLM"}, resp["assets"])
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		raw     string
		want    uint64
		wantErr bool
	}{
		{`12345`, 12345, false},
		{`"0.1006"`, 1_006_000, false},
		{`"2000"`, 20_000_000_000, false},
		{`"0.00000001"`, 0, true}, // below base-unit precision
		{`"-1"`, 0, true},
		{`"abc"`, 0, true},
		{`true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parsePrice(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDisplayPrice(t *testing.T) {
	assert.Equal(t, "0.1006", displayPrice(1_006_000))
	assert.Equal(t, "1", displayPrice(10_000_000))
	assert.Equal(t, "0", displayPrice(0))
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	mux, _ := newTestServer()

	req := httptest.NewRequest(http.MethodDelete, "/v1/prices/XLM", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
