package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpwatch/internal/types"
)

func TestExecuteRebalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rebalance", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req rebalanceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pos1", req.PositionID)
		assert.Equal(t, 10, req.Options.BinsPerSide)
		assert.Equal(t, types.ReasonOutOfRange, req.Options.ReasonCode)
		_, _ = w.Write([]byte(`{"success":true,"new_position_id":"pos2","new_lower_bin_id":25,"new_upper_bin_id":45,"fees_claimed_usd":3.5,"transaction_cost_usd":0.08,"signatures":["sig1","sig2"]}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL + "/", Token: "secret"})
	require.NoError(t, err)
	res, err := c.ExecuteRebalance(context.Background(),
		types.Position{ID: "pos1", PoolID: "poolA", LowerBin: -20, UpperBin: 20, ActiveBin: 35},
		types.RebalanceOptions{BinsPerSide: 10, SlippageBps: 100, Strategy: "spot", ReasonCode: types.ReasonOutOfRange})
	require.NoError(t, err)
	assert.Equal(t, "pos2", res.NewPositionID)
	assert.Equal(t, 25, res.NewLower)
	assert.Equal(t, []string{"sig1", "sig2"}, res.Signatures)
}

func TestExecuteRebalanceFailures(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"http error":       {http.StatusInternalServerError, "boom"},
		"reported failure": {http.StatusOK, `{"success":false,"error":"slippage exceeded"}`},
		"missing new id":   {http.StatusOK, `{"success":true}`},
		"bad json":         {http.StatusOK, `{`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			c, err := New(Config{URL: srv.URL})
			require.NoError(t, err)
			_, err = c.ExecuteRebalance(context.Background(), types.Position{ID: "p"}, types.RebalanceOptions{})
			assert.Error(t, err)
		})
	}
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
