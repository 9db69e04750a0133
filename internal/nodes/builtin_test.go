package nodes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkranes/signalflow/internal/credentials"
	"github.com/nkranes/signalflow/internal/node"
	"github.com/nkranes/signalflow/pkg/schema"
)

func newTestRegistry(t *testing.T, cfg Config) *node.Registry {
	t.Helper()
	reg := node.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, cfg))
	return reg
}

func makeNode(t *testing.T, reg *node.Registry, typeName, id string, params map[string]any, nctx node.Context) node.Node {
	t.Helper()
	registration, err := reg.Get(typeName)
	require.NoError(t, err)
	n, err := registration.New(id, params, nctx)
	require.NoError(t, err)
	return n
}

func TestRegisterBuiltins(t *testing.T) {
	reg := newTestRegistry(t, Config{})

	for _, typeName := range []string{
		"ticker.fetch", "indicator.sma", "filter.expr", "branch.condition",
		"transform.jq", "llm.complete", "display.table", "display.log", "exec.start",
	} {
		assert.True(t, reg.Has(typeName), typeName)
	}

	// Port types of every builtin resolve against the type system.
	assert.Empty(t, node.ValidateDefinitions(reg))

	// Registering twice collides on the first entry.
	err := RegisterBuiltins(reg, Config{})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeConflict, flowErr.Code)
}

func TestTickerFetch(t *testing.T) {
	var gotKey, gotSymbol string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotSymbol = r.URL.Query().Get("symbol")
		json.NewEncoder(w).Encode([][]any{
			{1700000000, "100.5", "101.0", "99.5", "100.8", "12.5"},
			{1700003600, "100.8", "102.0", "100.1", "101.9", "9.1"},
		})
	}))
	defer srv.Close()

	reg := newTestRegistry(t, Config{HTTP: HTTPConfig{Client: srv.Client()}})
	n := makeNode(t, reg, "ticker.fetch", "fetch-1",
		map[string]any{"symbol": "ETHUSDT", "endpoint": srv.URL},
		node.Context{Credentials: credentials.StaticProvider{CredentialMarketAPIKey: "mk-123"}})

	out, err := n.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "mk-123", gotKey)
	assert.Equal(t, "ETHUSDT", gotSymbol)
	assert.Equal(t, "ETHUSDT", out["symbol"])

	candles := out["candles"].([]Candle)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1700000000), candles[0].Time)
	assert.Equal(t, 100.8, candles[0].Close)
	assert.Equal(t, 101.9, candles[1].Close)
}

func TestTickerFetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := newTestRegistry(t, Config{HTTP: HTTPConfig{Client: srv.Client()}})
	n := makeNode(t, reg, "ticker.fetch", "fetch-1",
		map[string]any{"endpoint": srv.URL}, node.Context{})

	_, err := n.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestTickerFetch_MalformedRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode([][]any{{1700000000, "100.5"}})
	}))
	defer srv.Close()

	reg := newTestRegistry(t, Config{HTTP: HTTPConfig{Client: srv.Client()}})
	n := makeNode(t, reg, "ticker.fetch", "fetch-1",
		map[string]any{"endpoint": srv.URL}, node.Context{})

	_, err := n.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 6")
}

func candleFixture(closes ...float64) []Candle {
	candles := make([]Candle, len(closes))
	for i, c := range closes {
		candles[i] = Candle{Time: int64(i), Close: c}
	}
	return candles
}

func TestSMA(t *testing.T) {
	reg := newTestRegistry(t, Config{})
	n := makeNode(t, reg, "indicator.sma", "sma-1", map[string]any{"period": 3}, node.Context{})

	inputs, err := n.ValidateInputs(node.Values{"candles": candleFixture(10, 20, 30, 40, 50)})
	require.NoError(t, err)

	out, err := n.Run(context.Background(), inputs)
	require.NoError(t, err)

	assert.Equal(t, []float64{20, 30, 40}, out["series"])
	assert.Equal(t, 40.0, out["last"])
}

func TestSMA_WireShapeNormalization(t *testing.T) {
	reg := newTestRegistry(t, Config{})
	n := makeNode(t, reg, "indicator.sma", "sma-1", map[string]any{"period": 2}, node.Context{})

	// The shape produced by decoding a stored graph result.
	wire := []any{
		map[string]any{"time": 1.0, "close": 10.0},
		map[string]any{"time": 2.0, "close": 20.0},
	}

	inputs, err := n.ValidateInputs(node.Values{"candles": wire})
	require.NoError(t, err)

	candles := inputs["candles"].([]Candle)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(2), candles[1].Time)
	assert.Equal(t, 20.0, candles[1].Close)
}

func TestSMA_Errors(t *testing.T) {
	reg := newTestRegistry(t, Config{})

	t.Run("missing candles", func(t *testing.T) {
		n := makeNode(t, reg, "indicator.sma", "sma-1", nil, node.Context{})
		_, err := n.ValidateInputs(node.Values{})
		require.Error(t, err)
	})

	t.Run("insufficient candles", func(t *testing.T) {
		n := makeNode(t, reg, "indicator.sma", "sma-1", map[string]any{"period": 5}, node.Context{})
		_, err := n.Run(context.Background(), node.Values{"candles": candleFixture(1, 2)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 5")
	})

	t.Run("non-positive period", func(t *testing.T) {
		n := makeNode(t, reg, "indicator.sma", "sma-1", map[string]any{"period": 0}, node.Context{})
		_, err := n.Run(context.Background(), node.Values{"candles": candleFixture(1, 2)})
		require.Error(t, err)
	})
}

func TestFilterExpr(t *testing.T) {
	reg := newTestRegistry(t, Config{})

	t.Run("passes", func(t *testing.T) {
		n := makeNode(t, reg, "filter.expr", "f-1",
			map[string]any{"expression": "value > threshold", "threshold": 100.0}, node.Context{})
		out, err := n.Run(context.Background(), node.Values{"value": 150.0})
		require.NoError(t, err)
		assert.Equal(t, true, out["pass"])
		assert.Equal(t, 150.0, out["value"])
	})

	t.Run("rejects without forwarding value", func(t *testing.T) {
		n := makeNode(t, reg, "filter.expr", "f-1",
			map[string]any{"expression": "value > threshold", "threshold": 100.0}, node.Context{})
		out, err := n.Run(context.Background(), node.Values{"value": 50.0})
		require.NoError(t, err)
		assert.Equal(t, false, out["pass"])
		_, forwarded := out["value"]
		assert.False(t, forwarded)
	})

	t.Run("non-boolean result", func(t *testing.T) {
		n := makeNode(t, reg, "filter.expr", "f-1",
			map[string]any{"expression": "value * 2"}, node.Context{})
		_, err := n.Run(context.Background(), node.Values{"value": 3.0})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "want boolean")
	})

	t.Run("missing expression", func(t *testing.T) {
		n := makeNode(t, reg, "filter.expr", "f-1", nil, node.Context{})
		_, err := n.Run(context.Background(), node.Values{"value": 1})
		require.Error(t, err)
	})
}

func TestBranchCondition(t *testing.T) {
	reg := newTestRegistry(t, Config{})

	n := makeNode(t, reg, "branch.condition", "b-1",
		map[string]any{"condition": `inputs.value > params.min`, "min": 10.0}, node.Context{})

	out, err := n.Run(context.Background(), node.Values{"value": 42.0})
	require.NoError(t, err)
	assert.Equal(t, true, out["pass"])
	assert.Equal(t, 42.0, out["value"])

	out, err = n.Run(context.Background(), node.Values{"value": 3.0})
	require.NoError(t, err)
	assert.Equal(t, false, out["pass"])
}

func TestTransformJQ(t *testing.T) {
	reg := newTestRegistry(t, Config{})

	n := makeNode(t, reg, "transform.jq", "t-1",
		map[string]any{"expression": "[.value[].close] | max"}, node.Context{})

	out, err := n.Run(context.Background(), node.Values{
		"value": []any{
			map[string]any{"close": 100.0},
			map[string]any{"close": 120.0},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 120.0, out["value"])

	// Default expression is identity.
	n = makeNode(t, reg, "transform.jq", "t-2", nil, node.Context{})
	out, err = n.Run(context.Background(), node.Values{"value": "unchanged"})
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out["value"])
}

func TestLLMComplete(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "buy signal looks weak"}},
			},
		})
	}))
	defer srv.Close()

	reg := newTestRegistry(t, Config{HTTP: HTTPConfig{Client: srv.Client()}})
	n := makeNode(t, reg, "llm.complete", "llm-1",
		map[string]any{"prompt": "Assess this signal", "endpoint": srv.URL, "model": "gpt-4o"},
		node.Context{Credentials: credentials.StaticProvider{CredentialOpenAIKey: "sk-test"}})

	out, err := n.Run(context.Background(), node.Values{"context": map[string]any{"sma": 101.2}})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Contains(t, gotReq.Messages[0].Content, "Assess this signal")
	assert.Contains(t, gotReq.Messages[0].Content, "101.2")
	assert.Equal(t, "buy signal looks weak", out["text"])
}

func TestLLMComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "invalid api key"},
		})
	}))
	defer srv.Close()

	reg := newTestRegistry(t, Config{HTTP: HTTPConfig{Client: srv.Client()}})
	n := makeNode(t, reg, "llm.complete", "llm-1",
		map[string]any{"prompt": "hi", "endpoint": srv.URL}, node.Context{})

	_, err := n.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestLLMComplete_MissingPrompt(t *testing.T) {
	reg := newTestRegistry(t, Config{})
	n := makeNode(t, reg, "llm.complete", "llm-1", nil, node.Context{})

	_, err := n.Run(context.Background(), nil)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestDisplayNodes(t *testing.T) {
	reg := newTestRegistry(t, Config{})

	t.Run("table echoes value and title", func(t *testing.T) {
		n := makeNode(t, reg, "display.table", "d-1", nil, node.Context{})
		out, err := n.Run(context.Background(), node.Values{"value": []any{1, 2}, "title": "Signals"})
		require.NoError(t, err)
		assert.Equal(t, []any{1, 2}, out["value"])
		assert.Equal(t, "Signals", out["title"])

		// Every returned key is a declared output port.
		for key := range out {
			assert.Contains(t, n.Definition().Outputs, key)
		}
	})

	t.Run("log echoes value", func(t *testing.T) {
		n := makeNode(t, reg, "display.log", "d-2",
			map[string]any{"label": "sma", "level": "debug"}, node.Context{})
		out, err := n.Run(context.Background(), node.Values{"value": 42.0})
		require.NoError(t, err)
		assert.Equal(t, 42.0, out["value"])
	})
}

func TestExecStart(t *testing.T) {
	reg := newTestRegistry(t, Config{})
	n := makeNode(t, reg, "exec.start", "start-1", nil, node.Context{})

	out, err := n.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, node.CategoryFlow, n.Definition().Category)
}
