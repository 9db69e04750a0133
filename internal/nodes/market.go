package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nkranes/signalflow/internal/node"
	"github.com/nkranes/signalflow/pkg/schema"
)

// Candle is one OHLCV bar of a candle series.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// HTTPConfig configures the HTTP-backed nodes.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Client overrides the default client; tests inject one pointed at a
	// local server.
	Client *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second

	defaultMarketEndpoint = "https://api.signalflow.dev/v1/klines"

	// CredentialMarketAPIKey authenticates against the market-data API.
	CredentialMarketAPIKey = "MARKET_API_KEY"
)

func (c HTTPConfig) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	timeout := c.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (c HTTPConfig) maxBody() int64 {
	if c.MaxResponseBody > 0 {
		return c.MaxResponseBody
	}
	return defaultMaxResponseBody
}

var tickerFetchDefinition = node.Definition{
	Description: "Fetches OHLCV candles for a symbol from the market-data API.",
	Category:    node.CategoryMarket,
	Outputs: map[string]node.PortSpec{
		"candles": {Type: "candleseries"},
		"symbol":  {Type: "string"},
	},
	Params: []node.ParamSpec{
		{Name: "symbol", Type: "string", Default: "BTCUSDT"},
		{Name: "interval", Type: "string", Default: "1h"},
		{Name: "limit", Type: "number", Default: 100},
		{Name: "endpoint", Type: "string", Default: defaultMarketEndpoint},
	},
	RequiredCredentials: []string{CredentialMarketAPIKey},
}

// tickerFetchNode pulls candles over HTTP. The wire format is an array of
// [time, open, high, low, close, volume] rows.
type tickerFetchNode struct {
	node.Base
	cfg HTTPConfig
}

func tickerFetchFactory(cfg HTTPConfig) node.Factory {
	return func(id string, params map[string]any, nctx node.Context) (node.Node, error) {
		return &tickerFetchNode{Base: node.NewBase(id, params, nctx), cfg: cfg}, nil
	}
}

func (n *tickerFetchNode) Definition() node.Definition { return tickerFetchDefinition }

func (n *tickerFetchNode) Run(ctx context.Context, _ node.Values) (node.Values, error) {
	params := n.Params()
	symbol := stringParam(params, "symbol", "BTCUSDT")
	interval := stringParam(params, "interval", "1h")
	limit := intParam(params, "limit", 100)
	endpoint := stringParam(params, "endpoint", defaultMarketEndpoint)

	if n.Stopped() {
		return nil, schema.NewError(schema.ErrCodeCancelled, "fetch cancelled")
	}

	n.Progress(0, fmt.Sprintf("fetching %s %s", symbol, interval))

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid endpoint %q: %s", endpoint, err.Error())
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if creds := n.GraphContext().Credentials; creds != nil {
		if key, ok := creds.Get(CredentialMarketAPIKey); ok {
			req.Header.Set("X-API-Key", key)
		}
	}

	resp, err := n.cfg.client().Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "market request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, n.cfg.maxBody()))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "read market response: %s", err.Error()).WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "market API returned %d", resp.StatusCode)
	}

	n.Progress(50, "parsing candles")

	candles, err := parseKlines(body)
	if err != nil {
		return nil, err
	}

	n.Progress(100, fmt.Sprintf("fetched %d candles", len(candles)))

	return node.Values{"candles": candles, "symbol": symbol}, nil
}

// parseKlines decodes the row-array wire format into candles. Exchange APIs
// serialize prices as either JSON numbers or numeric strings; both are
// accepted.
func parseKlines(body []byte) ([]Candle, error) {
	var rows [][]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "parse klines: %s", err.Error()).WithCause(err)
	}

	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "kline row %d has %d fields, want 6", i, len(row))
		}
		fields := make([]float64, 6)
		for j := 0; j < 6; j++ {
			f, err := klineField(row[j])
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "kline row %d field %d: %s", i, j, err.Error())
			}
			fields[j] = f
		}
		candles = append(candles, Candle{
			Time: int64(fields[0]), Open: fields[1], High: fields[2],
			Low: fields[3], Close: fields[4], Volume: fields[5],
		})
	}
	return candles, nil
}

func klineField(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unsupported field type %T", v)
	}
}
