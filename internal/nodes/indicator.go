package nodes

import (
	"context"

	"github.com/nkranes/signalflow/internal/node"
	"github.com/nkranes/signalflow/pkg/schema"
)

var smaDefinition = node.Definition{
	Description: "Simple moving average over the closes of a candle series.",
	Category:    node.CategoryIndicator,
	Inputs: map[string]node.PortSpec{
		"candles": {Type: "candleseries"},
	},
	Outputs: map[string]node.PortSpec{
		"series": {Type: "numberseries"},
		"last":   {Type: "number"},
	},
	Params: []node.ParamSpec{
		{Name: "period", Type: "number", Default: 14},
	},
}

type smaNode struct {
	node.Base
}

func smaFactory() node.Factory {
	return func(id string, params map[string]any, nctx node.Context) (node.Node, error) {
		return &smaNode{Base: node.NewBase(id, params, nctx)}, nil
	}
}

func (n *smaNode) Definition() node.Definition { return smaDefinition }

// ValidateInputs normalizes the candle input: upstream nodes deliver
// []Candle in-process, but documents loaded over the wire may deliver the
// JSON shape ([]any of maps). Both normalize to []Candle here.
func (n *smaNode) ValidateInputs(inputs node.Values) (node.Values, error) {
	raw, ok := inputs["candles"]
	if !ok || raw == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "input \"candles\" is required")
	}

	switch v := raw.(type) {
	case []Candle:
		return inputs, nil
	case []any:
		candles := make([]Candle, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "candle %d is not an object", i)
			}
			var c Candle
			if t, ok := floatValue(m["time"]); ok {
				c.Time = int64(t)
			}
			c.Open, _ = floatValue(m["open"])
			c.High, _ = floatValue(m["high"])
			c.Low, _ = floatValue(m["low"])
			c.Close, _ = floatValue(m["close"])
			c.Volume, _ = floatValue(m["volume"])
			candles = append(candles, c)
		}
		inputs["candles"] = candles
		return inputs, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "input \"candles\" has unsupported shape %T", raw)
	}
}

func (n *smaNode) Run(_ context.Context, inputs node.Values) (node.Values, error) {
	candles := inputs["candles"].([]Candle)
	period := intParam(n.Params(), "period", 14)
	if period <= 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "period must be positive, got %d", period)
	}
	if len(candles) < period {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"need at least %d candles for period %d, got %d", period, period, len(candles))
	}

	series := make([]float64, 0, len(candles)-period+1)
	sum := 0.0
	for i, c := range candles {
		sum += c.Close
		if i >= period {
			sum -= candles[i-period].Close
		}
		if i >= period-1 {
			series = append(series, sum/float64(period))
		}
	}

	return node.Values{"series": series, "last": series[len(series)-1]}, nil
}
