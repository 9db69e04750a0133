package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nkranes/signalflow/internal/node"
	"github.com/nkranes/signalflow/pkg/schema"
)

const (
	defaultLLMEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultLLMModel    = "gpt-4o-mini"

	// CredentialOpenAIKey authenticates chat-completion requests.
	CredentialOpenAIKey = "OPENAI_KEY"
)

var llmDefinition = node.Definition{
	Description: "Sends a prompt plus optional context to a chat-completion API.",
	Category:    node.CategoryLLM,
	Inputs: map[string]node.PortSpec{
		"context": {Type: "any", Optional: true},
	},
	Outputs: map[string]node.PortSpec{
		"text": {Type: "string"},
	},
	Params: []node.ParamSpec{
		{Name: "prompt", Type: "string"},
		{Name: "model", Type: "string", Default: defaultLLMModel},
		{Name: "endpoint", Type: "string", Default: defaultLLMEndpoint},
		{Name: "temperature", Type: "number", Default: 0.2},
	},
	RequiredCredentials: []string{CredentialOpenAIKey},
}

type llmNode struct {
	node.Base
	cfg HTTPConfig
}

func llmFactory(cfg HTTPConfig) node.Factory {
	return func(id string, params map[string]any, nctx node.Context) (node.Node, error) {
		return &llmNode{Base: node.NewBase(id, params, nctx), cfg: cfg}, nil
	}
}

func (n *llmNode) Definition() node.Definition { return llmDefinition }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (n *llmNode) Run(ctx context.Context, inputs node.Values) (node.Values, error) {
	params := n.Params()
	prompt := stringParam(params, "prompt", "")
	if prompt == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "param \"prompt\" is required")
	}
	model := stringParam(params, "model", defaultLLMModel)
	endpoint := stringParam(params, "endpoint", defaultLLMEndpoint)
	temperature := 0.2
	if t, ok := floatValue(params["temperature"]); ok {
		temperature = t
	}

	if n.Stopped() {
		return nil, schema.NewError(schema.ErrCodeCancelled, "llm call cancelled")
	}

	messages := []chatMessage{{Role: "user", Content: prompt}}
	if ctxVal, ok := inputs["context"]; ok && ctxVal != nil {
		serialized, err := json.Marshal(ctxVal)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "context is not serializable: %s", err.Error())
		}
		messages = []chatMessage{
			{Role: "user", Content: fmt.Sprintf("%s\n\nContext:\n%s", prompt, serialized)},
		}
	}

	payload, err := json.Marshal(chatRequest{Model: model, Messages: messages, Temperature: temperature})
	if err != nil {
		return nil, err
	}

	n.Progress(0, fmt.Sprintf("calling %s", model))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid endpoint %q: %s", endpoint, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	if creds := n.GraphContext().Credentials; creds != nil {
		if key, ok := creds.Get(CredentialOpenAIKey); ok {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}

	resp, err := n.cfg.client().Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "llm request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, n.cfg.maxBody()))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "read llm response: %s", err.Error()).WithCause(err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "parse llm response: %s", err.Error()).WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("llm API returned %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = fmt.Sprintf("llm API returned %d: %s", resp.StatusCode, parsed.Error.Message)
		}
		return nil, schema.NewError(schema.ErrCodeExecution, msg)
	}
	if len(parsed.Choices) == 0 {
		return nil, schema.NewError(schema.ErrCodeExecution, "llm response has no choices")
	}

	n.Progress(100, "completion received")

	return node.Values{"text": parsed.Choices[0].Message.Content}, nil
}
