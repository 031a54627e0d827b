package llmproxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aegis/internal/inspect"
	"aegis/internal/redaction"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a proxied chat completion.
type Request struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model,omitempty"`
	Messages  []Message      `json:"messages"`
	Stream    bool           `json:"stream,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// OutputGuard is the response-side verdict.
type OutputGuard struct {
	Passed      bool                    `json:"passed"`
	RiskScore   float64                 `json:"riskScore"`
	PIIDetected []redaction.PIIFinding  `json:"piiDetected,omitempty"`
	Violations  []string                `json:"policyViolations,omitempty"`
}

// LLMResponse is the upstream answer after output guarding.
type LLMResponse struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// Response is the orchestrator verdict.
type Response struct {
	InputGuard  *inspect.Result `json:"inputGuard,omitempty"`
	OutputGuard *OutputGuard    `json:"outputGuard,omitempty"`
	LLMResponse *LLMResponse    `json:"llmResponse,omitempty"`
	Blocked     bool            `json:"blocked"`
	BlockReason string          `json:"blockReason,omitempty"`
	LatencyMs   int64           `json:"latencyMs"`
}

// Orchestrator runs guard, dispatch, and response guarding.
type Orchestrator struct {
	catalog   *Catalog
	inspector *inspect.Inspector
	output    *redaction.Analyzer
	client    *http.Client
	dryRun    bool
}

// NewOrchestrator wires the orchestrator. A nil client gets a 60s timeout
// default.
func NewOrchestrator(catalog *Catalog, inspector *inspect.Inspector, output *redaction.Analyzer, dryRun bool, client *http.Client) *Orchestrator {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Orchestrator{
		catalog:   catalog,
		inspector: inspector,
		output:    output,
		client:    client,
		dryRun:    dryRun,
	}
}

// Complete proxies one chat request through both guards.
func (o *Orchestrator) Complete(ctx context.Context, req Request) *Response {
	start := time.Now()
	resp := o.complete(ctx, req)
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp
}

func (o *Orchestrator) complete(ctx context.Context, req Request) *Response {
	// Input guard over the joined conversation.
	var contents []string
	for _, m := range req.Messages {
		contents = append(contents, m.Content)
	}
	joined := strings.Join(contents, "\n")

	inputGuard := o.inspector.Inspect(ctx, inspect.Request{
		Message:   joined,
		SessionID: req.SessionID,
	})
	if !inputGuard.Passed {
		return &Response{
			InputGuard:  inputGuard,
			Blocked:     true,
			BlockReason: "Input blocked by deep inspection guard",
		}
	}

	provider, ok := o.catalog.Get(req.Provider)
	if !ok {
		return &Response{
			InputGuard:  inputGuard,
			Blocked:     true,
			BlockReason: fmt.Sprintf("Unknown LLM provider: '%s'", req.Provider),
		}
	}

	model := req.Model
	if model == "" {
		model = provider.DefaultModel
	}

	if o.dryRun {
		content := fmt.Sprintf("[DRY_RUN] provider=%s, model=%s, messages=%d",
			provider.Name, model, len(req.Messages))
		return o.guardOutput(ctx, inputGuard, content, model)
	}

	content, err := o.dispatch(ctx, provider, model, req)
	if err != nil {
		return &Response{
			InputGuard:  inputGuard,
			Blocked:     true,
			BlockReason: err.Error(),
		}
	}
	return o.guardOutput(ctx, inputGuard, content, model)
}

// guardOutput runs the output analyzer. Responses that contain PII still
// flow, masked, with the guard marked failed.
func (o *Orchestrator) guardOutput(ctx context.Context, inputGuard *inspect.Result, content, model string) *Response {
	analysis := o.output.Analyze(ctx, content)

	guard := &OutputGuard{
		Passed:      !analysis.ContainsPII,
		PIIDetected: analysis.PIIFindings,
		Violations:  analysis.PolicyViolations,
	}
	if analysis.ContainsPII {
		guard.RiskScore = 0.8
	}

	final := content
	if analysis.SanitizedOutput != "" {
		final = analysis.SanitizedOutput
	}
	return &Response{
		InputGuard:  inputGuard,
		OutputGuard: guard,
		LLMResponse: &LLMResponse{Content: final, Model: model},
		Blocked:     false,
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, provider Provider, model string, req Request) (string, error) {
	url, headers, body, err := buildUpstreamRequest(provider, model, req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("upstream request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return "", fmt.Errorf("upstream returned status %d", httpResp.StatusCode)
	}

	if req.Stream {
		return readSSE(httpResp.Body, provider.Family)
	}
	return parseCompletion(httpResp.Body, provider.Family)
}

// buildUpstreamRequest shapes the payload per provider family.
func buildUpstreamRequest(provider Provider, model string, req Request) (string, map[string]string, []byte, error) {
	payload := map[string]any{
		"model":    model,
		"messages": req.Messages,
	}
	if req.Stream {
		payload["stream"] = true
	}
	for k, v := range req.Options {
		payload[k] = v
	}

	base := strings.TrimSuffix(provider.BaseURL, "/")
	var url string
	headers := map[string]string{}

	switch provider.Family {
	case FamilyOpenAI, FamilyAzure:
		url = base + "/v1/chat/completions"
		headers["Authorization"] = "Bearer " + provider.APIKey
	case FamilyAnthropic:
		url = base + "/v1/messages"
		headers["x-api-key"] = provider.APIKey
		headers["anthropic-version"] = "2023-06-01"
		if _, ok := payload["max_tokens"]; !ok {
			payload["max_tokens"] = 4096
		}
	default:
		url = base
		headers["Authorization"] = "Bearer " + provider.APIKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, nil, fmt.Errorf("encoding upstream payload: %w", err)
	}
	return url, headers, body, nil
}

// parseCompletion extracts the answer text from a non-streaming response.
func parseCompletion(r io.Reader, family string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading upstream response: %w", err)
	}

	if family == FamilyAnthropic {
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return "", fmt.Errorf("decoding upstream response: %w", err)
		}
		var parts []string
		for _, c := range resp.Content {
			parts = append(parts, c.Text)
		}
		return strings.Join(parts, ""), nil
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decoding upstream response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("upstream response carried no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// readSSE joins streamed deltas. Lines look like "data: {...}"; the
// terminal "[DONE]" marker is ignored.
func readSSE(r io.Reader, family string) (string, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		b.WriteString(extractDelta(data, family))
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading upstream stream: %w", err)
	}
	return b.String(), nil
}

func extractDelta(data, family string) string {
	if family == FamilyAnthropic {
		var event struct {
			Delta struct {
				Text string `json:"text"`
			} `json:"delta"`
		}
		if json.Unmarshal([]byte(data), &event) == nil {
			return event.Delta.Text
		}
		return ""
	}

	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if json.Unmarshal([]byte(data), &chunk) == nil && len(chunk.Choices) > 0 {
		return chunk.Choices[0].Delta.Content
	}
	return ""
}
