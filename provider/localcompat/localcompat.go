// Package localcompat is the shared base for every OpenAI-wire-compatible
// backend (deepseek, qwen, glm, grok, kimi, mistral, minimax, hunyuan,
// doubao, llama, and any generic OpenAI-compatible endpoint a user points
// the gateway at). Family packages embed this adapter and override only
// naming, base URL, and headers; every error it returns is already
// classified into an errorkind.Kind.
package localcompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/errorkind"
	"github.com/sovereign-gateway/scri/internal/channel"
	"github.com/sovereign-gateway/scri/internal/tlsutil"
	"github.com/sovereign-gateway/scri/scri"
)

// Config configures one OpenAI-compatible backend.
type Config struct {
	ProviderName   string
	APIKey         string
	BaseURL        string
	DefaultModel   string
	Timeout        time.Duration
	EndpointPath   string // default "/v1/chat/completions"
	EmbedPath      string // default "/v1/embeddings"
	ModelsEndpoint string // default "/v1/models"
	BuildHeaders   func(req *http.Request, apiKey string)
	SupportsTools  bool
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.EndpointPath == "" {
		c.EndpointPath = "/v1/chat/completions"
	}
	if c.EmbedPath == "" {
		c.EmbedPath = "/v1/embeddings"
	}
	if c.ModelsEndpoint == "" {
		c.ModelsEndpoint = "/v1/models"
	}
	return c
}

// Adapter is the base OpenAI-compatible adapter. Family packages (e.g.
// provider/deepseek) embed this and only override Name/BaseURL/headers.
type Adapter struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New constructs an Adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Adapter{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(cfg.Timeout),
		Logger: logger,
	}
}

func (a *Adapter) Name() string { return a.Cfg.ProviderName }

func (a *Adapter) endpoint(path string) string {
	return strings.TrimRight(a.Cfg.BaseURL, "/") + path
}

func (a *Adapter) buildHeaders(req *http.Request) {
	if a.Cfg.BuildHeaders != nil {
		a.Cfg.BuildHeaders(req, a.Cfg.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (a *Adapter) model(req scri.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return a.Cfg.DefaultModel
}

// wireMessage is the chat-completions message shape. Content is either a
// plain string or, when image blocks are involved, an array of typed
// parts (the multimodal content form).
type wireMessage struct {
	Role       string          `json:"role"`
	Content    any             `json:"content,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// wirePart is one element of the multimodal content array.
type wirePart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL string `json:"url"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// wireTool is a tool definition on the request; unlike a tool call, its
// function carries a "parameters" schema, not "arguments".
type wireTool struct {
	Type     string          `json:"type"`
	Function wireFunctionDef `json:"function"`
}

type wireFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      *wireMessage `json:"message,omitempty"`
	Delta        *wireMessage `json:"delta,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
	Created int64        `json:"created,omitempty"`
}

func convertMessages(msgs []scri.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{Role: string(m.Role), Name: m.Name, Content: convertContent(m), ToolCallID: m.ToolCallID}
		for _, b := range m.Blocks {
			if b.Type == scri.BlockToolUse && b.ToolUse != nil {
				wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
					ID: b.ToolUse.ID, Type: "function",
					Function: wireFunction{Name: b.ToolUse.Name, Arguments: b.ToolUse.Arguments},
				})
			}
		}
		out = append(out, wm)
	}
	return out
}

// convertContent renders a message's content: the cheap plain-string form
// unless image blocks are present, in which case the typed part array
// preserves text and image order.
func convertContent(m scri.Message) any {
	hasImage := false
	for _, b := range m.Blocks {
		if b.Type == scri.BlockImage {
			hasImage = true
			break
		}
	}
	if !hasImage {
		// nil (not "") so omitempty still drops contentless messages,
		// e.g. an assistant turn that is purely tool calls.
		if t := m.Text(); t != "" {
			return t
		}
		return nil
	}

	parts := make([]wirePart, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch b.Type {
		case scri.BlockText:
			if b.Text != nil {
				parts = append(parts, wirePart{Type: "text", Text: b.Text.Text})
			}
		case scri.BlockImage:
			if b.Image != nil {
				parts = append(parts, wirePart{Type: "image_url", ImageURL: &wireImageURL{URL: imageURL(b.Image)}})
			}
		}
	}
	return parts
}

// imageURL renders an ImageBlock as its URI, or as a data URL carrying
// the inline base64 payload.
func imageURL(img *scri.ImageBlock) string {
	if img.URI != "" {
		return img.URI
	}
	return "data:" + img.MediaType + ";base64," + img.Data
}

// decodeContent inverts convertContent on the response side: content is
// either a plain string or a part array, and image parts come back as
// typed blocks with their payload intact.
func decodeContent(content any) (string, []scri.ContentBlock) {
	switch c := content.(type) {
	case string:
		return c, nil
	case []any:
		var text string
		var blocks []scri.ContentBlock
		for _, raw := range c {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch part["type"] {
			case "text":
				t, _ := part["text"].(string)
				text += t
				blocks = append(blocks, scri.NewTextBlock(t))
			case "image_url":
				iu, _ := part["image_url"].(map[string]any)
				url, _ := iu["url"].(string)
				blocks = append(blocks, scri.ContentBlock{Type: scri.BlockImage, Image: decodeImageURL(url)})
			}
		}
		return text, blocks
	default:
		return "", nil
	}
}

// decodeImageURL inverts imageURL: a data URL becomes inline base64 plus
// media type, anything else stays a URI reference.
func decodeImageURL(url string) *scri.ImageBlock {
	if rest, ok := strings.CutPrefix(url, "data:"); ok {
		if mediaType, data, found := strings.Cut(rest, ";base64,"); found {
			return &scri.ImageBlock{MediaType: mediaType, Data: data}
		}
	}
	return &scri.ImageBlock{URI: url}
}

func convertTools(tools []scri.Tool) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{Type: "function", Function: wireFunctionDef{
			Name: t.Name, Description: t.Description, Parameters: t.Parameters,
		}})
	}
	return out
}

func toolChoiceWire(tc scri.ToolChoice) any {
	switch tc.Policy {
	case scri.ToolChoiceAuto, "":
		return nil
	case scri.ToolChoiceNone:
		return "none"
	case scri.ToolChoiceAny:
		return "required"
	case scri.ToolChoiceSpecific:
		return map[string]any{"type": "function", "function": map[string]string{"name": tc.Name}}
	default:
		return nil
	}
}

func mapFinishReason(r string) scri.FinishReason {
	switch r {
	case "stop":
		return scri.FinishStop
	case "tool_calls", "function_call":
		return scri.FinishToolCalls
	case "length":
		return scri.FinishLength
	case "content_filter":
		return scri.FinishContentFilter
	default:
		return scri.FinishStop
	}
}

func (a *Adapter) buildBody(req scri.ChatRequest, stream bool) wireRequest {
	return wireRequest{
		Model:       a.model(req),
		Messages:    convertMessages(req.Messages),
		Tools:       convertTools(req.Tools),
		ToolChoice:  toolChoiceWire(req.ToolChoice),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      stream,
	}
}

// mapHTTPError classifies a failed HTTP response into an AdapterError.
func (a *Adapter) mapHTTPError(status int, msg string) *errorkind.AdapterError {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errorkind.New(errorkind.Auth, a.Cfg.ProviderName, msg)
	case http.StatusTooManyRequests:
		return errorkind.New(errorkind.Transient, a.Cfg.ProviderName, msg)
	case http.StatusBadRequest:
		low := strings.ToLower(msg)
		if strings.Contains(low, "unknown field") || strings.Contains(low, "unrecognized") {
			return errorkind.New(errorkind.UnknownField, a.Cfg.ProviderName, msg)
		}
		if strings.Contains(low, "schema") {
			return errorkind.New(errorkind.SchemaMismatch, a.Cfg.ProviderName, msg)
		}
		return errorkind.New(errorkind.Validation, a.Cfg.ProviderName, msg)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return errorkind.New(errorkind.Transient, a.Cfg.ProviderName, msg)
	default:
		if status >= 500 {
			return errorkind.New(errorkind.Transient, a.Cfg.ProviderName, msg)
		}
		return errorkind.New(errorkind.Unknown, a.Cfg.ProviderName, msg)
	}
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(data)
}

// Chat implements provider.Adapter.
func (a *Adapter) Chat(ctx context.Context, req scri.ChatRequest) (scri.ChatResponse, error) {
	started := time.Now()
	body := a.buildBody(req, false)
	payload, err := json.Marshal(body)
	if err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.Validation, a.Cfg.ProviderName, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(a.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.Validation, a.Cfg.ProviderName, err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.Transient, a.Cfg.ProviderName, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		return scri.ChatResponse{}, a.mapHTTPError(resp.StatusCode, msg)
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.StreamFormatDrift, a.Cfg.ProviderName, err.Error()).WithCause(err)
	}
	if len(wr.Choices) == 0 {
		return scri.ChatResponse{}, errorkind.New(errorkind.SchemaMismatch, a.Cfg.ProviderName, "response had no choices")
	}

	choice := wr.Choices[0]
	out := scri.ChatResponse{
		ID:       wr.ID,
		Model:    wr.Model,
		Provider: a.Cfg.ProviderName,
		Choice: scri.ChatChoice{
			FinishReason: mapFinishReason(choice.FinishReason),
		},
		Lineage: scri.Lineage{
			Provider:  a.Cfg.ProviderName,
			Model:     wr.Model,
			StartedAt: started,
			EndedAt:   time.Now(),
			Attempts:  1,
		},
	}
	if out.ID == "" {
		// Self-hosted backends routinely omit the response id; mint one so
		// downstream lineage and audit records always have something to key on.
		out.ID = "chatcmpl-" + uuid.NewString()
	}
	if choice.Message != nil {
		text, blocks := decodeContent(choice.Message.Content)
		out.Choice.Content = text
		out.Choice.Blocks = blocks
		for _, tc := range choice.Message.ToolCalls {
			id := tc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			out.Choice.ToolCalls = append(out.Choice.ToolCalls, scri.ToolCall{ID: id, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
	}
	if wr.Usage != nil {
		out.Usage = scri.Usage{
			InputTokens:  wr.Usage.PromptTokens,
			OutputTokens: wr.Usage.CompletionTokens,
			TotalTokens:  wr.Usage.TotalTokens,
		}
	} else {
		out.Usage = estimateUsage(out.Model, req.Messages, out.Choice.Content)
	}
	return out, nil
}

// ChatStream implements provider.Adapter, parsing the SSE stream into
// scri.StreamEvent values and always terminating with a StreamFinish (or
// an event carrying Err).
func (a *Adapter) ChatStream(ctx context.Context, req scri.ChatRequest) (<-chan scri.StreamEvent, error) {
	body := a.buildBody(req, true)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errorkind.New(errorkind.Validation, a.Cfg.ProviderName, err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(a.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, errorkind.New(errorkind.Validation, a.Cfg.ProviderName, err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, errorkind.New(errorkind.Transient, a.Cfg.ProviderName, err.Error()).WithCause(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := readErrorMessage(resp.Body)
		return nil, a.mapHTTPError(resp.StatusCode, msg)
	}

	tc := channel.NewTunableChannel[scri.StreamEvent](channel.DefaultTunableConfig())
	go a.pumpSSE(ctx, resp.Body, tc)
	return tc.Chan(), nil
}

// pumpSSE parses the SSE body and feeds events into tc, a bounded
// channel that owns backpressure on the producer side of streaming.
func (a *Adapter) pumpSSE(ctx context.Context, body io.ReadCloser, tc *channel.TunableChannel[scri.StreamEvent]) {
	defer body.Close()
	defer tc.Close()

	emit := func(evt scri.StreamEvent) bool {
		return tc.Send(ctx, evt) == nil
	}

	reader := bufio.NewReader(body)
	var usage scri.Usage
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishError,
					Err: &scri.StreamError{Kind: string(errorkind.Transient), Message: err.Error()}})
				return
			}
			emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishStop, Usage: &usage})
			return
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishStop, Usage: &usage})
			return
		}

		var wr wireResponse
		if err := json.Unmarshal([]byte(data), &wr); err != nil {
			emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishError,
				Err: &scri.StreamError{Kind: string(errorkind.StreamFormatDrift), Message: err.Error()}})
			return
		}
		if wr.Usage != nil {
			usage = scri.Usage{InputTokens: wr.Usage.PromptTokens, OutputTokens: wr.Usage.CompletionTokens, TotalTokens: wr.Usage.TotalTokens}
		}
		for _, choice := range wr.Choices {
			if choice.Delta == nil {
				continue
			}
			if delta, _ := choice.Delta.Content.(string); delta != "" {
				if !emit(scri.StreamEvent{Type: scri.StreamTextDelta, Delta: delta}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				if tc.ID != "" {
					if !emit(scri.StreamEvent{Type: scri.StreamToolCallStart, ToolCallID: tc.ID, ToolCallName: tc.Function.Name}) {
						return
					}
				}
				if len(tc.Function.Arguments) > 0 {
					if !emit(scri.StreamEvent{Type: scri.StreamToolCallArgDelta, ToolCallID: tc.ID, ToolCallArgs: string(tc.Function.Arguments)}) {
						return
					}
				}
			}
			if choice.FinishReason != "" {
				reason := mapFinishReason(choice.FinishReason)
				if reason == scri.FinishToolCalls {
					for _, tc := range choice.Delta.ToolCalls {
						emit(scri.StreamEvent{Type: scri.StreamToolCallEnd, ToolCallID: tc.ID})
					}
				}
				emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: reason, Usage: &usage})
				return
			}
		}
	}
}

// Embed implements provider.Adapter.
func (a *Adapter) Embed(ctx context.Context, req scri.EmbeddingRequest) (scri.EmbeddingResponse, error) {
	body := map[string]any{"model": a.Cfg.DefaultModel, "input": req.Input}
	if req.Model != "" {
		body["model"] = req.Model
	}
	payload, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(a.Cfg.EmbedPath), bytes.NewReader(payload))
	if err != nil {
		return scri.EmbeddingResponse{}, errorkind.New(errorkind.Validation, a.Cfg.ProviderName, err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return scri.EmbeddingResponse{}, errorkind.New(errorkind.Transient, a.Cfg.ProviderName, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		return scri.EmbeddingResponse{}, a.mapHTTPError(resp.StatusCode, msg)
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Model string `json:"model"`
		Usage wireUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return scri.EmbeddingResponse{}, errorkind.New(errorkind.SchemaMismatch, a.Cfg.ProviderName, err.Error()).WithCause(err)
	}

	embeddings := make([][]float32, 0, len(out.Data))
	for _, d := range out.Data {
		embeddings = append(embeddings, d.Embedding)
	}
	return scri.EmbeddingResponse{
		Model:      out.Model,
		Provider:   a.Cfg.ProviderName,
		Embeddings: embeddings,
		Usage:      scri.Usage{InputTokens: out.Usage.PromptTokens, TotalTokens: out.Usage.TotalTokens},
	}, nil
}

// ListModels implements provider.Adapter.
func (a *Adapter) ListModels(ctx context.Context) ([]scri.ModelCapabilities, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint(a.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, errorkind.New(errorkind.Validation, a.Cfg.ProviderName, err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return nil, errorkind.New(errorkind.Transient, a.Cfg.ProviderName, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		return nil, a.mapHTTPError(resp.StatusCode, msg)
	}

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errorkind.New(errorkind.SchemaMismatch, a.Cfg.ProviderName, err.Error()).WithCause(err)
	}

	models := make([]scri.ModelCapabilities, 0, len(out.Data))
	for _, m := range out.Data {
		models = append(models, scri.ModelCapabilities{ID: m.ID, Provider: a.Cfg.ProviderName, SupportsTools: a.Cfg.SupportsTools})
	}
	return models, nil
}

// ConvertMessages implements provider.Adapter; the native payload is the
// chat-completions message array.
func (a *Adapter) ConvertMessages(msgs []scri.Message) (any, error) {
	return convertMessages(msgs), nil
}

// ConvertTools implements provider.Adapter.
func (a *Adapter) ConvertTools(tools []scri.Tool) (any, error) {
	return convertTools(tools), nil
}

// HealthCheck implements provider.Adapter by hitting the models endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint(a.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return errorkind.New(errorkind.Validation, a.Cfg.ProviderName, err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return errorkind.New(errorkind.Transient, a.Cfg.ProviderName, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		return a.mapHTTPError(resp.StatusCode, msg)
	}
	return nil
}
