// Package anthropic adapts Anthropic's Messages API to the provider
// contract: x-api-key plus anthropic-version auth (not Bearer),
// system-message extraction to a top-level field, content-block
// request/response shapes, and the Messages SSE event stream.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sovereign-gateway/scri/errorkind"
	"github.com/sovereign-gateway/scri/internal/channel"
	"github.com/sovereign-gateway/scri/internal/tlsutil"
	"github.com/sovereign-gateway/scri/scri"
)

const defaultBaseURL = "https://api.anthropic.com"
const apiVersion = "2023-06-01"

// Config configures the Anthropic adapter.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Adapter is the Anthropic provider.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs an Anthropic adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, client: tlsutil.SecureHTTPClient(cfg.Timeout), logger: logger}
}

func (a *Adapter) Name() string { return "anthropic" }

func (a *Adapter) endpoint(path string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + path
}

func (a *Adapter) buildHeaders(req *http.Request) {
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

type wireContent struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   string           `json:"content,omitempty"`
	Source    *wireImageSource `json:"source,omitempty"`
}

// wireImageSource is the image-block payload: inline base64 or a URL
// reference.
type wireImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []wireContent `json:"content"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type wireResponse struct {
	ID         string        `json:"id"`
	Role       string        `json:"role"`
	Content    []wireContent `json:"content"`
	Model      string        `json:"model"`
	StopReason string        `json:"stop_reason"`
	Usage      *wireUsage    `json:"usage,omitempty"`
}

type wireStreamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index,omitempty"`
	Delta        *wireDelta    `json:"delta,omitempty"`
	ContentBlock *wireContent  `json:"content_block,omitempty"`
	Usage        *wireUsage    `json:"usage,omitempty"`
}

type wireDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// convertMessages splits out the system message (Anthropic carries it in
// a top-level field, not as a message) and maps tool results to user
// messages bearing a tool_result block.
func convertMessages(msgs []scri.Message) (string, []wireMessage) {
	var system string
	var out []wireMessage
	for _, m := range msgs {
		if m.Role == scri.RoleSystem {
			system = m.Text()
			continue
		}
		if m.Role == scri.RoleTool {
			out = append(out, wireMessage{Role: "user", Content: []wireContent{{
				Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Text(),
			}}})
			continue
		}

		wm := wireMessage{Role: string(m.Role)}
		if !m.IsBlockform() {
			if m.Content != "" {
				wm.Content = append(wm.Content, wireContent{Type: "text", Text: m.Content})
			}
		} else {
			// Block order is semantically significant; walk it as given.
			for _, b := range m.Blocks {
				switch b.Type {
				case scri.BlockText:
					if b.Text != nil {
						wm.Content = append(wm.Content, wireContent{Type: "text", Text: b.Text.Text})
					}
				case scri.BlockImage:
					if b.Image != nil {
						wm.Content = append(wm.Content, wireContent{Type: "image", Source: imageSource(b.Image)})
					}
				case scri.BlockToolUse:
					if b.ToolUse != nil {
						wm.Content = append(wm.Content, wireContent{
							Type: "tool_use", ID: b.ToolUse.ID, Name: b.ToolUse.Name, Input: b.ToolUse.Arguments,
						})
					}
				}
			}
		}
		out = append(out, wm)
	}
	return system, out
}

// imageSource renders an ImageBlock as its wire source: a URL reference
// when a URI is set, inline base64 otherwise.
func imageSource(img *scri.ImageBlock) *wireImageSource {
	if img.URI != "" {
		return &wireImageSource{Type: "url", URL: img.URI}
	}
	return &wireImageSource{Type: "base64", MediaType: img.MediaType, Data: img.Data}
}

// imageBlock inverts imageSource on the response side.
func imageBlock(s *wireImageSource) *scri.ImageBlock {
	if s.Type == "url" {
		return &scri.ImageBlock{URI: s.URL}
	}
	return &scri.ImageBlock{MediaType: s.MediaType, Data: s.Data}
}

func convertTools(tools []scri.Tool) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

func mapStopReason(r string) scri.FinishReason {
	switch r {
	case "end_turn", "stop_sequence":
		return scri.FinishStop
	case "tool_use":
		return scri.FinishToolCalls
	case "max_tokens":
		return scri.FinishLength
	default:
		return scri.FinishStop
	}
}

func (a *Adapter) buildRequest(req scri.ChatRequest, stream bool) wireRequest {
	system, msgs := convertMessages(req.Messages)
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return wireRequest{
		Model: model, Messages: msgs, System: system,
		MaxTokens: maxTokens, Temperature: req.Temperature, TopP: req.TopP,
		Stream: stream, Tools: convertTools(req.Tools),
	}
}

func readErrMsg(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}
	var er struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &er) == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return string(data)
}

func (a *Adapter) mapHTTPError(status int, errType, msg string) *errorkind.AdapterError {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errorkind.New(errorkind.Auth, "anthropic", msg)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, 529:
		return errorkind.New(errorkind.Transient, "anthropic", msg)
	case http.StatusBadRequest:
		if errType == "invalid_request_error" && strings.Contains(strings.ToLower(msg), "content filter") {
			return errorkind.New(errorkind.ContentFilter, "anthropic", msg)
		}
		return errorkind.New(errorkind.Validation, "anthropic", msg)
	default:
		if status >= 500 {
			return errorkind.New(errorkind.Transient, "anthropic", msg)
		}
		return errorkind.New(errorkind.Unknown, "anthropic", msg)
	}
}

// Chat implements provider.Adapter.
func (a *Adapter) Chat(ctx context.Context, req scri.ChatRequest) (scri.ChatResponse, error) {
	started := time.Now()
	wr := a.buildRequest(req, false)
	payload, err := json.Marshal(wr)
	if err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.Validation, "anthropic", err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.Validation, "anthropic", err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.Transient, "anthropic", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		return scri.ChatResponse{}, a.mapHTTPError(resp.StatusCode, "", msg)
	}

	var cr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.StreamFormatDrift, "anthropic", err.Error()).WithCause(err)
	}

	choice := scri.ChatChoice{FinishReason: mapStopReason(cr.StopReason)}
	for _, c := range cr.Content {
		switch c.Type {
		case "text":
			choice.Content += c.Text
		case "image":
			if c.Source != nil {
				choice.Blocks = append(choice.Blocks, scri.ContentBlock{Type: scri.BlockImage, Image: imageBlock(c.Source)})
			}
		case "tool_use":
			choice.ToolCalls = append(choice.ToolCalls, scri.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Input})
		}
	}

	out := scri.ChatResponse{
		ID: cr.ID, Model: cr.Model, Provider: "anthropic", Choice: choice,
		Lineage: scri.Lineage{Provider: "anthropic", Model: cr.Model, StartedAt: started, EndedAt: time.Now(), Attempts: 1},
	}
	if cr.Usage != nil {
		out.Usage = scri.Usage{InputTokens: cr.Usage.InputTokens, OutputTokens: cr.Usage.OutputTokens, TotalTokens: cr.Usage.InputTokens + cr.Usage.OutputTokens}
	}
	return out, nil
}

// ChatStream implements provider.Adapter, translating Anthropic's
// content_block_delta event stream into scri.StreamEvent.
func (a *Adapter) ChatStream(ctx context.Context, req scri.ChatRequest) (<-chan scri.StreamEvent, error) {
	wr := a.buildRequest(req, true)
	payload, err := json.Marshal(wr)
	if err != nil {
		return nil, errorkind.New(errorkind.Validation, "anthropic", err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("/v1/messages"), bytes.NewReader(payload))
	if err != nil {
		return nil, errorkind.New(errorkind.Validation, "anthropic", err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errorkind.New(errorkind.Transient, "anthropic", err.Error()).WithCause(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := readErrMsg(resp.Body)
		return nil, a.mapHTTPError(resp.StatusCode, "", msg)
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

	var usage scri.Usage
	var activeToolID string
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishError,
					Err: &scri.StreamError{Kind: string(errorkind.Transient), Message: err.Error()}})
				return
			}
			emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishError,
				Err: &scri.StreamError{Kind: string(errorkind.StreamFormatDrift), Message: "stream ended before message_stop"}})
			return
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var evt wireStreamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishError,
				Err: &scri.StreamError{Kind: string(errorkind.StreamFormatDrift), Message: err.Error()}})
			return
		}

		switch evt.Type {
		case "content_block_start":
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				activeToolID = evt.ContentBlock.ID
				if !emit(scri.StreamEvent{Type: scri.StreamToolCallStart, ToolCallID: activeToolID, ToolCallName: evt.ContentBlock.Name}) {
					return
				}
			}
		case "content_block_delta":
			if evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				if !emit(scri.StreamEvent{Type: scri.StreamTextDelta, Delta: evt.Delta.Text}) {
					return
				}
			case "input_json_delta":
				if !emit(scri.StreamEvent{Type: scri.StreamToolCallArgDelta, ToolCallID: activeToolID, ToolCallArgs: evt.Delta.PartialJSON}) {
					return
				}
			}
		case "content_block_stop":
			if activeToolID != "" {
				emit(scri.StreamEvent{Type: scri.StreamToolCallEnd, ToolCallID: activeToolID})
				activeToolID = ""
			}
		case "message_delta":
			if evt.Usage != nil {
				usage.OutputTokens = evt.Usage.OutputTokens
			}
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: mapStopReason(evt.Delta.StopReason), Usage: &usage})
				return
			}
		case "message_stop":
			emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishStop, Usage: &usage})
			return
		case "error":
			emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishError,
				Err: &scri.StreamError{Kind: string(errorkind.Transient), Message: data}})
			return
		}
	}
}

// Embed is unsupported: Anthropic's API offers no embeddings endpoint.
func (a *Adapter) Embed(ctx context.Context, req scri.EmbeddingRequest) (scri.EmbeddingResponse, error) {
	return scri.EmbeddingResponse{}, errorkind.New(errorkind.Validation, "anthropic", "embeddings are not supported by the anthropic adapter")
}

// ListModels implements provider.Adapter.
func (a *Adapter) ListModels(ctx context.Context) ([]scri.ModelCapabilities, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("/v1/models"), nil)
	if err != nil {
		return nil, errorkind.New(errorkind.Validation, "anthropic", err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errorkind.New(errorkind.Transient, "anthropic", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		return nil, a.mapHTTPError(resp.StatusCode, "", msg)
	}

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errorkind.New(errorkind.SchemaMismatch, "anthropic", err.Error()).WithCause(err)
	}
	models := make([]scri.ModelCapabilities, 0, len(out.Data))
	for _, m := range out.Data {
		models = append(models, scri.ModelCapabilities{ID: m.ID, Provider: "anthropic", SupportsTools: true, SupportsImages: true})
	}
	return models, nil
}

// ConvertMessages implements provider.Adapter; the native payload is the
// messages array plus the extracted top-level system string, since the
// Messages API carries system outside the message list.
func (a *Adapter) ConvertMessages(msgs []scri.Message) (any, error) {
	system, wire := convertMessages(msgs)
	return map[string]any{"system": system, "messages": wire}, nil
}

// ConvertTools implements provider.Adapter.
func (a *Adapter) ConvertTools(tools []scri.Tool) (any, error) {
	return convertTools(tools), nil
}

// HealthCheck implements provider.Adapter.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("/v1/models"), nil)
	if err != nil {
		return errorkind.New(errorkind.Validation, "anthropic", err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return errorkind.New(errorkind.Transient, "anthropic", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg := readErrMsg(resp.Body)
		return a.mapHTTPError(resp.StatusCode, "", msg)
	}
	return nil
}
