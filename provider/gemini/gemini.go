// Package gemini adapts Google's Gemini generateContent API to the
// provider contract: x-goog-api-key auth, contents/parts request shape,
// camelCase field names, and the assistant -> model role rename.
package gemini

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

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Config configures the Gemini adapter.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Adapter is the Gemini provider.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New constructs a Gemini adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, client: tlsutil.SecureHTTPClient(cfg.Timeout), logger: logger}
}

func (a *Adapter) Name() string { return "gemini" }

func (a *Adapter) buildHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

type part struct {
	Text         string        `json:"text,omitempty"`
	InlineData   *inlineData   `json:"inlineData,omitempty"`
	FileData     *fileData     `json:"fileData,omitempty"`
	FunctionCall *functionCall `json:"functionCall,omitempty"`
	FunctionResp *functionResp `json:"functionResponse,omitempty"`
}

// inlineData carries base64 image bytes on a content part.
type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// fileData references an image by URI instead of inlining it.
type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type functionResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type tool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type generationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	TopP            float32 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type wireRequest struct {
	Contents          []content         `json:"contents"`
	Tools             []tool            `json:"tools,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
	Index        int     `json:"index"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type wireResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
}

func convertContents(msgs []scri.Message) (*content, []content) {
	var system *content
	var out []content
	for _, m := range msgs {
		if m.Role == scri.RoleSystem {
			system = &content{Parts: []part{{Text: m.Text()}}}
			continue
		}
		role := string(m.Role)
		if role == "assistant" {
			role = "model"
		}
		if role == "tool" {
			role = "user"
		}
		c := content{Role: role}
		switch {
		case m.Role == scri.RoleTool:
			var resp json.RawMessage = json.RawMessage(`"` + m.Text() + `"`)
			c.Parts = append(c.Parts, part{FunctionResp: &functionResp{Name: m.Name, Response: resp}})
		case !m.IsBlockform():
			if m.Content != "" {
				c.Parts = append(c.Parts, part{Text: m.Content})
			}
		default:
			// Block order is semantically significant; walk it as given.
			for _, b := range m.Blocks {
				switch b.Type {
				case scri.BlockText:
					if b.Text != nil {
						c.Parts = append(c.Parts, part{Text: b.Text.Text})
					}
				case scri.BlockImage:
					if b.Image != nil {
						c.Parts = append(c.Parts, imagePart(b.Image))
					}
				case scri.BlockToolUse:
					if b.ToolUse != nil {
						c.Parts = append(c.Parts, part{FunctionCall: &functionCall{Name: b.ToolUse.Name, Args: b.ToolUse.Arguments}})
					}
				}
			}
		}
		out = append(out, c)
	}
	return system, out
}

// imagePart renders an ImageBlock as a content part: a fileData URI
// reference when set, inline base64 otherwise.
func imagePart(img *scri.ImageBlock) part {
	if img.URI != "" {
		return part{FileData: &fileData{MimeType: img.MediaType, FileURI: img.URI}}
	}
	return part{InlineData: &inlineData{MimeType: img.MediaType, Data: img.Data}}
}

func convertTools(tools []scri.Tool) []tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]functionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, functionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return []tool{{FunctionDeclarations: decls}}
}

func mapFinishReason(r string) scri.FinishReason {
	switch r {
	case "STOP":
		return scri.FinishStop
	case "MAX_TOKENS":
		return scri.FinishLength
	case "SAFETY", "RECITATION":
		return scri.FinishContentFilter
	default:
		return scri.FinishStop
	}
}

func (a *Adapter) model(req scri.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return a.cfg.Model
}

func (a *Adapter) buildRequest(req scri.ChatRequest) wireRequest {
	system, contents := convertContents(req.Messages)
	return wireRequest{
		Contents: contents,
		Tools:    convertTools(req.Tools),
		GenerationConfig: &generationConfig{
			Temperature: req.Temperature, TopP: req.TopP, MaxOutputTokens: req.MaxTokens,
		},
		SystemInstruction: system,
	}
}

func readErrMsg(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}
	var er struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &er) == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return string(data)
}

func (a *Adapter) mapHTTPError(status int, msg string) *errorkind.AdapterError {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errorkind.New(errorkind.Auth, "gemini", msg)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return errorkind.New(errorkind.Transient, "gemini", msg)
	case http.StatusBadRequest:
		return errorkind.New(errorkind.Validation, "gemini", msg)
	default:
		if status >= 500 {
			return errorkind.New(errorkind.Transient, "gemini", msg)
		}
		return errorkind.New(errorkind.Unknown, "gemini", msg)
	}
}

func (a *Adapter) endpointFor(model, method string) string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + "/v1beta/models/" + model + ":" + method
}

// Chat implements provider.Adapter.
func (a *Adapter) Chat(ctx context.Context, req scri.ChatRequest) (scri.ChatResponse, error) {
	started := time.Now()
	model := a.model(req)
	wr := a.buildRequest(req)
	payload, err := json.Marshal(wr)
	if err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.Validation, "gemini", err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpointFor(model, "generateContent"), bytes.NewReader(payload))
	if err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.Validation, "gemini", err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.Transient, "gemini", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		return scri.ChatResponse{}, a.mapHTTPError(resp.StatusCode, msg)
	}

	var gr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return scri.ChatResponse{}, errorkind.New(errorkind.StreamFormatDrift, "gemini", err.Error()).WithCause(err)
	}
	if len(gr.Candidates) == 0 {
		return scri.ChatResponse{}, errorkind.New(errorkind.SchemaMismatch, "gemini", "response had no candidates")
	}

	cand := gr.Candidates[0]
	choice := scri.ChatChoice{FinishReason: mapFinishReason(cand.FinishReason)}
	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			choice.Content += p.Text
		}
		if p.InlineData != nil {
			choice.Blocks = append(choice.Blocks, scri.ContentBlock{
				Type: scri.BlockImage, Image: &scri.ImageBlock{MediaType: p.InlineData.MimeType, Data: p.InlineData.Data},
			})
		}
		if p.FileData != nil {
			choice.Blocks = append(choice.Blocks, scri.ContentBlock{
				Type: scri.BlockImage, Image: &scri.ImageBlock{MediaType: p.FileData.MimeType, URI: p.FileData.FileURI},
			})
		}
		if p.FunctionCall != nil {
			choice.ToolCalls = append(choice.ToolCalls, scri.ToolCall{Name: p.FunctionCall.Name, Arguments: p.FunctionCall.Args})
		}
	}

	out := scri.ChatResponse{
		Model: model, Provider: "gemini", Choice: choice,
		Lineage: scri.Lineage{Provider: "gemini", Model: model, StartedAt: started, EndedAt: time.Now(), Attempts: 1},
	}
	if gr.UsageMetadata != nil {
		out.Usage = scri.Usage{
			InputTokens: gr.UsageMetadata.PromptTokenCount, OutputTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens: gr.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

// ChatStream implements provider.Adapter using Gemini's SSE-framed
// streamGenerateContent endpoint (alt=sse).
func (a *Adapter) ChatStream(ctx context.Context, req scri.ChatRequest) (<-chan scri.StreamEvent, error) {
	model := a.model(req)
	wr := a.buildRequest(req)
	payload, err := json.Marshal(wr)
	if err != nil {
		return nil, errorkind.New(errorkind.Validation, "gemini", err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpointFor(model, "streamGenerateContent")+"?alt=sse", bytes.NewReader(payload))
	if err != nil {
		return nil, errorkind.New(errorkind.Validation, "gemini", err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errorkind.New(errorkind.Transient, "gemini", err.Error()).WithCause(err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := readErrMsg(resp.Body)
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

	var usage scri.Usage
	reader := bufio.NewReader(body)
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

		var gr wireResponse
		if err := json.Unmarshal([]byte(data), &gr); err != nil {
			emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: scri.FinishError,
				Err: &scri.StreamError{Kind: string(errorkind.StreamFormatDrift), Message: err.Error()}})
			return
		}
		if gr.UsageMetadata != nil {
			usage = scri.Usage{InputTokens: gr.UsageMetadata.PromptTokenCount, OutputTokens: gr.UsageMetadata.CandidatesTokenCount, TotalTokens: gr.UsageMetadata.TotalTokenCount}
		}
		for _, cand := range gr.Candidates {
			for _, p := range cand.Content.Parts {
				if p.Text != "" {
					if !emit(scri.StreamEvent{Type: scri.StreamTextDelta, Delta: p.Text}) {
						return
					}
				}
				if p.FunctionCall != nil {
					if !emit(scri.StreamEvent{Type: scri.StreamToolCallStart, ToolCallName: p.FunctionCall.Name}) {
						return
					}
					if !emit(scri.StreamEvent{Type: scri.StreamToolCallArgDelta, ToolCallArgs: string(p.FunctionCall.Args)}) {
						return
					}
					emit(scri.StreamEvent{Type: scri.StreamToolCallEnd})
				}
			}
			if cand.FinishReason != "" {
				emit(scri.StreamEvent{Type: scri.StreamFinish, Reason: mapFinishReason(cand.FinishReason), Usage: &usage})
				return
			}
		}
	}
}

// Embed implements provider.Adapter via the embedContent endpoint.
func (a *Adapter) Embed(ctx context.Context, req scri.EmbeddingRequest) (scri.EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = "text-embedding-004"
	}
	parts := make([]part, 0, len(req.Input))
	for _, in := range req.Input {
		parts = append(parts, part{Text: in})
	}
	body := map[string]any{"model": "models/" + model, "content": content{Parts: parts}}
	payload, _ := json.Marshal(body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpointFor(model, "embedContent"), bytes.NewReader(payload))
	if err != nil {
		return scri.EmbeddingResponse{}, errorkind.New(errorkind.Validation, "gemini", err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return scri.EmbeddingResponse{}, errorkind.New(errorkind.Transient, "gemini", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		return scri.EmbeddingResponse{}, a.mapHTTPError(resp.StatusCode, msg)
	}

	var out struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return scri.EmbeddingResponse{}, errorkind.New(errorkind.SchemaMismatch, "gemini", err.Error()).WithCause(err)
	}
	return scri.EmbeddingResponse{Model: model, Provider: "gemini", Embeddings: [][]float32{out.Embedding.Values}}, nil
}

// ListModels implements provider.Adapter.
func (a *Adapter) ListModels(ctx context.Context) ([]scri.ModelCapabilities, error) {
	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/v1beta/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errorkind.New(errorkind.Validation, "gemini", err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, errorkind.New(errorkind.Transient, "gemini", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		return nil, a.mapHTTPError(resp.StatusCode, msg)
	}

	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errorkind.New(errorkind.SchemaMismatch, "gemini", err.Error()).WithCause(err)
	}
	models := make([]scri.ModelCapabilities, 0, len(out.Models))
	for _, m := range out.Models {
		models = append(models, scri.ModelCapabilities{
			ID: strings.TrimPrefix(m.Name, "models/"), Provider: "gemini", SupportsTools: true, SupportsImages: true,
		})
	}
	return models, nil
}

// ConvertMessages implements provider.Adapter; the native payload is the
// contents array plus the extracted systemInstruction.
func (a *Adapter) ConvertMessages(msgs []scri.Message) (any, error) {
	system, contents := convertContents(msgs)
	return map[string]any{"systemInstruction": system, "contents": contents}, nil
}

// ConvertTools implements provider.Adapter.
func (a *Adapter) ConvertTools(tools []scri.Tool) (any, error) {
	return convertTools(tools), nil
}

// HealthCheck implements provider.Adapter.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + "/v1beta/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errorkind.New(errorkind.Validation, "gemini", err.Error())
	}
	a.buildHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return errorkind.New(errorkind.Transient, "gemini", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg := readErrMsg(resp.Body)
		return a.mapHTTPError(resp.StatusCode, msg)
	}
	return nil
}
