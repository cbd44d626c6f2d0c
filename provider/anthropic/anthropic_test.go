package anthropic

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-gateway/scri/errorkind"
	"github.com/sovereign-gateway/scri/scri"
)

func TestConvertMessages_ExtractsSystemToTopLevel(t *testing.T) {
	system, msgs := convertMessages([]scri.Message{
		scri.NewSystemMessage("be terse"),
		scri.NewUserMessage("hi"),
	})
	assert.Equal(t, "be terse", system)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
	require.Len(t, msgs[0].Content, 1)
	assert.Equal(t, "hi", msgs[0].Content[0].Text)
}

func TestConvertMessages_ToolResultBecomesUserToolResultBlock(t *testing.T) {
	_, msgs := convertMessages([]scri.Message{
		scri.NewToolResultMessage("toolu_01", "search", `{"hits":2}`),
	})
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
	require.Len(t, msgs[0].Content, 1)
	assert.Equal(t, "tool_result", msgs[0].Content[0].Type)
	assert.Equal(t, "toolu_01", msgs[0].Content[0].ToolUseID)
	assert.Equal(t, `{"hits":2}`, msgs[0].Content[0].Content)
}

func TestConvertMessages_AssistantToolUseBlockPassesThrough(t *testing.T) {
	_, msgs := convertMessages([]scri.Message{{
		Role: scri.RoleAssistant,
		Blocks: []scri.ContentBlock{
			scri.NewTextBlock("let me check"),
			{Type: scri.BlockToolUse, ToolUse: &scri.ToolUseBlock{
				ID: "toolu_02", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`),
			}},
		},
	}})
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)
	assert.Equal(t, "text", msgs[0].Content[0].Type)
	assert.Equal(t, "tool_use", msgs[0].Content[1].Type)
	assert.Equal(t, "toolu_02", msgs[0].Content[1].ID)
	assert.Equal(t, "lookup", msgs[0].Content[1].Name)
}

func TestConvertMessages_ImageBlockBecomesBase64Source(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("fake image bytes"))
	_, msgs := convertMessages([]scri.Message{{
		Role: scri.RoleUser,
		Blocks: []scri.ContentBlock{
			scri.NewTextBlock("what is in this picture"),
			{Type: scri.BlockImage, Image: &scri.ImageBlock{MediaType: "image/png", Data: data}},
		},
	}})
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 2)
	assert.Equal(t, "text", msgs[0].Content[0].Type)
	assert.Equal(t, "image", msgs[0].Content[1].Type)
	require.NotNil(t, msgs[0].Content[1].Source)
	assert.Equal(t, "base64", msgs[0].Content[1].Source.Type)
	assert.Equal(t, "image/png", msgs[0].Content[1].Source.MediaType)
	assert.Equal(t, sha256.Sum256([]byte(data)), sha256.Sum256([]byte(msgs[0].Content[1].Source.Data)))
}

func TestConvertMessages_ImageURIBecomesURLSource(t *testing.T) {
	_, msgs := convertMessages([]scri.Message{{
		Role: scri.RoleUser,
		Blocks: []scri.ContentBlock{
			{Type: scri.BlockImage, Image: &scri.ImageBlock{URI: "https://example.com/cat.png"}},
		},
	}})
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Content, 1)
	require.NotNil(t, msgs[0].Content[0].Source)
	assert.Equal(t, "url", msgs[0].Content[0].Source.Type)
	assert.Equal(t, "https://example.com/cat.png", msgs[0].Content[0].Source.URL)
}

// An image content block on the response survives translation with its
// payload intact, compared by hash.
func TestChat_ImageContentBlockSurvivesResponse(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("echoed image bytes"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{
			ID: "msg_02", Model: "claude-3-5-sonnet", StopReason: "end_turn",
			Content: []wireContent{
				{Type: "text", Text: "here it is"},
				{Type: "image", Source: &wireImageSource{Type: "base64", MediaType: "image/png", Data: data}},
			},
		})
	}))
	defer srv.Close()

	a := New(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	resp, err := a.Chat(context.Background(), scri.ChatRequest{
		Messages: []scri.Message{scri.NewUserMessage("echo the image back")},
	})
	require.NoError(t, err)
	assert.Equal(t, "here it is", resp.Choice.Content)

	var img *scri.ImageBlock
	for _, b := range resp.Choice.Blocks {
		if b.Type == scri.BlockImage {
			img = b.Image
		}
	}
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.MediaType)
	assert.Equal(t, sha256.Sum256([]byte(data)), sha256.Sum256([]byte(img.Data)))
}

func TestConvertTools(t *testing.T) {
	out := convertTools([]scri.Tool{{
		Name: "search", Description: "web search",
		Parameters: json.RawMessage(`{"type":"object"}`),
	}})
	require.Len(t, out, 1)
	assert.Equal(t, "search", out[0].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(out[0].InputSchema))
	assert.Nil(t, convertTools(nil))
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, scri.FinishStop, mapStopReason("end_turn"))
	assert.Equal(t, scri.FinishStop, mapStopReason("stop_sequence"))
	assert.Equal(t, scri.FinishToolCalls, mapStopReason("tool_use"))
	assert.Equal(t, scri.FinishLength, mapStopReason("max_tokens"))
}

func TestMapHTTPError(t *testing.T) {
	a := New(Config{APIKey: "k"}, nil)
	assert.Equal(t, errorkind.Auth, a.mapHTTPError(401, "", "bad key").Kind)
	assert.Equal(t, errorkind.Transient, a.mapHTTPError(429, "", "slow down").Kind)
	assert.Equal(t, errorkind.Transient, a.mapHTTPError(529, "", "overloaded").Kind)
	assert.Equal(t, errorkind.Validation, a.mapHTTPError(400, "", "bad field").Kind)
	assert.Equal(t, errorkind.Transient, a.mapHTTPError(500, "", "boom").Kind)
}

func TestChat_TranslatesWireResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var wr wireRequest
		if err := json.NewDecoder(r.Body).Decode(&wr); err == nil {
			assert.Equal(t, "be terse", wr.System)
		}

		json.NewEncoder(w).Encode(wireResponse{
			ID: "msg_01", Model: "claude-3-5-sonnet", StopReason: "tool_use",
			Content: []wireContent{
				{Type: "text", Text: "checking"},
				{Type: "tool_use", ID: "toolu_03", Name: "lookup", Input: json.RawMessage(`{"q":"y"}`)},
			},
			Usage: &wireUsage{InputTokens: 12, OutputTokens: 7},
		})
	}))
	defer srv.Close()

	a := New(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	resp, err := a.Chat(context.Background(), scri.ChatRequest{
		Model: "claude-3-5-sonnet",
		Messages: []scri.Message{
			scri.NewSystemMessage("be terse"),
			scri.NewUserMessage("look it up"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_01", resp.ID)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "checking", resp.Choice.Content)
	assert.Equal(t, scri.FinishToolCalls, resp.Choice.FinishReason)
	require.Len(t, resp.Choice.ToolCalls, 1)
	assert.Equal(t, "toolu_03", resp.Choice.ToolCalls[0].ID)
	assert.Equal(t, 19, resp.Usage.TotalTokens)
}

func TestChat_MapsRateLimitToTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	a := New(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := a.Chat(context.Background(), scri.ChatRequest{Messages: []scri.Message{scri.NewUserMessage("hi")}})
	ae, ok := errorkind.AsAdapterError(err)
	require.True(t, ok)
	assert.Equal(t, errorkind.Transient, ae.Kind)
	assert.Equal(t, "slow down", ae.Message)
}

func TestChatStream_EmitsDeltasThenFinish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(
			"event: content_block_delta\n" +
				`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}` + "\n\n" +
				"event: content_block_delta\n" +
				`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}` + "\n\n" +
				"event: message_delta\n" +
				`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}` + "\n\n"))
	}))
	defer srv.Close()

	a := New(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	ch, err := a.ChatStream(context.Background(), scri.ChatRequest{Messages: []scri.Message{scri.NewUserMessage("hi")}})
	require.NoError(t, err)

	var events []scri.StreamEvent
	for evt := range ch {
		events = append(events, evt)
	}
	require.Len(t, events, 3)
	assert.Equal(t, scri.StreamTextDelta, events[0].Type)
	assert.Equal(t, "hel", events[0].Delta)
	assert.Equal(t, "lo", events[1].Delta)
	assert.Equal(t, scri.StreamFinish, events[2].Type)
	assert.Equal(t, scri.FinishStop, events[2].Reason)
	require.NotNil(t, events[2].Usage)
	assert.Equal(t, 2, events[2].Usage.OutputTokens)
}
