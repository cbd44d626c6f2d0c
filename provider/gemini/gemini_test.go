package gemini

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

func TestConvertContents_RoleRenamesAndSystemExtraction(t *testing.T) {
	system, contents := convertContents([]scri.Message{
		scri.NewSystemMessage("be helpful"),
		scri.NewUserMessage("hi"),
		scri.NewAssistantMessage("hello"),
	})
	require.NotNil(t, system)
	assert.Equal(t, "be helpful", system.Parts[0].Text)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role, "assistant renames to model on the Gemini wire")
}

func TestConvertContents_ToolResultBecomesFunctionResponse(t *testing.T) {
	_, contents := convertContents([]scri.Message{
		scri.NewToolResultMessage("call_1", "lookup", "42"),
	})
	require.Len(t, contents, 1)
	assert.Equal(t, "user", contents[0].Role)
	require.Len(t, contents[0].Parts, 1)
	require.NotNil(t, contents[0].Parts[0].FunctionResp)
	assert.Equal(t, "lookup", contents[0].Parts[0].FunctionResp.Name)
}

func TestConvertContents_ImageBlockBecomesInlineData(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("fake image bytes"))
	_, contents := convertContents([]scri.Message{{
		Role: scri.RoleUser,
		Blocks: []scri.ContentBlock{
			scri.NewTextBlock("describe this"),
			{Type: scri.BlockImage, Image: &scri.ImageBlock{MediaType: "image/png", Data: data}},
		},
	}})
	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "describe this", contents[0].Parts[0].Text)
	require.NotNil(t, contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/png", contents[0].Parts[1].InlineData.MimeType)
	assert.Equal(t, sha256.Sum256([]byte(data)), sha256.Sum256([]byte(contents[0].Parts[1].InlineData.Data)))
}

func TestConvertContents_ImageURIBecomesFileData(t *testing.T) {
	_, contents := convertContents([]scri.Message{{
		Role: scri.RoleUser,
		Blocks: []scri.ContentBlock{
			{Type: scri.BlockImage, Image: &scri.ImageBlock{MediaType: "image/png", URI: "gs://bucket/cat.png"}},
		},
	}})
	require.Len(t, contents, 1)
	require.Len(t, contents[0].Parts, 1)
	require.NotNil(t, contents[0].Parts[0].FileData)
	assert.Equal(t, "gs://bucket/cat.png", contents[0].Parts[0].FileData.FileURI)
}

func TestConvertTools_WrapsFunctionDeclarations(t *testing.T) {
	out := convertTools([]scri.Tool{{Name: "lookup", Parameters: json.RawMessage(`{"type":"object"}`)}})
	require.Len(t, out, 1)
	require.Len(t, out[0].FunctionDeclarations, 1)
	assert.Equal(t, "lookup", out[0].FunctionDeclarations[0].Name)
	assert.Nil(t, convertTools(nil))
}

func TestMapFinishReason(t *testing.T) {
	assert.Equal(t, scri.FinishStop, mapFinishReason("STOP"))
	assert.Equal(t, scri.FinishLength, mapFinishReason("MAX_TOKENS"))
	assert.Equal(t, scri.FinishContentFilter, mapFinishReason("SAFETY"))
	assert.Equal(t, scri.FinishContentFilter, mapFinishReason("RECITATION"))
}

func TestChat_TranslatesWireResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		json.NewEncoder(w).Encode(wireResponse{
			Candidates: []candidate{{
				Content: content{Role: "model", Parts: []part{
					{Text: "the answer"},
					{FunctionCall: &functionCall{Name: "lookup", Args: json.RawMessage(`{"q":"x"}`)}},
				}},
				FinishReason: "STOP",
			}},
			UsageMetadata: &usageMetadata{PromptTokenCount: 5, CandidatesTokenCount: 3, TotalTokenCount: 8},
		})
	}))
	defer srv.Close()

	a := New(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	resp, err := a.Chat(context.Background(), scri.ChatRequest{
		Model:    "gemini-2.0-flash",
		Messages: []scri.Message{scri.NewUserMessage("question")},
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, "the answer", resp.Choice.Content)
	require.Len(t, resp.Choice.ToolCalls, 1)
	assert.Equal(t, "lookup", resp.Choice.ToolCalls[0].Name)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

// A 200 with no candidates at all is structurally broken output, not a
// transient blip — the adapter must classify it as schema_mismatch so
// the health monitor counts it toward heal dispatch.
func TestChat_EmptyCandidatesIsSchemaMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wireResponse{})
	}))
	defer srv.Close()

	a := New(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := a.Chat(context.Background(), scri.ChatRequest{Messages: []scri.Message{scri.NewUserMessage("hi")}})
	ae, ok := errorkind.AsAdapterError(err)
	require.True(t, ok)
	assert.Equal(t, errorkind.SchemaMismatch, ae.Kind)
}

func TestEmbed_ParsesValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/text-embedding-004:embedContent", r.URL.Path)
		w.Write([]byte(`{"embedding":{"values":[0.1,0.2,0.3]}}`))
	}))
	defer srv.Close()

	a := New(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	resp, err := a.Embed(context.Background(), scri.EmbeddingRequest{Input: []string{"hello"}})
	require.NoError(t, err)
	require.Len(t, resp.Embeddings, 1)
	assert.Len(t, resp.Embeddings[0], 3)
	assert.Equal(t, "gemini", resp.Provider)
}
