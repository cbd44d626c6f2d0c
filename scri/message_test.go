package scri

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_TextFlattensBlockForm(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			NewTextBlock("hello "),
			{Type: BlockToolUse, ToolUse: &ToolUseBlock{ID: "c1", Name: "search", Arguments: json.RawMessage(`{}`)}},
			NewTextBlock("world"),
		},
	}
	assert.True(t, m.IsBlockform())
	assert.Equal(t, "hello world", m.Text())
}

func TestMessage_TextPlainForm(t *testing.T) {
	m := NewUserMessage("ping")
	assert.False(t, m.IsBlockform())
	assert.Equal(t, "ping", m.Text())
}

// Block order within a message is semantically significant; a JSON
// round trip must preserve both the order and the discriminator of every
// block in the union.
func TestContentBlock_RoundTripPreservesOrderAndTypes(t *testing.T) {
	in := Message{
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			NewTextBlock("before"),
			{Type: BlockImage, Image: &ImageBlock{MediaType: "image/png", Data: "aGk="}},
			{Type: BlockToolUse, ToolUse: &ToolUseBlock{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)}},
			{Type: BlockToolResult, ToolResult: &ToolResultBlock{ToolUseID: "call_1", Content: json.RawMessage(`"42"`), IsError: false}},
			{Type: BlockThinking, Thinking: &ThinkingBlock{Text: "reasoning", Signature: "sig"}},
		},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Message
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Blocks, len(in.Blocks))
	for i := range in.Blocks {
		assert.Equal(t, in.Blocks[i].Type, out.Blocks[i].Type, "block %d", i)
	}
	assert.Equal(t, "before", out.Blocks[0].Text.Text)
	assert.Equal(t, "aGk=", out.Blocks[1].Image.Data)
	assert.Equal(t, "call_1", out.Blocks[2].ToolUse.ID)
	assert.JSONEq(t, `{"q":"x"}`, string(out.Blocks[2].ToolUse.Arguments))
	assert.Equal(t, "call_1", out.Blocks[3].ToolResult.ToolUseID)
	assert.Equal(t, "sig", out.Blocks[4].Thinking.Signature)
}

func TestNewToolResultMessage(t *testing.T) {
	m := NewToolResultMessage("call_9", "search", `{"hits":3}`)
	assert.Equal(t, RoleTool, m.Role)
	assert.Equal(t, "call_9", m.ToolCallID)
	assert.Equal(t, "search", m.Name)
	assert.Equal(t, `{"hits":3}`, m.Content)
	assert.False(t, m.Timestamp.IsZero())
}
