package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToolCalls(t *testing.T) {
	t.Run("should pass records through and drop nameless ones", func(t *testing.T) {
		got := NormalizeToolCalls([]ToolCallRecord{{ID: "1", Tool: "a"}, {ID: "2"}})
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].Tool)
		assert.NotNil(t, got[0].Arguments)
	})

	t.Run("should read an object with a tool_calls list", func(t *testing.T) {
		got := NormalizeToolCalls(map[string]interface{}{
			"tool_calls": []interface{}{
				map[string]interface{}{"id": "c1", "name": "delete_item", "arguments": `{"item":"Sugar"}`},
			},
		})
		require.Len(t, got, 1)
		assert.Equal(t, "delete_item", got[0].Tool)
		assert.Equal(t, "Sugar", got[0].Arguments["item"])
	})

	t.Run("should read function-style entries", func(t *testing.T) {
		got := NormalizeToolCalls(`[{"function":{"name":"create_bill","arguments":"{\"customer\":\"Jane\"}"},"output":"ok"}]`)
		require.Len(t, got, 1)
		assert.Equal(t, "create_bill", got[0].Tool)
		assert.Equal(t, "Jane", got[0].Arguments["customer"])
		assert.Equal(t, "ok", got[0].Result)
		assert.NotEmpty(t, got[0].ID)
	})

	t.Run("should read provider tool calls", func(t *testing.T) {
		got := NormalizeToolCalls([]ProviderToolCall{{ID: "x", Name: "ping"}})
		require.Len(t, got, 1)
		assert.Equal(t, "x", got[0].ID)
	})

	t.Run("should yield nothing for unknown shapes", func(t *testing.T) {
		assert.Empty(t, NormalizeToolCalls(nil))
		assert.Empty(t, NormalizeToolCalls(42))
		assert.Empty(t, NormalizeToolCalls("not json"))
		assert.Empty(t, NormalizeToolCalls(map[string]interface{}{"other": 1}))
		assert.Empty(t, NormalizeToolCalls(make(chan int)))
	})
}

func TestParseArguments(t *testing.T) {
	args, err := parseArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = parseArguments("[1,2]")
	assert.ErrorIs(t, err, ErrMalformedOutput)
}
