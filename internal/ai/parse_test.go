package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	type payload struct {
		Summary string `json:"summary"`
	}

	t.Run("plain object", func(t *testing.T) {
		var p payload
		require.True(t, ExtractJSON(`{"summary": "coding"}`, &p))
		assert.Equal(t, "coding", p.Summary)
	})

	t.Run("fenced json block", func(t *testing.T) {
		var p payload
		require.True(t, ExtractJSON("```json\n{\"summary\": \"coding\"}\n```", &p))
		assert.Equal(t, "coding", p.Summary)
	})

	t.Run("bare fence", func(t *testing.T) {
		var p payload
		require.True(t, ExtractJSON("```\n{\"summary\": \"coding\"}\n```", &p))
		assert.Equal(t, "coding", p.Summary)
	})

	t.Run("object wrapped in prose", func(t *testing.T) {
		var p payload
		reply := `Sure! Here is the analysis: {"summary": "coding"} Let me know if you need more.`
		require.True(t, ExtractJSON(reply, &p))
		assert.Equal(t, "coding", p.Summary)
	})

	t.Run("no object", func(t *testing.T) {
		var p payload
		assert.False(t, ExtractJSON("I could not analyze this image.", &p))
	})

	t.Run("malformed object", func(t *testing.T) {
		var p payload
		assert.False(t, ExtractJSON(`{"summary": `, &p))
	})
}
