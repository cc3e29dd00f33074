package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	reply := "Great choice! Here is your order:\n```json\n{\"items\":[{\"name\":\"Jollof Rice\",\"price\":100},{\"name\":\"Chapman\",\"price\":30,\"quantity\":2}],\"total\":160,\"delivery_info\":\" 12 Allen Ave \"}\n```"

	res, ok := Extract(reply)
	require.True(t, ok)
	assert.Equal(t, "Great choice! Here is your order:", res.Text)
	assert.Equal(t, int64(160), res.Payload.Total)
	assert.Equal(t, "12 Allen Ave", res.Payload.Delivery)
	require.Len(t, res.Payload.Items, 2)
	assert.Equal(t, 1, res.Payload.Items[0].Quantity)
	assert.Equal(t, 2, res.Payload.Items[1].Quantity)
}

func TestExtractRejects(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"plain text", "What would you like to eat today?"},
		{"truncated json", "```json\n{\"items\":[{\"name\":\"Rice\",\"price\":100}],\"tot\n```"},
		{"total mismatch", "```json\n{\"items\":[{\"name\":\"Rice\",\"price\":100}],\"total\":150}\n```"},
		{"zero total", "```json\n{\"items\":[{\"name\":\"Water\",\"price\":0}],\"total\":0}\n```"},
		{"no items", "```json\n{\"items\":[],\"total\":100}\n```"},
		{"negative price", "```json\n{\"items\":[{\"name\":\"Rice\",\"price\":-5}],\"total\":-5}\n```"},
		{"fractional price", "```json\n{\"items\":[{\"name\":\"Rice\",\"price\":1.5}],\"total\":1.5}\n```"},
		{"two blocks", "```json\n{\"items\":[{\"name\":\"Rice\",\"price\":100}],\"total\":100}\n```\nor\n```json\n{\"items\":[{\"name\":\"Beans\",\"price\":80}],\"total\":80}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := Extract(tt.reply)
			assert.False(t, ok)
			assert.Nil(t, res)
		})
	}
}

func TestSummary(t *testing.T) {
	res, ok := Extract("```json\n{\"items\":[{\"name\":\"Suya\",\"price\":250,\"quantity\":2}],\"total\":500}\n```")
	require.True(t, ok)
	assert.Equal(t, "- Suya x2: $5.00\nTotal: $5.00", Summary(res.Payload.Items, res.Payload.Total))
}
