package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_SectionOrder(t *testing.T) {
	out := Normalize(&NormalizeInput{
		Title:    "About us",
		Excerpt:  "<p>Short summary</p>",
		Taxonomy: []string{"Company", "History"},
		BodyHTML: "<p>Founded in 1990.</p>",
	})

	assert.Equal(t, "About us\n\nShort summary\n\nCompany, History\n\nFounded in 1990.", out)
}

func TestNormalize_FlattensMarkup(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "headings keep level",
			html: "<h1>Top</h1><h3>Deep</h3>",
			want: "# Top\n### Deep",
		},
		{
			name: "list items",
			html: "<ul><li>First</li><li>Second</li></ul>",
			want: "- First\n- Second",
		},
		{
			name: "emphasis collapses to plain text",
			html: "<p>A <strong>bold</strong> and <em>subtle</em> claim</p>",
			want: "A bold and subtle claim",
		},
		{
			name: "links keep their target",
			html: `<p>See <a href="https://example.com/docs">the docs</a></p>`,
			want: "See the docs (https://example.com/docs)",
		},
		{
			name: "entities decoded",
			html: "<p>Fish &amp; chips</p>",
			want: "Fish & chips",
		},
		{
			name: "script and style stripped",
			html: "<p>Visible</p><script>alert(1)</script><style>p{}</style>",
			want: "Visible",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flattenHTML(tt.html))
		})
	}
}

func TestNormalize_CustomFieldTextRecursesDeterministically(t *testing.T) {
	raw := json.RawMessage(`{
		"zeta": "Last alphabetically? No: keys are sorted",
		"alpha": {"nested": "Inner text", "count": 42},
		"items": ["one", 2, "three", null]
	}`)

	out1 := customFieldText(raw)
	out2 := customFieldText(raw)
	require.Equal(t, out1, out2)

	assert.Equal(t, "Inner text\none\nthree\nLast alphabetically? No: keys are sorted", out1)
}

func TestNormalize_EmptyInput(t *testing.T) {
	assert.Equal(t, "", Normalize(&NormalizeInput{}))
	assert.Equal(t, "", Normalize(&NormalizeInput{BodyHTML: "   "}))
}

func TestContentHash_DeterministicAndSensitive(t *testing.T) {
	a := ContentHash("same text")
	b := ContentHash("same text")
	c := ContentHash("different text")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
