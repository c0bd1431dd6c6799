package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cmstack/mirrorsync/internal/server/models"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NormalizeInput is the structured content fed to the normalizer. Taxonomy
// holds human-readable labels, CustomFields the raw custom-field document.
type NormalizeInput struct {
	Title        string
	Excerpt      string
	Taxonomy     []string
	BodyHTML     string
	CustomFields json.RawMessage
}

// Normalize flattens structured origin content into deterministic plain text
// in a fixed section order: title, excerpt, taxonomy labels, flattened body,
// custom-field text. Identical input always yields identical output, which
// is what makes the content hash a valid dedup key.
func Normalize(in *NormalizeInput) string {
	var sections []string

	if s := strings.TrimSpace(in.Title); s != "" {
		sections = append(sections, s)
	}
	if s := strings.TrimSpace(flattenHTML(in.Excerpt)); s != "" {
		sections = append(sections, s)
	}
	if len(in.Taxonomy) > 0 {
		labels := make([]string, 0, len(in.Taxonomy))
		for _, l := range in.Taxonomy {
			if l = strings.TrimSpace(l); l != "" {
				labels = append(labels, l)
			}
		}
		if len(labels) > 0 {
			sections = append(sections, strings.Join(labels, ", "))
		}
	}
	if s := strings.TrimSpace(flattenHTML(in.BodyHTML)); s != "" {
		sections = append(sections, s)
	}
	if s := customFieldText(in.CustomFields); s != "" {
		sections = append(sections, s)
	}

	return strings.Join(sections, "\n\n")
}

// ContentHash returns the hex sha-256 of normalized text.
func ContentHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// NormalizeEntity builds the normalizer input from a mirrored entity.
func NormalizeEntity(e *models.Entity) string {
	return Normalize(&NormalizeInput{
		Title:        e.Title,
		Excerpt:      e.Excerpt,
		Taxonomy:     taxonomyLabels(e.Taxonomy),
		BodyHTML:     e.Content,
		CustomFields: e.CustomFields,
	})
}

func taxonomyLabels(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var labels []string
	if err := json.Unmarshal(raw, &labels); err == nil {
		return labels
	}
	// Numeric term ids carry no text; anything undecodable is skipped.
	return nil
}

// flattenHTML reduces origin markup to lightweight text: headings become
// "#"-prefixed lines, list items "-"-prefixed lines, links "text (url)",
// emphasis collapses to its plain text, entities are decoded by the parser,
// and everything else is stripped.
func flattenHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		// Undecodable markup degrades to its raw text.
		return strings.TrimSpace(s)
	}

	var b strings.Builder
	flattenNode(&b, root)
	return collapseBlankLines(b.String())
}

func flattenNode(b *strings.Builder, n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Head, atom.Noscript, atom.Template:
			return
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			level := int(n.Data[1] - '0')
			if text := inlineText(n); text != "" {
				b.WriteString(strings.Repeat("#", level) + " " + text + "\n")
			}
			return
		case atom.Li:
			if text := inlineText(n); text != "" {
				b.WriteString("- " + text + "\n")
			}
			return
		case atom.P, atom.Div, atom.Blockquote, atom.Figcaption, atom.Td, atom.Th:
			if text := inlineText(n); text != "" {
				b.WriteString(text + "\n")
			}
			// Nested blocks (lists inside a div) still need a structural walk.
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && isBlock(c.DataAtom) {
					flattenNode(b, c)
				}
			}
			return
		}
	}

	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			b.WriteString(text + "\n")
		}
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flattenNode(b, c)
	}
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.P, atom.Div, atom.Ul, atom.Ol, atom.Li, atom.Blockquote,
		atom.Table, atom.Figcaption:
		return true
	}
	return false
}

// inlineText renders a node's inline content: emphasis as plain text, links
// as "text (url)", nested block elements excluded (handled structurally).
func inlineText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style:
				return
			case atom.Br:
				b.WriteString(" ")
				return
			case atom.A:
				var inner strings.Builder
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.TextNode {
						inner.WriteString(c.Data)
					}
				}
				text := strings.TrimSpace(inner.String())
				href := attrVal(n, "href")
				switch {
				case text != "" && href != "":
					b.WriteString(text + " (" + href + ")")
				case text != "":
					b.WriteString(text)
				}
				return
			default:
				if isBlock(n.DataAtom) && n.FirstChild != nil {
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, strings.TrimRight(l, " \t"))
		}
	}
	return strings.Join(out, "\n")
}

// customFieldText extracts text leaves from a custom-field document,
// recursing into nested objects and arrays, skipping non-text leaves.
// Object keys are visited in sorted order so output is deterministic.
func customFieldText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var parts []string
	collectText(doc, &parts)
	return strings.Join(parts, "\n")
}

func collectText(v any, parts *[]string) {
	switch value := v.(type) {
	case string:
		if s := strings.TrimSpace(flattenHTML(value)); s != "" {
			*parts = append(*parts, s)
		}
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectText(value[k], parts)
		}
	case []any:
		for _, item := range value {
			collectText(item, parts)
		}
	}
}
