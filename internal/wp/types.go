// Package wp is the REST client for the remote WordPress-style content
// origin: paged collection reads, incremental modified-window reads,
// single-item reads, a secondary custom-fields read, and item writes for
// push. All calls are single deterministic requests; there is no
// trial-and-error across guessed payload shapes.
package wp

import (
	"encoding/json"
	"strings"
	"time"
)

// Resource names a remote collection.
type Resource string

const (
	ResourcePages      Resource = "pages"
	ResourcePosts      Resource = "posts"
	ResourceCategories Resource = "categories"
	ResourceMedia      Resource = "media"
)

// AuthMode selects the Authorization header scheme.
type AuthMode string

const (
	AuthBasic  AuthMode = "basic"
	AuthBearer AuthMode = "bearer"
)

// Credentials is the decrypted per-tenant origin access configuration.
type Credentials struct {
	BaseURL  string
	AuthMode AuthMode
	User     string
	Secret   string
}

// Time handles the origin's timestamp format: "2006-01-02T15:04:05"
// (GMT, no zone suffix), with RFC3339 accepted as well.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format("2006-01-02T15:04:05"))
}

// Rendered is the origin's {"rendered": "..."} wrapper around HTML fields.
type Rendered struct {
	Rendered string `json:"rendered"`
}

// Item is one remote object. Posts/pages use the rendered fields; taxonomy
// terms use Name/Description; media uses SourceURL. Unused fields stay at
// their zero values.
type Item struct {
	ID          int64          `json:"id"`
	ModifiedGMT Time           `json:"modified_gmt"`
	Title       Rendered       `json:"title"`
	Content     Rendered       `json:"content"`
	Excerpt     Rendered       `json:"excerpt"`
	Status      string         `json:"status"`
	Parent      int64          `json:"parent"`
	Link        string         `json:"link"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	SourceURL   string         `json:"source_url"`
	MimeType    string         `json:"mime_type"`
	Categories  []int64        `json:"categories"`
	ACF         map[string]any `json:"acf"`
}

// DisplayTitle returns the item's human title regardless of collection kind.
func (i *Item) DisplayTitle() string {
	if s := strings.TrimSpace(i.Title.Rendered); s != "" {
		return s
	}
	return strings.TrimSpace(i.Name)
}

// WritePayload is the outbound body for create/update pushes.
type WritePayload struct {
	Title   string         `json:"title,omitempty"`
	Content string         `json:"content,omitempty"`
	Excerpt string         `json:"excerpt,omitempty"`
	Status  string         `json:"status,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}
