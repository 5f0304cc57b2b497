package page

import (
	"time"

	"github.com/adityalohuni/snapfile/internal/pipeline"
)

// Archive describes a stored capture. The self-contained document itself
// is read with Store.Content.
type Archive struct {
	ID        string          `json:"id"`
	SessionID int64           `json:"sessionId"`
	URL       string          `json:"url"`
	Title     string          `json:"title,omitempty"`
	Size      int             `json:"size"`
	Frames    int             `json:"frames,omitempty"`
	Stats     *pipeline.Stats `json:"stats,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Link struct {
	Text string `json:"text,omitempty"`
	Href string `json:"href"`
}

// Summary is a reduced, text-only reading of an archive.
type Summary struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
	Links []Link `json:"links,omitempty"`

	// Embedded counts the data: URIs of the archive.
	Embedded  int  `json:"embedded"`
	Frames    int  `json:"frames"`
	Truncated bool `json:"truncated,omitempty"`
}
