package crawler

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/go-scripts/answerbot/internal/selector"
	"github.com/go-scripts/answerbot/internal/textutil"
)

// MaxContentLength caps question content, in characters.
const MaxContentLength = 2000

// Detail is what a question page yields.
type Detail struct {
	Title   string
	Content string
}

// ParseDetail returns the first non-empty content match, trimmed and
// capped at MaxContentLength, plus the page title when one is found.
func ParseDetail(html string, content, title selector.Cascade) (Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Detail{}, fmt.Errorf("failed to parse question html: %w", err)
	}

	var d Detail
	d.Content = firstText(doc.Selection, content)
	d.Title = firstText(doc.Selection, title)
	d.Content = textutil.Truncate(d.Content, MaxContentLength)
	return d, nil
}

// firstText walks the cascade and returns the first non-empty trimmed text.
// A selector whose match is blank does not stop the walk.
func firstText(root *goquery.Selection, c selector.Cascade) string {
	for _, s := range c {
		if text := strings.TrimSpace(s.Find(root).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
