// Package selector models the ordered probe lists used against the site's
// markup. Each entry is a CSS selector with an optional :has-text("...")
// suffix that keeps only elements whose text contains the phrase.
package selector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var hasTextRe = regexp.MustCompile(`^(.*?):has-text\((?:"([^"]*)"|'([^']*)')\)\s*$`)

// Selector is a single probe.
type Selector struct {
	Raw  string
	CSS  string
	Text string
}

// Parse splits raw into its CSS part and text filter.
func Parse(raw string) Selector {
	raw = strings.TrimSpace(raw)
	s := Selector{Raw: raw, CSS: raw}
	if m := hasTextRe.FindStringSubmatch(raw); m != nil {
		s.CSS = strings.TrimSpace(m[1])
		s.Text = m[2] + m[3]
		if s.CSS == "" {
			s.CSS = "*"
		}
	}
	return s
}

// Cascade is an ordered list of probes tried to first success.
type Cascade []Selector

// ParseAll parses every entry of raws, dropping blanks.
func ParseAll(raws []string) Cascade {
	c := make(Cascade, 0, len(raws))
	for _, r := range raws {
		if strings.TrimSpace(r) == "" {
			continue
		}
		c = append(c, Parse(r))
	}
	return c
}

func (s Selector) String() string { return s.Raw }

// Find returns the elements under root matching s. An invalid CSS selector
// matches nothing.
func (s Selector) Find(root *goquery.Selection) *goquery.Selection {
	sel := root.Find(s.CSS)
	if s.Text == "" {
		return sel
	}
	return sel.FilterFunction(func(_ int, el *goquery.Selection) bool {
		return strings.Contains(el.Text(), s.Text)
	})
}

// First returns the matches of the first probe in c that matches anything
// under root, and the index of that probe. Results are never merged across
// probes. The index is -1 when nothing matched.
func (c Cascade) First(root *goquery.Selection) (*goquery.Selection, int) {
	for i, s := range c {
		if found := s.Find(root); found.Length() > 0 {
			return found, i
		}
	}
	return root.Find("answerbot-nothing"), -1
}

// FinderJS defines __abFind(css, text) in the page, returning an array of
// matching elements.
const FinderJS = `function __abFind(css, text) {
  var els = [];
  try { els = Array.prototype.slice.call(document.querySelectorAll(css)); } catch (e) { return []; }
  if (!text) return els;
  return els.filter(function (e) { return (e.textContent || '').indexOf(text) !== -1; });
}`

// JS returns a page-side expression evaluating to the array of elements
// matching s.
func (s Selector) JS() string {
	return fmt.Sprintf("(function(){ %s\nreturn __abFind(%q, %q); })()", FinderJS, s.CSS, s.Text)
}
