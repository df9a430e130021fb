package mapper

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/go-scripts/newscrawl/internal/types"
)

// DateLayout is the output format of the published field
const DateLayout = "02.01.2006"

// timestamp layouts accepted in date attributes, tried in order
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// invisible characters the archives sprinkle through article text
var invisible = strings.NewReplacer("\u00a0", " ", "\u200b", " ", "\ufeff", " ")

// Mapper turns article pages of one site into ArticleRecords
type Mapper struct {
	rules   types.FieldRules
	pattern *regexp.Regexp
}

// New compiles rules. It fails only on an invalid date pattern.
func New(rules types.FieldRules) (*Mapper, error) {
	m := &Mapper{rules: rules}
	if rules.Date.Pattern != "" {
		re, err := regexp.Compile(rules.Date.Pattern)
		if err != nil {
			return nil, fmt.Errorf("date pattern %q: %w", rules.Date.Pattern, err)
		}
		m.pattern = re
	}
	return m, nil
}

// Map extracts a record from raw page content. Fields that cannot be found are
// left empty; Map never fails.
func (m *Mapper) Map(raw string) types.ArticleRecord {
	rec := types.ArticleRecord{Source: m.rules.Source}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return rec
	}

	rec.Title = m.title(doc)
	rec.Published = m.published(doc)
	rec.Body = m.body(doc)
	return rec
}

func (m *Mapper) title(doc *goquery.Document) string {
	if m.rules.Title == "" {
		return ""
	}
	return Normalize(doc.Find(m.rules.Title).First().Text())
}

func (m *Mapper) published(doc *goquery.Document) string {
	rule := m.rules.Date
	if rule.Selector == "" {
		return ""
	}
	sel := doc.Find(rule.Selector).First()
	if sel.Length() == 0 {
		return ""
	}

	if rule.Attr != "" {
		v, ok := sel.Attr(rule.Attr)
		if !ok {
			return ""
		}
		return FormatTimestamp(v)
	}

	text := Normalize(sel.Text())
	if m.pattern == nil {
		return text
	}
	return m.pattern.FindString(text)
}

func (m *Mapper) body(doc *goquery.Document) string {
	rule := m.rules.Body
	if rule.Container == "" {
		return ""
	}
	container := doc.Find(rule.Container).First()
	if container.Length() == 0 {
		return ""
	}

	var text string
	if rule.Paragraph == "" {
		text = Normalize(container.Text())
	} else {
		var parts []string
		container.Find(rule.Paragraph).Each(func(_ int, p *goquery.Selection) {
			if t := Normalize(p.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		text = strings.Join(parts, " ")
	}

	if rule.DropLeadSentence {
		text = DropLeadSentence(text)
	}
	return text
}

// Normalize replaces invisible characters and collapses whitespace runs
func Normalize(s string) string {
	return strings.Join(strings.Fields(invisible.Replace(s)), " ")
}

// DropLeadSentence removes everything up to and including the first period.
// Text without a period has no body left.
func DropLeadSentence(s string) string {
	_, rest, ok := strings.Cut(s, ".")
	if !ok {
		return ""
	}
	return strings.TrimSpace(rest)
}

// FormatTimestamp renders an ISO timestamp as DateLayout, keeping the date as
// written on the page. Unparseable values give "".
func FormatTimestamp(v string) string {
	v = strings.TrimSpace(v)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format(DateLayout)
		}
	}
	return ""
}
