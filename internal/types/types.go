package types

import (
	"strings"
	"time"
)

// FetchMode selects how article pages of a target are requested
type FetchMode string

const (
	// FetchConcurrent requests all pages at once, optionally bounded by a limit
	FetchConcurrent FetchMode = "concurrent"
	// FetchSerial requests pages one by one with a fixed delay between them
	FetchSerial FetchMode = "serial"
)

// TriggerPolicy decides how often the loader tries the "load more" control
type TriggerPolicy string

const (
	// TriggerOnce tries the control on the first iteration only
	TriggerOnce TriggerPolicy = "once"
	// TriggerUntilClicked keeps trying on every iteration until one click succeeds
	TriggerUntilClicked TriggerPolicy = "until-clicked"
)

// ArticleRecord is one row of output
type ArticleRecord struct {
	Title     string
	Source    string
	Published string
	Body      string
}

// Fields returns the record in output column order
func (r ArticleRecord) Fields() []string {
	return []string{r.Title, r.Source, r.Published, r.Body}
}

// Missing lists the names of empty fields
func (r ArticleRecord) Missing() []string {
	var missing []string
	for i, v := range r.Fields() {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, FieldNames[i])
		}
	}
	return missing
}

// Complete reports whether every field is populated
func (r ArticleRecord) Complete() bool {
	return len(r.Missing()) == 0
}

// FieldNames names the record columns in output order
var FieldNames = []string{"title", "source", "published", "body"}

// DateRule describes where the publication date lives on an article page.
// With Attr set the attribute value is parsed as an ISO timestamp, otherwise
// Pattern is matched against the element text.
type DateRule struct {
	Selector string `yaml:"selector"`
	Attr     string `yaml:"attr"`
	Pattern  string `yaml:"pattern"`
}

// BodyRule describes how the article text is assembled
type BodyRule struct {
	Container        string `yaml:"container"`
	Paragraph        string `yaml:"paragraph"`
	DropLeadSentence bool   `yaml:"drop_lead_sentence"`
}

// FieldRules maps article markup of one site to an ArticleRecord
type FieldRules struct {
	Source string   `yaml:"source"`
	Title  string   `yaml:"title"`
	Date   DateRule `yaml:"date"`
	Body   BodyRule `yaml:"body"`
}

// CrawlTarget holds everything needed to crawl one site archive
type CrawlTarget struct {
	Name     string
	EntryURL string

	// discovery
	Marker          string
	LinkSelector    string
	LinkAttr        string
	TriggerSelector string
	TriggerPolicy   TriggerPolicy
	TriggerWait     time.Duration
	Bounce          bool
	SettleDelay     time.Duration
	MaxIterations   int
	MaxDuration     time.Duration

	// fetch
	FetchMode        FetchMode
	FetchConcurrency int
	FetchDelay       time.Duration

	Fields     FieldRules
	OutputFile string
}

// HasTrigger reports whether the target uses a "load more" control
func (t CrawlTarget) HasTrigger() bool {
	return strings.TrimSpace(t.TriggerSelector) != ""
}
