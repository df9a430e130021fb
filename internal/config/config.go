package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-scripts/newscrawl/internal/discovery"
	"github.com/go-scripts/newscrawl/internal/types"
)

//go:embed targets.yaml
var builtinYAML []byte

// Duration accepts Go duration strings such as "1s" or "2m30s"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// BodyFile mirrors types.BodyRule
type BodyFile struct {
	Container        string `yaml:"container"`
	Paragraph        string `yaml:"paragraph"`
	DropLeadSentence *bool  `yaml:"drop_lead_sentence"`
}

// DateFile mirrors types.DateRule. Attr and Pattern may be set to "" to clear
// a built-in value.
type DateFile struct {
	Selector string  `yaml:"selector"`
	Attr     *string `yaml:"attr"`
	Pattern  *string `yaml:"pattern"`
}

// FieldsFile mirrors types.FieldRules
type FieldsFile struct {
	Source string   `yaml:"source"`
	Title  string   `yaml:"title"`
	Date   DateFile `yaml:"date"`
	Body   BodyFile `yaml:"body"`
}

// TargetFile is one entry of the targets list. Pointer fields can be cleared
// by an overlay; for the rest an empty value keeps the built-in.
type TargetFile struct {
	Name             string           `yaml:"name"`
	EntryURL         string           `yaml:"entry_url"`
	Marker           string           `yaml:"marker"`
	LinkSelector     string           `yaml:"link_selector"`
	LinkAttr         string           `yaml:"link_attr"`
	TriggerSelector  *string          `yaml:"trigger_selector"`
	TriggerPolicy    string           `yaml:"trigger_policy"`
	TriggerWait      Duration         `yaml:"trigger_wait"`
	Bounce           *bool            `yaml:"bounce"`
	SettleDelay      Duration         `yaml:"settle_delay"`
	MaxIterations    int              `yaml:"max_iterations"`
	MaxDuration      Duration         `yaml:"max_duration"`
	FetchMode        string           `yaml:"fetch_mode"`
	FetchConcurrency *int             `yaml:"fetch_concurrency"`
	FetchDelay       Duration         `yaml:"fetch_delay"`
	OutputFile       string           `yaml:"output_file"`
	Fields           FieldsFile       `yaml:"fields"`
}

// File mirrors the YAML configuration file
type File struct {
	OutputDir      string       `yaml:"output_dir"`
	Headless       *bool        `yaml:"headless"`
	WindowWidth    int          `yaml:"window_width"`
	WindowHeight   int          `yaml:"window_height"`
	ExecPath       string       `yaml:"exec_path"`
	UserAgent      string       `yaml:"user_agent"`
	RequestTimeout Duration     `yaml:"request_timeout"`
	MaxRetries     *int         `yaml:"max_retries"`
	HistoryDB      string       `yaml:"history_db"`
	Targets        []TargetFile `yaml:"targets"`
}

// Config is the resolved configuration of a run
type Config struct {
	OutputDir      string
	Headless       bool
	WindowWidth    int
	WindowHeight   int
	ExecPath       string
	UserAgent      string
	RequestTimeout time.Duration
	MaxRetries     int
	HistoryDB      string
	Targets        []types.CrawlTarget
}

// Default returns the built-in configuration for the three archives
func Default() (*Config, error) {
	base, err := parse(builtinYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in targets: %w", err)
	}
	return base.resolve(), nil
}

// Load reads path over the built-in configuration. An empty path gives the
// built-ins alone.
func Load(path string) (*Config, error) {
	base, err := parse(builtinYAML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in targets: %w", err)
	}
	if path == "" {
		return base.resolve(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	override, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	base.merge(override)
	return base.resolve(), nil
}

func parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// merge lays o over f. Zero values in o keep what f has; targets are matched
// by name and unknown names are appended.
func (f *File) merge(o *File) {
	setString(&f.OutputDir, o.OutputDir)
	if o.Headless != nil {
		f.Headless = o.Headless
	}
	setInt(&f.WindowWidth, o.WindowWidth)
	setInt(&f.WindowHeight, o.WindowHeight)
	setString(&f.ExecPath, o.ExecPath)
	setString(&f.UserAgent, o.UserAgent)
	setDuration(&f.RequestTimeout, o.RequestTimeout)
	if o.MaxRetries != nil {
		f.MaxRetries = o.MaxRetries
	}
	setString(&f.HistoryDB, o.HistoryDB)

	for _, ot := range o.Targets {
		if i := f.indexOf(ot.Name); i >= 0 {
			f.Targets[i].merge(ot)
			continue
		}
		f.Targets = append(f.Targets, ot)
	}
}

func (f *File) indexOf(name string) int {
	for i, t := range f.Targets {
		if strings.EqualFold(t.Name, name) {
			return i
		}
	}
	return -1
}

func (t *TargetFile) merge(o TargetFile) {
	setString(&t.EntryURL, o.EntryURL)
	setString(&t.Marker, o.Marker)
	setString(&t.LinkSelector, o.LinkSelector)
	setString(&t.LinkAttr, o.LinkAttr)
	if o.TriggerSelector != nil {
		t.TriggerSelector = o.TriggerSelector
	}
	setString(&t.TriggerPolicy, o.TriggerPolicy)
	setDuration(&t.TriggerWait, o.TriggerWait)
	if o.Bounce != nil {
		t.Bounce = o.Bounce
	}
	setDuration(&t.SettleDelay, o.SettleDelay)
	setInt(&t.MaxIterations, o.MaxIterations)
	setDuration(&t.MaxDuration, o.MaxDuration)
	setString(&t.FetchMode, o.FetchMode)
	if o.FetchConcurrency != nil {
		t.FetchConcurrency = o.FetchConcurrency
	}
	setDuration(&t.FetchDelay, o.FetchDelay)
	setString(&t.OutputFile, o.OutputFile)

	setString(&t.Fields.Source, o.Fields.Source)
	setString(&t.Fields.Title, o.Fields.Title)
	setString(&t.Fields.Date.Selector, o.Fields.Date.Selector)
	if o.Fields.Date.Attr != nil {
		t.Fields.Date.Attr = o.Fields.Date.Attr
	}
	if o.Fields.Date.Pattern != nil {
		t.Fields.Date.Pattern = o.Fields.Date.Pattern
	}
	setString(&t.Fields.Body.Container, o.Fields.Body.Container)
	setString(&t.Fields.Body.Paragraph, o.Fields.Body.Paragraph)
	if o.Fields.Body.DropLeadSentence != nil {
		t.Fields.Body.DropLeadSentence = o.Fields.Body.DropLeadSentence
	}
}

func (f *File) resolve() *Config {
	cfg := &Config{
		OutputDir:      f.OutputDir,
		Headless:       f.Headless == nil || *f.Headless,
		WindowWidth:    f.WindowWidth,
		WindowHeight:   f.WindowHeight,
		ExecPath:       f.ExecPath,
		UserAgent:      f.UserAgent,
		RequestTimeout: time.Duration(f.RequestTimeout),
		HistoryDB:      f.HistoryDB,
	}
	if f.MaxRetries != nil {
		cfg.MaxRetries = *f.MaxRetries
	}
	for _, t := range f.Targets {
		cfg.Targets = append(cfg.Targets, t.resolve())
	}
	return cfg
}

func (t TargetFile) resolve() types.CrawlTarget {
	target := types.CrawlTarget{
		Name:             t.Name,
		EntryURL:         t.EntryURL,
		Marker:           t.Marker,
		LinkSelector:     t.LinkSelector,
		LinkAttr:         t.LinkAttr,
		TriggerSelector:  deref(t.TriggerSelector),
		TriggerPolicy:    types.TriggerPolicy(t.TriggerPolicy),
		TriggerWait:      time.Duration(t.TriggerWait),
		Bounce:           deref(t.Bounce),
		SettleDelay:      time.Duration(t.SettleDelay),
		MaxIterations:    t.MaxIterations,
		MaxDuration:      time.Duration(t.MaxDuration),
		FetchMode:        types.FetchMode(t.FetchMode),
		FetchConcurrency: deref(t.FetchConcurrency),
		FetchDelay:       time.Duration(t.FetchDelay),
		OutputFile:       t.OutputFile,
		Fields:           t.Fields.resolve(),
	}
	if target.MaxIterations == 0 {
		target.MaxIterations = discovery.DefaultMaxIterations
	}
	if target.LinkAttr == "" {
		target.LinkAttr = "href"
	}
	if target.HasTrigger() && target.TriggerPolicy == "" {
		target.TriggerPolicy = types.TriggerOnce
	}
	if target.FetchMode == "" {
		target.FetchMode = types.FetchConcurrent
	}
	return target
}

func (f FieldsFile) resolve() types.FieldRules {
	return types.FieldRules{
		Source: f.Source,
		Title:  f.Title,
		Date: types.DateRule{
			Selector: f.Date.Selector,
			Attr:     deref(f.Date.Attr),
			Pattern:  deref(f.Date.Pattern),
		},
		Body: types.BodyRule{
			Container:        f.Body.Container,
			Paragraph:        f.Body.Paragraph,
			DropLeadSentence: deref(f.Body.DropLeadSentence),
		},
	}
}

// Validate checks every setting and returns all problems at once
func (c *Config) Validate() error {
	var errs []error

	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request_timeout must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative"))
	}
	if len(c.Targets) == 0 {
		errs = append(errs, errors.New("no targets configured"))
	}

	names := make(map[string]bool)
	for i, t := range c.Targets {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("target #%d: name is required", i+1))
		} else if names[strings.ToLower(t.Name)] {
			errs = append(errs, fmt.Errorf("target %s: duplicate name", t.Name))
		}
		names[strings.ToLower(t.Name)] = true

		if err := ValidateTarget(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateTarget checks one target
func ValidateTarget(t types.CrawlTarget) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("target %s: "+format, append([]any{t.Name}, args...)...))
	}

	u, err := url.Parse(t.EntryURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fail("entry_url %q must be an absolute http(s) address", t.EntryURL)
	}
	if strings.TrimSpace(t.Marker) == "" {
		fail("marker is required")
	}
	if strings.TrimSpace(t.LinkSelector) == "" {
		fail("link_selector is required")
	}
	if t.MaxIterations <= 0 {
		fail("max_iterations must be positive")
	}
	switch t.FetchMode {
	case types.FetchConcurrent, types.FetchSerial:
	default:
		fail("unknown fetch_mode %q", t.FetchMode)
	}
	if t.HasTrigger() {
		switch t.TriggerPolicy {
		case types.TriggerOnce, types.TriggerUntilClicked:
		default:
			fail("unknown trigger_policy %q", t.TriggerPolicy)
		}
	}
	if t.FetchConcurrency < 0 {
		fail("fetch_concurrency must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"trigger_wait": t.TriggerWait,
		"settle_delay": t.SettleDelay,
		"max_duration": t.MaxDuration,
		"fetch_delay":  t.FetchDelay,
	} {
		if d < 0 {
			fail("%s must not be negative", name)
		}
	}
	if t.Fields.Date.Pattern != "" {
		if _, err := regexp.Compile(t.Fields.Date.Pattern); err != nil {
			fail("date pattern: %v", err)
		}
	}
	return errors.Join(errs...)
}

// Select returns the targets with the given names, all of them when names is
// empty. Unknown names are an error.
func (c *Config) Select(names []string) ([]types.CrawlTarget, error) {
	if len(names) == 0 {
		return c.Targets, nil
	}

	var (
		selected []types.CrawlTarget
		errs     []error
	)
	picked := make(map[string]bool)
	for _, name := range names {
		if picked[strings.ToLower(name)] {
			continue
		}
		picked[strings.ToLower(name)] = true

		found := false
		for _, t := range c.Targets {
			if strings.EqualFold(t.Name, name) {
				selected = append(selected, t)
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, fmt.Errorf("unknown target %q", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return selected, nil
}

// Names lists the configured target names in order
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Targets))
	for _, t := range c.Targets {
		names = append(names, t.Name)
	}
	return names
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func setDuration(dst *Duration, v Duration) {
	if v != 0 {
		*dst = v
	}
}
