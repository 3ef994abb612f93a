package dispatch

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/blobdispatch/internal/blob"
)

// Target identifies where a new blob is being written
type Target struct {
	Repository string
	DocType    string
	XPath      string
}

type compiledRule struct {
	rule       Rule
	repository Matcher
	docType    Matcher
	xpath      Matcher
	mimeType   Matcher
}

func (r *compiledRule) matches(t Target, mimeType string) bool {
	return r.repository.Match(t.Repository) &&
		r.docType.Match(t.DocType) &&
		r.xpath.Match(t.XPath) &&
		r.mimeType.Match(mimeType)
}

// Dispatcher decides which provider receives a new blob. It is only consulted on writes.
// A Dispatcher never changes after New; reconfiguring means building a new one.
type Dispatcher struct {
	rules     []*compiledRule
	repos     map[string]Repository
	defaultID string
}

// New validates cfg and compiles its rules into a Dispatcher
func New(cfg *Config) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch config: %w", err)
	}

	d := &Dispatcher{
		rules:     make([]*compiledRule, 0, len(cfg.Rules)),
		repos:     make(map[string]Repository, len(cfg.Repositories)),
		defaultID: cfg.Default,
	}

	for _, repo := range cfg.Repositories {
		d.repos[repo.Name] = repo
	}

	for i, rule := range cfg.Rules {
		cr, err := compileRule(rule)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		d.rules = append(d.rules, cr)
	}

	return d, nil
}

func compileRule(rule Rule) (*compiledRule, error) {
	repository, err := matcherFromPattern(rule.Repository)
	if err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	docType, err := matcherFromPattern(rule.DocType)
	if err != nil {
		return nil, fmt.Errorf("doc_type: %w", err)
	}
	xpath, err := matcherFromPattern(normalizeXPath(rule.XPath))
	if err != nil {
		return nil, fmt.Errorf("xpath: %w", err)
	}
	mimeType, err := matcherFromPattern(strings.ToLower(rule.MimeType))
	if err != nil {
		return nil, fmt.Errorf("mime_type: %w", err)
	}

	return &compiledRule{
		rule:       rule,
		repository: repository,
		docType:    docType,
		xpath:      xpath,
		mimeType:   mimeType,
	}, nil
}

// Dispatch returns the provider id for a new blob written at t. The first matching rule
// wins, then the repository default, then the global default.
//
// Only the declared mime type of b is looked at, never its content. The returned id is
// not checked against registered providers.
func (d *Dispatcher) Dispatch(t Target, b blob.Blob) string {
	t.XPath = normalizeXPath(t.XPath)
	mimeType := ""
	if b != nil {
		mimeType = baseMimeType(b.MimeType())
	}

	for _, r := range d.rules {
		if r.matches(t, mimeType) {
			return r.rule.Provider
		}
	}

	return d.DefaultProvider(t.Repository)
}

// DefaultProvider returns the default provider of repo, or the global default
func (d *Dispatcher) DefaultProvider(repo string) string {
	if r, ok := d.repos[repo]; ok {
		return r.Provider
	}
	return d.defaultID
}

// Repository returns the configuration of a named repository
func (d *Dispatcher) Repository(name string) (Repository, bool) {
	r, ok := d.repos[name]
	return r, ok
}

// Rules returns a copy of the rules, in evaluation order
func (d *Dispatcher) Rules() []Rule {
	rules := make([]Rule, len(d.rules))
	for i, r := range d.rules {
		rules[i] = r.rule
	}
	return rules
}

// ProviderIDs returns every provider id this dispatcher can route to or default to
func (d *Dispatcher) ProviderIDs() mapset.Set[string] {
	ids := mapset.NewThreadUnsafeSet[string]()
	if d.defaultID != "" {
		ids.Add(d.defaultID)
	}
	for _, repo := range d.repos {
		ids.Add(repo.Provider)
	}
	for _, r := range d.rules {
		ids.Add(r.rule.Provider)
	}
	return ids
}

// SortedProviderIDs is ProviderIDs as a sorted slice
func (d *Dispatcher) SortedProviderIDs() []string {
	ids := d.ProviderIDs().ToSlice()
	slices.Sort(ids)
	return ids
}

// ----------------------------------------------------------------------------

func normalizeXPath(xpath string) string {
	return strings.Trim(xpath, "/")
}

// baseMimeType drops parameters, "text/plain; charset=utf-8" -> "text/plain"
func baseMimeType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
