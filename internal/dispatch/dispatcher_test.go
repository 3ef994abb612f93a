package dispatch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherFromPattern(t *testing.T) {
	tests := []struct {
		pattern string
		want    MatcherType
	}{
		{pattern: "", want: MatcherTypeAny},
		{pattern: "*", want: MatcherTypeAny},
		{pattern: "**", want: MatcherTypeAny},
		{pattern: "content", want: MatcherTypeExact},
		{pattern: "files/0/file", want: MatcherTypeExact},
		{pattern: "files/*/file", want: MatcherTypeGlob},
		{pattern: "video/*", want: MatcherTypeGlob},
		{pattern: "{Picture,Video}", want: MatcherTypeGlob},
	}

	for _, tt := range tests {
		m, err := matcherFromPattern(tt.pattern)
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.want, m.Type(), tt.pattern)
	}

	_, err := matcherFromPattern("files/[/file")
	assert.Error(t, err)
}

func TestMatchers(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{pattern: "*", value: "files/0/file", want: true},
		{pattern: "", value: "", want: true},
		{pattern: "files/0/file", value: "files/0/file", want: true},
		{pattern: "files/0/file", value: "files/1/file", want: false},
		{pattern: "files/*/file", value: "files/12/file", want: true},
		{pattern: "files/*/file", value: "files/1/2/file", want: false},
		{pattern: "files/**", value: "files/1/2/file", want: true},
		{pattern: "video/*", value: "video/mp4", want: true},
		{pattern: "video/*", value: "audio/mp4", want: false},
		{pattern: "{Picture,Video}", value: "Video", want: true},
		{pattern: "File", value: "Folder", want: false},
	}

	for _, tt := range tests {
		m, err := matcherFromPattern(tt.pattern)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.Match(tt.value), "%q ~ %q", tt.pattern, tt.value)
	}
}

func TestDispatchDefault(t *testing.T) {
	d, err := New(&Config{Default: "dummy"})
	require.NoError(t, err)

	got := d.Dispatch(Target{Repository: "dummy", DocType: "File", XPath: "somexpath"}, blob.NewStringBlob("foo", blob.WithMimeType("text/plain")))
	assert.Equal(t, "dummy", got)
}

func TestDispatchMimeType(t *testing.T) {
	d, err := New(&Config{
		Default: "dummy",
		Rules:   []Rule{{MimeType: "video/*", Provider: "dummy2"}},
	})
	require.NoError(t, err)

	target := Target{Repository: "dummy", DocType: "File", XPath: "somexpath"}
	assert.Equal(t, "dummy", d.Dispatch(target, blob.NewStringBlob("foo", blob.WithMimeType("text/plain"))))
	assert.Equal(t, "dummy2", d.Dispatch(target, blob.NewStringBlob("bar", blob.WithMimeType("video/mp4"))))
	assert.Equal(t, "dummy2", d.Dispatch(target, blob.NewStringBlob("bar", blob.WithMimeType("Video/MP4; codecs=avc1"))))
	assert.Equal(t, "dummy", d.Dispatch(target, nil))
}

func TestDispatchXPath(t *testing.T) {
	d, err := New(&Config{
		Default: "dummy",
		Rules:   []Rule{{XPath: "files/0/file", Provider: "dummy2"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "dummy", d.Dispatch(Target{XPath: "content"}, nil))
	assert.Equal(t, "dummy2", d.Dispatch(Target{XPath: "files/0/file"}, nil))
	assert.Equal(t, "dummy2", d.Dispatch(Target{XPath: "/files/0/file/"}, nil))
	assert.Equal(t, "dummy", d.Dispatch(Target{XPath: "files/1/file"}, nil))
}

func TestDispatchFirstRuleWins(t *testing.T) {
	d, err := New(&Config{
		Default: "default",
		Rules: []Rule{
			{DocType: "Video", XPath: "content", Provider: "videos"},
			{DocType: "Video", Provider: "video-other"},
			{XPath: "files/*/file", Provider: "attachments"},
			{Repository: "archive", Provider: "cold"},
		},
	})
	require.NoError(t, err)

	tests := []struct {
		target Target
		want   string
	}{
		{Target{DocType: "Video", XPath: "content"}, "videos"},
		{Target{DocType: "Video", XPath: "files/0/file"}, "video-other"},
		{Target{DocType: "File", XPath: "files/3/file"}, "attachments"},
		{Target{Repository: "archive", DocType: "File", XPath: "content"}, "cold"},
		{Target{Repository: "default", DocType: "File", XPath: "content"}, "default"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, d.Dispatch(tt.target, nil), "%+v", tt.target)
	}
}

func TestDispatchRepositoryDefaults(t *testing.T) {
	d, err := New(&Config{
		Default: "global",
		Repositories: []Repository{
			{Name: "default", Provider: "default"},
			{Name: "legacy", Provider: "legacyfs", Unprefixed: true},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "default", d.Dispatch(Target{Repository: "default"}, nil))
	assert.Equal(t, "legacyfs", d.Dispatch(Target{Repository: "legacy"}, nil))
	assert.Equal(t, "global", d.Dispatch(Target{Repository: "unknown"}, nil))

	repo, ok := d.Repository("legacy")
	require.True(t, ok)
	assert.True(t, repo.Unprefixed)

	_, ok = d.Repository("unknown")
	assert.False(t, ok)
}

func TestDispatchIgnoresContent(t *testing.T) {
	d, err := New(&Config{
		Default: "dummy",
		Rules:   []Rule{{DocType: "File", XPath: "content", Provider: "dummy2"}},
	})
	require.NoError(t, err)

	target := Target{DocType: "File", XPath: "content"}
	b1 := blob.NewStringBlob("short")
	b2 := blob.NewStringBlob(strings.Repeat("long content ", 1000), blob.WithFilename("other.bin"))

	for range 10 {
		assert.Equal(t, d.Dispatch(target, b1), d.Dispatch(target, b2))
	}
}

func TestDispatchUnregisteredProviderStillReturned(t *testing.T) {
	d, err := New(&Config{
		Default: "dummy",
		Rules:   []Rule{{XPath: "content", Provider: "ghost"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "ghost", d.Dispatch(Target{XPath: "content"}, nil))
}

func TestProviderIDs(t *testing.T) {
	d, err := New(&Config{
		Default:      "dummy",
		Repositories: []Repository{{Name: "r", Provider: "rp"}},
		Rules:        []Rule{{XPath: "content", Provider: "ghost"}, {XPath: "x", Provider: "dummy"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"dummy", "ghost", "rp"}, d.SortedProviderIDs())
	assert.True(t, d.ProviderIDs().Contains("ghost"))
	assert.Len(t, d.Rules(), 2)
}

func TestNewInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "no-default", cfg: &Config{}},
		{name: "rule-without-provider", cfg: &Config{Default: "d", Rules: []Rule{{XPath: "content"}}}},
		{name: "repo-without-name", cfg: &Config{Repositories: []Repository{{Provider: "p"}}}},
		{name: "repo-without-provider", cfg: &Config{Repositories: []Repository{{Name: "r"}}}},
		{name: "repo-twice", cfg: &Config{Repositories: []Repository{{Name: "r", Provider: "p"}, {Name: "r", Provider: "q"}}}},
		{name: "bad-glob", cfg: &Config{Default: "d", Rules: []Rule{{XPath: "files/[", Provider: "p"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestLoadFromReader(t *testing.T) {
	yml := `
default: dummy
repositories:
  - name: default
    provider: dummy
  - name: legacy
    provider: legacyfs
    unprefixed: true
rules:
  - mime_type: video/*
    provider: dummy2
  - doc_type: File
    xpath: files/*/file
    provider: attachments
`
	cfg, err := LoadFromReader(strings.NewReader(yml))
	require.NoError(t, err)

	assert.Equal(t, "dummy", cfg.Default)
	require.Len(t, cfg.Repositories, 2)
	assert.True(t, cfg.Repositories[1].Unprefixed)
	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, Rule{MimeType: "video/*", Provider: "dummy2"}, cfg.Rules[0])
	assert.Equal(t, Rule{DocType: "File", XPath: "files/*/file", Provider: "attachments"}, cfg.Rules[1])

	_, err = New(cfg)
	assert.NoError(t, err)
}

func TestRulesFileAndSave(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("rules:\n  - xpath: files/*/file\n    provider: attachments\n"), 0644))

	cfg := &Config{
		Default:   "dummy",
		Rules:     []Rule{{MimeType: "video/*", Provider: "videos"}},
		RulesFile: "rules.yaml",
	}
	require.NoError(t, cfg.ResolveRulesFile(dir))
	require.Len(t, cfg.Rules, 2)
	assert.Equal(t, "attachments", cfg.Rules[1].Provider)
	assert.Empty(t, cfg.RulesFile)

	out := filepath.Join(dir, "saved.yaml")
	require.NoError(t, cfg.Save(out))

	loaded, err := LoadFromFile(out)
	require.NoError(t, err)
	assert.Equal(t, cfg.Rules, loaded.Rules)
	assert.Equal(t, "dummy", loaded.Default)

	missing := &Config{Default: "d", RulesFile: "missing.yaml"}
	assert.Error(t, missing.ResolveRulesFile(dir))
}
