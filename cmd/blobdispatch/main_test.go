package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/openmined/blobdispatch/internal/blob"
	"github.com/openmined/blobdispatch/internal/config"
	"github.com/openmined/blobdispatch/internal/dispatch"
	"github.com/openmined/blobdispatch/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blobdispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func storageConfig(t *testing.T) string {
	dir := t.TempDir()
	return writeTestConfig(t, fmt.Sprintf(`
providers:
  - id: fs
    type: localfs
    path: %s
  - id: db
    type: sqlite
    path: %s
dispatch:
  default: fs
  rules:
    - mime_type: text/*
      provider: db
`, filepath.Join(dir, "fs"), filepath.Join(dir, "blobs.db")))
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, version.AppName+" "))

	out, err = runCmd(t, "version", "--json")
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.AppName, info.App)
	assert.Equal(t, version.Version, info.Version)
}

func TestValidateCmd(t *testing.T) {
	good := writeTestConfig(t, `
providers:
  - {id: dummy, type: memory}
  - {id: videos, type: memory}
dispatch:
  default: dummy
  rules:
    - {mime_type: video/*, provider: videos}
`)
	out, err := runCmd(t, "validate", "-c", good)
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
	assert.Contains(t, out, "2 providers, 1 rules")

	ghost := `
providers:
  - {id: dummy, type: memory}
dispatch:
  default: dummy
  rules:
    - {mime_type: video/*, provider: ghost}
`
	out, err = runCmd(t, "validate", "-c", writeTestConfig(t, ghost))
	require.Error(t, err)
	assert.ErrorIs(t, err, blob.ErrMisconfiguredDispatch)
	assert.Contains(t, out, "ghost")

	out, err = runCmd(t, "validate", "-c", writeTestConfig(t, "strict: false\n"+ghost))
	require.NoError(t, err)
	assert.Contains(t, out, "FAIL")

	_, err = runCmd(t, "validate", "-c", writeTestConfig(t, "providers: []\n"))
	assert.Error(t, err)
}

func TestRouteCmd(t *testing.T) {
	path := writeTestConfig(t, `
providers:
  - {id: dummy, type: memory}
  - {id: videos, type: memory}
dispatch:
  default: dummy
  repositories:
    - {name: archive, provider: cold}
  rules:
    - {mime_type: video/*, provider: videos}
strict: false
`)

	out, err := runCmd(t, "route", "-c", path, "-m", "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "videos\n", out)

	out, err = runCmd(t, "route", "-c", path, "-m", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "dummy\n", out)

	out, err = runCmd(t, "route", "-c", path, "-r", "archive")
	require.NoError(t, err)
	assert.Contains(t, out, "cold")
	assert.Contains(t, out, "not configured")
}

func TestPutGetCmd(t *testing.T) {
	path := storageConfig(t)
	dir := t.TempDir()

	textFile := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(textFile, []byte("hello blob"), 0o644))
	pdfFile := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(pdfFile, []byte("%PDF-1.4 not much of a pdf"), 0o644))

	out, err := runCmd(t, "put", "-c", path, textFile)
	require.NoError(t, err)
	var textInfo blob.BlobInfo
	require.NoError(t, yaml.Unmarshal([]byte(out), &textInfo))
	assert.Equal(t, "db:1", textInfo.Key)
	assert.Equal(t, "text/plain", textInfo.MimeType)
	assert.Equal(t, "notes.txt", textInfo.Filename)
	assert.Equal(t, int64(10), textInfo.Length)

	out, err = runCmd(t, "put", "-c", path, "--json", pdfFile)
	require.NoError(t, err)
	var pdfInfo blob.BlobInfo
	require.NoError(t, json.Unmarshal([]byte(out), &pdfInfo))
	assert.Equal(t, "application/pdf", pdfInfo.MimeType)
	assert.True(t, strings.HasPrefix(pdfInfo.Key, "fs:"), pdfInfo.Key)
	assert.Len(t, blob.StripKeyPrefix(pdfInfo.Key), 64)

	out, err = runCmd(t, "get", "-c", path, textInfo.Key)
	require.NoError(t, err)
	assert.Equal(t, "hello blob", out)

	outFile := filepath.Join(dir, "out", "paper.pdf")
	_, err = runCmd(t, "get", "-c", path, "-o", outFile, pdfInfo.Key)
	require.NoError(t, err)
	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 not much of a pdf", string(data))

	_, err = runCmd(t, "get", "-c", path, "db:999")
	assert.ErrorIs(t, err, blob.ErrBlobNotFound)

	_, err = runCmd(t, "put", "-c", path, filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)
}

func TestProvidersCmd(t *testing.T) {
	out, err := runCmd(t, "providers", "-c", storageConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "fs *")
	assert.Contains(t, out, "db")
	assert.Contains(t, out, "localfs")
	assert.Contains(t, out, "sqlite")
}

func TestRulesCmd(t *testing.T) {
	path := storageConfig(t)

	out, err := runCmd(t, "rules", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "mime_type: text/*")

	saved := filepath.Join(t.TempDir(), "rules.yaml")
	_, err = runCmd(t, "rules", "-c", path, "-o", saved)
	require.NoError(t, err)

	cfg, err := dispatch.LoadFromFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "fs", cfg.Default)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "db", cfg.Rules[0].Provider)
}

func TestTokenCmd(t *testing.T) {
	path := writeTestConfig(t, `
http:
  auth_secret: s3cret
providers:
  - {id: dummy, type: memory}
dispatch:
  default: dummy
`)
	out, err := runCmd(t, "token", "-c", path, "-s", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."))

	_, err = runCmd(t, "token", "-c", storageConfig(t))
	assert.Error(t, err)
}

func TestReloadDispatch(t *testing.T) {
	path := writeTestConfig(t, `
providers:
  - {id: dummy, type: memory}
  - {id: videos, type: memory}
dispatch:
  default: dummy
`)
	cfg, err := config.Load(config.NewViper(), path)
	require.NoError(t, err)

	mgr, err := newManager(context.Background(), cfg)
	require.NoError(t, err)
	defer closeManager(mgr)

	video := blob.NewStringBlob("v", blob.WithMimeType("video/mp4"))
	assert.Equal(t, "dummy", mgr.Route(dispatch.Target{}, video))

	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - {id: dummy, type: memory}
  - {id: videos, type: memory}
dispatch:
  default: dummy
  rules:
    - {mime_type: video/*, provider: videos}
`), 0o644))
	require.NoError(t, reloadDispatch(path, mgr))
	assert.Equal(t, "videos", mgr.Route(dispatch.Target{}, video))

	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - {id: dummy, type: memory}
dispatch:
  default: dummy
  rules:
    - {mime_type: video/*, provider: ghost}
`), 0o644))
	assert.ErrorIs(t, reloadDispatch(path, mgr), blob.ErrMisconfiguredDispatch)
	assert.Equal(t, "videos", mgr.Route(dispatch.Target{}, video), "failed reload keeps the previous rules")
}
