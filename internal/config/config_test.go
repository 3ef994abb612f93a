package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/blobdispatch/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
http:
  addr: 0.0.0.0:9090
  upload_rate: 100-M

log:
  level: debug

providers:
  - id: default
    type: localfs
    path: /var/lib/blobs
  - id: videos
    type: s3
    s3:
      bucket: videos
      region: eu-west-1
      endpoint: http://localhost:9000
      prefix: blobs
  - id: uploads
    type: transient
    ttl: 15m
    size: 100

dispatch:
  default: default
  repositories:
    - name: legacy
      provider: default
      unprefixed: true
  rules:
    - mime_type: video/*
      provider: videos
  rules_file: rules.yaml
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "blobdispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, testConfig)
	rules := "rules:\n  - xpath: files/*/file\n    provider: default\n"
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "rules.yaml"), []byte(rules), 0o644))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "0.0.0.0:9090", cfg.HTTP.Addr)
	assert.Equal(t, "100-M", cfg.HTTP.UploadRate)
	assert.Equal(t, int64(512<<20), cfg.HTTP.MaxUploadSize)
	assert.True(t, cfg.Strict)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, provider.TypeLocalFS, cfg.Providers[0].Type)
	require.NotNil(t, cfg.Providers[1].S3)
	assert.Equal(t, "videos", cfg.Providers[1].S3.Bucket)
	assert.Equal(t, "blobs", cfg.Providers[1].S3.Prefix)
	assert.Equal(t, 15*time.Minute, cfg.Providers[2].TTL)
	assert.Equal(t, 100, cfg.Providers[2].Size)

	assert.Equal(t, "default", cfg.Dispatch.Default)
	require.Len(t, cfg.Dispatch.Repositories, 1)
	assert.True(t, cfg.Dispatch.Repositories[0].Unprefixed)
	require.Len(t, cfg.Dispatch.Rules, 2, "rules file appended")
	assert.Equal(t, "video/*", cfg.Dispatch.Rules[0].MimeType)
	assert.Equal(t, "files/*/file", cfg.Dispatch.Rules[1].XPath)
}

func TestLoadConfigEnv(t *testing.T) {
	path := writeConfig(t, `
providers:
  - id: dummy
    type: memory
dispatch:
  default: dummy
`)
	t.Setenv("BLOBDISPATCH_HTTP_ADDR", ":8081")
	t.Setenv("BLOBDISPATCH_HTTP_CERT_FILE", "cert.pem")
	t.Setenv("BLOBDISPATCH_HTTP_KEY_FILE", "key.pem")
	t.Setenv("BLOBDISPATCH_HTTP_AUTH_SECRET", "s3cret")
	t.Setenv("BLOBDISPATCH_LOG_LEVEL", "warn")
	t.Setenv("BLOBDISPATCH_STRICT", "false")

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTP.Addr)
	assert.Equal(t, "cert.pem", cfg.HTTP.CertFile)
	assert.Equal(t, "key.pem", cfg.HTTP.KeyFile)
	assert.Equal(t, "s3cret", cfg.HTTP.AuthSecret)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Strict)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("BLOBDISPATCH_LOG_LEVEL=error\n"), 0o644))

	t.Setenv("BLOBDISPATCH_LOG_LEVEL", "")
	os.Unsetenv("BLOBDISPATCH_LOG_LEVEL")

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "error", os.Getenv("BLOBDISPATCH_LOG_LEVEL"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
	assert.NoError(t, LoadDotEnv(""))
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{name: "no-providers", config: "dispatch:\n  default: x\n"},
		{name: "duplicate-provider", config: "providers:\n  - {id: a, type: memory}\n  - {id: a, type: memory}\ndispatch:\n  default: a\n"},
		{name: "bad-provider", config: "providers:\n  - {id: a, type: tape}\ndispatch:\n  default: a\n"},
		{name: "no-default", config: "providers:\n  - {id: a, type: memory}\n"},
		{name: "bad-level", config: "log:\n  level: loud\nproviders:\n  - {id: a, type: memory}\ndispatch:\n  default: a\n"},
		{name: "cert-without-key", config: "http:\n  cert_file: c.pem\nproviders:\n  - {id: a, type: memory}\ndispatch:\n  default: a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(NewViper(), writeConfig(t, tt.config))
			assert.Error(t, err)
		})
	}

	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
