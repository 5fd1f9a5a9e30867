package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "request.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDocument(t *testing.T) {
	path := writeDoc(t, `
name: create-user
url: https://${{ vars.host }}/v1/users
method: POST
headers:
  Authorization: Bearer ${{ secrets.api_token }}
payload:
  email: ${{ vars.email }}
overrides:
  host: staging.example.com
`)

	req, overrides, err := loadDocument(path)
	require.NoError(t, err)

	assert.Equal(t, "create-user", req.Name)
	assert.Equal(t, "https://${{ vars.host }}/v1/users", *req.URL)
	assert.Equal(t, "POST", *req.Method)
	assert.JSONEq(t, `{"Authorization":"Bearer ${{ secrets.api_token }}"}`, *req.Headers)
	assert.JSONEq(t, `{"email":"${{ vars.email }}"}`, *req.Payload)
	assert.Equal(t, map[string]any{"host": "staging.example.com"}, overrides)
}

func TestLoadDocumentStringFields(t *testing.T) {
	path := writeDoc(t, `
url: https://example.com
headers: '{"Accept":"application/json"}'
payload: plain text body
`)

	req, overrides, err := loadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, `{"Accept":"application/json"}`, *req.Headers)
	assert.Equal(t, "plain text body", *req.Payload)
	assert.Nil(t, req.Method)
	assert.Nil(t, overrides)
}

func TestLoadDocumentAbsentFields(t *testing.T) {
	path := writeDoc(t, `url: https://example.com`)

	req, _, err := loadDocument(path)
	require.NoError(t, err)
	assert.NotNil(t, req.URL)
	assert.Nil(t, req.Method)
	assert.Nil(t, req.Headers)
	assert.Nil(t, req.Payload)
}

func TestLoadDocumentErrors(t *testing.T) {
	_, _, err := loadDocument(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeDoc(t, "url: [not: closed")
	_, _, err = loadDocument(path)
	assert.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.FollowRedirects)
	assert.Equal(t, 10, cfg.MaxRedirects)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PRESEND_LOG_LEVEL", "debug")
	t.Setenv("PRESEND_PASS_THROUGH", "true")
	t.Setenv("PRESEND_SEND_TIMEOUT", "5s")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.PassThrough)
	assert.Equal(t, "5s", cfg.SendTimeout.String())
}
