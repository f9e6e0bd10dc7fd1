package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("CRM_CLIENT_ID", "client")
	t.Setenv("CRM_USERNAME", "api@example.org")
	t.Setenv("CRM_PASSWORD", "pw")
	t.Setenv("VERIFY_SECRET", "secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "59.0", cfg.CRM.APIVersion)
	assert.Equal(t, int64(4<<20), cfg.Limits.MaxFileSize)
	assert.Equal(t, 1, cfg.Limits.MaxFiles)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.CreateRecord)
	assert.Equal(t, []string{"*"}, cfg.Origins())
	assert.Empty(t, cfg.OxiDB.Addr)
	assert.Equal(t, cfg.Timeouts.Upload, cfg.StepTimeouts().Upload)
	assert.Equal(t, cfg.Limits.MaxFileSize, cfg.IngestLimits().MaxFileSize)
}

func TestLoad_EnvFile(t *testing.T) {
	setRequired(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "grant.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"MAX_ATTACHMENTS=0\nCRM_RECORD_TYPE_IDS=small-grants=012A, project-grants=012B\nCORS_ORIGINS=https://a.example,https://b.example\n",
	), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("MAX_ATTACHMENTS")
		os.Unsetenv("CRM_RECORD_TYPE_IDS")
		os.Unsetenv("CORS_ORIGINS")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Limits.MaxFiles)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Origins())
	types, err := cfg.RecordTypes()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"small-grants": "012A", "project-grants": "012B"}, types)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OPERATOR_EMAIL", "ops@example.org")
	t.Setenv("CRM_RECORD_TYPE_IDS", "small-grants")

	_, err := Load("")
	require.Error(t, err)
	for _, want := range []string{"CRM_PASSWORD", "CRM_CLIENT_ID", "VERIFY_SECRET", "OPERATOR_PASSWORD_HASH", "bad pair"} {
		assert.Contains(t, err.Error(), want)
	}
}
