package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig(t *testing.T) *Config {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.Mkdir(src, 0o755))
	return &Config{
		SourceDir: src,
		Target:    TargetConfig{Path: filepath.Join(root, "dst")},
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	cfg := localConfig(t)
	cfg.ControlPlane.Enabled = true

	require.NoError(t, cfg.Validate())
	assert.Equal(t, TargetLocal, cfg.Target.Kind)
	assert.True(t, filepath.IsAbs(cfg.Target.Path))
	assert.Equal(t, DefaultControlPlaneAddr, cfg.ControlPlane.Addr)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing source", func(c *Config) { c.SourceDir = "" }},
		{"source is not a dir", func(c *Config) { c.SourceDir = filepath.Join(c.SourceDir, "nope") }},
		{"missing target path", func(c *Config) { c.Target.Path = "" }},
		{"target inside source", func(c *Config) { c.Target.Path = filepath.Join(c.SourceDir, "mirror") }},
		{"target equals source", func(c *Config) { c.Target.Path = c.SourceDir }},
		{"unknown kind", func(c *Config) { c.Target.Kind = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Target.Kind = TargetS3 }},
		{"basic without secret", func(c *Config) {
			c.Target = TargetConfig{Kind: TargetS3, Bucket: "b", Credentials: CredentialsConfig{Type: CredentialsBasic, KeyID: "id"}}
		}},
		{"profile without name", func(c *Config) {
			c.Target = TargetConfig{Kind: TargetS3, Bucket: "b", Credentials: CredentialsConfig{Type: CredentialsProfile}}
		}},
		{"unknown credentials", func(c *Config) {
			c.Target = TargetConfig{Kind: TargetS3, Bucket: "b", Credentials: CredentialsConfig{Type: "token"}}
		}},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig(t)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
		})
	}
}

func TestValidate_S3(t *testing.T) {
	cfg := localConfig(t)
	cfg.Target = TargetConfig{
		Kind:   TargetS3,
		Bucket: "backups",
		Prefix: "/laptop/",
		Credentials: CredentialsConfig{
			Type:      CredentialsBasic,
			KeyID:     "AKIAEXAMPLE",
			KeySecret: "secretsecret",
		},
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "laptop", cfg.Target.Prefix)

	cfg.Target.Credentials = CredentialsConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, CredentialsDefault, cfg.Target.Credentials.Type)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := localConfig(t)
	cfg.LogLevel = "debug"
	cfg.Watch = true
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	require.NoError(t, cfg.Save(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded.Path)
	assert.Equal(t, cfg.SourceDir, loaded.SourceDir)
	assert.Equal(t, cfg.Target, loaded.Target)
	assert.True(t, loaded.Watch)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestMasked(t *testing.T) {
	cfg := Config{
		Target:       TargetConfig{Credentials: CredentialsConfig{KeySecret: "supersecret"}},
		ControlPlane: ControlPlaneConfig{Token: "tok"},
	}
	m := cfg.Masked()
	assert.Equal(t, "supe*****", m.Target.Credentials.KeySecret)
	assert.Equal(t, "*****", m.ControlPlane.Token)
	assert.Equal(t, "supersecret", cfg.Target.Credentials.KeySecret)
}
