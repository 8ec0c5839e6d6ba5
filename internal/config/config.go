package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/openmined/mirrorbox/internal/logging"
	"github.com/openmined/mirrorbox/internal/utils"
)

const (
	TargetLocal = "local"
	TargetS3    = "s3"

	CredentialsDefault = "default"
	CredentialsBasic   = "basic"
	CredentialsProfile = "profile"
)

var (
	home, _                 = os.UserHomeDir()
	DefaultConfigDir        = filepath.Join(home, ".mirrorbox")
	DefaultConfigPath       = filepath.Join(DefaultConfigDir, "config.json")
	DefaultLogFilePath      = filepath.Join(DefaultConfigDir, "logs", "mirrorbox.log")
	DefaultHistoryPath      = filepath.Join(DefaultConfigDir, "history.db")
	DefaultControlPlaneAddr = "127.0.0.1:7938"
)

var ErrConfigInvalid = errors.New("invalid config")

type Config struct {
	SourceDir    string             `json:"source_dir" yaml:"source_dir"`
	Target       TargetConfig       `json:"target" yaml:"target"`
	LogLevel     string             `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFile      string             `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	Watch        bool               `json:"watch" yaml:"watch"`
	IgnoreFile   string             `json:"ignore_file,omitempty" yaml:"ignore_file,omitempty"`
	HistoryDB    string             `json:"history_db,omitempty" yaml:"history_db,omitempty"`
	ControlPlane ControlPlaneConfig `json:"control_plane" yaml:"control_plane"`
	Path         string             `json:"-" yaml:"-"`
}

type TargetConfig struct {
	Kind        string            `json:"kind" yaml:"kind"`
	Path        string            `json:"path,omitempty" yaml:"path,omitempty"`
	Bucket      string            `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix      string            `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region      string            `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Credentials CredentialsConfig `json:"credentials" yaml:"credentials"`
}

type CredentialsConfig struct {
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
	KeyID     string `json:"key_id,omitempty" yaml:"key_id,omitempty"`
	KeySecret string `json:"key_secret,omitempty" yaml:"key_secret,omitempty"`
	Profile   string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

type ControlPlaneConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// Validate fills defaults, resolves paths to absolute form and checks that
// the configuration can drive a sync.
func (c *Config) Validate() error {
	if c.SourceDir == "" {
		return invalid("source_dir is required")
	}
	src, err := utils.ResolvePath(c.SourceDir)
	if err != nil {
		return invalid("source_dir: %v", err)
	}
	if !utils.DirExists(src) {
		return invalid("source_dir %q is not a directory", src)
	}
	c.SourceDir = src

	if err := c.Target.validate(src); err != nil {
		return err
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("%v", err)
	}
	if c.LogFile != "" {
		if c.LogFile, err = utils.ResolvePath(c.LogFile); err != nil {
			return invalid("log_file: %v", err)
		}
	}
	if c.HistoryDB != "" {
		if c.HistoryDB, err = utils.ResolvePath(c.HistoryDB); err != nil {
			return invalid("history_db: %v", err)
		}
	}

	if c.ControlPlane.Enabled && c.ControlPlane.Addr == "" {
		c.ControlPlane.Addr = DefaultControlPlaneAddr
	}
	return nil
}

func (t *TargetConfig) validate(sourceDir string) error {
	if t.Kind == "" {
		t.Kind = TargetLocal
	}

	switch t.Kind {
	case TargetLocal:
		if t.Path == "" {
			return invalid("target.path is required for a local target")
		}
		dst, err := utils.ResolvePath(t.Path)
		if err != nil {
			return invalid("target.path: %v", err)
		}
		if dst == sourceDir || strings.HasPrefix(dst, sourceDir+string(filepath.Separator)) {
			return invalid("target.path %q must not be inside source_dir", dst)
		}
		t.Path = dst
		return nil

	case TargetS3:
		if t.Bucket == "" {
			return invalid("target.bucket is required for an s3 target")
		}
		t.Prefix = strings.Trim(t.Prefix, "/")
		return t.Credentials.validate()

	default:
		return invalid("unknown target.kind %q", t.Kind)
	}
}

func (c *CredentialsConfig) validate() error {
	if c.Type == "" {
		c.Type = CredentialsDefault
	}

	switch c.Type {
	case CredentialsDefault:
	case CredentialsBasic:
		if c.KeyID == "" || c.KeySecret == "" {
			return invalid("basic credentials need key_id and key_secret")
		}
	case CredentialsProfile:
		if c.Profile == "" {
			return invalid("profile credentials need a profile name")
		}
	default:
		return invalid("unknown credentials type %q", c.Type)
	}
	return nil
}

// Masked returns a copy with secrets shortened for display.
func (c Config) Masked() Config {
	if c.Target.Credentials.KeySecret != "" {
		c.Target.Credentials.KeySecret = utils.MaskSecret(c.Target.Credentials.KeySecret)
	}
	if c.ControlPlane.Token != "" {
		c.ControlPlane.Token = utils.MaskSecret(c.ControlPlane.Token)
	}
	return c
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// may hold credentials
	return os.WriteFile(path, data, 0o600)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}
