package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/phillip-england/distconsole/internal/envutil"
	"github.com/phillip-england/distconsole/internal/report"
	"github.com/phillip-england/distconsole/internal/session"
)

// Config is the resolved runtime configuration for the console, the CLI
// and the mock backend.
type Config struct {
	ConsoleAddr   string
	APIBaseURL    string
	APITimeout    time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	SecureCookies bool

	MockAddr       string
	MockSigningKey string
	MockUsername   string
	MockPassword   string
	MockTokenTTL   time.Duration

	DefaultPageSize int
	IdentityClaims  []string
	TokenFile       string
	LogLevel        slog.Level
}

// configFile mirrors distconsole.yaml.
type configFile struct {
	Console struct {
		Addr          string `yaml:"addr"`
		SecureCookies *bool  `yaml:"secure_cookies"`
		PageSize      int    `yaml:"page_size"`
	} `yaml:"console"`
	API struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Session struct {
		IdentityClaims []string `yaml:"identity_claims"`
		TokenFile      string   `yaml:"token_file"`
	} `yaml:"session"`
	Mock struct {
		Addr       string `yaml:"addr"`
		SigningKey string `yaml:"signing_key"`
		Username   string `yaml:"username"`
		TokenTTL   string `yaml:"token_ttl"`
	} `yaml:"mock"`
	LogLevel string `yaml:"log_level"`
}

func Defaults() Config {
	return Config{
		ConsoleAddr:     ":3000",
		APIBaseURL:      "http://localhost:8080",
		APITimeout:      8 * time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    30 * time.Second,
		MockAddr:        ":8080",
		MockSigningKey:  "distconsole-dev-signing-key",
		MockUsername:    "admin",
		MockTokenTTL:    12 * time.Hour,
		DefaultPageSize: report.DefaultPageSize,
		IdentityClaims:  session.DefaultIdentityClaims,
		TokenFile:       session.DefaultTokenPath(),
		LogLevel:        slog.LevelInfo,
	}
}

// Load resolves configuration in priority order: defaults, then the YAML
// file at path (if it exists), then the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.ConsoleAddr = envutil.String("CONSOLE_ADDR", cfg.ConsoleAddr)
	cfg.APIBaseURL = strings.TrimRight(envutil.String("API_BASE_URL", cfg.APIBaseURL), "/")
	cfg.APITimeout = envutil.Duration("API_TIMEOUT", cfg.APITimeout)
	cfg.SecureCookies = envutil.Bool("SECURE_COOKIES", cfg.SecureCookies)
	cfg.MockAddr = envutil.String("MOCK_ADDR", cfg.MockAddr)
	cfg.MockSigningKey = envutil.String("MOCK_SIGNING_KEY", cfg.MockSigningKey)
	cfg.MockUsername = envutil.String("MOCK_USERNAME", cfg.MockUsername)
	cfg.MockPassword = envutil.String("MOCK_PASSWORD", cfg.MockPassword)
	cfg.MockTokenTTL = envutil.Duration("MOCK_TOKEN_TTL", cfg.MockTokenTTL)
	cfg.DefaultPageSize = envutil.Int("DEFAULT_PAGE_SIZE", cfg.DefaultPageSize)
	cfg.IdentityClaims = envutil.CSV("IDENTITY_CLAIMS", cfg.IdentityClaims)
	cfg.TokenFile = envutil.String("TOKEN_FILE", cfg.TokenFile)
	if lvl := envutil.String("LOG_LEVEL", ""); lvl != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}

	if cfg.APIBaseURL == "" {
		return Config{}, errors.New("missing API_BASE_URL")
	}
	if cfg.DefaultPageSize != report.NormalizePageSize(cfg.DefaultPageSize) {
		return Config{}, fmt.Errorf("DEFAULT_PAGE_SIZE must be between 1 and %d", report.MaxPageSize)
	}
	return cfg, nil
}

// Path returns CONFIG_FILE or the default distconsole.yaml.
func Path() string {
	return envutil.String("CONFIG_FILE", "distconsole.yaml")
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return err
	}
	if f.Console.Addr != "" {
		cfg.ConsoleAddr = f.Console.Addr
	}
	if f.Console.SecureCookies != nil {
		cfg.SecureCookies = *f.Console.SecureCookies
	}
	if f.Console.PageSize > 0 {
		cfg.DefaultPageSize = f.Console.PageSize
	}
	if f.API.BaseURL != "" {
		cfg.APIBaseURL = f.API.BaseURL
	}
	if f.API.Timeout != "" {
		d, err := time.ParseDuration(f.API.Timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("api.timeout: invalid duration %q", f.API.Timeout)
		}
		cfg.APITimeout = d
	}
	if len(f.Session.IdentityClaims) > 0 {
		cfg.IdentityClaims = f.Session.IdentityClaims
	}
	if f.Session.TokenFile != "" {
		cfg.TokenFile = f.Session.TokenFile
	}
	if f.Mock.Addr != "" {
		cfg.MockAddr = f.Mock.Addr
	}
	if f.Mock.SigningKey != "" {
		cfg.MockSigningKey = f.Mock.SigningKey
	}
	if f.Mock.Username != "" {
		cfg.MockUsername = f.Mock.Username
	}
	if f.Mock.TokenTTL != "" {
		d, err := time.ParseDuration(f.Mock.TokenTTL)
		if err != nil || d <= 0 {
			return fmt.Errorf("mock.token_ttl: invalid duration %q", f.Mock.TokenTTL)
		}
		cfg.MockTokenTTL = d
	}
	if f.LogLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(f.LogLevel)); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	return nil
}

// NewLogger builds the process logger: JSON to stdout, tagged with the
// running component.
func NewLogger(cfg Config, component string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).With("service", "distconsole", "component", component)
}
