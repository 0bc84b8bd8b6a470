package config

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/collapsinghierarchy/quorum/model"
)

type ctxKey string

const configContextKey ctxKey = "quorum.config"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
)

// DefaultVotingWindow is roughly two months.
const DefaultVotingWindow = 60 * 24 * time.Hour

type Config struct {
	ListenAddr      string        `yaml:"listenAddr"      split_words:"true"`
	StoreBackend    string        `yaml:"storeBackend"    split_words:"true"`
	DatabaseURL     string        `yaml:"databaseUrl"     envconfig:"DATABASE_URL"`
	DataDir         string        `yaml:"dataDir"         split_words:"true"`
	Owner           string        `yaml:"owner"`
	Coordinator     string        `yaml:"coordinator"`
	VotingWindow    time.Duration `yaml:"votingWindow"    split_words:"true"`
	JWTSecret       string        `yaml:"jwtSecret"       envconfig:"JWT_SECRET"`
	MaxSealedSalt   int           `yaml:"maxSealedSalt"   split_words:"true"`
	EscrowKeyFile   string        `yaml:"escrowKeyFile"   split_words:"true"`
	EscrowKid       uint8         `yaml:"escrowKid"       split_words:"true"`
	MetricsEnabled  bool          `yaml:"metricsEnabled"  split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" split_words:"true"`
	Debug           bool          `yaml:"debug"`
}

func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		StoreBackend:    BackendMemory,
		DataDir:         ".quorum",
		VotingWindow:    DefaultVotingWindow,
		MaxSealedSalt:   8 * 1024,
		MetricsEnabled:  true,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads the optional YAML file over the defaults, then applies
// QUORUM_* environment variables.
func Load(configFile string) (*Config, error) {
	cfg := Default()
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("quorum", cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := model.ParseAddress(c.Owner); err != nil {
		errs = append(errs, fmt.Errorf("owner: %w", err))
	}
	if _, err := model.ParseAddress(c.Coordinator); err != nil {
		errs = append(errs, fmt.Errorf("coordinator: %w", err))
	}
	if c.VotingWindow <= 0 {
		errs = append(errs, errors.New("votingWindow must be positive"))
	}
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres, BackendMySQL:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("databaseUrl is required for the %s backend", c.StoreBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storeBackend %q", c.StoreBackend))
	}
	return errors.Join(errs...)
}

// OwnerAddress and CoordinatorAddress assume Validate passed.
func (c *Config) OwnerAddress() model.Address {
	a, _ := model.ParseAddress(c.Owner)
	return a
}

func (c *Config) CoordinatorAddress() model.Address {
	a, _ := model.ParseAddress(c.Coordinator)
	return a
}

// EscrowKey reads the base64 escrow public key, if one is configured.
func (c *Config) EscrowKey() ([]byte, error) {
	if c.EscrowKeyFile == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(c.EscrowKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read escrow key: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode escrow key: %w", err)
	}
	return key, nil
}
