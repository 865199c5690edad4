// Package config loads engine configuration from a YAML file plus
// environment variables for secrets.
package config

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr  = ":8080"
	defaultRelayAPIURL = "https://api.relay.link/quote"
	defaultRelayChain  = 57073 // Ink mainnet
	defaultRetryDelay  = 3 * time.Second
	defaultMaxRetries  = 1
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// Config holds everything the engine needs to run. Secrets never live in
// the YAML file; they come from the environment.
type Config struct {
	ListenAddr      string
	RPCURL          string
	ContractAddress string
	RelayAPIURL     string
	RelayChainID    int64
	RetryDelay      time.Duration
	MaxRetries      int

	// from environment
	OperatorKey string
	DatabaseURL string
	CronSecret  string
}

type configYaml struct {
	ListenAddr      string `yaml:"listen_addr,omitempty"`
	RPCURL          string `yaml:"rpc_url"`
	ContractAddress string `yaml:"contract_address"`
	RelayAPIURL     string `yaml:"relay_api_url,omitempty"`
	RelayChainID    int64  `yaml:"relay_chain_id,omitempty"`
	RetryDelayStr   string `yaml:"retry_delay,omitempty"`
	MaxRetries      *int   `yaml:"max_retries,omitempty"`
}

// Get parses the --config flag and loads the configuration.
func Get() (Config, error) {
	path := flag.String("config", "config.yaml", "path to yaml config")
	flag.Parse()

	return Load(*path)
}

// Load reads and validates the configuration at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var tmp configYaml
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg := Config{
		ListenAddr:      tmp.ListenAddr,
		RPCURL:          tmp.RPCURL,
		ContractAddress: tmp.ContractAddress,
		RelayAPIURL:     tmp.RelayAPIURL,
		RelayChainID:    tmp.RelayChainID,
		MaxRetries:      defaultMaxRetries,
		OperatorKey:     os.Getenv("OPERATOR_PRIVATE_KEY"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		CronSecret:      os.Getenv("CRON_SCHEDULE_SECRET"),
	}

	if tmp.MaxRetries != nil {
		cfg.MaxRetries = *tmp.MaxRetries
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.RelayAPIURL == "" {
		cfg.RelayAPIURL = defaultRelayAPIURL
	}
	if cfg.RelayChainID == 0 {
		cfg.RelayChainID = defaultRelayChain
	}
	if tmp.RetryDelayStr != "" {
		cfg.RetryDelay, err = time.ParseDuration(tmp.RetryDelayStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid retry_delay %q: %w", tmp.RetryDelayStr, err)
		}
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if !addressPattern.MatchString(c.ContractAddress) {
		return fmt.Errorf("invalid contract_address %q", c.ContractAddress)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must be positive, got %s", c.RetryDelay)
	}
	if c.OperatorKey == "" {
		return fmt.Errorf("OPERATOR_PRIVATE_KEY environment variable must be set")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable must be set")
	}
	if c.CronSecret == "" {
		return fmt.Errorf("CRON_SCHEDULE_SECRET environment variable must be set")
	}

	return nil
}
