package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool
	var seed bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/diagd/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.BoolVar(&seed, "seed", false, "fill an empty database with demo employees and requests")
	flag.Parse()

	if showVersion {
		fmt.Printf("diagd - Diagnostic Collector\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if seed {
		cfg.Seed = true
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("DIAGD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("api-addr", "")
	v.SetDefault("db-path", filepath.Join(home, ".local", "share", "diagd", "diagd.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("environment", defaultEnvironment)
	v.SetDefault("collector-url", "")
	v.SetDefault("event-capacity", defaultEventCapacity)
	v.SetDefault("call-capacity", defaultCallCapacity)
	v.SetDefault("query-capacity", defaultQueryCapacity)
	v.SetDefault("snapshot-capacity", defaultSnapshotCapacity)
	v.SetDefault("received-capacity", defaultReceivedCapacity)
	v.SetDefault("local-store-path", filepath.Join(home, ".local", "state", "diagd", "events.jsonl"))
	v.SetDefault("local-store-limit", defaultLocalStoreLimit)
	v.SetDefault("health-interval", defaultHealthInterval)
	v.SetDefault("memory-interval", defaultMemoryInterval)
	v.SetDefault("network-probe-addr", "")
	v.SetDefault("network-interval", defaultNetworkInterval)
	v.SetDefault("seed", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "diagd", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}

	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.LocalStorePath = expandHome(home, cfg.LocalStorePath)

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
