package main

import (
	"time"

	"github.com/tinytelemetry/diagd/internal/model"
)

const (
	defaultBindHost         = "127.0.0.1"
	defaultAPIPort          = 3001
	defaultQueryTimeout     = 30 * time.Second
	defaultEnvironment      = "development"
	defaultEventCapacity    = model.DefaultEventCapacity
	defaultCallCapacity     = model.DefaultCallCapacity
	defaultQueryCapacity    = model.DefaultQueryCapacity
	defaultSnapshotCapacity = model.DefaultSnapshotCapacity
	defaultReceivedCapacity = model.DefaultReceivedCapacity
	defaultLocalStoreLimit  = model.DefaultLocalStoreLimit
	defaultHealthInterval   = model.DefaultHealthInterval
	defaultMemoryInterval   = model.DefaultMemoryInterval
	defaultNetworkInterval  = model.DefaultNetworkInterval

	environmentProduction = "production"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	APIPort          int           `mapstructure:"api-port"`
	APIAddr          string        `mapstructure:"api-addr"`
	DBPath           string        `mapstructure:"db-path"`
	QueryTimeout     time.Duration `mapstructure:"query-timeout"`
	Environment      string        `mapstructure:"environment"`
	CollectorURL     string        `mapstructure:"collector-url"`
	EventCapacity    int           `mapstructure:"event-capacity"`
	CallCapacity     int           `mapstructure:"call-capacity"`
	QueryCapacity    int           `mapstructure:"query-capacity"`
	SnapshotCapacity int           `mapstructure:"snapshot-capacity"`
	ReceivedCapacity int           `mapstructure:"received-capacity"`
	LocalStorePath   string        `mapstructure:"local-store-path"`
	LocalStoreLimit  int           `mapstructure:"local-store-limit"`
	HealthInterval   time.Duration `mapstructure:"health-interval"`
	MemoryInterval   time.Duration `mapstructure:"memory-interval"`
	NetworkProbeAddr string        `mapstructure:"network-probe-addr"`
	NetworkInterval  time.Duration `mapstructure:"network-interval"`
	Seed             bool          `mapstructure:"seed"`
	ConfigPath       string        `mapstructure:"-"` // not from config file
}

// production reports whether the development-only local sink is disabled.
func (c appConfig) production() bool {
	return c.Environment == environmentProduction
}
