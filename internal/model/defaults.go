package model

import "time"

// Shared defaults used by the monitors and the CLI.
const (
	DefaultEventCapacity    = 1000
	DefaultCallCapacity     = 500
	DefaultQueryCapacity    = 500
	DefaultSnapshotCapacity = 100
	DefaultReceivedCapacity = 10000
	DefaultLocalStoreLimit  = 100
	DefaultHealthInterval   = 60 * time.Second
	DefaultMemoryInterval   = 30 * time.Second
	DefaultNetworkInterval  = 15 * time.Second
)
