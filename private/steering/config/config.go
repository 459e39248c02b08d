// Copyright 2025 The flowsteer Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config contains the configuration of the flowsteer service.
package config

import (
	"io"
	"slices"
	"time"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/private/util"
	"github.com/flowsteer/flowsteer/pkg/steering"
	"github.com/flowsteer/flowsteer/pkg/steering/driver"
	"github.com/flowsteer/flowsteer/pkg/steering/driver/soft"
	"github.com/flowsteer/flowsteer/private/config"
	"github.com/flowsteer/flowsteer/private/env"
	api "github.com/flowsteer/flowsteer/private/mgmtapi"
	"github.com/flowsteer/flowsteer/private/storage"
)

// Defaults.
const (
	DefaultDriver        = soft.Name
	DefaultCommitMode    = "auto"
	DefaultSyncInterval  = 100 * time.Millisecond
	DefaultNumProcessors = 4
)

type Config struct {
	General  env.General      `toml:"general,omitempty"`
	Logging  log.Config       `toml:"log,omitempty"`
	Metrics  env.Metrics      `toml:"metrics,omitempty"`
	API      api.Config       `toml:"api,omitempty"`
	Steering Steering         `toml:"steering,omitempty"`
	RulesDB  storage.DBConfig `toml:"rules_db,omitempty"`
}

func (cfg *Config) InitDefaults() {
	config.InitAll(
		&cfg.General,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.API,
		&cfg.Steering,
		&cfg.RulesDB,
	)
}

func (cfg *Config) Validate() error {
	return config.ValidateAll(
		&cfg.General,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.API,
		&cfg.Steering,
		&cfg.RulesDB,
	)
}

func (cfg *Config) Sample(dst io.Writer, path config.Path, _ config.CtxMap) {
	config.WriteSample(dst, path, config.CtxMap{config.ID: "flowsteer"},
		&cfg.General,
		&cfg.Logging,
		&cfg.Metrics,
		&cfg.API,
		&cfg.Steering,
		&cfg.RulesDB,
	)
}

// SetID sets the instance ID. The launcher calls it with the ID resolved from
// the config file, the environment or the executable name.
func (cfg *Config) SetID(id string) {
	cfg.General.ID = id
}

// SetLogging replaces the log configuration with the one resolved by the
// launcher.
func (cfg *Config) SetLogging(l log.Config) {
	cfg.Logging = l
}

// Steering holds the defaults of the steering domains and the packet
// processing configuration. Domain settings in the program take precedence.
type Steering struct {
	// Driver is the name of a registered device driver.
	Driver string `toml:"driver,omitempty"`
	// CommitMode is the commit mode of domains (auto|batched).
	CommitMode string `toml:"commit_mode,omitempty"`
	// SyncInterval is the interval at which batched domains are flushed. 0
	// disables periodic flushing.
	SyncInterval util.DurWrap `toml:"sync_interval,omitempty"`
	// MaxHops bounds the number of table jumps per packet.
	MaxHops int `toml:"max_hops,omitempty"`
	// FlowCacheSize is the number of cached lookups per domain. 0 disables
	// the cache.
	FlowCacheSize int `toml:"flow_cache_size,omitempty"`
	// QueueDepth is the depth of queues that do not set one.
	QueueDepth int `toml:"queue_depth,omitempty"`
	// NumProcessors is the number of goroutines processing the frames queued
	// on a port.
	NumProcessors int `toml:"num_processors,omitempty"`
}

func (cfg *Steering) InitDefaults() {
	if cfg.Driver == "" {
		cfg.Driver = DefaultDriver
	}
	if cfg.CommitMode == "" {
		cfg.CommitMode = DefaultCommitMode
	}
	if cfg.SyncInterval.Duration == 0 {
		cfg.SyncInterval.Duration = DefaultSyncInterval
	}
	if cfg.MaxHops == 0 {
		cfg.MaxHops = steering.DefaultMaxHops
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = steering.DefaultQueueDepth
	}
	if cfg.NumProcessors == 0 {
		cfg.NumProcessors = DefaultNumProcessors
	}
}

func (cfg *Steering) Validate() error {
	if !slices.Contains(driver.Names(), cfg.Driver) {
		return serrors.New("unsupported driver", "driver", cfg.Driver,
			"available", driver.Names())
	}
	if _, err := steering.ParseCommitMode(cfg.CommitMode); err != nil {
		return err
	}
	switch {
	case cfg.SyncInterval.Duration < 0:
		return serrors.New("sync_interval must not be negative")
	case cfg.MaxHops < 1:
		return serrors.New("max_hops must be positive", "max_hops", cfg.MaxHops)
	case cfg.FlowCacheSize < 0:
		return serrors.New("flow_cache_size must not be negative")
	case cfg.QueueDepth < 1:
		return serrors.New("queue_depth must be positive")
	case cfg.NumProcessors < 1:
		return serrors.New("num_processors must be positive")
	}
	return nil
}

// CommitModeValue returns the parsed commit mode. It must only be called on
// a validated config.
func (cfg *Steering) CommitModeValue() steering.CommitMode {
	m, _ := steering.ParseCommitMode(cfg.CommitMode)
	return m
}

func (cfg *Steering) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, steeringSample)
}

func (cfg *Steering) ConfigName() string {
	return "steering"
}
