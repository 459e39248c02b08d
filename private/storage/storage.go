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

// Package storage provides factories for the application storage backends.
package storage

import (
	"io"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/private/config"
	"github.com/flowsteer/flowsteer/private/storage/rules"
	sqliterules "github.com/flowsteer/flowsteer/private/storage/rules/sqlite"
)

// Backend indicates the database backend type.
type Backend string

const (
	// BackendSqlite indicates an sqlite backend.
	BackendSqlite Backend = "sqlite"
	// SampleRulesDBPath is the connection string shown in the sample.
	SampleRulesDBPath = "/var/lib/flowsteer/rules.db"
)

const sample = `# Connection for the database of rules added through the management API.
# If empty, such rules are not persisted and are lost on restart. (default "")
connection = "` + SampleRulesDBPath + `"
`

var _ (config.Config) = (*DBConfig)(nil)

// DBConfig is the configuration for the connection to a database.
type DBConfig struct {
	Connection string `toml:"connection,omitempty"`
}

func (cfg *DBConfig) InitDefaults() {}

func (cfg *DBConfig) Validate() error {
	return nil
}

// Sample writes a config sample to the writer.
func (cfg *DBConfig) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, sample)
}

// ConfigName is the key in the toml file.
func (cfg *DBConfig) ConfigName() string {
	return "rules_db"
}

// NewRuleStorage opens the rule database. It returns nil if no connection is
// configured.
func NewRuleStorage(c DBConfig) (rules.DB, error) {
	if c.Connection == "" {
		log.Info("Rule persistence disabled")
		return nil, nil
	}
	log.Info("Connecting RulesDB", "backend", BackendSqlite, "connection", c.Connection)
	db, err := sqliterules.New(c.Connection)
	if err != nil {
		return nil, err
	}
	return db, nil
}
