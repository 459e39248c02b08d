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

package sqlite

import (
	"context"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/flowsteer/flowsteer/private/steering/program"
	"github.com/flowsteer/flowsteer/private/storage/db"
	"github.com/flowsteer/flowsteer/private/storage/rules"
)

var _ rules.DB = (*Backend)(nil)

// Backend implements the rule storage on top of sqlite.
type Backend struct {
	db *db.Sqlite
}

// New returns a new SQLite backend opening a database at the given path. If
// no database exists a new database is created. If the schema version of the
// stored database is different from the one in schema.go, an error is
// returned.
func New(path string) (*Backend, error) {
	return open(path, nil)
}

// NewInMemory returns a backend on a named in-memory database.
func NewInMemory(name string) (*Backend, error) {
	return open(name, &db.SqliteConfig{InMemory: true})
}

func open(path string, cfg *db.SqliteConfig) (*Backend, error) {
	s, err := db.NewSqlite(path, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Setup(Schema, SchemaVersion); err != nil {
		s.Close()
		return nil, err
	}
	return &Backend{db: s}, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) InsertRule(
	ctx context.Context,
	device string,
	domain string,
	r program.Rule,
) (int64, error) {

	raw, err := yaml.Marshal(r)
	if err != nil {
		return 0, db.NewInputDataError("encoding rule", err)
	}
	res, err := b.db.Full.ExecContext(ctx,
		`INSERT INTO Rules (Device, Domain, Rule, Created) VALUES (?, ?, ?, ?)`,
		device, domain, raw, time.Now().UnixNano(),
	)
	if err != nil {
		return 0, db.NewWriteError("inserting rule", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, db.NewReadError("reading rule id", err)
	}
	return id, nil
}

func (b *Backend) DeleteRule(ctx context.Context, id int64) error {
	if _, err := b.db.Full.ExecContext(ctx, `DELETE FROM Rules WHERE ID = ?`, id); err != nil {
		return db.NewWriteError("deleting rule", err, "id", id)
	}
	return nil
}

func (b *Backend) Rules(ctx context.Context) ([]rules.Entry, error) {
	rows, err := b.db.ReadOnly.QueryContext(ctx,
		`SELECT ID, Device, Domain, Rule, Created FROM Rules ORDER BY ID`)
	if err != nil {
		return nil, db.NewReadError("querying rules", err)
	}
	defer rows.Close()
	var r []rules.Entry
	for rows.Next() {
		var e rules.Entry
		var raw []byte
		var created int64
		if err := rows.Scan(&e.ID, &e.Device, &e.Domain, &raw, &created); err != nil {
			return nil, db.NewReadError("scanning rule", err)
		}
		if err := yaml.UnmarshalStrict(raw, &e.Rule); err != nil {
			return nil, db.NewDataError("decoding rule", err, "id", e.ID)
		}
		e.Created = time.Unix(0, created)
		r = append(r, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewReadError("iterating rules", err)
	}
	return r, nil
}
