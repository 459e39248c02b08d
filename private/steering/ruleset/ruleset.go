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

// Package ruleset manages rules added at runtime on top of a loaded program.
// Such rules are persisted, if a database is configured, and restored when
// the program is loaded again.
package ruleset

import (
	"context"
	"errors"
	"sync"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering"
	"github.com/flowsteer/flowsteer/private/steering/program"
	"github.com/flowsteer/flowsteer/private/storage/rules"
)

// ErrNotFound indicates an unknown device or domain.
var ErrNotFound = errors.New("not found")

// Manager adds and removes runtime rules.
type Manager struct {
	Setup *program.Setup
	// DB persists the rules. If nil, rules are not persisted.
	DB rules.DB

	mu     sync.Mutex
	stored map[steering.RuleID]int64
}

// Domain returns the loaded domain.
func (m *Manager) Domain(device, domain string) (*program.Domain, error) {
	dev, ok := m.Setup.Device(device)
	if !ok {
		return nil, serrors.JoinNoStack(ErrNotFound, nil, "device", device)
	}
	d, ok := dev.Domain(domain)
	if !ok {
		return nil, serrors.JoinNoStack(ErrNotFound, nil, "device", device, "domain", domain)
	}
	return d, nil
}

// Add creates the rule in the domain and persists it. If persisting fails
// the rule is removed again.
func (m *Manager) Add(
	ctx context.Context,
	device string,
	domain string,
	r program.Rule,
) (steering.RuleID, error) {

	d, err := m.Domain(device, domain)
	if err != nil {
		return steering.RuleID{}, err
	}
	id, err := d.AddRule(ctx, r)
	if err != nil {
		return steering.RuleID{}, err
	}
	if m.DB == nil {
		return id, nil
	}
	sid, err := m.DB.InsertRule(ctx, device, domain, r)
	if err != nil {
		if rerr := d.RemoveRule(ctx, id); rerr != nil {
			log.FromCtx(ctx).Error("Removing unpersisted rule failed", "rule", id, "err", rerr)
		}
		return steering.RuleID{}, serrors.Wrap("persisting rule", err)
	}
	m.remember(id, sid)
	return id, nil
}

// Remove destroys the rule. Rules of the program can be removed as well, but
// they come back when the program is loaded again.
func (m *Manager) Remove(ctx context.Context, device, domain string, id steering.RuleID) error {
	d, err := m.Domain(device, domain)
	if err != nil {
		return err
	}
	if err := d.RemoveRule(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	sid, ok := m.stored[id]
	delete(m.stored, id)
	m.mu.Unlock()
	if ok && m.DB != nil {
		if err := m.DB.DeleteRule(ctx, sid); err != nil {
			return serrors.Wrap("deleting persisted rule", err, "rule", id)
		}
	}
	return nil
}

// Restore adds all persisted rules. Rules that cannot be added anymore, e.g.
// because the program changed, are logged and skipped. It returns the number
// of restored rules.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.DB == nil {
		return 0, nil
	}
	entries, err := m.DB.Rules(ctx)
	if err != nil {
		return 0, serrors.Wrap("reading persisted rules", err)
	}
	logger := log.FromCtx(ctx)
	n := 0
	for _, e := range entries {
		d, err := m.Domain(e.Device, e.Domain)
		if err != nil {
			logger.Info("Skipping persisted rule", "entry", e.ID, "err", err)
			continue
		}
		id, err := d.AddRule(ctx, e.Rule)
		if err != nil {
			logger.Info("Skipping persisted rule", "entry", e.ID, "err", err)
			continue
		}
		m.remember(id, e.ID)
		n++
	}
	if err := m.Setup.SyncAll(ctx); err != nil {
		return n, err
	}
	return n, nil
}

// Persisted reports whether the rule is a persisted runtime rule.
func (m *Manager) Persisted(id steering.RuleID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stored[id]
	return ok
}

func (m *Manager) remember(id steering.RuleID, sid int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		m.stored = map[steering.RuleID]int64{}
	}
	m.stored[id] = sid
}
