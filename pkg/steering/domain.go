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

package steering

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering/driver"
	"github.com/flowsteer/flowsteer/private/periodic"
)

// DefaultMaxHops is the default limit of DestTable jumps per packet.
const DefaultMaxHops = 32

const closeSubmitTimeout = 5 * time.Second

var domainIDs atomic.Uint32

// DomainType is the direction of a domain.
type DomainType uint8

const (
	NICRX DomainType = iota + 1
	NICTX
)

func (t DomainType) String() string {
	switch t {
	case NICRX:
		return "nic_rx"
	case NICTX:
		return "nic_tx"
	default:
		return "unknown"
	}
}

// ParseDomainType parses "nic_rx" or "nic_tx".
func ParseDomainType(s string) (DomainType, error) {
	switch strings.ToLower(s) {
	case "nic_rx", "rx":
		return NICRX, nil
	case "nic_tx", "tx":
		return NICTX, nil
	default:
		return 0, serrors.New("unknown domain type", "type", s)
	}
}

// CommitMode defines when mutations become visible to packet evaluation.
type CommitMode uint8

const (
	// CommitAuto publishes every mutation before it returns. A mutation the
	// driver rejects is rolled back.
	CommitAuto CommitMode = iota
	// CommitBatched stages mutations until Sync is called.
	CommitBatched
)

func (m CommitMode) String() string {
	if m == CommitBatched {
		return "batched"
	}
	return "auto"
}

// ParseCommitMode parses "auto" or "batched".
func ParseCommitMode(s string) (CommitMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return CommitAuto, nil
	case "batched":
		return CommitBatched, nil
	default:
		return 0, serrors.New("unknown commit mode", "mode", s)
	}
}

type domainConfig struct {
	name         string
	mode         CommitMode
	maxHops      int
	cacheSize    int
	allowDup     bool
	syncInterval time.Duration
}

func defaultDomainConfig() domainConfig {
	return domainConfig{
		maxHops:  DefaultMaxHops,
		allowDup: true,
	}
}

func (c domainConfig) validate() error {
	if c.maxHops <= 0 {
		return serrors.New("max hops must be positive", "max_hops", c.maxHops)
	}
	if c.cacheSize < 0 {
		return serrors.New("negative flow cache size", "size", c.cacheSize)
	}
	if c.syncInterval < 0 {
		return serrors.New("negative sync interval", "interval", c.syncInterval)
	}
	return nil
}

// DomainOption configures a domain.
type DomainOption func(*domainConfig)

// WithName names the domain. Names are unique per device.
func WithName(name string) DomainOption {
	return func(c *domainConfig) { c.name = name }
}

// WithCommitMode sets the commit mode, CommitAuto by default.
func WithCommitMode(m CommitMode) DomainOption {
	return func(c *domainConfig) { c.mode = m }
}

// WithSyncInterval periodically syncs a batched domain.
func WithSyncInterval(d time.Duration) DomainOption {
	return func(c *domainConfig) { c.syncInterval = d }
}

// WithMaxHops sets the limit of DestTable jumps per packet.
func WithMaxHops(n int) DomainOption {
	return func(c *domainConfig) { c.maxHops = n }
}

// WithFlowCache enables a flow cache with the given number of entries.
func WithFlowCache(size int) DomainOption {
	return func(c *domainConfig) { c.cacheSize = size }
}

// WithAllowDuplicateRules sets the initial duplicate rule policy.
func WithAllowDuplicateRules(allow bool) DomainOption {
	return func(c *domainConfig) { c.allowDup = allow }
}

// Domain is the root of an RX or TX steering pipeline.
type Domain struct {
	dev     *Device
	id      uint32
	name    string
	typ     DomainType
	cfg     domainConfig
	logger  log.Logger
	metrics domainMetrics

	mu       sync.Mutex
	closed   bool
	allowDup bool
	seq      uint64
	tables   arena[*tableState]
	matchers arena[*matcherState]
	rules    arena[*ruleState]
	// dirty and removed contain the tables changed since the last publish.
	dirty   map[TableID]struct{}
	removed map[TableID]struct{}
	// releases are resource releases of staged mutations. They run once the
	// published program no longer references the resources.
	releases []func()
	flusher  *periodic.Runner

	prog     atomic.Pointer[program]
	closing  atomic.Bool
	inflight atomic.Int64
	cache    *flowCache
	reporter *reporter
}

func newDomain(dev *Device, typ DomainType, cfg domainConfig) *Domain {
	d := &Domain{
		dev:      dev,
		id:       domainIDs.Add(1),
		name:     cfg.name,
		typ:      typ,
		cfg:      cfg,
		logger:   dev.logger.New("domain", cfg.name),
		allowDup: cfg.allowDup,
		dirty:    make(map[TableID]struct{}),
		removed:  make(map[TableID]struct{}),
	}
	d.metrics = newDomainMetrics(dev.metrics, cfg.name)
	d.prog.Store(&program{tables: map[TableID]*progTable{}})
	d.reporter = newReporter(d.logger)
	if cfg.cacheSize > 0 {
		d.cache = newFlowCache(cfg.cacheSize, d.metrics)
	}
	if cfg.mode == CommitBatched && cfg.syncInterval > 0 {
		d.flusher = periodic.Start(periodic.Func{
			TaskName: "steering_sync_" + cfg.name,
			Task: func(ctx context.Context) {
				if err := d.Sync(ctx); err != nil && !errors.Is(err, ErrClosed) {
					d.logger.Error("Periodic sync failed", "err", err)
				}
			},
		}, cfg.syncInterval, cfg.syncInterval)
	}
	return d
}

func (d *Domain) ID() uint32             { return d.id }
func (d *Domain) Name() string           { return d.name }
func (d *Domain) Type() DomainType       { return d.typ }
func (d *Domain) Device() *Device        { return d.dev }
func (d *Domain) CommitMode() CommitMode { return d.cfg.mode }
func (d *Domain) MaxHops() int           { return d.cfg.maxHops }

// Generation returns the generation of the published program.
func (d *Domain) Generation() uint64 {
	return d.prog.Load().gen
}

func (d *Domain) info() driver.DomainInfo {
	return driver.DomainInfo{Context: d.dev.ctx, ID: d.id, Type: d.typ.String()}
}

// SetAllowDuplicateRules sets the duplicate rule policy for rules created
// afterwards. Existing rules are not affected.
func (d *Domain) SetAllowDuplicateRules(allow bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allowDup = allow
}

// AllowDuplicateRules returns the duplicate rule policy.
func (d *Domain) AllowDuplicateRules() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allowDup
}

// ParseTableID parses the string form of a table ID of this domain.
func (d *Domain) ParseTableID(s string) (TableID, error) {
	r, err := parseRef(d.id, s)
	return TableID{r}, err
}

// ParseMatcherID parses the string form of a matcher ID of this domain.
func (d *Domain) ParseMatcherID(s string) (MatcherID, error) {
	r, err := parseRef(d.id, s)
	return MatcherID{r}, err
}

// ParseRuleID parses the string form of a rule ID of this domain.
func (d *Domain) ParseRuleID(s string) (RuleID, error) {
	r, err := parseRef(d.id, s)
	return RuleID{r}, err
}

func (d *Domain) nextRef() ref {
	d.seq++
	return ref{domain: d.id, seq: d.seq}
}

func (d *Domain) checkOpenLocked() error {
	if d.closed {
		return serrors.JoinNoStack(ErrClosed, nil, "domain", d.name)
	}
	return nil
}

// Sync publishes all staged mutations. When it returns without error every
// mutation issued before the call is visible to packet evaluation.
func (d *Domain) Sync(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	return d.publishLocked(ctx)
}

// txn journals the steps of a mutation. Abort undoes them in reverse order,
// commit runs the deferred steps that cannot be undone, e.g. releasing
// references on device resources.
type txn struct {
	undo     []func()
	onCommit []func()
}

func (t *txn) onAbort(f func()) {
	t.undo = append(t.undo, f)
}

func (t *txn) afterCommit(f func()) {
	t.onCommit = append(t.onCommit, f)
}

func (t *txn) abort() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo, t.onCommit = nil, nil
}

func (t *txn) commit() {
	for _, f := range t.onCommit {
		f()
	}
	t.undo, t.onCommit = nil, nil
}

// stage drops the undo journal and hands the deferred steps to the caller.
func (t *txn) stage() []func() {
	r := t.onCommit
	t.undo, t.onCommit = nil, nil
	return r
}

// commitLocked finishes a mutation. In auto mode the mutation is published
// and rolled back if the driver rejects it.
func (d *Domain) commitLocked(ctx context.Context, tx *txn) error {
	if d.cfg.mode == CommitBatched {
		d.releases = append(d.releases, tx.stage()...)
		d.metrics.rules.Set(float64(d.rules.len()))
		return nil
	}
	if err := d.publishLocked(ctx); err != nil {
		tx.abort()
		clear(d.dirty)
		clear(d.removed)
		return err
	}
	tx.commit()
	d.metrics.rules.Set(float64(d.rules.len()))
	return nil
}

// Close closes the domain. It waits until in-flight evaluations finish or
// the context is done, then destroys all tables. Packets evaluated after
// Close has been called are dropped with ErrClosed.
func (d *Domain) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.closing.Store(true)
	flusher := d.flusher
	d.mu.Unlock()
	flusher.Stop()

	drainErr := d.drain(ctx)

	d.mu.Lock()
	var tx txn
	var ids []TableID
	d.tables.each(func(slot uint32, seq uint64, t *tableState) {
		ids = append(ids, t.id)
	})
	for _, id := range ids {
		// Tables reachable through a cascade were already destroyed.
		if t, ok := d.tables.get(id.slot, id.seq); ok {
			d.destroyTableLocked(&tx, t)
		}
	}
	d.releases = append(d.releases, tx.stage()...)
	// The tables are removed even if draining timed out.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeSubmitTimeout)
	defer cancel()
	if err := d.publishLocked(pctx); err != nil {
		d.logger.Info("Removing tables from driver failed", "err", err)
	}
	// Evaluation has stopped, nothing uses the resources anymore.
	d.runReleasesLocked()
	d.metrics.rules.Set(0)
	d.mu.Unlock()

	d.dev.removeDomain(d)
	return drainErr
}

func (d *Domain) drain(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		n := d.inflight.Load()
		if n == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return serrors.Wrap("draining evaluations", ctx.Err(), "inflight", n)
		}
	}
}
