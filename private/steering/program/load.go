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

package program

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/pkg/steering"
	"github.com/flowsteer/flowsteer/pkg/steering/driver"
	"github.com/flowsteer/flowsteer/pkg/steering/match"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
)

// FullMask is the matcher field value that sets all bits of the field.
const FullMask = "full"

// ErrInvalidRule indicates a rule description that cannot be resolved into a
// rule, e.g. because of an unknown matcher or a malformed field value.
var ErrInvalidRule = errors.New("invalid rule")

// Options configures loading.
type Options struct {
	// Domain holds options applied to every domain before the options of the
	// program.
	Domain []steering.DomainOption
	// Device holds options applied to every device.
	Device []steering.DeviceOption
	// QueueDepth is used for queues without explicit depth.
	QueueDepth int
}

// Setup is a loaded program.
type Setup struct {
	Devices []*Device
	ports   map[string]*steering.Port
}

// Device is a loaded device.
type Device struct {
	*steering.Device
	Domains []*Domain
	Ports   []*steering.Port
}

// Domain is a loaded domain. It indexes the named objects of the program so
// that rules can be added by name after loading.
type Domain struct {
	*steering.Domain

	mu       sync.RWMutex
	tables   map[string]steering.TableID
	matchers map[string]matcherEntry
	rules    map[string]steering.RuleID
	modify   map[string]*steering.ModifyHeader
}

type matcherEntry struct {
	id   steering.MatcherID
	size int
}

// Load opens the devices of the program on drv and creates all objects. On
// error everything created so far is closed again.
func Load(ctx context.Context, drv driver.Driver, f *File, opts Options) (*Setup, error) {
	s := &Setup{ports: map[string]*steering.Port{}}
	for _, spec := range f.Devices {
		dev, err := s.loadDevice(ctx, drv, spec, opts)
		if dev != nil {
			s.Devices = append(s.Devices, dev)
		}
		if err != nil {
			if cerr := s.Close(ctx); cerr != nil {
				log.FromCtx(ctx).Info("Closing partially loaded program failed", "err", cerr)
			}
			return nil, serrors.Wrap("loading device", err, "device", spec.Name)
		}
	}
	for _, dev := range f.Devices {
		for _, p := range dev.Ports {
			if p.Peer == "" {
				continue
			}
			steering.Connect(s.ports[p.Name], s.ports[p.Peer])
		}
	}
	return s, nil
}

func (s *Setup) loadDevice(
	ctx context.Context,
	drv driver.Driver,
	spec DeviceSpec,
	opts Options,
) (*Device, error) {

	sd, err := steering.Open(ctx, drv, spec.Name, opts.Device...)
	if err != nil {
		return nil, err
	}
	dev := &Device{Device: sd}

	for _, q := range spec.Queues {
		depth := q.Depth
		if depth == 0 {
			depth = opts.QueueDepth
		}
		if _, err := sd.NewQueue(q.Name, depth); err != nil {
			return dev, err
		}
	}
	for _, c := range spec.Counters {
		if _, err := sd.NewCounter(c); err != nil {
			return dev, err
		}
	}
	for _, ds := range spec.Domains {
		d, err := loadDomain(ctx, sd, ds, opts.Domain)
		if err != nil {
			return dev, serrors.Wrap("loading domain", err, "domain", ds.Name)
		}
		dev.Domains = append(dev.Domains, d)
	}
	for _, ps := range spec.Ports {
		p, err := dev.newPort(ps)
		if err != nil {
			return dev, serrors.Wrap("creating port", err, "port", ps.Name)
		}
		dev.Ports = append(dev.Ports, p)
		s.ports[p.Name()] = p
	}
	return dev, nil
}

func (dev *Device) newPort(spec Port) (*steering.Port, error) {
	var tx, rx *steering.Domain
	if spec.TX != "" {
		d, ok := dev.Domain(spec.TX)
		if !ok {
			return nil, serrors.New("unknown domain", "domain", spec.TX)
		}
		tx = d.Domain
	}
	if spec.RX != "" {
		d, ok := dev.Domain(spec.RX)
		if !ok {
			return nil, serrors.New("unknown domain", "domain", spec.RX)
		}
		rx = d.Domain
	}
	var def *steering.Queue
	if spec.DefaultQueue != "" {
		q, ok := dev.Queue(spec.DefaultQueue)
		if !ok {
			return nil, serrors.New("unknown queue", "queue", spec.DefaultQueue)
		}
		def = q
	}
	return steering.NewPort(spec.Name, tx, rx, def)
}

// Domain returns the loaded domain with the given name.
func (dev *Device) Domain(name string) (*Domain, bool) {
	for _, d := range dev.Domains {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// Port returns the port of the device with the given name.
func (dev *Device) Port(name string) (*steering.Port, bool) {
	for _, p := range dev.Ports {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Device returns the loaded device with the given name.
func (s *Setup) Device(name string) (*Device, bool) {
	for _, d := range s.Devices {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// Port returns the port with the given name.
func (s *Setup) Port(name string) (*steering.Port, bool) {
	p, ok := s.ports[name]
	return p, ok
}

// Close closes all ports and devices.
func (s *Setup) Close(ctx context.Context) error {
	var errs serrors.List
	for _, dev := range s.Devices {
		for _, p := range dev.Ports {
			p.Close()
		}
		if err := dev.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.Devices = nil
	return errs.ToError()
}

func loadDomain(
	ctx context.Context,
	dev *steering.Device,
	spec DomainSpec,
	defaults []steering.DomainOption,
) (*Domain, error) {

	typ, err := steering.ParseDomainType(spec.Type)
	if err != nil {
		return nil, err
	}
	opts := append(append([]steering.DomainOption(nil), defaults...), steering.WithName(spec.Name))
	if spec.CommitMode != "" {
		mode, err := steering.ParseCommitMode(spec.CommitMode)
		if err != nil {
			return nil, err
		}
		opts = append(opts, steering.WithCommitMode(mode))
	}
	if spec.MaxHops != 0 {
		opts = append(opts, steering.WithMaxHops(spec.MaxHops))
	}
	if spec.FlowCacheSize != 0 {
		opts = append(opts, steering.WithFlowCache(spec.FlowCacheSize))
	}
	if spec.AllowDuplicateRules != nil {
		opts = append(opts, steering.WithAllowDuplicateRules(*spec.AllowDuplicateRules))
	}
	sd, err := dev.NewDomain(typ, opts...)
	if err != nil {
		return nil, err
	}
	d := &Domain{
		Domain:   sd,
		tables:   map[string]steering.TableID{},
		matchers: map[string]matcherEntry{},
		rules:    map[string]steering.RuleID{},
		modify:   map[string]*steering.ModifyHeader{},
	}
	if err := d.populate(ctx, spec); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Domain) populate(ctx context.Context, spec DomainSpec) error {
	for _, t := range spec.Tables {
		id, err := d.CreateTable(ctx, t.Level)
		if err != nil {
			return serrors.Wrap("creating table", err, "table", t.Name)
		}
		d.tables[t.Name] = id
	}
	for _, mh := range spec.ModifyHeaders {
		m, err := d.createModifyHeader(mh)
		if err != nil {
			return serrors.Wrap("creating modify header", err, "modify_header", mh.Name)
		}
		d.modify[mh.Name] = m
	}
	for _, ms := range spec.Matchers {
		if err := d.createMatcher(ctx, ms); err != nil {
			return serrors.Wrap("creating matcher", err, "matcher", ms.Name)
		}
	}
	for _, r := range spec.Rules {
		if _, err := d.AddRule(ctx, r); err != nil {
			return err
		}
	}
	return d.Sync(ctx)
}

func (d *Domain) createModifyHeader(spec ModifyHeader) (*steering.ModifyHeader, error) {
	var flags uint32
	if spec.RootLevel {
		flags |= steering.ModifyHeaderRootLevel
	}
	actions := make([]packet.SetAction, 0, len(spec.Set))
	for _, s := range spec.Set {
		a, err := setAction(s)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return d.CreateModifyHeader(flags, actions)
}

func setAction(s SetAction) (packet.SetAction, error) {
	field, err := packet.ParseModifyField(s.Field)
	if err != nil {
		return packet.SetAction{}, err
	}
	a := packet.SetAction{Field: field, Length: s.Length, Data: s.Data}
	switch strings.ToLower(s.Type) {
	case "", "set":
		a.Type = packet.SetActionSet
	case "add":
		a.Type = packet.SetActionAdd
	default:
		return packet.SetAction{}, serrors.JoinNoStack(packet.ErrInvalidSetAction, nil,
			"type", s.Type)
	}
	return a, nil
}

func (d *Domain) createMatcher(ctx context.Context, spec Matcher) error {
	table, ok := d.tables[spec.Table]
	if !ok {
		return serrors.New("unknown table", "table", spec.Table)
	}
	var b match.Builder
	var derived match.Criteria
	for name, v := range spec.Fields {
		f, ok := match.FieldByName(name)
		if !ok {
			return serrors.New("unknown field", "field", name)
		}
		var err error
		if v == FullMask {
			err = b.SetFull(f)
		} else {
			err = b.SetString(name, v)
		}
		if err != nil {
			return err
		}
		derived |= 1 << (f.Offset / match.SectionSize)
	}
	criteria := derived
	if spec.Criteria != "" {
		var err error
		if criteria, err = match.ParseCriteria(spec.Criteria); err != nil {
			return err
		}
	}
	mask := b.Params()
	if spec.Size != 0 {
		var err error
		if mask, err = b.ParamsOfSize(spec.Size); err != nil {
			return err
		}
	}
	id, err := d.CreateMatcher(ctx, table, spec.Priority, criteria, mask)
	if err != nil {
		return err
	}
	d.matchers[spec.Name] = matcherEntry{id: id, size: mask.Size()}
	return nil
}

// AddRule creates the rule. Names are resolved against the objects of the
// domain and its device. The rule value is sized to the matcher mask.
func (d *Domain) AddRule(ctx context.Context, spec Rule) (steering.RuleID, error) {
	if err := spec.validate(); err != nil {
		return steering.RuleID{}, serrors.JoinNoStack(ErrInvalidRule, err)
	}
	d.mu.RLock()
	m, ok := d.matchers[spec.Matcher]
	if spec.Name != "" {
		if _, dup := d.rules[spec.Name]; dup {
			d.mu.RUnlock()
			return steering.RuleID{}, serrors.JoinNoStack(steering.ErrAlreadyExists, nil,
				"rule", spec.Name)
		}
	}
	d.mu.RUnlock()
	if !ok {
		return steering.RuleID{}, serrors.JoinNoStack(ErrInvalidRule, nil,
			"reason", "unknown matcher", "matcher", spec.Matcher)
	}
	var b match.Builder
	for name, v := range spec.Fields {
		if err := b.SetString(name, v); err != nil {
			return steering.RuleID{}, serrors.JoinNoStack(ErrInvalidRule, err)
		}
	}
	value, err := b.ParamsOfSize(m.size)
	if err != nil {
		return steering.RuleID{}, serrors.JoinNoStack(ErrInvalidRule, err)
	}
	actions, err := d.actions(spec.Actions)
	if err != nil {
		return steering.RuleID{}, serrors.Wrap("resolving actions", err, "rule", spec.Name)
	}
	id, err := d.CreateRule(ctx, m.id, value, actions)
	if err != nil {
		return steering.RuleID{}, serrors.Wrap("creating rule", err, "rule", spec.Name)
	}
	if spec.Name != "" {
		d.mu.Lock()
		d.rules[spec.Name] = id
		d.mu.Unlock()
	}
	return id, nil
}

// RemoveRule destroys the rule and forgets its name.
func (d *Domain) RemoveRule(ctx context.Context, id steering.RuleID) error {
	if err := d.DestroyRule(ctx, id); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, r := range d.rules {
		if r == id {
			delete(d.rules, name)
		}
	}
	return nil
}

// RuleByName returns the ID of the named rule.
func (d *Domain) RuleByName(name string) (steering.RuleID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.rules[name]
	return id, ok
}

// TableName returns the program name of the table, or the empty string.
func (d *Domain) TableName(id steering.TableID) string {
	for name, t := range d.tables {
		if t == id {
			return name
		}
	}
	return ""
}

// MatcherName returns the program name of the matcher, or the empty string.
func (d *Domain) MatcherName(id steering.MatcherID) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for name, m := range d.matchers {
		if m.id == id {
			return name
		}
	}
	return ""
}

func (d *Domain) actions(specs []Action) ([]steering.Action, error) {
	dev := d.Device()
	r := make([]steering.Action, 0, len(specs))
	for _, a := range specs {
		switch {
		case a.Drop:
			r = append(r, steering.Drop())
		case a.FlowCounter != "":
			c, ok := dev.Counter(a.FlowCounter)
			if !ok {
				return nil, serrors.JoinNoStack(steering.ErrDanglingReference, nil,
					"counter", a.FlowCounter)
			}
			r = append(r, steering.FlowCounter(c))
		case a.Tag != nil:
			r = append(r, steering.Tag(*a.Tag))
		case a.DestTable != "":
			t, ok := d.tables[a.DestTable]
			if !ok {
				return nil, serrors.JoinNoStack(steering.ErrDanglingReference, nil,
					"table", a.DestTable)
			}
			r = append(r, steering.DestTable(t))
		case a.ModifyHeader != "":
			m, ok := d.modify[a.ModifyHeader]
			if !ok {
				return nil, serrors.JoinNoStack(steering.ErrDanglingReference, nil,
					"modify_header", a.ModifyHeader)
			}
			r = append(r, steering.Modify(m))
		case a.Qp != "":
			q, ok := dev.Queue(a.Qp)
			if !ok {
				return nil, serrors.JoinNoStack(steering.ErrDanglingReference, nil,
					"queue", a.Qp)
			}
			r = append(r, steering.Qp(q))
		}
	}
	return r, nil
}

// SyncAll flushes all domains of the setup.
func (s *Setup) SyncAll(ctx context.Context) error {
	var errs serrors.List
	for _, dev := range s.Devices {
		for _, d := range dev.Domains {
			if err := d.Sync(ctx); err != nil {
				errs = append(errs, serrors.Wrap("syncing domain", err,
					"device", dev.Name(), "domain", d.Name()))
			}
		}
	}
	return errs.ToError()
}

// DomainDefaults converts service level defaults into domain options.
func DomainDefaults(
	mode steering.CommitMode,
	syncInterval time.Duration,
	maxHops int,
	flowCache int,
) []steering.DomainOption {

	opts := []steering.DomainOption{steering.WithCommitMode(mode)}
	if syncInterval > 0 {
		opts = append(opts, steering.WithSyncInterval(syncInterval))
	}
	if maxHops > 0 {
		opts = append(opts, steering.WithMaxHops(maxHops))
	}
	if flowCache > 0 {
		opts = append(opts, steering.WithFlowCache(flowCache))
	}
	return opts
}
