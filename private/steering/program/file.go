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

// Package program loads steering programs. A program is a YAML file
// describing devices with their queues, counters, domains, tables, matchers,
// rules and ports. Objects reference each other by name.
package program

import (
	"io"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
	"github.com/flowsteer/flowsteer/private/config"
)

// File is the root of a program file.
type File struct {
	Devices []DeviceSpec `yaml:"devices"`
}

// DeviceSpec describes an opened device and its resources.
type DeviceSpec struct {
	Name     string       `yaml:"name"`
	Queues   []Queue      `yaml:"queues,omitempty"`
	Counters []string     `yaml:"counters,omitempty"`
	Domains  []DomainSpec `yaml:"domains,omitempty"`
	Ports    []Port       `yaml:"ports,omitempty"`
}

// Queue describes a receive queue. A depth of 0 selects the default depth.
type Queue struct {
	Name  string `yaml:"name"`
	Depth int    `yaml:"depth,omitempty"`
}

// DomainSpec describes a steering domain.
type DomainSpec struct {
	Name string `yaml:"name"`
	// Type is nic_rx or nic_tx.
	Type                string         `yaml:"type"`
	AllowDuplicateRules *bool          `yaml:"allow_duplicate_rules,omitempty"`
	CommitMode          string         `yaml:"commit_mode,omitempty"`
	MaxHops             int            `yaml:"max_hops,omitempty"`
	FlowCacheSize       int            `yaml:"flow_cache_size,omitempty"`
	Tables              []Table        `yaml:"tables,omitempty"`
	ModifyHeaders       []ModifyHeader `yaml:"modify_headers,omitempty"`
	Matchers            []Matcher      `yaml:"matchers,omitempty"`
	Rules               []Rule         `yaml:"rules,omitempty"`
}

type Table struct {
	Name  string `yaml:"name"`
	Level uint32 `yaml:"level"`
}

// ModifyHeader describes a list of header rewrites.
type ModifyHeader struct {
	Name      string      `yaml:"name"`
	RootLevel bool        `yaml:"root_level,omitempty"`
	Set       []SetAction `yaml:"set"`
}

// SetAction is a single header rewrite.
type SetAction struct {
	// Type is set or add.
	Type   string `yaml:"type,omitempty"`
	Field  string `yaml:"field"`
	Length uint8  `yaml:"length,omitempty"`
	Data   uint32 `yaml:"data"`
}

// Matcher describes a matcher. Fields maps field names to the mask of the
// field, "full" sets all bits of the field.
type Matcher struct {
	Name     string            `yaml:"name"`
	Table    string            `yaml:"table"`
	Priority uint32            `yaml:"priority,omitempty"`
	Criteria string            `yaml:"criteria,omitempty"`
	Size     int               `yaml:"size,omitempty"`
	Fields   map[string]string `yaml:"fields,omitempty"`
}

// Rule describes a rule. Fields maps field names to the values of the
// fields.
type Rule struct {
	Name    string            `yaml:"name,omitempty" json:"name,omitempty"`
	Matcher string            `yaml:"matcher" json:"matcher"`
	Fields  map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Actions []Action          `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Action describes a single action. Exactly one field must be set.
type Action struct {
	Drop         bool    `yaml:"drop,omitempty" json:"drop,omitempty"`
	FlowCounter  string  `yaml:"flow_counter,omitempty" json:"flow_counter,omitempty"`
	Tag          *uint32 `yaml:"tag,omitempty" json:"tag,omitempty"`
	DestTable    string  `yaml:"dest_table,omitempty" json:"dest_table,omitempty"`
	ModifyHeader string  `yaml:"modify_header,omitempty" json:"modify_header,omitempty"`
	Qp           string  `yaml:"qp,omitempty" json:"qp,omitempty"`
}

func (a Action) kinds() int {
	n := 0
	for _, set := range []bool{
		a.Drop, a.FlowCounter != "", a.Tag != nil, a.DestTable != "",
		a.ModifyHeader != "", a.Qp != "",
	} {
		if set {
			n++
		}
	}
	return n
}

// Port describes a traffic port of a device. Peer names a port of any device
// in the program.
type Port struct {
	Name         string `yaml:"name"`
	TX           string `yaml:"tx,omitempty"`
	RX           string `yaml:"rx,omitempty"`
	DefaultQueue string `yaml:"default_queue,omitempty"`
	Peer         string `yaml:"peer,omitempty"`
}

// Parse decodes a program. Unknown keys are rejected.
func Parse(raw []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, serrors.Wrap("decoding program", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile reads and parses the program at location, which is a file path
// or an http(s) URL.
func LoadFile(location string) (*File, error) {
	rc, err := config.LoadResource(location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, serrors.Wrap("reading program", err, "location", location)
	}
	f, err := Parse(raw)
	if err != nil {
		return nil, serrors.Wrap("parsing program", err, "location", location)
	}
	return f, nil
}

// WriteFile encodes the program to the file at path.
func WriteFile(path string, f *File) error {
	raw, err := yaml.Marshal(f)
	if err != nil {
		return serrors.Wrap("encoding program", err)
	}
	return os.WriteFile(path, raw, 0o644)
}

// Validate checks that names are set and unique and that every action sets
// exactly one kind. References are resolved when the program is loaded.
func (f *File) Validate() error {
	devices := map[string]bool{}
	ports := map[string]bool{}
	for _, d := range f.Devices {
		if d.Name == "" {
			return serrors.New("device without name")
		}
		if devices[d.Name] {
			return serrors.New("duplicate device", "device", d.Name)
		}
		devices[d.Name] = true
		if err := unique("queue", queueNames(d.Queues)); err != nil {
			return serrors.Wrap("validating device", err, "device", d.Name)
		}
		if err := unique("counter", d.Counters); err != nil {
			return serrors.Wrap("validating device", err, "device", d.Name)
		}
		var domains []string
		for _, dom := range d.Domains {
			domains = append(domains, dom.Name)
			if err := dom.validate(); err != nil {
				return serrors.Wrap("validating domain", err,
					"device", d.Name, "domain", dom.Name)
			}
		}
		if err := unique("domain", domains); err != nil {
			return serrors.Wrap("validating device", err, "device", d.Name)
		}
		for _, p := range d.Ports {
			if p.Name == "" {
				return serrors.New("port without name", "device", d.Name)
			}
			if ports[p.Name] {
				return serrors.New("duplicate port", "port", p.Name)
			}
			ports[p.Name] = true
		}
	}
	for _, d := range f.Devices {
		for _, p := range d.Ports {
			if p.Peer != "" && !ports[p.Peer] {
				return serrors.New("unknown peer port", "port", p.Name, "peer", p.Peer)
			}
		}
	}
	return nil
}

func (d DomainSpec) validate() error {
	if d.Name == "" {
		return serrors.New("domain without name")
	}
	var tables, matchers, rules, mhs []string
	for _, t := range d.Tables {
		tables = append(tables, t.Name)
	}
	for _, m := range d.Matchers {
		matchers = append(matchers, m.Name)
	}
	for _, mh := range d.ModifyHeaders {
		mhs = append(mhs, mh.Name)
	}
	for _, r := range d.Rules {
		if r.Name != "" {
			rules = append(rules, r.Name)
		}
		if err := r.validate(); err != nil {
			return err
		}
	}
	for kind, names := range map[string][]string{
		"table": tables, "matcher": matchers, "rule": rules, "modify_header": mhs,
	} {
		if err := unique(kind, names); err != nil {
			return err
		}
	}
	return nil
}

func (r Rule) validate() error {
	if r.Matcher == "" {
		return serrors.New("rule without matcher", "rule", r.Name)
	}
	for i, a := range r.Actions {
		if n := a.kinds(); n != 1 {
			return serrors.New("action must set exactly one kind",
				"rule", r.Name, "index", i, "kinds", n)
		}
	}
	return nil
}

func queueNames(qs []Queue) []string {
	r := make([]string, 0, len(qs))
	for _, q := range qs {
		r = append(r, q.Name)
	}
	return r
}

func unique(kind string, names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return serrors.New("missing name", "kind", kind)
		}
		if seen[n] {
			return serrors.New("duplicate name", "kind", kind, "name", n)
		}
		seen[n] = true
	}
	return nil
}
