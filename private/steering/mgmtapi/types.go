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

package mgmtapi

// Device is a device with its resources.
type Device struct {
	Name     string          `json:"name"`
	Queues   []Queue         `json:"queues,omitempty"`
	Counters []string        `json:"counters,omitempty"`
	Domains  []DomainSummary `json:"domains,omitempty"`
	Ports    []string        `json:"ports,omitempty"`
}

type Queue struct {
	Name  string `json:"name"`
	Depth int    `json:"depth"`
	Len   int    `json:"len"`
	Refs  int    `json:"refs"`
}

type Counter struct {
	Name    string `json:"name"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
	Refs    int    `json:"refs"`
}

// DomainSummary is the short form of a domain as listed with its device.
type DomainSummary struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	CommitMode string `json:"commit_mode"`
	Generation uint64 `json:"generation"`
	Rules      int    `json:"rules"`
}

// Domain is a domain with its tables.
type Domain struct {
	DomainSummary
	MaxHops             int     `json:"max_hops"`
	AllowDuplicateRules bool    `json:"allow_duplicate_rules"`
	Tables              []Table `json:"tables"`
}

type Table struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Level    uint32    `json:"level"`
	Root     bool      `json:"root"`
	Refs     int       `json:"refs"`
	Matchers []Matcher `json:"matchers,omitempty"`
}

type Matcher struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Priority uint32 `json:"priority"`
	Criteria string `json:"criteria"`
	Mask     string `json:"mask"`
	Rules    []Rule `json:"rules,omitempty"`
}

type Rule struct {
	ID        string   `json:"id"`
	Value     string   `json:"value"`
	Actions   []string `json:"actions"`
	Persisted bool     `json:"persisted"`
}

// RuleRef is the response to a created rule.
type RuleRef struct {
	ID string `json:"id"`
}

// Frame is a raw Ethernet frame, hex encoded.
type Frame struct {
	Frame string `json:"frame"`
}

// SendResult is the outcome of sending a frame out of a port.
type SendResult struct {
	Disposition string `json:"disposition"`
	Hops        int    `json:"hops"`
	Modified    bool   `json:"modified"`
	Error       string `json:"error,omitempty"`
}

// Completion is a packet delivered to a queue.
type Completion struct {
	SMAC   string `json:"smac"`
	DMAC   string `json:"dmac"`
	Length int    `json:"length"`
	Tag    uint32 `json:"tag,omitempty"`
	Tagged bool   `json:"tagged"`
}
