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
	arc "github.com/hashicorp/golang-lru/arc/v2"

	"github.com/flowsteer/flowsteer/pkg/steering/match"
)

type flowKey struct {
	table TableID
	gen   uint64
	key   match.Key
}

// flowResult is the outcome of the rule lookup in a table. A nil rule is a
// cached miss.
type flowResult struct {
	rule *progRule
}

// flowCache caches the rule lookup per table. The program generation is part
// of the key, so entries of a replaced program never hit.
type flowCache struct {
	arc     *arc.ARCCache[flowKey, flowResult]
	metrics domainMetrics
}

func newFlowCache(size int, m domainMetrics) *flowCache {
	c, err := arc.NewARC[flowKey, flowResult](size)
	if err != nil {
		// Only fails for non-positive sizes, which are rejected earlier.
		panic(err)
	}
	return &flowCache{arc: c, metrics: m}
}

func (c *flowCache) get(k flowKey) (flowResult, bool) {
	r, ok := c.arc.Get(k)
	if ok {
		c.metrics.cacheHits.Inc()
	} else {
		c.metrics.cacheMisses.Inc()
	}
	return r, ok
}

func (c *flowCache) add(k flowKey, r flowResult) {
	c.arc.Add(k, r)
}

func (c *flowCache) purge() {
	c.arc.Purge()
}

func (c *flowCache) len() int {
	return c.arc.Len()
}
