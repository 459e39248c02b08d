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
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/flowsteer/flowsteer/pkg/log"
)

const reportInterval = time.Minute

// reporter logs evaluation errors. The same error of the same table is logged
// at most once per reportInterval, the metrics count every occurrence.
type reporter struct {
	logger log.Logger
	seen   *cache.Cache
}

func newReporter(logger log.Logger) *reporter {
	return &reporter{
		logger: logger,
		// No janitor goroutine, the key space is bounded by the tables of
		// the domain.
		seen: cache.New(reportInterval, 0),
	}
}

func (r *reporter) report(reason string, table TableID, err error) {
	key := reason + "/" + table.String()
	if r.seen.Add(key, struct{}{}, cache.DefaultExpiration) != nil {
		return
	}
	r.logger.Error("Dropping packet", "reason", reason, "table", table, "err", err)
}
