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

package config

const steeringSample = `
# The device driver. (default "soft")
driver = "soft"

# Commit mode of the domains (auto|batched). In auto mode every mutation is
# published immediately, in batched mode mutations are staged until the next
# sync. (default "auto")
commit_mode = "auto"

# Interval at which batched domains are synced. 0s disables periodic syncs.
# (default 100ms)
sync_interval = "100ms"

# Maximum number of table jumps per packet before it is dropped. (default 32)
max_hops = 32

# Number of cached lookup results per domain, 0 disables the cache.
# (default 0)
flow_cache_size = 0

# Depth of queues that do not configure one. (default 1024)
queue_depth = 1024

# Number of goroutines processing packets per port. (default 4)
num_processors = 4
`
