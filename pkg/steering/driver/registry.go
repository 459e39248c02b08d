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

package driver

import (
	"slices"
	"sync"

	"github.com/flowsteer/flowsteer/pkg/private/serrors"
)

// Factory creates a driver instance.
type Factory func() Driver

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a driver available under the given name. It panics if the
// name is registered twice or the factory is nil.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("driver: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("driver: Register called twice for driver " + name)
	}
	registry[name] = f
}

// New creates an instance of the named driver.
func New(name string) (Driver, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, serrors.New("unknown driver", "driver", name, "available", Names())
	}
	return f(), nil
}

// Names returns the sorted names of the registered drivers.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	r := make([]string, 0, len(registry))
	for name := range registry {
		r = append(r, name)
	}
	slices.Sort(r)
	return r
}
