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

// Package envtest contains helpers to test the sample configs of the env
// package in the configs that embed them.
package envtest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flowsteer/flowsteer/private/env"
)

func InitTest(general *env.General, metrics *env.Metrics) {
	if general != nil {
		InitTestGeneral(general)
	}
	if metrics != nil {
		InitTestMetrics(metrics)
	}
}

func InitTestGeneral(cfg *env.General) {}

func InitTestMetrics(cfg *env.Metrics) {
	cfg.Prometheus = "1.2.3.4:9999"
}

func CheckTest(t *testing.T, general *env.General, metrics *env.Metrics, id string) {
	if general != nil {
		CheckTestGeneral(t, general, id)
	}
	if metrics != nil {
		CheckTestMetrics(t, metrics)
	}
}

func CheckTestGeneral(t *testing.T, cfg *env.General, id string) {
	assert.Equal(t, id, cfg.ID)
	assert.Equal(t, env.DefaultProgramFile, cfg.Program)
}

func CheckTestMetrics(t *testing.T, cfg *env.Metrics) {
	assert.Empty(t, cfg.Prometheus)
}
