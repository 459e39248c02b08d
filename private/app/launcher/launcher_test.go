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

package launcher_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsteer/flowsteer/private/app/launcher"
	"github.com/flowsteer/flowsteer/private/steering/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fs.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun(t *testing.T) {
	t.Setenv("FLOWSTEER_LOG_CONSOLE_LEVEL", "debug")
	path := writeConfig(t, `
[general]
program = "/tmp/program.yml"

[steering]
max_hops = 8
`)
	var cfg config.Config
	var called bool
	a := launcher.Application{
		TOMLConfig: &cfg,
		Registry:   prometheus.NewRegistry(),
		Main: func(ctx context.Context) error {
			called = true
			return nil
		},
	}
	err := a.RunWithArgs(context.Background(), "/usr/bin/flowsteer", []string{"--config", path})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "flowsteer", cfg.General.ID)
	assert.Equal(t, "/tmp/program.yml", cfg.General.Program)
	assert.Equal(t, 8, cfg.Steering.MaxHops)
	assert.Equal(t, "debug", cfg.Logging.Console.Level)
}

func TestRunErrors(t *testing.T) {
	testCases := map[string]struct {
		args func(t *testing.T) []string
	}{
		"missing config flag": {
			args: func(t *testing.T) []string { return nil },
		},
		"missing file": {
			args: func(t *testing.T) []string {
				return []string{"--config", filepath.Join(t.TempDir(), "missing.toml")}
			},
		},
		"unknown key": {
			args: func(t *testing.T) []string {
				return []string{"--config", writeConfig(t, "[steering]\nbogus = 1\n")}
			},
		},
		"invalid value": {
			args: func(t *testing.T) []string {
				return []string{"--config", writeConfig(t, "[steering]\ncommit_mode = \"lazy\"\n")}
			},
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			var cfg config.Config
			a := launcher.Application{
				TOMLConfig:  &cfg,
				Registry:    prometheus.NewRegistry(),
				ErrorWriter: &bytes.Buffer{},
				Main: func(ctx context.Context) error {
					t.Fatal("main must not run")
					return nil
				},
			}
			err := a.RunWithArgs(context.Background(), "flowsteer", tc.args(t))
			assert.Error(t, err)
		})
	}
}

func TestSample(t *testing.T) {
	var cfg config.Config
	var out bytes.Buffer
	a := launcher.Application{TOMLConfig: &cfg}
	// The sample subcommand writes to stdout, redirect it through a pipe.
	r, w, err := os.Pipe()
	require.NoError(t, err)
	stdout := os.Stdout
	os.Stdout = w
	err = a.RunWithArgs(context.Background(), "flowsteer", []string{"sample"})
	os.Stdout = stdout
	require.NoError(t, w.Close())
	require.NoError(t, err)
	_, err = out.ReadFrom(r)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[steering]")
	assert.Contains(t, out.String(), "commit_mode")
}
