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

package config_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsteer/flowsteer/private/config"
)

type queueCfg struct {
	Depth int `toml:"depth,omitempty"`
}

func (c *queueCfg) InitDefaults() {
	if c.Depth == 0 {
		c.Depth = 128
	}
}

func (c *queueCfg) Validate() error {
	if c.Depth < 0 {
		return errors.New("negative depth")
	}
	return nil
}

func (c *queueCfg) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, "\ndepth = 128\n")
}

func (c *queueCfg) ConfigName() string {
	return "queue"
}

type commentCfg struct{}

func (commentCfg) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, "# Listen address. (default \"\")\naddr = \"\"\n")
}

func (commentCfg) ConfigName() string { return "api" }

type nestedCfg struct{}

func (nestedCfg) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteSample(dst, path, ctx, &queueCfg{})
}

func (nestedCfg) ConfigName() string { return "log" }

func TestWriteSample(t *testing.T) {
	testCases := map[string]struct {
		Sampler  config.Sampler
		Expected string
	}{
		"leading newline": {
			Sampler:  &queueCfg{},
			Expected: "\n[steering.queue]\n    depth = 128\n",
		},
		"comment first": {
			Sampler:  commentCfg{},
			Expected: "\n[steering.api]\n    # Listen address. (default \"\")\n    addr = \"\"\n",
		},
		"nested table": {
			Sampler:  nestedCfg{},
			Expected: "\n[steering.log]\n    [steering.log.queue]\n        depth = 128\n",
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			config.WriteSample(&buf, config.Path{"steering"}, nil, tc.Sampler)
			assert.Equal(t, tc.Expected, buf.String())
			var decoded map[string]any
			assert.NoError(t, toml.Unmarshal(buf.Bytes(), &decoded))
		})
	}
}

func TestInitAndValidateAll(t *testing.T) {
	a, b := &queueCfg{}, &queueCfg{Depth: 4}
	config.InitAll(a, b)
	assert.Equal(t, 128, a.Depth)
	assert.Equal(t, 4, b.Depth)
	assert.NoError(t, config.ValidateAll(a, b))

	b.Depth = -1
	err := config.ValidateAll(a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative depth")
}

func TestDecode(t *testing.T) {
	var cfg struct {
		Queue queueCfg `toml:"queue"`
	}
	require.NoError(t, config.Decode([]byte("[queue]\ndepth = 7\n"), &cfg))
	assert.Equal(t, 7, cfg.Queue.Depth)
	assert.Error(t, config.Decode([]byte("[queue]\nwidth = 7\n"), &cfg))
}

func TestLoadResource(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "program.yaml")
		require.NoError(t, os.WriteFile(p, []byte("devices: []\n"), 0644))
		rc, err := config.LoadResource(p)
		require.NoError(t, err)
		defer rc.Close()
		raw, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "devices: []\n", string(raw))
	})
	t.Run("http", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/program.yaml" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte("devices: []\n"))
		}))
		defer srv.Close()
		rc, err := config.LoadResource(srv.URL + "/program.yaml")
		require.NoError(t, err)
		rc.Close()
		_, err = config.LoadResource(srv.URL + "/missing.yaml")
		assert.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadResource(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
}
