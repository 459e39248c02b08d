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

// Package mgmtapi contains the pieces shared by the management APIs.
package mgmtapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pelletier/go-toml/v2"

	"github.com/flowsteer/flowsteer/pkg/log"
	"github.com/flowsteer/flowsteer/private/config"
)

const (
	// DefaultAddr is the default address of the management API.
	DefaultAddr = "127.0.0.1:30480"

	sample = `# The address to expose the management API on. If empty, the API is
# disabled. (default "")
addr = "` + DefaultAddr + `"
`
)

// Problem types.
const (
	InternalError = "internal-error"
	BadRequest    = "bad-request"
	NotFound      = "not-found"
	Conflict      = "conflict"
	Unavailable   = "unavailable"
)

// Config is the configuration of the management API.
type Config struct {
	Addr string `toml:"addr,omitempty"`
}

func (cfg *Config) InitDefaults() {}

func (cfg *Config) Validate() error { return nil }

func (cfg *Config) Sample(dst io.Writer, path config.Path, ctx config.CtxMap) {
	config.WriteString(dst, sample)
}

func (cfg *Config) ConfigName() string {
	return "api"
}

// Problem is an error response as described in RFC 7807.
type Problem struct {
	Detail *string `json:"detail,omitempty"`
	Status int     `json:"status"`
	Title  string  `json:"title"`
	Type   *string `json:"type,omitempty"`
}

// StringRef returns a pointer to s.
func StringRef(s string) *string {
	return &s
}

// ErrorResponse writes the problem as response.
func ErrorResponse(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	// no point in catching error here, there is nothing we can do about it anymore.
	_ = enc.Encode(p)
}

// JSONResponse writes v as indented JSON with the given status.
func JSONResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	_ = enc.Encode(v)
}

// NewConfigHandler returns a handler serving cfg as TOML.
func NewConfigHandler(cfg any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := toml.Marshal(cfg)
		if err != nil {
			ErrorResponse(w, Problem{
				Detail: StringRef(err.Error()),
				Status: http.StatusInternalServerError,
				Title:  "unable to marshal config",
				Type:   StringRef(InternalError),
			})
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(raw)
	}
}

// NewLogLevelHandler returns a handler to read and change the console log
// level, e.g. PUT with body {"level":"debug"}.
func NewLogLevelHandler() http.Handler {
	level := log.ConsoleLevel()
	return &level
}
