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

package mgmtapi_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/flowsteer/flowsteer/private/mgmtapi"
	apitest "github.com/flowsteer/flowsteer/private/mgmtapi/mgmtapitest"
)

func TestSample(t *testing.T) {
	var cfg api.Config
	var sample bytes.Buffer
	cfg.Sample(&sample, nil, nil)
	apitest.InitConfig(&cfg)
	dec := toml.NewDecoder(&sample).DisallowUnknownFields()
	require.NoError(t, dec.Decode(&cfg))
	apitest.CheckConfig(t, &cfg)
}

func TestErrorResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	api.ErrorResponse(rr, api.Problem{
		Status: http.StatusNotFound,
		Title:  "no such device",
		Type:   api.StringRef(api.NotFound),
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":404,"title":"no such device","type":"not-found"}`,
		rr.Body.String())
}

func TestConfigHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	api.NewConfigHandler(&api.Config{Addr: "127.0.0.1:1"}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/config", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "addr = '127.0.0.1:1'\n", rr.Body.String())
}

func TestLogLevelHandler(t *testing.T) {
	h := api.NewLogLevelHandler()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/log/level", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"level"`)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/log/level",
		strings.NewReader(`{"level":"bogus"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
