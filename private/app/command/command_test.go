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

package command_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsteer/flowsteer/private/app/command"
	"github.com/flowsteer/flowsteer/private/config"
)

type sampler struct{}

func (sampler) Sample(dst io.Writer, _ config.Path, _ config.CtxMap) {
	config.WriteString(dst, "key = 1\n")
}

func TestSample(t *testing.T) {
	root := &cobra.Command{Use: "flowsteer"}
	root.AddCommand(command.NewSample(root, sampler{}))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"sample"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "key = 1\n", out.String())
}

func TestVersion(t *testing.T) {
	root := &cobra.Command{Use: "flowsteer"}
	root.AddCommand(command.NewVersion(root, func() string { return "v1" }))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "v1\n", out.String())
}
