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

package program_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/flowsteer/flowsteer/pkg/private/xtest"
	"github.com/flowsteer/flowsteer/pkg/steering"
	"github.com/flowsteer/flowsteer/pkg/steering/driver/soft"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
	"github.com/flowsteer/flowsteer/private/steering/program"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func frame(t *testing.T, smac string) *packet.Descriptor {
	t.Helper()
	pkt, err := packet.Parse(packet.MustBuild(packet.Frame{
		Src:       xtest.MustParseMAC(smac),
		Dst:       xtest.MustParseMAC("ff:ff:ff:ff:ff:ff"),
		EtherType: packet.EtherTypeTest,
	}))
	require.NoError(t, err)
	return pkt
}

func load(t *testing.T, path string) *program.Setup {
	t.Helper()
	f, err := program.LoadFile(path)
	require.NoError(t, err)
	s, err := program.Load(context.Background(), &soft.Driver{}, f, program.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close(context.Background())) })
	return s
}

func drain(q *steering.Queue) []steering.Completion {
	var r []steering.Completion
	for {
		c, ok := q.TryPoll()
		if !ok {
			return r
		}
		r = append(r, c)
	}
}

func TestLoad(t *testing.T) {
	s := load(t, "testdata/link.yml")
	server, ok := s.Port("server")
	require.True(t, ok)
	client, ok := s.Device("mlx5_1")
	require.True(t, ok)
	rx, ok := client.Domain("rx")
	require.True(t, ok)
	assert.Equal(t, steering.CommitBatched, rx.CommitMode())
	assert.Equal(t, 2, rx.NumRules())
	qp, ok := client.Queue("qp")
	require.True(t, ok)
	def, ok := client.Queue("default")
	require.True(t, ok)

	for _, mac := range []string{"aa:aa:aa:aa:aa:aa", "bb:bb:bb:bb:bb:bb", "cc:cc:cc:cc:cc:cc"} {
		_, err := server.Send(frame(t, mac))
		require.NoError(t, err)
	}

	got := drain(qp)
	require.Len(t, got, 1)
	assert.True(t, got[0].Tagged)
	assert.Equal(t, uint32(0x123), got[0].Tag)

	got = drain(def)
	require.Len(t, got, 1)
	assert.Equal(t, xtest.MustParseMAC("88:88:88:88:88:88"), got[0].Packet.SMAC())

	c, ok := client.Counter("aa")
	require.True(t, ok)
	assert.Equal(t, uint64(1), c.Packets())
}

func TestAddRule(t *testing.T) {
	s := load(t, "testdata/link.yml")
	client, _ := s.Device("mlx5_1")
	rx, _ := client.Domain("rx")
	ctx := context.Background()

	id, err := rx.AddRule(ctx, program.Rule{
		Name:    "bb",
		Matcher: "root_smac",
		Fields:  map[string]string{"smac": "bb:bb:bb:bb:bb:bb"},
		Actions: []program.Action{{Qp: "qp"}},
	})
	require.NoError(t, err)
	got, ok := rx.RuleByName("bb")
	require.True(t, ok)
	assert.Equal(t, id, got)
	info, err := rx.Rule(id)
	require.NoError(t, err)
	assert.Equal(t, "root_smac", rx.MatcherName(info.Matcher))

	_, err = rx.AddRule(ctx, program.Rule{
		Name:    "bb",
		Matcher: "root_smac",
		Fields:  map[string]string{"smac": "dd:dd:dd:dd:dd:dd"},
	})
	assert.ErrorIs(t, err, steering.ErrAlreadyExists)

	_, err = rx.AddRule(ctx, program.Rule{
		Matcher: "root_smac",
		Fields:  map[string]string{"smac": "dd:dd:dd:dd:dd:dd"},
		Actions: []program.Action{{FlowCounter: "missing"}},
	})
	assert.ErrorIs(t, err, steering.ErrDanglingReference)

	_, err = rx.AddRule(ctx, program.Rule{Matcher: "missing"})
	assert.Error(t, err)

	require.NoError(t, rx.RemoveRule(ctx, id))
	_, ok = rx.RuleByName("bb")
	assert.False(t, ok)
}

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		input     string
		assertErr assert.ErrorAssertionFunc
	}{
		"empty": {
			input:     "",
			assertErr: assert.NoError,
		},
		"unknown key": {
			input:     "devices: [{name: a, bogus: 1}]",
			assertErr: assert.Error,
		},
		"duplicate device": {
			input:     "devices: [{name: a}, {name: a}]",
			assertErr: assert.Error,
		},
		"duplicate table": {
			input: `devices:
  - name: a
    domains:
      - name: rx
        type: nic_rx
        tables: [{name: t, level: 0}, {name: t, level: 1}]`,
			assertErr: assert.Error,
		},
		"action with two kinds": {
			input: `devices:
  - name: a
    domains:
      - name: rx
        type: nic_rx
        rules: [{matcher: m, actions: [{drop: true, qp: q}]}]`,
			assertErr: assert.Error,
		},
		"unknown peer": {
			input:     "devices: [{name: a, ports: [{name: p, peer: q}]}]",
			assertErr: assert.Error,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := program.Parse([]byte(tc.input))
			tc.assertErr(t, err)
		})
	}
}

func TestLoadErrorsCleanUp(t *testing.T) {
	f, err := program.Parse([]byte(`devices:
  - name: a
    queues: [{name: q}]
    domains:
      - name: rx
        type: nic_rx
        tables: [{name: root, level: 0}]
        matchers: [{name: m, table: root, fields: {smac: full}}]
        rules:
          - matcher: m
            fields: {smac: "aa:aa:aa:aa:aa:aa"}
            actions: [{dest_table: missing}]
`))
	require.NoError(t, err)
	drv := &soft.Driver{}
	_, err = program.Load(context.Background(), drv, f, program.Options{})
	assert.ErrorIs(t, err, steering.ErrDanglingReference)
}

func TestWriteFile(t *testing.T) {
	f, err := program.LoadFile("testdata/link.yml")
	require.NoError(t, err)
	path := t.TempDir() + "/out.yml"
	require.NoError(t, program.WriteFile(path, f))
	back, err := program.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, f, back)
}

func TestIngress(t *testing.T) {
	s := load(t, "testdata/link.yml")
	server, _ := s.Port("server")
	client, _ := s.Device("mlx5_1")
	qp, _ := client.Queue("qp")
	def, _ := client.Queue("default")

	_, err := program.NewIngress(s, steering.RunConfig{}, 0)
	assert.Error(t, err)

	t.Run("run", func(t *testing.T) {
		in, err := program.NewIngress(s, steering.RunConfig{NumProcessors: 2}, 0)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- in.Run(ctx) }()

		require.NoError(t, in.Enqueue(server, frame(t, "aa:aa:aa:aa:aa:aa")))
		require.NoError(t, in.Enqueue(server, frame(t, "cc:cc:cc:cc:cc:cc")))
		assert.Eventually(t, func() bool {
			return qp.Len() == 1 && def.Len() == 1
		}, time.Second, 5*time.Millisecond)
		cancel()
		assert.NoError(t, <-done)
		drain(qp)
		drain(def)
	})
	t.Run("backlog full", func(t *testing.T) {
		in, err := program.NewIngress(s, steering.RunConfig{NumProcessors: 1}, 1)
		require.NoError(t, err)
		require.NoError(t, in.Enqueue(server, frame(t, "aa:aa:aa:aa:aa:aa")))
		err = in.Enqueue(server, frame(t, "aa:aa:aa:aa:aa:aa"))
		assert.ErrorIs(t, err, program.ErrBacklogFull)
		assert.Equal(t, 1, in.Backlog(server))
	})
	t.Run("foreign port", func(t *testing.T) {
		in, err := program.NewIngress(s, steering.RunConfig{NumProcessors: 1}, 0)
		require.NoError(t, err)
		other := load(t, "testdata/link.yml")
		p, _ := other.Port("server")
		assert.Error(t, in.Enqueue(p, frame(t, "aa:aa:aa:aa:aa:aa")))
	})
}
