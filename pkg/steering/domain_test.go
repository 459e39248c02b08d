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

package steering_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsteer/flowsteer/pkg/log/testlog"
	"github.com/flowsteer/flowsteer/pkg/steering"
	"github.com/flowsteer/flowsteer/pkg/steering/driver"
	"github.com/flowsteer/flowsteer/pkg/steering/driver/mock_driver"
	"github.com/flowsteer/flowsteer/pkg/steering/match"
	"github.com/flowsteer/flowsteer/pkg/steering/packet"
)

func TestCreateMatcherInvalidMask(t *testing.T) {
	dev, _ := openDevice(t)
	d := newDomain(t, dev, steering.NICRX)
	ctx := context.Background()
	tbl, err := d.CreateTable(ctx, 0)
	require.NoError(t, err)

	var b match.Builder
	require.NoError(t, b.SetFull(match.FieldSMAC))
	misc, err := b.ParamsOfSize(0x80)
	require.NoError(t, err)
	raw := misc.Bytes()
	raw[0x40] = 0xff
	misc = match.MustParams(raw)

	tests := map[string]struct {
		Criteria match.Criteria
		Mask     match.Params
		Err      error
	}{
		"outer": {
			Criteria: match.CriteriaOuter,
			Mask:     smacMask(t),
		},
		"bits in disabled section": {
			Criteria: match.CriteriaOuter,
			Mask:     misc,
			Err:      steering.ErrInvalidMask,
		},
		"misc enabled": {
			Criteria: match.CriteriaOuter | match.CriteriaMisc,
			Mask:     misc,
		},
		"match all": {
			Criteria: match.CriteriaNone,
			Mask:     match.MustParams(make([]byte, match.MaxSize)),
		},
		"none with bits": {
			Criteria: match.CriteriaNone,
			Mask:     smacMask(t),
			Err:      steering.ErrInvalidMask,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := d.CreateMatcher(ctx, tbl, 0, tc.Criteria, tc.Mask)
			if tc.Err != nil {
				assert.ErrorIs(t, err, tc.Err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCreateRuleLengthMismatch(t *testing.T) {
	dev, _ := openDevice(t)
	d := newDomain(t, dev, steering.NICRX)
	_, m := smacTable(t, d, 0)

	value, err := match.NewParams(16, smacValue(t, macA).Bytes())
	require.NoError(t, err)
	_, err = d.CreateRule(context.Background(), m, value, nil)
	assert.ErrorIs(t, err, steering.ErrLengthMismatch)
	assert.Equal(t, 0, d.NumRules())
}

func TestDuplicateRules(t *testing.T) {
	t.Run("allowed by default", func(t *testing.T) {
		dev, _ := openDevice(t)
		d := newDomain(t, dev, steering.NICRX)
		require.True(t, d.AllowDuplicateRules())
		_, m := smacTable(t, d, 0)
		createRule(t, d, m, macA, steering.Tag(1))
		createRule(t, d, m, macA, steering.Tag(2))

		res := d.Evaluate(frame(t, macA))
		assert.True(t, res.Tagged)
		assert.Equal(t, uint32(1), res.Tag)
	})
	t.Run("disallowed", func(t *testing.T) {
		dev, _ := openDevice(t)
		d := newDomain(t, dev, steering.NICRX)
		d.SetAllowDuplicateRules(false)
		_, m := smacTable(t, d, 0)
		createRule(t, d, m, macA, steering.Tag(1))

		_, err := d.CreateRule(context.Background(), m, smacValue(t, macA),
			[]steering.Action{steering.Tag(2)})
		assert.ErrorIs(t, err, steering.ErrDuplicateRule)
		assert.ErrorIs(t, err, steering.ErrAlreadyExists)
		assert.ErrorIs(t, err, syscall.EEXIST)
		assert.Equal(t, 1, d.NumRules())

		// A different value in the same matcher is fine.
		createRule(t, d, m, macB, steering.Tag(2))
	})
	t.Run("bits outside the mask", func(t *testing.T) {
		dev, _ := openDevice(t)
		d := newDomain(t, dev, steering.NICRX, steering.WithAllowDuplicateRules(false))
		_, m := smacTable(t, d, 0)
		createRule(t, d, m, macA)

		raw := smacValue(t, macA).Bytes()
		raw[7] = 0x42
		_, err := d.CreateRule(context.Background(), m, match.MustParams(raw), nil)
		assert.ErrorIs(t, err, steering.ErrDuplicateRule)
	})
}

func TestDestroyInUse(t *testing.T) {
	ctx := context.Background()
	dev, _ := openDevice(t)
	d := newDomain(t, dev, steering.NICRX)
	root, m := smacTable(t, d, 0)
	child, cm := smacTable(t, d, 1)
	c, err := dev.NewCounter("c0")
	require.NoError(t, err)
	q, err := dev.NewQueue("q0", 8)
	require.NoError(t, err)

	jump := createRule(t, d, m, macA, steering.FlowCounter(c), steering.DestTable(child))
	deliver := createRule(t, d, cm, macA, steering.Qp(q))

	assert.ErrorIs(t, d.DestroyMatcher(ctx, m, false), steering.ErrInUse)
	assert.ErrorIs(t, d.DestroyTable(ctx, root, false), steering.ErrInUse)
	assert.ErrorIs(t, dev.DestroyCounter(c), steering.ErrInUse)
	assert.ErrorIs(t, dev.DestroyQueue(q), steering.ErrInUse)

	require.NoError(t, d.DestroyRule(ctx, deliver))
	require.NoError(t, dev.DestroyQueue(q))
	require.NoError(t, d.DestroyMatcher(ctx, cm, false))
	// The root rule still jumps to the child table.
	assert.ErrorIs(t, d.DestroyTable(ctx, child, false), steering.ErrInUse)

	require.NoError(t, d.DestroyRule(ctx, jump))
	require.NoError(t, dev.DestroyCounter(c))
	require.NoError(t, d.DestroyTable(ctx, child, false))
	require.NoError(t, d.DestroyTable(ctx, root, true))
	assert.Empty(t, d.Tables())

	assert.ErrorIs(t, d.DestroyRule(ctx, jump), steering.ErrDanglingReference)
	assert.ErrorIs(t, dev.DestroyCounter(c), steering.ErrDanglingReference)
}

func TestDestroyTableCascade(t *testing.T) {
	ctx := context.Background()
	dev, drv := openDevice(t)
	d := newDomain(t, dev, steering.NICRX)
	_, m := smacTable(t, d, 0)
	child, cm := smacTable(t, d, 1)
	c, err := dev.NewCounter("c0")
	require.NoError(t, err)
	createRule(t, d, m, macA, steering.DestTable(child))
	createRule(t, d, cm, macA, steering.FlowCounter(c))

	require.NoError(t, d.DestroyTable(ctx, child, true))
	assert.Equal(t, 1, d.NumRules())
	_, err = d.CreateRule(ctx, cm, smacValue(t, macB), nil)
	assert.ErrorIs(t, err, steering.ErrDanglingReference)
	// The counter is no longer referenced.
	assert.Equal(t, 0, c.Refs())

	res := d.Evaluate(frame(t, macA))
	assert.Equal(t, steering.Discard, res.Disposition)
	assert.ErrorIs(t, res.Err, steering.ErrDanglingReference)

	p, ok := drv.Program(dev.Context(), d.ID())
	require.True(t, ok)
	assert.Len(t, p.Tables, 1)
}

func TestActionValidation(t *testing.T) {
	ctx := context.Background()
	dev, _ := openDevice(t)
	other, _ := openDevice(t)
	rx := newDomain(t, dev, steering.NICRX)
	rx2 := newDomain(t, dev, steering.NICRX)
	tx := newDomain(t, dev, steering.NICTX)
	_, rxm := smacTable(t, rx, 0)
	foreign, _ := smacTable(t, rx2, 0)
	_, txm := smacTable(t, tx, 0)

	q, err := dev.NewQueue("q0", 8)
	require.NoError(t, err)
	otherQ, err := other.NewQueue("q0", 8)
	require.NoError(t, err)
	otherC, err := other.NewCounter("c0")
	require.NoError(t, err)
	setSMAC := []packet.SetAction{
		{Type: packet.SetActionSet, Field: packet.FieldOutSMAC47_16, Data: 1},
	}
	mh, err := rx2.CreateModifyHeader(steering.ModifyHeaderRootLevel, setSMAC)
	require.NoError(t, err)
	nonRoot, err := rx.CreateModifyHeader(0, setSMAC)
	require.NoError(t, err)

	tests := map[string]struct {
		Domain  *steering.Domain
		Matcher steering.MatcherID
		Action  steering.Action
		Err     error
	}{
		"qp in tx": {
			Domain: tx, Matcher: txm, Action: steering.Qp(q),
			Err: steering.ErrUnsupportedAction,
		},
		"tag in tx": {
			Domain: tx, Matcher: txm, Action: steering.Tag(1),
			Err: steering.ErrUnsupportedAction,
		},
		"table of another domain": {
			Domain: rx, Matcher: rxm, Action: steering.DestTable(foreign),
			Err: steering.ErrUnsupportedAction,
		},
		"modify header of another domain": {
			Domain: rx, Matcher: rxm, Action: steering.Modify(mh),
			Err: steering.ErrUnsupportedAction,
		},
		"queue of another device": {
			Domain: rx, Matcher: rxm, Action: steering.Qp(otherQ),
			Err: steering.ErrUnsupportedAction,
		},
		"counter of another device": {
			Domain: rx, Matcher: rxm, Action: steering.FlowCounter(otherC),
			Err: steering.ErrUnsupportedAction,
		},
		"modify header without root level flag": {
			Domain: rx, Matcher: rxm, Action: steering.Modify(nonRoot),
			Err: steering.ErrUnsupportedAction,
		},
		"nil queue": {
			Domain: rx, Matcher: rxm, Action: steering.Qp(nil),
			Err: steering.ErrDanglingReference,
		},
		"unset table": {
			Domain: rx, Matcher: rxm, Action: steering.DestTable(steering.TableID{}),
			Err: steering.ErrDanglingReference,
		},
		"qp in rx": {
			Domain: rx, Matcher: rxm, Action: steering.Qp(q),
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			before := tc.Domain.NumRules()
			_, err := tc.Domain.CreateRule(ctx, tc.Matcher, smacValue(t, macA),
				[]steering.Action{steering.Tag(7), tc.Action})
			if tc.Domain == tx {
				// Tag is RX only, check the TX cases with a plain chain.
				_, err = tc.Domain.CreateRule(ctx, tc.Matcher, smacValue(t, macA),
					[]steering.Action{tc.Action})
			}
			if tc.Err != nil {
				assert.ErrorIs(t, err, tc.Err)
				assert.Equal(t, before, tc.Domain.NumRules())
				return
			}
			assert.NoError(t, err)
		})
	}
	// Failed rules never hold references.
	assert.Equal(t, 1, q.Refs())
	assert.Equal(t, 0, otherQ.Refs())
}

func TestCreateModifyHeader(t *testing.T) {
	dev, _ := openDevice(t)
	d := newDomain(t, dev, steering.NICTX)
	valid := []packet.SetAction{{Type: packet.SetActionSet, Field: packet.FieldOutIPv4TTL, Length: 8, Data: 1}}

	mh, err := d.CreateModifyHeader(steering.ModifyHeaderRootLevel, valid)
	require.NoError(t, err)
	assert.Equal(t, steering.ModifyHeaderRootLevel, mh.Flags())
	assert.Equal(t, valid, mh.Actions())

	_, err = d.CreateModifyHeader(0x2, valid)
	assert.ErrorIs(t, err, steering.ErrUnsupportedAction)
	_, err = d.CreateModifyHeader(0, nil)
	assert.ErrorIs(t, err, steering.ErrUnsupportedAction)
	_, err = d.CreateModifyHeader(0, []packet.SetAction{{Type: 0x7, Field: packet.FieldOutIPv4TTL}})
	assert.ErrorIs(t, err, steering.ErrUnsupportedAction)
	assert.ErrorIs(t, err, packet.ErrInvalidSetAction)
}

func TestAutoCommitRollback(t *testing.T) {
	ctx := context.Background()
	dev, drv := openDevice(t)
	d := newDomain(t, dev, steering.NICRX)
	_, m := smacTable(t, d, 0)
	c, err := dev.NewCounter("c0")
	require.NoError(t, err)
	first := createRule(t, d, m, macA, steering.FlowCounter(c))
	gen := d.Generation()

	boom := errors.New("device busy")
	drv.FailNextSubmit(boom)
	_, err = d.CreateRule(ctx, m, smacValue(t, macB), []steering.Action{steering.FlowCounter(c)})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, d.NumRules())
	assert.Equal(t, 1, c.Refs())
	assert.Equal(t, gen, d.Generation())

	drv.FailNextSubmit(boom)
	assert.ErrorIs(t, d.DestroyRule(ctx, first), boom)
	_, err = d.Rule(first)
	assert.NoError(t, err)
	assert.Equal(t, 1, c.Refs())

	drv.FailNextSubmit(boom)
	tables := d.Tables()
	assert.ErrorIs(t, d.DestroyTable(ctx, tables[0].ID, true), boom)
	assert.Equal(t, tables, d.Tables())

	// The domain is still usable after the failures.
	d.Evaluate(frame(t, macA))
	assert.Equal(t, uint64(1), c.Packets())
	createRule(t, d, m, macB)
	assert.Equal(t, gen+1, d.Generation())
}

func TestAutoCommitRollbackMock(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	drv := mock_driver.NewMockDriver(ctrl)
	dctx := driver.Context{Device: "mlx5_0", Handle: 7}

	drv.EXPECT().OpenContext(gomock.Any(), "mlx5_0").Return(dctx, nil)
	dev, err := steering.Open(ctx, drv, "mlx5_0", steering.WithLogger(testlog.NewLogger(t)))
	require.NoError(t, err)
	d, err := dev.NewDomain(steering.NICRX, steering.WithName("rx"))
	require.NoError(t, err)

	gomock.InOrder(
		drv.EXPECT().SubmitTableProgram(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, info driver.DomainInfo,
				diff driver.TableDiff) error {

				assert.Equal(t, dctx, info.Context)
				assert.Equal(t, "nic_rx", info.Type)
				assert.Equal(t, uint64(1), diff.Generation)
				require.Len(t, diff.Tables, 1)
				assert.Equal(t, diff.Tables[0].ID, diff.Root)
				return nil
			}),
		drv.EXPECT().SubmitTableProgram(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(errors.New("device busy")),
		drv.EXPECT().SubmitTableProgram(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ driver.DomainInfo,
				diff driver.TableDiff) error {

				assert.Equal(t, uint64(2), diff.Generation)
				assert.Len(t, diff.Removed, 1)
				return nil
			}),
	)
	tbl, err := d.CreateTable(ctx, 0)
	require.NoError(t, err)
	_, err = d.CreateMatcher(ctx, tbl, 0, match.CriteriaOuter, smacMask(t))
	assert.Error(t, err)
	tables := d.Tables()
	require.Len(t, tables, 1)
	assert.Empty(t, tables[0].Matchers)

	require.NoError(t, dev.Close(ctx))
}

func TestBatchedCommit(t *testing.T) {
	ctx := context.Background()
	dev, drv := openDevice(t)
	d := newDomain(t, dev, steering.NICRX, steering.WithCommitMode(steering.CommitBatched))
	q, err := dev.NewQueue("q0", 8)
	require.NoError(t, err)
	_, m := smacTable(t, d, 0)
	createRule(t, d, m, macA, steering.Qp(q))
	assert.Equal(t, 0, drv.Submits())

	res := d.Evaluate(frame(t, macA))
	assert.Equal(t, steering.Accept, res.Disposition)

	require.NoError(t, d.Sync(ctx))
	assert.Equal(t, 1, drv.Submits())
	res = d.Evaluate(frame(t, macA))
	assert.Equal(t, steering.Forward, res.Disposition)
	assert.Same(t, q, res.Queue)

	// Nothing staged, nothing submitted.
	require.NoError(t, d.Sync(ctx))
	assert.Equal(t, 1, drv.Submits())

	// A failed sync keeps the mutations staged.
	createRule(t, d, m, macB, steering.Drop())
	drv.FailNextSubmit(errors.New("device busy"))
	assert.Error(t, d.Sync(ctx))
	assert.Equal(t, steering.Accept, d.Evaluate(frame(t, macB)).Disposition)
	require.NoError(t, d.Sync(ctx))
	assert.Equal(t, steering.Discard, d.Evaluate(frame(t, macB)).Disposition)
}

func TestBatchedReleaseAfterSync(t *testing.T) {
	ctx := context.Background()
	dev, _ := openDevice(t)
	d := newDomain(t, dev, steering.NICRX, steering.WithCommitMode(steering.CommitBatched))
	c, err := dev.NewCounter("c0")
	require.NoError(t, err)
	q, err := dev.NewQueue("q0", 8)
	require.NoError(t, err)
	_, m := smacTable(t, d, 0)
	r := createRule(t, d, m, macA, steering.FlowCounter(c), steering.Qp(q))
	require.NoError(t, d.Sync(ctx))

	require.NoError(t, d.DestroyRule(ctx, r))
	// The live program still counts into c and delivers to q.
	assert.ErrorIs(t, dev.DestroyCounter(c), steering.ErrInUse)
	assert.ErrorIs(t, dev.DestroyQueue(q), steering.ErrInUse)
	res := d.Evaluate(frame(t, macA))
	assert.Equal(t, steering.Forward, res.Disposition)
	assert.Equal(t, uint64(1), c.Packets())

	require.NoError(t, d.Sync(ctx))
	assert.Equal(t, steering.Accept, d.Evaluate(frame(t, macA)).Disposition)
	assert.Equal(t, uint64(1), c.Packets())
	require.NoError(t, dev.DestroyCounter(c))
	require.NoError(t, dev.DestroyQueue(q))
}

func TestBatchedPeriodicSync(t *testing.T) {
	dev, _ := openDevice(t)
	d := newDomain(t, dev, steering.NICRX,
		steering.WithCommitMode(steering.CommitBatched),
		steering.WithSyncInterval(10*time.Millisecond),
	)
	_, m := smacTable(t, d, 0)
	createRule(t, d, m, macA, steering.Drop())

	assert.Eventually(t, func() bool {
		return d.Evaluate(frame(t, macA)).Disposition == steering.Discard
	}, time.Second, 5*time.Millisecond)
}

func TestDomainClose(t *testing.T) {
	ctx := context.Background()
	dev, drv := openDevice(t)
	d := newDomain(t, dev, steering.NICRX, steering.WithName("rx"))
	c, err := dev.NewCounter("c0")
	require.NoError(t, err)
	_, m := smacTable(t, d, 0)
	createRule(t, d, m, macA, steering.FlowCounter(c))

	pkt := frame(t, macA)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			res := d.Evaluate(pkt.Clone())
			if errors.Is(res.Err, steering.ErrClosed) {
				return
			}
			select {
			case <-done:
				return
			default:
			}
		}
	}()
	assert.Eventually(t, func() bool { return c.Packets() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, d.Close(ctx))
	after := c.Packets()
	<-stopped
	close(done)
	assert.Equal(t, after, c.Packets())
	assert.Equal(t, 0, c.Refs())

	res := d.Evaluate(frame(t, macA))
	assert.Equal(t, steering.Discard, res.Disposition)
	assert.ErrorIs(t, res.Err, steering.ErrClosed)
	_, err = d.CreateTable(ctx, 0)
	assert.ErrorIs(t, err, steering.ErrClosed)
	_, ok := dev.Domain("rx")
	assert.False(t, ok)
	p, ok := drv.Program(dev.Context(), d.ID())
	require.True(t, ok)
	assert.Empty(t, p.Tables)
	assert.Zero(t, p.Root)

	// Closing twice is fine.
	assert.NoError(t, d.Close(ctx))
}

func TestDomainNames(t *testing.T) {
	dev, _ := openDevice(t)
	newDomain(t, dev, steering.NICRX, steering.WithName("rx"))
	_, err := dev.NewDomain(steering.NICTX, steering.WithName("rx"))
	assert.ErrorIs(t, err, steering.ErrAlreadyExists)
	_, err = dev.NewDomain(steering.NICRX, steering.WithMaxHops(0))
	assert.Error(t, err)
	_, err = dev.NewDomain(steering.DomainType(9))
	assert.Error(t, err)

	d, ok := dev.Domain("rx")
	require.True(t, ok)
	assert.Equal(t, steering.NICRX, d.Type())
	assert.Len(t, dev.Domains(), 1)
}

func TestParseIDs(t *testing.T) {
	dev, _ := openDevice(t)
	d := newDomain(t, dev, steering.NICRX)
	_, m := smacTable(t, d, 0)
	r := createRule(t, d, m, macA)

	parsed, err := d.ParseRuleID(r.String())
	require.NoError(t, err)
	assert.Equal(t, r, parsed)
	info, err := d.Rule(parsed)
	require.NoError(t, err)
	assert.Equal(t, m, info.Matcher)

	for _, s := range []string{"", "1", "a.b", "1.0", "1.-1"} {
		_, err := d.ParseRuleID(s)
		assert.Error(t, err, s)
	}
}

func TestEvaluateDuringMutations(t *testing.T) {
	modes := map[string]steering.CommitMode{
		"auto":    steering.CommitAuto,
		"batched": steering.CommitBatched,
	}
	for name, mode := range modes {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dev, _ := openDevice(t)
			d := newDomain(t, dev, steering.NICRX, steering.WithCommitMode(mode))
			q, err := dev.NewQueue("q0", 8)
			require.NoError(t, err)
			_, m := smacTable(t, d, 0)
			createRule(t, d, m, macA, steering.Qp(q))
			require.NoError(t, d.Sync(ctx))

			pktA, pktB := frame(t, macA), frame(t, macB)
			var violations atomic.Int64
			stop := make(chan struct{})
			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						select {
						case <-stop:
							return
						default:
						}
						if res := d.Evaluate(pktA); res.Disposition != steering.Forward ||
							res.Queue != q {
							violations.Add(1)
						}
						// B either misses the root table or takes the full
						// path into the child table and is dropped there.
						res := d.Evaluate(pktB)
						switch {
						case res.Err != nil:
							violations.Add(1)
						case res.Disposition == steering.Accept && res.Hops == 1:
						case res.Disposition == steering.Discard && res.Hops == 2 && res.Tagged:
						default:
							violations.Add(1)
						}
					}
				}()
			}

			for i := 0; i < 200; i++ {
				child, cm := smacTable(t, d, 1)
				createRule(t, d, cm, macB, steering.Tag(uint32(i)), steering.Drop())
				jump := createRule(t, d, m, macB, steering.DestTable(child))
				require.NoError(t, d.Sync(ctx))
				require.NoError(t, d.DestroyRule(ctx, jump))
				require.NoError(t, d.Sync(ctx))
				require.NoError(t, d.DestroyTable(ctx, child, true))
				require.NoError(t, d.Sync(ctx))
			}
			close(stop)
			wg.Wait()
			assert.Zero(t, violations.Load())
			assert.Equal(t, 1, d.NumRules())
		})
	}
}
