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

package match_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsteer/flowsteer/pkg/private/xtest"
	"github.com/flowsteer/flowsteer/pkg/steering/match"
)

func TestNewParams(t *testing.T) {
	testCases := map[string]struct {
		Size      int
		Content   []byte
		Expected  []byte
		assertErr assert.ErrorAssertionFunc
	}{
		"empty": {
			Expected:  []byte{},
			assertErr: assert.NoError,
		},
		"aligned": {
			Size:      4,
			Content:   []byte{1, 2, 3, 4},
			Expected:  []byte{1, 2, 3, 4},
			assertErr: assert.NoError,
		},
		"rounded and padded": {
			Size:      6,
			Content:   []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			Expected:  []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0, 0},
			assertErr: assert.NoError,
		},
		"short content": {
			Size:      5,
			Content:   []byte{1},
			Expected:  []byte{1, 0, 0, 0, 0, 0, 0, 0},
			assertErr: assert.NoError,
		},
		"content too long": {
			Size:      2,
			Content:   []byte{1, 2, 3},
			assertErr: assert.Error,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			p, err := match.NewParams(tc.Size, tc.Content)
			tc.assertErr(t, err)
			if err != nil {
				xtest.AssertErrorsIs(t, err, match.ErrLengthMismatch)
				return
			}
			assert.Equal(t, tc.Expected, p.Bytes())
			assert.Zero(t, p.Size()%4)
		})
	}
}

func TestParamsImmutable(t *testing.T) {
	content := []byte{1, 2, 3, 4}
	p := match.MustParams(content)
	content[0] = 9
	b := p.Bytes()
	b[1] = 9
	assert.Equal(t, []byte{1, 2, 3, 4}, p.Bytes())
}

func TestParamsBytesEmpty(t *testing.T) {
	assert.Equal(t, []byte{}, match.Params{}.Bytes())
	p, err := match.NewParams(0, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, p.Bytes())
}

func TestParamsEqual(t *testing.T) {
	a := match.MustParams([]byte{1, 2, 3, 4})
	b := match.MustParams([]byte{1, 2, 3, 4})
	c := match.MustParams([]byte{1, 2, 3, 4, 5, 6, 7, 8})

	eq, err := a.Equal(b)
	require.NoError(t, err)
	assert.True(t, eq)

	_, err = a.Equal(c)
	xtest.AssertErrorsIs(t, err, match.ErrLengthMismatch)
}

func TestValidateMask(t *testing.T) {
	smac := func() match.Params {
		var b match.Builder
		require.NoError(t, b.SetFull(match.FieldSMAC))
		return b.Params()
	}
	miscBit := make([]byte, match.SectionSize+4)
	miscBit[match.SectionSize] = 1

	testCases := map[string]struct {
		Mask     match.Params
		Criteria match.Criteria
		Valid    bool
	}{
		"match all": {
			Mask:     match.MustParams(make([]byte, match.MaxSize)),
			Criteria: match.CriteriaNone,
			Valid:    true,
		},
		"outer smac": {
			Mask:     smac(),
			Criteria: match.CriteriaOuter,
			Valid:    true,
		},
		"none with smac": {
			Mask:     smac(),
			Criteria: match.CriteriaNone,
		},
		"misc bit with outer only": {
			Mask:     match.MustParams(miscBit),
			Criteria: match.CriteriaOuter,
		},
		"misc bit with misc": {
			Mask:     match.MustParams(miscBit),
			Criteria: match.CriteriaOuter | match.CriteriaMisc,
			Valid:    true,
		},
		"too large": {
			Mask:     match.MustParams(make([]byte, match.MaxSize+4)),
			Criteria: match.CriteriaAll,
		},
		"unknown criteria": {
			Mask:     smac(),
			Criteria: match.Criteria(0x80),
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := match.ValidateMask(tc.Mask, tc.Criteria)
			if tc.Valid {
				assert.NoError(t, err)
				return
			}
			xtest.AssertErrorsIs(t, err, match.ErrInvalidMask)
		})
	}
}

// TestMatchesMaskedBits checks over random keys, masks and values that a value
// matches a key iff key & mask == value & mask, and that flipping key bits
// outside of the mask never changes the outcome.
func TestMatchesMaskedBits(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		size := 4 * (1 + rng.Intn(match.MaxSize/4))
		var key match.Key
		rng.Read(key[:])
		mask, value := make([]byte, size), make([]byte, size)
		rng.Read(mask)
		// Make matches likely: value equals the key with a few random flips.
		copy(value, key[:size])
		for j := 0; j < rng.Intn(3); j++ {
			value[rng.Intn(size)] ^= byte(1 << rng.Intn(8))
		}

		expected := true
		for j := 0; j < size; j++ {
			if key[j]&mask[j] != value[j]&mask[j] {
				expected = false
			}
		}
		got, err := match.Matches(&key, match.MustParams(mask), match.MustParams(value))
		require.NoError(t, err)
		require.Equal(t, expected, got, "iteration %d", i)

		flipped := key
		for j := range flipped {
			if j < size {
				flipped[j] ^= ^mask[j]
			} else {
				flipped[j] ^= 0xff
			}
		}
		got, err = match.Matches(&flipped, match.MustParams(mask), match.MustParams(value))
		require.NoError(t, err)
		require.Equal(t, expected, got, "iteration %d with flipped bits", i)
	}
}

func TestMatchesLengthMismatch(t *testing.T) {
	var key match.Key
	_, err := match.Matches(&key, match.MustParams(make([]byte, 8)),
		match.MustParams(make([]byte, 4)))
	xtest.AssertErrorsIs(t, err, match.ErrLengthMismatch)
}

func TestBuilder(t *testing.T) {
	t.Run("smac mask", func(t *testing.T) {
		var b match.Builder
		require.NoError(t, b.SetFull(match.FieldSMAC))
		p := b.Params()
		assert.Equal(t, 8, p.Size())
		assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0, 0}, p.Bytes())
	})
	t.Run("value of mask size", func(t *testing.T) {
		var b match.Builder
		require.NoError(t, b.SetString("smac", "aa:aa:aa:aa:aa:aa"))
		p, err := b.ParamsOfSize(match.MaxSize)
		require.NoError(t, err)
		assert.Equal(t, match.MaxSize, p.Size())
		assert.True(t, bytes.HasPrefix(p.Bytes(), xtest.MustParseHexString("aaaaaaaaaaaa0000")))
	})
	t.Run("value larger than size", func(t *testing.T) {
		var b match.Builder
		require.NoError(t, b.SetString("dst_ipv4", "10.0.0.1"))
		_, err := b.ParamsOfSize(8)
		xtest.AssertErrorsIs(t, err, match.ErrLengthMismatch)
	})
	t.Run("fields", func(t *testing.T) {
		var b match.Builder
		require.NoError(t, b.SetString("ethertype", "0x0800"))
		require.NoError(t, b.SetString("ip_protocol", "17"))
		require.NoError(t, b.SetString("l4_dport", "4789"))
		require.NoError(t, b.SetString("src_ip", "2001:db8::1"))
		p := b.Params()
		raw := p.Bytes()
		assert.Equal(t, []byte{0x08, 0x00}, raw[0x06:0x08])
		assert.Equal(t, byte(17), raw[0x10])
		assert.Equal(t, []byte{0x12, 0xb5}, raw[0x1a:0x1c])
		assert.Equal(t, match.FieldSrcIP.End(), p.Size())
	})
	t.Run("errors", func(t *testing.T) {
		var b match.Builder
		assert.Error(t, b.SetString("nope", "1"))
		assert.Error(t, b.SetString("smac", "aa:aa"))
		assert.Error(t, b.SetString("ttl", "256"))
		assert.Error(t, b.SetString("src_ipv4", "2001:db8::1"))
		assert.Error(t, b.Set(match.FieldTTL, []byte{1, 2}))
	})
}

func TestCriteria(t *testing.T) {
	testCases := map[string]match.Criteria{
		"none":                               match.CriteriaNone,
		"outer":                              match.CriteriaOuter,
		"outer|misc2":                        match.CriteriaOuter | match.CriteriaMisc2,
		"outer|misc|inner|misc2|misc3|misc4": match.CriteriaAll,
	}
	for s, c := range testCases {
		t.Run(s, func(t *testing.T) {
			assert.Equal(t, s, c.String())
			parsed, err := match.ParseCriteria(s)
			require.NoError(t, err)
			assert.Equal(t, c, parsed)
		})
	}
	_, err := match.ParseCriteria("outer|bogus")
	assert.Error(t, err)
	assert.True(t, match.CriteriaOuter.Enables(match.FieldDstIPv4.Offset))
	assert.False(t, match.CriteriaOuter.Enables(match.SectionSize))
}
