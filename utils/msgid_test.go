package utils

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr32(v int32) *int32 { return &v }

func TestMessageIDRoundTrip(t *testing.T) {
	cases := []MessageID{
		{Target: 123, Seqs: []int32{1}, Rands: []int32{2}},
		{Target: 123, Seqs: []int32{1, 2, 3}, Rands: []int32{-4, 5, -6}, Time: ptr32(1700000000)},
		{Target: -1, Seqs: []int32{-1}, Rands: []int32{-1}, Time: ptr32(-7)},
		{Target: math.MaxInt64, Seqs: []int32{math.MinInt32, math.MaxInt32}, Rands: []int32{0}},
		{Target: 0, Seqs: []int32{0}, Rands: []int32{0}, Time: ptr32(0)},
	}

	for _, c := range cases {
		encoded := c.String()
		decoded, err := DecodeMessageID(encoded)
		require.NoError(t, err, "decode %q", encoded)
		assert.Equal(t, c, decoded, "round trip of %q", encoded)
	}
}

func TestMessageIDRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	randList := func() []int32 {
		n := 1 + r.Intn(4)
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(r.Uint32())
		}
		return out
	}

	for i := 0; i < 2000; i++ {
		id := MessageID{Target: r.Int63() - r.Int63(), Seqs: randList(), Rands: randList()}
		if r.Intn(2) == 0 {
			id.Time = ptr32(int32(r.Uint32()))
		}
		decoded, err := DecodeMessageID(EncodeMessageID(id.Target, id.Seqs, id.Rands, id.Time))
		require.NoError(t, err)
		require.Equal(t, id, decoded)
	}
}

func TestMessageIDEncodingFormat(t *testing.T) {
	as := assert.New(t)
	as.Equal("123 1-2 3", EncodeMessageID(123, []int32{1, 2}, []int32{3}, nil))
	as.Equal("5 1--2 -3 99", EncodeMessageID(5, []int32{1, -2}, []int32{-3}, ptr32(99)))
}

func TestDecodeMessageIDMalformed(t *testing.T) {
	inputs := []string{
		"",
		"123",
		"123 1",
		"123 1 2 3 4",
		"abc 1 2",
		"123 x 2",
		"123 1 y",
		"123 1 2 z",
		"123  2",
		"123 1-",
		"123 --1 2",
		"123 1---2 3",
		"123 1 2 ",
		"99999999999999999999 1 2",
		"1 99999999999 2",
	}
	for _, in := range inputs {
		_, err := DecodeMessageID(in)
		assert.ErrorIs(t, err, ErrMalformedMessageID, "input %q", in)
	}
}
