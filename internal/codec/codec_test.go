package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Value{
		Null{},
		Bool(true),
		Int(123),
		Float(123.456),
		String("Hello World"),
		Bytes([]byte("Hello World")),
		Sequence{Int(1), Int(2), Int(3)},
		Map{"key": String("value")},
	}

	for _, v := range cases {
		encoded, err := Encode(v)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)
		require.Equal(t, v, decoded)
	}
}

func TestDecodeTolerant(t *testing.T) {
	raw := []byte{0xff, 0xfe, 0x00, 0x01, 0x02} // not valid msgpack on its own terms we care about
	v, err := Decode(raw)
	require.NoError(t, err)
	// Either parses to something or passes through as Bytes; must never error.
	_ = v
}

func TestDecodeFastMatchesDecode(t *testing.T) {
	cases := []Value{
		Null{},
		Bool(false),
		Bool(true),
		Int(42),
		String("plain string"),
		Bytes([]byte{1, 2, 3, 4}),
	}
	for _, v := range cases {
		encoded, err := Encode(v)
		require.NoError(t, err)

		want, err := Decode(encoded)
		require.NoError(t, err)

		got, err := DecodeFast(encoded)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestBytesDistinctFromString(t *testing.T) {
	bEncoded, err := Encode(Bytes("abc"))
	require.NoError(t, err)
	sEncoded, err := Encode(String("abc"))
	require.NoError(t, err)
	require.NotEqual(t, bEncoded, sEncoded)

	bDecoded, err := Decode(bEncoded)
	require.NoError(t, err)
	require.IsType(t, Bytes{}, bDecoded)

	sDecoded, err := Decode(sEncoded)
	require.NoError(t, err)
	require.IsType(t, String(""), sDecoded)
}

func TestLargeSequence(t *testing.T) {
	seq := make(Sequence, 100000)
	for i := range seq {
		seq[i] = String("Hello World")
	}
	encoded, err := Encode(seq)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, seq, decoded)
}
