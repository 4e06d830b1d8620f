package codec_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/funnelcore/pkg/codec"
)

func TestDecodeOrder(t *testing.T) {
	t.Parallel()

	require.Equal(t, []codec.Format{codec.FormatBinary, codec.FormatJSON, codec.FormatString}, codec.DecodeOrder)
}

func TestCodec_RoundTrip(t *testing.T) {
	t.Parallel()

	c := codec.Default()

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{name: "string", value: "hello", want: "hello"},
		{name: "integer widens to int64", value: 42, want: int64(42)},
		{name: "bool", value: true, want: true},
		{name: "map", value: map[string]any{"name": "alice", "step": 3}, want: map[string]any{"name": "alice", "step": int64(3)}},
		{name: "slice", value: []string{"a", "b"}, want: []any{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, format, err := c.Encode(tt.value)
			require.NoError(t, err)
			require.Equal(t, codec.FormatBinary, format)

			got, decoded := c.Decode(data)
			assert.Equal(t, codec.FormatBinary, decoded)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodec_DecodeFallback(t *testing.T) {
	t.Parallel()

	c := codec.Default()

	t.Run("json written by another encoder", func(t *testing.T) {
		t.Parallel()

		got, format := c.Decode([]byte(`{"uid":"123","verified":true}`))
		assert.Equal(t, codec.FormatJSON, format)
		assert.Equal(t, map[string]any{"uid": "123", "verified": true}, got)
	})

	t.Run("raw text", func(t *testing.T) {
		t.Parallel()

		got, format := c.Decode([]byte("plain text value"))
		assert.Equal(t, codec.FormatString, format)
		assert.Equal(t, "plain text value", got)
	})

	t.Run("corrupt binary payload falls through", func(t *testing.T) {
		t.Parallel()

		data, _, err := c.Encode("hello")
		require.NoError(t, err)

		_, err = c.DecodeAs(codec.FormatBinary, append(data, 0x01))
		require.ErrorIs(t, err, codec.ErrTrailingData)

		_, format := c.Decode(append(data, 0x01))
		assert.Equal(t, codec.FormatString, format)
	})

	t.Run("empty payload", func(t *testing.T) {
		t.Parallel()

		got, format := c.Decode(nil)
		assert.Equal(t, codec.FormatString, format)
		assert.Equal(t, "", got)
	})
}

func TestCodec_EncodeFallback(t *testing.T) {
	t.Parallel()

	data, format, err := codec.Default().Encode(func() {})
	require.NoError(t, err)
	assert.Equal(t, codec.FormatString, format)
	assert.NotEmpty(t, data)
}

func TestCodec_Compression(t *testing.T) {
	t.Parallel()

	for _, algorithm := range []codec.CompressorType{codec.CompressorGzip, codec.CompressorDeflate} {
		t.Run(string(algorithm), func(t *testing.T) {
			t.Parallel()

			c, err := codec.New(codec.NewDefaultConfig().WithEnabled(true).WithAlgorithm(algorithm).WithMinSize(64))
			require.NoError(t, err)

			value := strings.Repeat("follow-up message body ", 100)

			compressed, format, err := c.Encode(value)
			require.NoError(t, err)
			require.Equal(t, codec.FormatBinary, format)

			plain, _, err := codec.Default().Encode(value)
			require.NoError(t, err)
			assert.Less(t, len(compressed), len(plain))

			got, _ := c.Decode(compressed)
			assert.Equal(t, value, got)
		})
	}

	t.Run("gzip payload readable without compression configured", func(t *testing.T) {
		t.Parallel()

		c, err := codec.New(codec.NewDefaultConfig().WithEnabled(true).WithMinSize(1))
		require.NoError(t, err)

		value := strings.Repeat("x", 512)
		data, _, err := c.Encode(value)
		require.NoError(t, err)

		got, format := codec.Default().Decode(data)
		assert.Equal(t, codec.FormatBinary, format)
		assert.Equal(t, value, got)
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		t.Parallel()

		_, err := codec.New(codec.NewDefaultConfig().WithEnabled(true).WithAlgorithm("brotli"))
		require.Error(t, err)
	})
}

func TestSize(t *testing.T) {
	t.Parallel()

	small := codec.Size("a")
	large := codec.Size(strings.Repeat("a", 1000))

	assert.Positive(t, small)
	assert.Greater(t, large, small)
}

func TestConvert(t *testing.T) {
	type lead struct {
		ID     int64
		Name   string
		Source string
	}

	t.Run("assignable values are copied", func(t *testing.T) {
		var n int
		require.NoError(t, codec.Convert(7, &n))
		assert.Equal(t, 7, n)
	})

	t.Run("decoded values take the target type", func(t *testing.T) {
		c := codec.Default()
		data, _, err := c.Encode(lead{ID: 7, Name: "Bob", Source: "ads"})
		require.NoError(t, err)
		decoded, _ := c.Decode(data)
		require.IsType(t, map[string]any{}, decoded)

		var got lead
		require.NoError(t, codec.Convert(decoded, &got))
		assert.Equal(t, lead{ID: 7, Name: "Bob", Source: "ads"}, got)

		var n int
		require.NoError(t, codec.Convert(int64(7), &n))
		assert.Equal(t, 7, n)
	})

	t.Run("nil clears the target", func(t *testing.T) {
		s := "stale"
		require.NoError(t, codec.Convert(nil, &s))
		assert.Empty(t, s)
	})

	t.Run("invalid targets", func(t *testing.T) {
		var n int
		assert.ErrorIs(t, codec.Convert(1, n), codec.ErrInvalidTarget)
		assert.ErrorIs(t, codec.Convert(1, (*int)(nil)), codec.ErrInvalidTarget)
		assert.Error(t, codec.Convert("not a number", &n))
	})
}
