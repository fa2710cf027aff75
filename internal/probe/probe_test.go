package probe

import (
	"testing"

	"github.com/laurelhollow/streamhls/internal/kinderr"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	require.NoError(t, ValidatePath("/videos/movie.mkv"))

	cases := []string{
		"",
		"relative/path.mkv",
		"/videos/../etc/passwd",
		"/videos/movie\x00.mkv",
	}
	for _, path := range cases {
		err := ValidatePath(path)
		require.Error(t, err, path)
		require.Equal(t, kinderr.InvalidPath, kinderr.KindOf(err), path)
	}
}

func TestParseRationalFPS(t *testing.T) {
	fps, ok := parseRationalFPS("24000/1001")
	require.True(t, ok)
	require.InDelta(t, 23.976, fps, 0.001)

	_, ok = parseRationalFPS("not-a-fraction")
	require.False(t, ok)

	_, ok = parseRationalFPS("30/0")
	require.False(t, ok)
}

func TestBoundedBuffer_Overflow(t *testing.T) {
	var b boundedBuffer
	b.limit = 4
	n, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.True(t, b.overflowed)
}

func TestBoundedBuffer_WithinLimit(t *testing.T) {
	var b boundedBuffer
	b.limit = 16
	_, err := b.Write([]byte("short"))
	require.NoError(t, err)
	require.False(t, b.overflowed)
	require.Equal(t, "short", b.buf.String())
}
