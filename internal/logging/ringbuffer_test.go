package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferBasicWrite(t *testing.T) {
	rb := NewRingBuffer(64)

	n, err := rb.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(rb.Bytes()))
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(8)

	_, err := rb.Write([]byte("abcdef"))
	require.NoError(t, err)
	_, err = rb.Write([]byte("ghij"))
	require.NoError(t, err)

	// Capacity 8: only the last 8 bytes of "abcdefghij" survive.
	assert.Equal(t, "cdefghij", string(rb.Bytes()))
}

func TestRingBufferOversizedWrite(t *testing.T) {
	rb := NewRingBuffer(4)

	_, err := rb.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, "6789", string(rb.Bytes()))
}

func TestRingBufferManySmallWrites(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 0; i < 100; i++ {
		_, err := rb.Write([]byte("x"))
		require.NoError(t, err)
	}
	assert.Equal(t, strings.Repeat("x", 10), string(rb.Bytes()))
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(32)
	_, err := rb.Write([]byte("crash context"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dump.log")
	require.NoError(t, rb.DumpToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "crash context", string(data))
}
