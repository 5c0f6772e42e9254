package seedream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestReadLimited(t *testing.T) {
	data, err := readLimited(strings.NewReader("png-bytes"), "https://cdn.example/r.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = readLimited(io.LimitReader(zeros{}, maxFetchBytes+10), "https://cdn.example/huge.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "larger than")
}
