package generate_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/dealwise/pkg/generate"
)

func collectChunks(chunks *[]string) func(string) error {
	return func(chunk string) error {
		*chunks = append(*chunks, chunk)
		return nil
	}
}

func TestStreamBuffer_FlushesAtSentenceBoundary(t *testing.T) {
	var chunks []string
	b := generate.NewStreamBuffer(generate.StreamConfig{
		MinChunkBytes: 20,
		FlushInterval: time.Hour,
	}, collectChunks(&chunks))

	require.NoError(t, b.Write("This is the first "))
	assert.Empty(t, chunks, "below minimum, no boundary yet")

	require.NoError(t, b.Write("sentence. And then"))
	require.Len(t, chunks, 1)
	assert.Equal(t, "This is the first sentence. ", chunks[0])

	require.NoError(t, b.Flush())
	assert.Equal(t, []string{"This is the first sentence. ", "And then"}, chunks)
}

func TestStreamBuffer_FallsBackToWordBoundary(t *testing.T) {
	var chunks []string
	b := generate.NewStreamBuffer(generate.StreamConfig{
		MinChunkBytes: 10,
		FlushInterval: time.Hour,
	}, collectChunks(&chunks))

	require.NoError(t, b.Write("alpha beta gamma"))
	require.Len(t, chunks, 1)
	assert.Equal(t, "alpha beta ", chunks[0])

	require.NoError(t, b.Flush())
	assert.Equal(t, "gamma", chunks[1])
}

func TestStreamBuffer_IntervalFlushWithoutBoundary(t *testing.T) {
	var chunks []string
	b := generate.NewStreamBuffer(generate.StreamConfig{
		MinChunkBytes: 4096,
		FlushInterval: 20 * time.Millisecond,
	}, collectChunks(&chunks))

	require.NoError(t, b.Write("tokens"))
	assert.Empty(t, chunks)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Write(" keep coming"))
	require.Len(t, chunks, 1, "elapsed interval forces a flush")
	assert.Equal(t, "tokens keep coming", chunks[0])
}

func TestStreamBuffer_NothingLost(t *testing.T) {
	var chunks []string
	b := generate.NewStreamBuffer(generate.StreamConfig{
		MinChunkBytes: 12,
		FlushInterval: time.Hour,
	}, collectChunks(&chunks))

	fragments := []string{"The 70% rule caps", " your offer. Subtract", " repairs from ARV", " first."}
	for _, f := range fragments {
		require.NoError(t, b.Write(f))
	}
	require.NoError(t, b.Flush())

	assert.Equal(t, strings.Join(fragments, ""), strings.Join(chunks, ""))
}

func TestStreamBuffer_EmitErrorPropagates(t *testing.T) {
	wantErr := errors.New("client went away")
	b := generate.NewStreamBuffer(generate.StreamConfig{
		MinChunkBytes: 1,
		FlushInterval: time.Hour,
	}, func(string) error { return wantErr })

	err := b.Write("First sentence. ")
	assert.ErrorIs(t, err, wantErr)
}
