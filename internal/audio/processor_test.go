package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner simulates ffmpeg/ffprobe without shelling out. Compression and
// chunk extraction create real output files so size checks work.
type fakeRunner struct {
	durationSec    float64
	compressedSize int
	failCompress   bool
	failChunkIndex int // -1 never fails
	calls          [][]string
}

func newFakeRunner(durationSec float64, compressedSize int) *fakeRunner {
	return &fakeRunner{
		durationSec:    durationSec,
		compressedSize: compressedSize,
		failChunkIndex: -1,
	}
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))

	if name == "ffprobe" {
		return []byte(fmt.Sprintf("%f\n", f.durationSec)), nil
	}

	outputPath := args[len(args)-1]
	if hasArg(args, "-codec:a") { // compression
		if f.failCompress {
			return []byte("encoder error"), fmt.Errorf("exit status 1")
		}
		return nil, os.WriteFile(outputPath, bytes.Repeat([]byte("c"), f.compressedSize), 0o644)
	}
	if hasArg(args, "-ss") { // chunk extraction
		chunkIdx := len(f.chunkCalls()) - 1
		if f.failChunkIndex >= 0 && chunkIdx == f.failChunkIndex {
			return []byte("segment error"), fmt.Errorf("exit status 1")
		}
		return nil, os.WriteFile(outputPath, []byte("chunk"), 0o644)
	}
	return nil, nil
}

func (f *fakeRunner) chunkCalls() [][]string {
	var out [][]string
	for _, c := range f.calls {
		if c[0] == "ffmpeg" && hasArg(c, "-ss") {
			out = append(out, c)
		}
	}
	return out
}

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func writeInput(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meeting.mp3")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("a"), size), 0o644))
	return path
}

func newProcessor(ceiling int64, run Runner) *Processor {
	return NewProcessor(Config{
		CeilingBytes:  ceiling,
		ChunkDuration: 10 * time.Minute,
		BitrateKbps:   64,
		SampleRate:    16000,
		Runner:        run,
	})
}

func TestProcessFilePassThroughUnderCeiling(t *testing.T) {
	run := newFakeRunner(0, 0)
	p := newProcessor(100, run)
	input := writeInput(t, 80)

	res, err := p.ProcessFile(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, input, res.ProcessedPath)
	assert.False(t, res.WasCompressed)
	assert.Empty(t, res.Chunks)
	assert.Equal(t, int64(80), res.OriginalSize)
	assert.Equal(t, int64(80), res.ProcessedSize)
	assert.Empty(t, run.calls, "no codec invocation for small files")
}

func TestProcessFileCompressesBelowCeiling(t *testing.T) {
	run := newFakeRunner(0, 50)
	p := newProcessor(100, run)
	input := writeInput(t, 200)

	res, err := p.ProcessFile(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, res.WasCompressed)
	assert.True(t, strings.HasSuffix(res.ProcessedPath, "_compressed.mp3"))
	assert.Empty(t, res.Chunks)
	assert.Equal(t, int64(200), res.OriginalSize)
	assert.Equal(t, int64(50), res.ProcessedSize)
}

func TestProcessFileSplitsWhenCompressionNotEnough(t *testing.T) {
	// 25 minutes at 10-minute chunks => 3 segments.
	run := newFakeRunner(1500, 150)
	p := newProcessor(100, run)
	input := writeInput(t, 200)

	res, err := p.ProcessFile(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, res.WasCompressed)
	require.Len(t, res.Chunks, 3)
	for i, chunk := range res.Chunks {
		assert.Contains(t, chunk, fmt.Sprintf("_chunk_%d.mp3", i), "chunks keep start-time order")
		assert.FileExists(t, chunk)
	}
	assert.Equal(t, res.Chunks[0], res.ProcessedPath)

	compressed := strings.TrimSuffix(input, ".mp3") + "_compressed.mp3"
	assert.NoFileExists(t, compressed, "compressed intermediate removed after splitting")
}

func TestProcessFileSplitsOriginalWhenCompressionFails(t *testing.T) {
	run := newFakeRunner(700, 0)
	run.failCompress = true
	p := newProcessor(100, run)
	input := writeInput(t, 200)

	res, err := p.ProcessFile(context.Background(), input)
	require.NoError(t, err)

	assert.False(t, res.WasCompressed)
	require.Len(t, res.Chunks, 2)
	assert.Equal(t, int64(200), res.ProcessedSize)
}

func TestProcessFileSplitFailureIsFatal(t *testing.T) {
	run := newFakeRunner(1500, 150)
	run.failChunkIndex = 1
	p := newProcessor(100, run)
	input := writeInput(t, 200)

	_, err := p.ProcessFile(context.Background(), input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 1")
}

func TestSplitIntoChunksRoundsUp(t *testing.T) {
	run := newFakeRunner(601, 0)
	p := newProcessor(100, run)
	input := writeInput(t, 10)

	chunks, err := p.SplitIntoChunks(context.Background(), input, 10*time.Minute)
	require.NoError(t, err)
	assert.Len(t, chunks, 2, "601s at 600s chunks needs two segments")
}

func TestCleanupTempFilesIdempotent(t *testing.T) {
	path := writeInput(t, 10)

	CleanupTempFiles([]string{path})
	assert.NoFileExists(t, path)

	// Second pass over already-deleted paths must not panic or fail.
	CleanupTempFiles([]string{path, filepath.Join(t.TempDir(), "never-existed.mp3")})
}
