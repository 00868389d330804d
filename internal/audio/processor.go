// Package audio shrinks uploaded recordings to fit the remote transcription
// API: pass-through when small enough, re-encode for speech when not, and
// time-sliced splitting when even the re-encode is still above the ceiling.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"meeting-ata-go/internal/logger"
)

// Result describes what ProcessFile produced. Chunks is set only when the
// file had to be split; it is ordered by segment start time.
type Result struct {
	ProcessedPath string   `json:"processedPath"`
	OriginalSize  int64    `json:"originalSize"`
	ProcessedSize int64    `json:"processedSize"`
	WasCompressed bool     `json:"wasCompressed"`
	Chunks        []string `json:"chunks,omitempty"`
}

// Runner executes a codec command and returns its combined output. The
// default shells out to ffmpeg/ffprobe; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Config holds the tuning the processor needs. A nil Runner means real ffmpeg.
type Config struct {
	CeilingBytes  int64
	ChunkDuration time.Duration
	BitrateKbps   int
	SampleRate    int
	Runner        Runner
}

type Processor struct {
	cfg Config
	run Runner
}

func NewProcessor(cfg Config) *Processor {
	run := cfg.Runner
	if run == nil {
		run = execRunner{}
	}
	return &Processor{cfg: cfg, run: run}
}

// CheckFFmpeg verifies the codec binaries are on PATH.
func CheckFFmpeg() error {
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not found on PATH", bin)
		}
	}
	return nil
}

// Compress re-encodes to mono speech-rate MP3 at the target bitrate.
func (p *Processor) Compress(ctx context.Context, inputPath, outputPath string, bitrateKbps int) error {
	out, err := p.run.Run(ctx, "ffmpeg",
		"-y",
		"-i", inputPath,
		"-ac", "1",
		"-ar", strconv.Itoa(p.cfg.SampleRate),
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-codec:a", "libmp3lame",
		outputPath,
	)
	if err != nil {
		return fmt.Errorf("compress %s: %w\n%s", filepath.Base(inputPath), err, string(out))
	}
	return nil
}

// SplitIntoChunks slices the file into fixed-duration segments, returned in
// chronological order. Any failed segment fails the whole operation.
func (p *Processor) SplitIntoChunks(ctx context.Context, inputPath string, chunkDuration time.Duration) ([]string, error) {
	duration, err := p.probeDuration(ctx, inputPath)
	if err != nil {
		return nil, err
	}

	chunkSec := chunkDuration.Seconds()
	numChunks := int(math.Ceil(duration / chunkSec))
	if numChunks < 1 {
		numChunks = 1
	}

	dir := filepath.Dir(inputPath)
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))

	chunks := make([]string, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		chunkPath := filepath.Join(dir, fmt.Sprintf("%s_chunk_%d.mp3", base, i))
		start := float64(i) * chunkSec
		out, err := p.run.Run(ctx, "ffmpeg",
			"-y",
			"-i", inputPath,
			"-ss", strconv.FormatFloat(start, 'f', -1, 64),
			"-t", strconv.FormatFloat(chunkSec, 'f', -1, 64),
			chunkPath,
		)
		if err != nil {
			return nil, fmt.Errorf("extract chunk %d: %w\n%s", i, err, string(out))
		}
		chunks = append(chunks, chunkPath)
	}
	return chunks, nil
}

// ProcessFile applies the size policy: within the ceiling the input passes
// through untouched; above it we compress; if the compressed file is still
// above the ceiling (or compression failed) we split. Split failure is fatal.
func (p *Processor) ProcessFile(ctx context.Context, inputPath string) (Result, error) {
	log := logger.New().Component("audio")

	info, err := os.Stat(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat input: %w", err)
	}
	originalSize := info.Size()

	if originalSize <= p.cfg.CeilingBytes {
		return Result{
			ProcessedPath: inputPath,
			OriginalSize:  originalSize,
			ProcessedSize: originalSize,
			WasCompressed: false,
		}, nil
	}

	compressedPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "_compressed.mp3"
	if err := p.Compress(ctx, inputPath, compressedPath, p.cfg.BitrateKbps); err != nil {
		log.WithError(err).Warn("compression failed, splitting original")
		chunks, splitErr := p.SplitIntoChunks(ctx, inputPath, p.cfg.ChunkDuration)
		if splitErr != nil {
			return Result{}, fmt.Errorf("split after failed compression: %w", splitErr)
		}
		return Result{
			ProcessedPath: chunks[0],
			OriginalSize:  originalSize,
			ProcessedSize: originalSize,
			WasCompressed: false,
			Chunks:        chunks,
		}, nil
	}

	compInfo, err := os.Stat(compressedPath)
	if err != nil {
		return Result{}, fmt.Errorf("stat compressed output: %w", err)
	}

	if compInfo.Size() <= p.cfg.CeilingBytes {
		return Result{
			ProcessedPath: compressedPath,
			OriginalSize:  originalSize,
			ProcessedSize: compInfo.Size(),
			WasCompressed: true,
		}, nil
	}

	chunks, err := p.SplitIntoChunks(ctx, compressedPath, p.cfg.ChunkDuration)
	if err != nil {
		return Result{}, fmt.Errorf("split compressed file: %w", err)
	}
	// The compressed intermediate is superseded by its chunks.
	if rmErr := os.Remove(compressedPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		log.WithError(rmErr).Warn("could not remove compressed intermediate")
	}
	return Result{
		ProcessedPath: chunks[0],
		OriginalSize:  originalSize,
		ProcessedSize: compInfo.Size(),
		WasCompressed: true,
		Chunks:        chunks,
	}, nil
}

// CleanupTempFiles removes processing leftovers. Missing files are fine,
// other failures are logged and swallowed.
func CleanupTempFiles(paths []string) {
	log := logger.New().Component("audio")
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.WithField("path", path).WithError(err).Warn("could not remove temp file")
		}
	}
}

func (p *Processor) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := p.run.Run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w\n%s", err, string(out))
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse probed duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return duration, nil
}
