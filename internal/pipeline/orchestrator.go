// Package pipeline owns every state transition an AudioRecord goes through
// after upload: PENDING -> PROCESSING -> DONE|ERROR for transcription and
// "" -> GENERATING -> DONE|ERROR for minutes generation. Runs are detached
// from the HTTP request that triggered them; progress is observable only by
// re-reading the record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"meeting-ata-go/internal/audio"
	"meeting-ata-go/internal/groq"
	"meeting-ata-go/internal/logger"
	"meeting-ata-go/internal/store"
	"meeting-ata-go/internal/types"
)

// ErrRunActive signals that a background run for the record is already in
// flight. Callers surface it as a conflict, not a validation failure.
var ErrRunActive = errors.New("background run already active for record")

// Transcriber sends one audio file to the speech-to-text endpoint.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (groq.Transcription, error)
	Configured() bool
}

// AtaGenerator turns a transcript into a structured minutes document.
type AtaGenerator interface {
	GenerateAta(ctx context.Context, transcript string, promptLimit int) (string, error)
	Configured() bool
}

// FileProcessor shrinks a file to fit the remote size ceiling.
type FileProcessor interface {
	ProcessFile(ctx context.Context, inputPath string) (audio.Result, error)
}

// Config is the tuning slice the orchestrator needs.
type Config struct {
	ChunkPacingDelay       time.Duration
	TranscribeCeilingBytes int64
	TranscriptPromptLimit  int
}

type Orchestrator struct {
	store     store.Store
	processor FileProcessor
	stt       Transcriber
	generator AtaGenerator
	cfg       Config

	// sleep and now are swapped in tests for determinism.
	sleep func(time.Duration)
	now   func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

func New(st store.Store, processor FileProcessor, stt Transcriber, gen AtaGenerator, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:     st,
		processor: processor,
		stt:       stt,
		generator: gen,
		cfg:       cfg,
		sleep:     time.Sleep,
		now:       time.Now,
		active:    make(map[string]struct{}),
	}
}

// StartTranscription fires the transcription run for a freshly created
// record and returns immediately. At most one run per record id may be in
// flight; a second start is rejected with ErrRunActive.
func (o *Orchestrator) StartTranscription(recordID, filePath string) error {
	if err := o.acquire(recordID); err != nil {
		return err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(recordID)
		o.runTranscription(recordID, filePath)
	}()
	return nil
}

// StartMinutes fires minutes generation. Prerequisite checks (status DONE,
// transcript present, not already generating) belong to the caller; the run
// registry here closes the remaining check-then-act window.
func (o *Orchestrator) StartMinutes(recordID, transcript string) error {
	if err := o.acquire(recordID); err != nil {
		return err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(recordID)
		o.runMinutes(recordID, transcript)
	}()
	return nil
}

// Active reports whether a background run for the record is in flight.
func (o *Orchestrator) Active(recordID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[recordID]
	return ok
}

// Wait blocks until every in-flight run has finished. Test helper.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) acquire(recordID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[recordID]; ok {
		return ErrRunActive
	}
	o.active[recordID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(recordID string) {
	o.mu.Lock()
	delete(o.active, recordID)
	o.mu.Unlock()
}

// runTranscription is the full background flow. Every error is absorbed here
// and persisted on the record; nothing propagates past the goroutine.
func (o *Orchestrator) runTranscription(recordID, filePath string) {
	ctx := context.Background()
	log := logger.New().Component("pipeline").WithField("record_id", recordID)

	var cleanup []string
	defer func() {
		if len(cleanup) > 0 {
			audio.CleanupTempFiles(cleanup)
			log.WithField("files", len(cleanup)).Debug("temp files cleaned")
		}
	}()

	// PROCESSING must land before any external call so pollers never see a
	// stale PENDING while work is under way.
	if err := o.setProcessing(ctx, recordID, types.ProcessingInProgress); err != nil {
		log.WithError(err).Error("could not mark record as processing")
		return
	}

	if !o.stt.Configured() {
		o.failTranscription(ctx, log, recordID, fmt.Errorf("groq api key not configured"))
		return
	}

	result, err := o.processor.ProcessFile(ctx, filePath)
	if err != nil {
		o.failTranscription(ctx, log, recordID, err)
		return
	}
	log.WithFields(logrus.Fields{
		"original_mb":    fmt.Sprintf("%.2f", float64(result.OriginalSize)/1024/1024),
		"processed_mb":   fmt.Sprintf("%.2f", float64(result.ProcessedSize)/1024/1024),
		"was_compressed": result.WasCompressed,
		"chunks":         len(result.Chunks),
	}).Info("audio processed")

	var transcript string
	if len(result.Chunks) > 1 {
		// All chunk paths are cleanup candidates no matter how far the loop
		// gets.
		cleanup = append(cleanup, result.Chunks...)

		parts := make([]string, 0, len(result.Chunks))
		for i, chunkPath := range result.Chunks {
			if i > 0 {
				o.sleep(o.cfg.ChunkPacingDelay)
			}
			log.WithField("chunk", fmt.Sprintf("%d/%d", i+1, len(result.Chunks))).Info("transcribing chunk")
			tr, err := o.stt.Transcribe(ctx, chunkPath)
			if err != nil {
				o.failTranscription(ctx, log, recordID, err)
				return
			}
			parts = append(parts, tr.Text)
		}
		transcript = strings.TrimSpace(strings.Join(parts, "\n\n"))
	} else {
		if result.WasCompressed && result.ProcessedPath != filePath {
			cleanup = append(cleanup, result.ProcessedPath)
		}
		tr, err := o.stt.Transcribe(ctx, result.ProcessedPath)
		if err != nil {
			o.failTranscription(ctx, log, recordID, err)
			return
		}
		transcript = strings.TrimSpace(tr.Text)
	}

	doneAt := o.now().UTC()
	status := types.ProcessingDone
	if _, err := o.store.UpdateRecord(ctx, recordID, store.RecordUpdate{
		ProcessingStatus: &status,
		Transcript:       &transcript,
		ProcessedAt:      &doneAt,
	}); err != nil {
		// Likely a record deleted mid-run; the run has nowhere to report.
		log.WithError(err).Warn("could not persist finished transcript")
		return
	}
	log.Info("transcription done")
}

func (o *Orchestrator) runMinutes(recordID, transcript string) {
	ctx := context.Background()
	log := logger.New().Component("pipeline").WithField("record_id", recordID)

	if err := o.setMinutesStatus(ctx, recordID, types.MinutesGenerating); err != nil {
		log.WithError(err).Error("could not mark minutes as generating")
		return
	}

	if !o.generator.Configured() {
		o.failMinutes(ctx, log, recordID, fmt.Errorf("groq api key not configured"))
		return
	}

	ata, err := o.generator.GenerateAta(ctx, transcript, o.cfg.TranscriptPromptLimit)
	if err != nil {
		o.failMinutes(ctx, log, recordID, err)
		return
	}

	generated := true
	doneAt := o.now().UTC()
	status := types.MinutesDone
	if _, err := o.store.UpdateRecord(ctx, recordID, store.RecordUpdate{
		MinutesGenerated:   &generated,
		MinutesText:        &ata,
		MinutesStatus:      &status,
		MinutesGeneratedAt: &doneAt,
	}); err != nil {
		log.WithError(err).Warn("could not persist generated minutes")
		return
	}
	log.Info("minutes generation done")
}

func (o *Orchestrator) setProcessing(ctx context.Context, recordID string, s types.ProcessingStatus) error {
	_, err := o.store.UpdateRecord(ctx, recordID, store.RecordUpdate{ProcessingStatus: &s})
	return err
}

func (o *Orchestrator) setMinutesStatus(ctx context.Context, recordID string, s types.MinutesStatus) error {
	_, err := o.store.UpdateRecord(ctx, recordID, store.RecordUpdate{MinutesStatus: &s})
	return err
}

func (o *Orchestrator) failTranscription(ctx context.Context, log *logrus.Entry, recordID string, cause error) {
	log.WithError(cause).Error("transcription run failed")

	msg := groq.UserMessage(cause)
	if groq.IsPayloadTooLarge(cause) {
		msg = fmt.Sprintf("Arquivo muito grande para transcrição (máximo: %dMB)",
			o.cfg.TranscribeCeilingBytes/1024/1024)
	}

	status := types.ProcessingError
	if _, err := o.store.UpdateRecord(ctx, recordID, store.RecordUpdate{
		ProcessingStatus: &status,
		ProcessingError:  &msg,
	}); err != nil {
		log.WithError(err).Warn("could not persist transcription error")
	}
}

func (o *Orchestrator) failMinutes(ctx context.Context, log *logrus.Entry, recordID string, cause error) {
	log.WithError(cause).Error("minutes run failed")

	msg := groq.UserMessage(cause)
	status := types.MinutesError
	if _, err := o.store.UpdateRecord(ctx, recordID, store.RecordUpdate{
		MinutesStatus: &status,
		MinutesError:  &msg,
	}); err != nil {
		log.WithError(err).Warn("could not persist minutes error")
	}
}
