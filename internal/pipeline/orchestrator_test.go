package pipeline

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"meeting-ata-go/internal/audio"
	"meeting-ata-go/internal/groq"
	"meeting-ata-go/internal/store"
	"meeting-ata-go/internal/types"
)

// trackingStore records every processing-status write so tests can assert the
// exact transition path.
type trackingStore struct {
	store.Store
	mu            sync.Mutex
	statusHistory []types.ProcessingStatus
	minutesHist   []types.MinutesStatus
}

func (s *trackingStore) UpdateRecord(ctx context.Context, id string, upd store.RecordUpdate) (*types.AudioRecord, error) {
	s.mu.Lock()
	if upd.ProcessingStatus != nil {
		s.statusHistory = append(s.statusHistory, *upd.ProcessingStatus)
	}
	if upd.MinutesStatus != nil {
		s.minutesHist = append(s.minutesHist, *upd.MinutesStatus)
	}
	s.mu.Unlock()
	return s.Store.UpdateRecord(ctx, id, upd)
}

type fakeProcessor struct {
	result audio.Result
	err    error
}

func (f *fakeProcessor) ProcessFile(context.Context, string) (audio.Result, error) {
	return f.result, f.err
}

type fakeSTT struct {
	mu           sync.Mutex
	texts        map[string]string
	err          error
	unconfigured bool
	calls        []string
	block        chan struct{} // when set, Transcribe waits for it
}

func (f *fakeSTT) Configured() bool { return !f.unconfigured }

func (f *fakeSTT) Transcribe(_ context.Context, path string) (groq.Transcription, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	if f.err != nil {
		return groq.Transcription{}, f.err
	}
	text, ok := f.texts[filepath.Base(path)]
	if !ok {
		text = "texto transcrito"
	}
	return groq.Transcription{Text: text, Language: "pt"}, nil
}

type fakeGenerator struct {
	ata          string
	err          error
	unconfigured bool
	gotLimit     int
	block        chan struct{}
}

func (f *fakeGenerator) Configured() bool { return !f.unconfigured }

func (f *fakeGenerator) GenerateAta(_ context.Context, _ string, limit int) (string, error) {
	if f.block != nil {
		<-f.block
	}
	f.gotLimit = limit
	if f.err != nil {
		return "", f.err
	}
	return f.ata, nil
}

func testConfig() Config {
	return Config{
		ChunkPacingDelay:       time.Second,
		TranscribeCeilingBytes: 25 * 1024 * 1024,
		TranscriptPromptLimit:  12000,
	}
}

func newTestOrchestrator(st store.Store, proc FileProcessor, stt Transcriber, gen AtaGenerator) (*Orchestrator, *[]time.Duration) {
	o := New(st, proc, stt, gen, testConfig())
	slept := &[]time.Duration{}
	o.sleep = func(d time.Duration) { *slept = append(*slept, d) }
	o.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return o, slept
}

func createPendingRecord(t *testing.T, st store.Store) *types.AudioRecord {
	t.Helper()
	rec := &types.AudioRecord{
		OriginalName:     "reuniao.mp3",
		Format:           "mp3",
		UserID:           "u1",
		ProcessingStatus: types.ProcessingPending,
	}
	require.NoError(t, st.CreateRecord(context.Background(), rec))
	return rec
}

func tempAudio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	return path
}

func TestRunTranscriptionSingleFile(t *testing.T) {
	ts := &trackingStore{Store: store.NewMemory()}
	rec := createPendingRecord(t, ts)

	input := tempAudio(t, "reuniao.mp3")
	proc := &fakeProcessor{result: audio.Result{
		ProcessedPath: input,
		OriginalSize:  5 << 20,
		ProcessedSize: 5 << 20,
	}}
	stt := &fakeSTT{texts: map[string]string{"reuniao.mp3": "ata da reunião"}}

	o, slept := newTestOrchestrator(ts, proc, stt, &fakeGenerator{})
	require.NoError(t, o.StartTranscription(rec.ID, input))
	o.Wait()

	got, err := ts.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ProcessingDone, got.ProcessingStatus)
	assert.Equal(t, "ata da reunião", got.Transcript)
	require.NotNil(t, got.ProcessedAt)
	assert.Empty(t, got.ProcessingError)

	assert.Equal(t, []types.ProcessingStatus{types.ProcessingInProgress, types.ProcessingDone},
		ts.statusHistory, "PROCESSING must precede DONE, nothing else")
	assert.Empty(t, *slept, "no pacing for a single file")
	assert.FileExists(t, input, "original upload is never deleted by the run")
}

func TestRunTranscriptionCompressedFileIsCleaned(t *testing.T) {
	st := store.NewMemory()
	rec := createPendingRecord(t, st)

	original := tempAudio(t, "reuniao.mp3")
	compressed := tempAudio(t, "reuniao_compressed.mp3")
	proc := &fakeProcessor{result: audio.Result{
		ProcessedPath: compressed,
		OriginalSize:  40 << 20,
		ProcessedSize: 18 << 20,
		WasCompressed: true,
	}}

	o, _ := newTestOrchestrator(st, proc, &fakeSTT{}, &fakeGenerator{})
	require.NoError(t, o.StartTranscription(rec.ID, original))
	o.Wait()

	got, _ := st.GetRecord(context.Background(), rec.ID)
	assert.Equal(t, types.ProcessingDone, got.ProcessingStatus)
	assert.NoFileExists(t, compressed)
	assert.FileExists(t, original)
}

func TestRunTranscriptionMultiChunkOrderAndPacing(t *testing.T) {
	st := store.NewMemory()
	rec := createPendingRecord(t, st)

	dir := t.TempDir()
	chunks := make([]string, 3)
	for i, name := range []string{"c_chunk_0.mp3", "c_chunk_1.mp3", "c_chunk_2.mp3"} {
		chunks[i] = filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(chunks[i], []byte("chunk"), 0o644))
	}
	proc := &fakeProcessor{result: audio.Result{
		ProcessedPath: chunks[0],
		OriginalSize:  200 << 20,
		ProcessedSize: 60 << 20,
		WasCompressed: true,
		Chunks:        chunks,
	}}
	stt := &fakeSTT{texts: map[string]string{
		"c_chunk_0.mp3": "primeira parte",
		"c_chunk_1.mp3": "segunda parte",
		"c_chunk_2.mp3": "terceira parte",
	}}

	o, slept := newTestOrchestrator(st, proc, stt, &fakeGenerator{})
	require.NoError(t, o.StartTranscription(rec.ID, filepath.Join(dir, "c.mp3")))
	o.Wait()

	got, _ := st.GetRecord(context.Background(), rec.ID)
	assert.Equal(t, types.ProcessingDone, got.ProcessingStatus)
	assert.Equal(t, "primeira parte\n\nsegunda parte\n\nterceira parte", got.Transcript,
		"chunk transcripts joined with a blank line, in start-time order")

	assert.Equal(t, chunks, stt.calls, "chunks transcribed strictly in order")
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *slept,
		"pacing delay before every chunk after the first")

	for _, c := range chunks {
		assert.NoFileExists(t, c, "chunk files removed after the run")
	}
}

func TestRunTranscriptionRemoteFailure(t *testing.T) {
	st := store.NewMemory()
	rec := createPendingRecord(t, st)

	chunks := []string{tempAudio(t, "x_chunk_0.mp3"), tempAudio(t, "x_chunk_1.mp3")}
	proc := &fakeProcessor{result: audio.Result{Chunks: chunks, ProcessedPath: chunks[0]}}
	stt := &fakeSTT{err: &groq.APIError{Status: http.StatusInternalServerError, Message: "boom"}}

	o, _ := newTestOrchestrator(st, proc, stt, &fakeGenerator{})
	require.NoError(t, o.StartTranscription(rec.ID, "in.mp3"))
	o.Wait()

	got, _ := st.GetRecord(context.Background(), rec.ID)
	assert.Equal(t, types.ProcessingError, got.ProcessingStatus)
	assert.Equal(t, "Erro interno do servidor Groq", got.ProcessingError)
	assert.Empty(t, got.Transcript)

	for _, c := range chunks {
		assert.NoFileExists(t, c, "cleanup still runs on failure")
	}
}

func TestRunTranscriptionPayloadTooLarge(t *testing.T) {
	st := store.NewMemory()
	rec := createPendingRecord(t, st)

	proc := &fakeProcessor{result: audio.Result{ProcessedPath: "in.mp3"}}
	stt := &fakeSTT{err: &groq.APIError{Status: http.StatusRequestEntityTooLarge, Message: "Payload Too Large"}}

	o, _ := newTestOrchestrator(st, proc, stt, &fakeGenerator{})
	require.NoError(t, o.StartTranscription(rec.ID, "in.mp3"))
	o.Wait()

	got, _ := st.GetRecord(context.Background(), rec.ID)
	assert.Equal(t, types.ProcessingError, got.ProcessingStatus)
	assert.Equal(t, "Arquivo muito grande para transcrição (máximo: 25MB)", got.ProcessingError)
}

func TestRunTranscriptionProcessorFailure(t *testing.T) {
	st := store.NewMemory()
	rec := createPendingRecord(t, st)

	proc := &fakeProcessor{err: assert.AnError}
	o, _ := newTestOrchestrator(st, proc, &fakeSTT{}, &fakeGenerator{})
	require.NoError(t, o.StartTranscription(rec.ID, "in.mp3"))
	o.Wait()

	got, _ := st.GetRecord(context.Background(), rec.ID)
	assert.Equal(t, types.ProcessingError, got.ProcessingStatus)
	assert.NotEmpty(t, got.ProcessingError)
}

func TestRunTranscriptionUnconfiguredFailsFast(t *testing.T) {
	st := store.NewMemory()
	rec := createPendingRecord(t, st)

	stt := &fakeSTT{unconfigured: true}
	o, _ := newTestOrchestrator(st, &fakeProcessor{}, stt, &fakeGenerator{})
	require.NoError(t, o.StartTranscription(rec.ID, "in.mp3"))
	o.Wait()

	got, _ := st.GetRecord(context.Background(), rec.ID)
	assert.Equal(t, types.ProcessingError, got.ProcessingStatus)
	assert.Empty(t, stt.calls, "no network call without credentials")
}

func TestStartTranscriptionRejectsConcurrentRun(t *testing.T) {
	st := store.NewMemory()
	rec := createPendingRecord(t, st)

	stt := &fakeSTT{block: make(chan struct{})}
	proc := &fakeProcessor{result: audio.Result{ProcessedPath: "in.mp3"}}
	o, _ := newTestOrchestrator(st, proc, stt, &fakeGenerator{ata: "ata"})

	require.NoError(t, o.StartTranscription(rec.ID, "in.mp3"))
	assert.ErrorIs(t, o.StartTranscription(rec.ID, "in.mp3"), ErrRunActive)
	assert.True(t, o.Active(rec.ID))

	close(stt.block)
	o.Wait()
	assert.False(t, o.Active(rec.ID))

	// A finished record id can start again (e.g. a later minutes run).
	require.NoError(t, o.StartMinutes(rec.ID, "texto"))
	o.Wait()
}

func TestRunMinutesSuccess(t *testing.T) {
	ts := &trackingStore{Store: store.NewMemory()}
	rec := createPendingRecord(t, ts)
	done := types.ProcessingDone
	transcript := "discussão do condomínio"
	_, err := ts.UpdateRecord(context.Background(), rec.ID, store.RecordUpdate{
		ProcessingStatus: &done,
		Transcript:       &transcript,
	})
	require.NoError(t, err)

	gen := &fakeGenerator{ata: "ABERTURA\n...\nENCERRAMENTO"}
	o, _ := newTestOrchestrator(ts, &fakeProcessor{}, &fakeSTT{}, gen)
	require.NoError(t, o.StartMinutes(rec.ID, transcript))
	o.Wait()

	got, _ := ts.GetRecord(context.Background(), rec.ID)
	assert.True(t, got.MinutesGenerated)
	assert.Equal(t, types.MinutesDone, got.MinutesStatus)
	assert.Equal(t, "ABERTURA\n...\nENCERRAMENTO", got.MinutesText)
	require.NotNil(t, got.MinutesGeneratedAt)
	assert.Equal(t, 12000, gen.gotLimit)
	assert.Equal(t, []types.MinutesStatus{types.MinutesGenerating, types.MinutesDone}, ts.minutesHist)
}

func TestRunMinutesFailure(t *testing.T) {
	st := store.NewMemory()
	rec := createPendingRecord(t, st)

	gen := &fakeGenerator{err: &groq.APIError{Status: http.StatusTooManyRequests, Message: "rate limited"}}
	o, _ := newTestOrchestrator(st, &fakeProcessor{}, &fakeSTT{}, gen)
	require.NoError(t, o.StartMinutes(rec.ID, "texto"))
	o.Wait()

	got, _ := st.GetRecord(context.Background(), rec.ID)
	assert.Equal(t, types.MinutesError, got.MinutesStatus)
	assert.False(t, got.MinutesGenerated)
	assert.Equal(t, "Limite de requisições do Groq excedido. Tente novamente em alguns instantes.",
		got.MinutesError)
}

func TestStartMinutesRejectsConcurrentRun(t *testing.T) {
	st := store.NewMemory()
	rec := createPendingRecord(t, st)

	gen := &fakeGenerator{ata: "ata", block: make(chan struct{})}
	o, _ := newTestOrchestrator(st, &fakeProcessor{}, &fakeSTT{}, gen)

	require.NoError(t, o.StartMinutes(rec.ID, "texto"))
	assert.ErrorIs(t, o.StartMinutes(rec.ID, "texto"), ErrRunActive)

	close(gen.block)
	o.Wait()
}
