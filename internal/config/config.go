package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the service uses. Limits and pacing values are
// explicit fields rather than package constants so tests can exercise boundary
// values (a tiny ceiling, a one-second chunk) without touching the environment.
type Config struct {
	Port      string
	UploadDir string

	// DatabaseURL empty selects the in-memory store.
	DatabaseURL string

	GroqAPIKey   string
	GroqBaseURL  string
	WhisperModel string
	ChatModel    string

	// MaxUploadBytes caps the incoming upload (400 MB by default).
	MaxUploadBytes int64
	// TranscribeCeilingBytes is the largest file the remote transcription API
	// accepts (25 MB). Anything larger is compressed and, if needed, split.
	TranscribeCeilingBytes int64

	ChunkDuration    time.Duration
	ChunkPacingDelay time.Duration

	// TranscriptPromptLimit bounds the transcript sent to minutes generation.
	TranscriptPromptLimit int

	CompressBitrateKbps int
	CompressSampleRate  int
}

const (
	defaultMaxUploadMB      = 400
	defaultCeilingMB        = 25
	defaultChunkDuration    = 10 * time.Minute
	defaultChunkPacing      = time.Second
	defaultTranscriptLimit  = 12000
	defaultCompressBitrate  = 64
	defaultCompressSampleHz = 16000
	defaultGroqBaseURL      = "https://api.groq.com/openai/v1"
	defaultWhisperModel     = "whisper-large-v3"
	defaultChatModel        = "llama-3.1-8b-instant"
)

// FromEnv builds a Config from the process environment, falling back to the
// defaults above. Call godotenv.Load before this in main.
func FromEnv() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		UploadDir:   envOr("UPLOAD_DIR", "./uploads"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		GroqAPIKey:   os.Getenv("GROQ_API_KEY"),
		GroqBaseURL:  envOr("GROQ_BASE_URL", defaultGroqBaseURL),
		WhisperModel: envOr("WHISPER_MODEL", defaultWhisperModel),
		ChatModel:    envOr("CHAT_MODEL", defaultChatModel),

		MaxUploadBytes:         envInt64("MAX_FILE_SIZE_MB", defaultMaxUploadMB) * 1024 * 1024,
		TranscribeCeilingBytes: envInt64("TRANSCRIBE_MAX_MB", defaultCeilingMB) * 1024 * 1024,

		ChunkDuration:    envDuration("CHUNK_DURATION", defaultChunkDuration),
		ChunkPacingDelay: envDuration("CHUNK_PACING_DELAY", defaultChunkPacing),

		TranscriptPromptLimit: int(envInt64("TRANSCRIPT_PROMPT_LIMIT", defaultTranscriptLimit)),

		CompressBitrateKbps: int(envInt64("COMPRESS_BITRATE_KBPS", defaultCompressBitrate)),
		CompressSampleRate:  int(envInt64("COMPRESS_SAMPLE_RATE", defaultCompressSampleHz)),
	}
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
