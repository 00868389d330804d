package main

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"meeting-ata-go/internal/audio"
	"meeting-ata-go/internal/config"
	"meeting-ata-go/internal/groq"
	"meeting-ata-go/internal/logger"
	"meeting-ata-go/internal/pipeline"
	"meeting-ata-go/internal/server"
	"meeting-ata-go/internal/store"
	"meeting-ata-go/internal/types"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "meeting-ata-go").Info("starting service")

	cfg := config.FromEnv()

	if err := audio.CheckFFmpeg(); err != nil {
		// Uploads within the 25 MB ceiling still work without the codec.
		log.WithError(err).Warn("ffmpeg unavailable, large files will fail to process")
	}

	var st store.Store
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pg, err := store.Open(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("failed to connect to database")
		}
		defer pg.Close()
		st = pg
		log.Info("using postgres store")
	} else {
		st = store.NewMemory()
		log.Warn("DATABASE_URL not set, using in-memory store")
	}

	seedDefaultUser(st, log)

	client := groq.NewClient(cfg.GroqAPIKey, cfg.WhisperModel, cfg.ChatModel,
		groq.WithBaseURL(cfg.GroqBaseURL))
	if !client.Configured() {
		log.Warn("GROQ_API_KEY not set, transcription runs will fail fast")
	}

	processor := audio.NewProcessor(audio.Config{
		CeilingBytes:  cfg.TranscribeCeilingBytes,
		ChunkDuration: cfg.ChunkDuration,
		BitrateKbps:   cfg.CompressBitrateKbps,
		SampleRate:    cfg.CompressSampleRate,
	})

	orch := pipeline.New(st, processor, client, client, pipeline.Config{
		ChunkPacingDelay:       cfg.ChunkPacingDelay,
		TranscribeCeilingBytes: cfg.TranscribeCeilingBytes,
		TranscriptPromptLimit:  cfg.TranscriptPromptLimit,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.New(cfg, st, orch).Handler(),
		ReadTimeout:  15 * time.Minute, // uploads up to 400 MB
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.WithField("addr", cfg.Addr()).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
}

// seedDefaultUser creates the admin user on an empty store so the service is
// usable right after first boot.
func seedDefaultUser(st store.Store, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	users, err := st.ListUsers(ctx)
	if err != nil {
		log.WithError(err).Warn("could not check for existing users")
		return
	}
	if len(users) > 0 {
		return
	}
	seed := &types.User{Name: "Usuário de Teste", Email: "teste@condominio.com"}
	if err := st.CreateUser(ctx, seed); err != nil {
		log.WithError(err).Warn("could not seed default user")
		return
	}
	log.WithField("email", seed.Email).Info("seeded default user")
}
