package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"meeting-ata-go/internal/logger"
	"meeting-ata-go/internal/pipeline"
	"meeting-ata-go/internal/report"
	"meeting-ata-go/internal/store"
	"meeting-ata-go/internal/types"
)

// recordResponse is a record plus its signatures in signing order.
type recordResponse struct {
	*types.AudioRecord
	User       *types.User       `json:"user,omitempty"`
	Signatures []types.Signature `json:"signatures,omitempty"`
}

// handleUpload validates and stores the file, creates the record at PENDING
// and fires the transcription run without waiting for it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logger.New().WithRequest(r).WithField("handler", "upload")

	// Multipart framing adds a little overhead beyond the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Arquivo muito grande. Tamanho máximo: %dMB", s.cfg.MaxUploadBytes/1024/1024))
			return
		}
		respondError(w, http.StatusBadRequest, "Formulário multipart inválido")
		return
	}

	userID := r.FormValue("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "userId é obrigatório")
		return
	}
	meetingRef := r.FormValue("meetingRef")

	user, err := s.store.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Usuário não encontrado")
		return
	}
	if err != nil {
		log.WithError(err).Error("user lookup failed")
		respondError(w, http.StatusInternalServerError, "Erro ao processar upload do arquivo")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Nenhum arquivo de áudio enviado (campo: audio)")
		return
	}
	defer file.Close()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !types.IsSupportedFormat(ext) {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("Formato não suportado. Aceitos: %s", strings.Join(types.SupportedFormats, ", ")))
		return
	}
	if !types.IsValidMIME(ext, header.Header.Get("Content-Type")) {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("Tipo MIME inválido para o formato .%s", ext))
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		respondError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Arquivo muito grande. Tamanho máximo: %dMB", s.cfg.MaxUploadBytes/1024/1024))
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		log.WithError(err).Error("could not create upload dir")
		respondError(w, http.StatusInternalServerError, "Erro ao processar upload do arquivo")
		return
	}

	storedName := fmt.Sprintf("%d-%s.%s", time.Now().UnixMilli(), uuid.NewString()[:8], ext)
	storedPath := filepath.Join(s.cfg.UploadDir, storedName)

	dst, err := os.Create(storedPath)
	if err != nil {
		log.WithError(err).Error("could not create stored file")
		respondError(w, http.StatusInternalServerError, "Erro ao processar upload do arquivo")
		return
	}
	written, copyErr := io.Copy(dst, file)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(storedPath)
		log.WithError(errors.Join(copyErr, closeErr)).Error("could not persist upload")
		respondError(w, http.StatusInternalServerError, "Erro ao processar upload do arquivo")
		return
	}

	rec := &types.AudioRecord{
		OriginalName:     header.Filename,
		StoredName:       storedName,
		FilePath:         storedPath,
		SizeBytes:        written,
		Format:           ext,
		UserID:           user.ID,
		MeetingRef:       meetingRef,
		ProcessingStatus: types.ProcessingPending,
	}
	if err := s.store.CreateRecord(r.Context(), rec); err != nil {
		_ = os.Remove(storedPath)
		log.WithError(err).Error("could not create record")
		respondError(w, http.StatusInternalServerError, "Erro ao processar upload do arquivo")
		return
	}

	if err := s.orch.StartTranscription(rec.ID, storedPath); err != nil {
		// New record ids cannot have an active run; log just in case.
		log.WithError(err).WithField("record_id", rec.ID).Error("could not start transcription run")
	}

	log.WithFields(logrus.Fields{
		"record_id": rec.ID,
		"size":      written,
		"format":    ext,
	}).Info("upload accepted")
	respondData(w, http.StatusCreated, recordResponse{AudioRecord: rec, User: user},
		"Arquivo enviado com sucesso. Transcrição será processada em background.")
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	filter := store.RecordFilter{
		UserID: r.URL.Query().Get("userId"),
		Status: types.ProcessingStatus(r.URL.Query().Get("status")),
	}
	records, err := s.store.ListRecords(r.Context(), filter)
	if err != nil {
		logger.New().WithRequest(r).WithError(err).Error("list records failed")
		respondError(w, http.StatusInternalServerError, "Erro ao listar arquivos")
		return
	}
	respondList(w, records, len(records))
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.GetRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Arquivo não encontrado")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Erro ao buscar arquivo")
		return
	}
	sigs, err := s.store.ListSignatures(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Erro ao buscar arquivo")
		return
	}
	var user *types.User
	if u, err := s.store.GetUser(r.Context(), rec.UserID); err == nil {
		user = u
	}
	respondData(w, http.StatusOK, recordResponse{AudioRecord: rec, User: user, Signatures: sigs}, "")
}

// handleDeleteRecord removes the stored file best-effort, then the record and
// its signatures. A missing file on disk is not an error.
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := logger.New().WithRequest(r).WithField("record_id", id)

	rec, err := s.store.GetRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Arquivo não encontrado")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Erro ao deletar arquivo")
		return
	}

	if err := os.Remove(rec.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warn("could not remove stored file")
	}

	if err := s.store.DeleteRecord(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "Erro ao deletar arquivo")
		return
	}
	respondData(w, http.StatusOK, nil, "Arquivo, transcrição e ata deletados com sucesso")
}

// handleGenerateAta validates the prerequisites and fires minutes generation.
// Validation failures are 400, "already generating" is 409.
func (s *Server) handleGenerateAta(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := logger.New().WithRequest(r).WithField("record_id", id)

	rec, err := s.store.GetRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Arquivo não encontrado")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Erro ao iniciar geração da ata")
		return
	}

	if rec.ProcessingStatus != types.ProcessingDone || strings.TrimSpace(rec.Transcript) == "" {
		respondError(w, http.StatusBadRequest,
			"Transcrição não disponível. O arquivo precisa estar com status DONE.")
		return
	}
	if rec.MinutesStatus == types.MinutesGenerating {
		respondError(w, http.StatusConflict, "Ata já está sendo gerada. Aguarde a conclusão.")
		return
	}

	if err := s.orch.StartMinutes(rec.ID, rec.Transcript); err != nil {
		if errors.Is(err, pipeline.ErrRunActive) {
			respondError(w, http.StatusConflict, "Ata já está sendo gerada. Aguarde a conclusão.")
			return
		}
		log.WithError(err).Error("could not start minutes run")
		respondError(w, http.StatusInternalServerError, "Erro ao iniciar geração da ata")
		return
	}

	respondData(w, http.StatusAccepted, map[string]any{
		"id":            rec.ID,
		"minutesStatus": types.MinutesGenerating,
	}, "Geração da ata iniciada. Acompanhe o status.")
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	log := logger.New().WithRequest(r).WithField("handler", "report")

	records, err := s.store.ListRecords(r.Context(), store.RecordFilter{})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Erro ao gerar relatório")
		return
	}
	f, err := report.BuildRecords(records)
	if err != nil {
		log.WithError(err).Error("report build failed")
		respondError(w, http.StatusInternalServerError, "Erro ao gerar relatório")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="gravacoes.xlsx"`)
	if err := f.Write(w); err != nil {
		log.WithError(err).Error("report write failed")
	}
}
