package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"meeting-ata-go/internal/logger"
	"meeting-ata-go/internal/store"
	"meeting-ata-go/internal/types"
)

type signatureRequest struct {
	SignerName  string `json:"signerName"`
	SignerTaxID string `json:"signerTaxId"`
	SignerEmail string `json:"signerEmail"`
	SignerRole  string `json:"signerRole"`
}

// handleCreateSignature records one endorsement over the generated minutes.
// The document hash is taken over the minutes text as it stands right now;
// minutes are immutable once DONE, so the hash stays valid.
func (s *Server) handleCreateSignature(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	log := logger.New().WithRequest(r).WithField("record_id", id)

	var req signatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Corpo da requisição inválido")
		return
	}
	if strings.TrimSpace(req.SignerName) == "" {
		respondError(w, http.StatusBadRequest, "Nome do assinante é obrigatório")
		return
	}

	rec, err := s.store.GetRecord(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Arquivo não encontrado")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Erro ao registrar assinatura")
		return
	}

	if !rec.MinutesGenerated || rec.MinutesText == "" {
		respondError(w, http.StatusBadRequest, "Esta transcrição ainda não possui uma ata gerada")
		return
	}

	hash := sha256.Sum256([]byte(rec.MinutesText))
	sig := &types.Signature{
		RecordID:     rec.ID,
		SignerName:   strings.TrimSpace(req.SignerName),
		SignerTaxID:  req.SignerTaxID,
		SignerEmail:  req.SignerEmail,
		SignerRole:   req.SignerRole,
		Kind:         types.SignatureKindSimple,
		DocumentHash: hex.EncodeToString(hash[:]),
		SignerIP:     clientIP(r),
		UserAgent:    r.UserAgent(),
	}
	if err := s.store.CreateSignature(r.Context(), sig); err != nil {
		log.WithError(err).Error("could not create signature")
		respondError(w, http.StatusInternalServerError, "Erro ao registrar assinatura")
		return
	}

	log.WithField("signer", sig.SignerName).Info("minutes signed")
	respondData(w, http.StatusCreated, sig, "Assinatura registrada com sucesso")
}

func (s *Server) handleListSignatures(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.store.GetRecord(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Arquivo não encontrado")
			return
		}
		respondError(w, http.StatusInternalServerError, "Erro ao buscar assinaturas")
		return
	}

	sigs, err := s.store.ListSignatures(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Erro ao buscar assinaturas")
		return
	}
	respondList(w, sigs, len(sigs))
}
