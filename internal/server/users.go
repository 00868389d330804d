package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"meeting-ata-go/internal/store"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Erro ao listar usuários")
		return
	}
	respondList(w, users, len(users))
}

// handleLogin is a single lookup by email. There is no session or token
// model; the frontend just needs the user id for uploads.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		respondError(w, http.StatusBadRequest, "Email é obrigatório")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Usuário não encontrado")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Erro ao buscar usuário")
		return
	}
	respondData(w, http.StatusOK, user, "")
}
