package aviso

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/urbanbyte/portaria/internal/http/middleware"
	"github.com/urbanbyte/portaria/internal/service"
)

type capacidadesResolver interface {
	Capacidades(ctx context.Context, usuarioID uuid.UUID) (service.Capacidades, error)
}

// Handler orquestra rotas de avisos.
type Handler struct {
	service *Service
	papeis  capacidadesResolver
}

func NewHandler(svc *Service, papeis capacidadesResolver) *Handler {
	return &Handler{service: svc, papeis: papeis}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/avisos", func(r chi.Router) {
		r.Get("/", h.handleListar)
		r.Post("/", h.handleCriar)
		r.Get("/{id}", h.handleBuscar)
		r.Put("/{id}", h.handleAtualizar)
		r.Delete("/{id}", h.handleRemover)
	})
}

func (h *Handler) identificar(ctx context.Context) (uuid.UUID, service.Capacidades, error) {
	sub := httpmiddleware.GetSubject(ctx)
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, service.Capacidades{}, err
	}
	caps, err := h.papeis.Capacidades(ctx, id)
	if err != nil {
		// Falha de leitura fecha o acesso de escrita; leitura segue.
		log.Warn().Err(err).Str("usuario", id.String()).Msg("avisos: falha ao resolver capacidades")
		caps = service.Capacidades{}
	}
	return id, caps, nil
}

func (h *Handler) handleListar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id, _, err := h.identificar(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	avisos, err := h.service.Listar(ctx)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	logRequest(ctx, "GET /avisos", id, start)
	writeJSON(w, http.StatusOK, map[string]any{"avisos": avisos})
}

func (h *Handler) handleBuscar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	userID, _, err := h.identificar(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "identificador inválido", nil)
		return
	}

	a, err := h.service.Buscar(ctx, id)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "GET /avisos/{id}", userID, start)
	writeJSON(w, http.StatusOK, map[string]any{"aviso": a})
}

func (h *Handler) handleCriar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	userID, caps, err := h.identificar(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}

	criado, err := h.service.Criar(ctx, userID, caps, input)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "POST /avisos", userID, start)
	writeJSON(w, http.StatusCreated, map[string]any{"aviso": criado})
}

func (h *Handler) handleAtualizar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	userID, caps, err := h.identificar(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "identificador inválido", nil)
		return
	}

	var input Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}

	atualizado, err := h.service.Atualizar(ctx, caps, id, input)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "PUT /avisos/{id}", userID, start)
	writeJSON(w, http.StatusOK, map[string]any{"aviso": atualizado})
}

func (h *Handler) handleRemover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	userID, caps, err := h.identificar(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "identificador inválido", nil)
		return
	}

	if err := h.service.Remover(ctx, caps, id); err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "DELETE /avisos/{id}", userID, start)
	writeJSON(w, http.StatusOK, map[string]any{"removido": true})
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "sem acesso", nil)
	case errors.Is(err, ErrDadosInvalidos):
		writeError(w, http.StatusBadRequest, "VALIDATION", "dados inválidos", nil)
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "registro não encontrado", nil)
	default:
		writeInternalError(w, err)
	}
}

func writeInternalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("aviso handler error")
	writeError(w, http.StatusInternalServerError, "INTERNAL", "erro interno", nil)
}

func logRequest(ctx context.Context, label string, userID uuid.UUID, start time.Time) {
	logger := log.Ctx(ctx)
	if logger == nil {
		logger = &log.Logger
	}
	reqID := chimiddleware.GetReqID(ctx)
	logger.Info().Str("request_id", reqID).Str("user_id", userID.String()).Str("label", label).Dur("duration", time.Since(start)).Msg("aviso_request")
}

// Helpers de resposta JSON compatíveis com o resto do projeto.
type successEnvelope struct {
	Data  any `json:"data"`
	Error any `json:"error"`
}

type errorEnvelope struct {
	Data  any            `json:"data"`
	Error *errorResponse `json:"error"`
}

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successEnvelope{Data: payload, Error: nil})
}

func writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Data: nil, Error: &errorResponse{Code: code, Message: message, Details: details}})
}
