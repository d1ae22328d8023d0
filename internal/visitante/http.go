package visitante

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/urbanbyte/portaria/internal/http/middleware"
)

const (
	streamBuffer    = 64
	streamKeepalive = 25 * time.Second
)

type atorResolver interface {
	Resolver(ctx context.Context, usuarioID uuid.UUID) (Ator, error)
}

// Handler orquestra rotas do módulo de visitantes.
type Handler struct {
	service *Service
	atores  atorResolver
}

func NewHandler(service *Service, atores atorResolver) *Handler {
	return &Handler{service: service, atores: atores}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/visitantes", func(r chi.Router) {
		r.Get("/", h.handleListar)
		r.Post("/", h.handleCriar)
		r.Get("/stream", h.handleStream)
		r.Get("/{id}", h.handleBuscar)
		r.Post("/{id}/verificar", h.handleVerificar)
		r.Post("/{id}/aprovar", h.handleAprovar)
	})
}

func (h *Handler) resolverAtor(ctx context.Context) (Ator, error) {
	sub := httpmiddleware.GetSubject(ctx)
	id, err := uuid.Parse(sub)
	if err != nil {
		return Ator{}, err
	}
	return h.atores.Resolver(ctx, id)
}

func (h *Handler) handleListar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	ator, err := h.resolverAtor(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	lista, err := h.service.Listar(ctx, ator, r.URL.Query().Get("busca"))
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "GET /visitantes", ator.ID, start)
	writeJSON(w, http.StatusOK, map[string]any{"visitantes": lista})
}

func (h *Handler) handleCriar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	ator, err := h.resolverAtor(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	var input CriarInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}

	criado, err := h.service.Criar(ctx, ator, input)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "POST /visitantes", ator.ID, start)
	writeJSON(w, http.StatusCreated, map[string]any{"visitante": criado})
}

func (h *Handler) handleBuscar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	ator, err := h.resolverAtor(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "identificador inválido", nil)
		return
	}

	v, err := h.service.Buscar(ctx, ator, id)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "GET /visitantes/{id}", ator.ID, start)
	writeJSON(w, http.StatusOK, map[string]any{"visitante": v})
}

func (h *Handler) handleVerificar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	ator, err := h.resolverAtor(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "identificador inválido", nil)
		return
	}

	var body struct {
		Codigo string `json:"codigo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "payload inválido", nil)
		return
	}

	v, err := h.service.VerificarOTP(ctx, ator, id, body.Codigo)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "POST /visitantes/{id}/verificar", ator.ID, start)
	writeJSON(w, http.StatusOK, map[string]any{"visitante": v})
}

func (h *Handler) handleAprovar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	ator, err := h.resolverAtor(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "identificador inválido", nil)
		return
	}

	v, err := h.service.Aprovar(ctx, ator, id)
	if err != nil {
		handleDomainError(w, err)
		return
	}

	logRequest(ctx, "POST /visitantes/{id}/aprovar", ator.ID, start)
	writeJSON(w, http.StatusOK, map[string]any{"visitante": v})
}

// handleStream entrega mutações por SSE. O cancelamento da requisição
// desfaz a assinatura; nada é entregue depois disso.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ator, err := h.resolverAtor(ctx)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "AUTH", "identificação inválida", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "streaming não suportado", nil)
		return
	}

	ch, cancel := h.service.Assinar(streamBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(streamKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !EventoVisivel(ator, ev) {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: mudanca\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "sem acesso", nil)
	case errors.Is(err, ErrCodigoInvalido):
		writeError(w, http.StatusUnprocessableEntity, "OTP_INVALIDO", "código inválido", nil)
	case errors.Is(err, ErrDadosInvalidos):
		writeError(w, http.StatusBadRequest, "VALIDATION", "dados inválidos", nil)
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "registro não encontrado", nil)
	default:
		writeInternalError(w, err)
	}
}

func writeInternalError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("visitante handler error")
	writeError(w, http.StatusInternalServerError, "INTERNAL", "erro interno", nil)
}

func logRequest(ctx context.Context, label string, userID uuid.UUID, start time.Time) {
	logger := log.Ctx(ctx)
	if logger == nil {
		logger = &log.Logger
	}
	reqID := chimiddleware.GetReqID(ctx)
	logger.Info().Str("request_id", reqID).Str("user_id", userID.String()).Str("label", label).Dur("duration", time.Since(start)).Msg("visitante_request")
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
