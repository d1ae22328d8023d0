package aviso

import (
	"github.com/go-chi/chi/v5"
)

// Mount adiciona rotas de avisos no router.
func Mount(r chi.Router, handler *Handler) {
	handler.RegisterRoutes(r)
}
