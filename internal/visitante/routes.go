package visitante

import (
	"github.com/go-chi/chi/v5"
)

// Mount adiciona rotas de visitantes no router.
func Mount(r chi.Router, handler *Handler) {
	handler.RegisterRoutes(r)
}
