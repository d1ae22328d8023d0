package visitante

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/urbanbyte/portaria/internal/repo"
	"github.com/urbanbyte/portaria/internal/service"
)

type perfilGetter interface {
	GetPerfil(ctx context.Context, usuarioID uuid.UUID) (repo.Perfil, error)
}

// Resolver monta o Ator de uma requisição: capacidades pelos papéis
// vigentes e unidade pelo perfil. Falha de leitura fecha o acesso
// (capacidades vazias) em vez de derrubar a requisição.
type Resolver struct {
	papeis *service.PapelService
	perfis perfilGetter
}

func NewResolver(papeis *service.PapelService, perfis perfilGetter) *Resolver {
	return &Resolver{papeis: papeis, perfis: perfis}
}

func (r *Resolver) Resolver(ctx context.Context, usuarioID uuid.UUID) (Ator, error) {
	ator := Ator{ID: usuarioID}

	caps, err := r.papeis.Capacidades(ctx, usuarioID)
	if err != nil {
		log.Warn().Err(err).Str("usuario", usuarioID.String()).Msg("ator: falha ao resolver capacidades")
	} else {
		ator.Caps = caps
	}

	perfil, err := r.perfis.GetPerfil(ctx, usuarioID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Str("usuario", usuarioID.String()).Msg("ator: falha ao carregar perfil")
		}
		return ator, nil
	}
	ator.Unidade = perfil.Unidade
	return ator, nil
}
