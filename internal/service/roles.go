package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/urbanbyte/portaria/internal/repo"
)

var (
	// ErrForbidden indica ausência de permissão.
	ErrForbidden = errors.New("acesso negado")
	// ErrPapelInvalido indica papel fora do conjunto reconhecido.
	ErrPapelInvalido = errors.New("papel inválido")
)

const papelCacheTTL = 5 * time.Minute

var papeisValidos = map[string]struct{}{
	repo.PapelSindico:  {},
	repo.PapelPorteiro: {},
	repo.PapelMorador:  {},
}

// Capacidades é o conjunto derivado de permissões de um usuário.
// Função pura do conjunto de papéis; nunca guardada entre resoluções.
type Capacidades struct {
	Sindico  bool `json:"sindico"`
	Porteiro bool `json:"porteiro"`
	Morador  bool `json:"morador"`
}

// CapacidadesDe deriva capacidades por pertencimento ao conjunto.
func CapacidadesDe(papeis []string) Capacidades {
	var c Capacidades
	for _, papel := range papeis {
		switch strings.ToUpper(strings.TrimSpace(papel)) {
		case repo.PapelSindico:
			c.Sindico = true
		case repo.PapelPorteiro:
			c.Porteiro = true
		case repo.PapelMorador:
			c.Morador = true
		}
	}
	return c
}

type papelRepository interface {
	ListPapeisByUsuario(ctx context.Context, usuarioID uuid.UUID) ([]string, error)
	InsertPapel(ctx context.Context, usuarioID uuid.UUID, papel string) error
	DeletePapel(ctx context.Context, usuarioID uuid.UUID, papel string) error
	ListPerfis(ctx context.Context) ([]repo.Perfil, error)
}

// PapelService resolve e administra papéis de usuários. A resolução é
// cacheada em Redis e invalidada a cada mutação de atribuição.
type PapelService struct {
	repo  papelRepository
	redis redisCommander
}

// NewPapelService cria nova instância.
func NewPapelService(r papelRepository, redisClient redisCommander) *PapelService {
	return &PapelService{repo: r, redis: redisClient}
}

func papelCacheKey(usuarioID uuid.UUID) string {
	return fmt.Sprintf("papeis:%s", usuarioID)
}

// ListarPapeis devolve o conjunto de papéis do usuário. Sem sessão
// (uuid.Nil) devolve conjunto vazio sem consultar o backend.
func (s *PapelService) ListarPapeis(ctx context.Context, usuarioID uuid.UUID) ([]string, error) {
	if usuarioID == uuid.Nil {
		return []string{}, nil
	}

	key := papelCacheKey(usuarioID)
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, key).Bytes(); err == nil {
			var papeis []string
			if json.Unmarshal(data, &papeis) == nil {
				return papeis, nil
			}
		}
	}

	papeis, err := s.repo.ListPapeisByUsuario(ctx, usuarioID)
	if err != nil {
		return nil, err
	}
	if papeis == nil {
		papeis = []string{}
	}

	if s.redis != nil {
		if payload, err := json.Marshal(papeis); err == nil {
			if err := s.redis.Set(ctx, key, payload, papelCacheTTL).Err(); err != nil {
				log.Warn().Err(err).Msg("papeis: falha ao gravar cache")
			}
		}
	}

	return papeis, nil
}

// Capacidades resolve os papéis e deriva o conjunto de capacidades.
// Recalculada a cada chamada; nunca há derivado obsoleto.
func (s *PapelService) Capacidades(ctx context.Context, usuarioID uuid.UUID) (Capacidades, error) {
	papeis, err := s.ListarPapeis(ctx, usuarioID)
	if err != nil {
		// Falha de leitura vira ausência de privilégios nos chamadores.
		return Capacidades{}, err
	}
	return CapacidadesDe(papeis), nil
}

// Atribuir concede papel ao usuário e invalida o cache de resolução.
func (s *PapelService) Atribuir(ctx context.Context, usuarioID uuid.UUID, papel string) error {
	papel = strings.ToUpper(strings.TrimSpace(papel))
	if _, ok := papeisValidos[papel]; !ok {
		return ErrPapelInvalido
	}
	if err := s.repo.InsertPapel(ctx, usuarioID, papel); err != nil {
		return err
	}
	s.invalidar(ctx, usuarioID)
	return nil
}

// Remover revoga papel do usuário e invalida o cache de resolução.
func (s *PapelService) Remover(ctx context.Context, usuarioID uuid.UUID, papel string) error {
	papel = strings.ToUpper(strings.TrimSpace(papel))
	if _, ok := papeisValidos[papel]; !ok {
		return ErrPapelInvalido
	}
	if err := s.repo.DeletePapel(ctx, usuarioID, papel); err != nil {
		return err
	}
	s.invalidar(ctx, usuarioID)
	return nil
}

// ListarPerfis expõe perfis para a tela de gestão de papéis.
func (s *PapelService) ListarPerfis(ctx context.Context) ([]repo.Perfil, error) {
	return s.repo.ListPerfis(ctx)
}

func (s *PapelService) invalidar(ctx context.Context, usuarioID uuid.UUID) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, papelCacheKey(usuarioID)).Err(); err != nil {
		log.Warn().Err(err).Msg("papeis: falha ao invalidar cache")
	}
}
