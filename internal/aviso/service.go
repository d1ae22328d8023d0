package aviso

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/urbanbyte/portaria/internal/events"
	"github.com/urbanbyte/portaria/internal/service"
	"github.com/urbanbyte/portaria/internal/util"
)

var (
	// ErrForbidden indica ator sem permissão de publicação.
	ErrForbidden = errors.New("sem permissão")
	// ErrDadosInvalidos indica entrada malformada.
	ErrDadosInvalidos = errors.New("dados inválidos")
)

const (
	listaCacheTTL = 60 * time.Second
	cacheLista    = "avisos:lista"
	tabelaAvisos  = "avisos"
)

type repositorio interface {
	Inserir(ctx context.Context, a Aviso) (Aviso, error)
	Buscar(ctx context.Context, id uuid.UUID) (Aviso, error)
	Listar(ctx context.Context) ([]Aviso, error)
	Atualizar(ctx context.Context, id uuid.UUID, titulo, corpo string) (Aviso, error)
	Remover(ctx context.Context, id uuid.UUID) error
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type publicador interface {
	Publicar(ctx context.Context, ev events.Evento)
}

// Service orquestra avisos: leitura aberta a qualquer autenticado,
// escrita restrita ao síndico.
type Service struct {
	repo    repositorio
	redis   redisCommander
	eventos publicador
}

func NewService(repo repositorio, redisClient redisCommander, eventos publicador) *Service {
	return &Service{repo: repo, redis: redisClient, eventos: eventos}
}

// Input agrupa os campos de criação e edição.
type Input struct {
	Titulo string `json:"titulo"`
	Corpo  string `json:"corpo"`
}

// Listar devolve todos os avisos, com cache curto.
func (s *Service) Listar(ctx context.Context) ([]Aviso, error) {
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, cacheLista).Bytes(); err == nil {
			var avisos []Aviso
			if json.Unmarshal(data, &avisos) == nil {
				return avisos, nil
			}
		}
	}

	avisos, err := s.repo.Listar(ctx)
	if err != nil {
		return nil, err
	}
	if avisos == nil {
		avisos = []Aviso{}
	}

	if s.redis != nil {
		if payload, err := json.Marshal(avisos); err == nil {
			if err := s.redis.Set(ctx, cacheLista, payload, listaCacheTTL).Err(); err != nil {
				log.Warn().Err(err).Msg("avisos: falha ao gravar cache")
			}
		}
	}
	return avisos, nil
}

// Buscar devolve um aviso único.
func (s *Service) Buscar(ctx context.Context, id uuid.UUID) (Aviso, error) {
	return s.repo.Buscar(ctx, id)
}

// Criar publica aviso novo; só o síndico publica.
func (s *Service) Criar(ctx context.Context, autor uuid.UUID, caps service.Capacidades, input Input) (Aviso, error) {
	if !caps.Sindico {
		return Aviso{}, ErrForbidden
	}
	if err := util.RequireString(input.Titulo, "titulo"); err != nil {
		return Aviso{}, ErrDadosInvalidos
	}
	if err := util.RequireString(input.Corpo, "corpo"); err != nil {
		return Aviso{}, ErrDadosInvalidos
	}

	criado, err := s.repo.Inserir(ctx, Aviso{
		ID:        uuid.New(),
		Titulo:    strings.TrimSpace(input.Titulo),
		Corpo:     strings.TrimSpace(input.Corpo),
		CriadoPor: autor,
		CriadoEm:  util.Now(),
	})
	if err != nil {
		return Aviso{}, err
	}

	s.publicar(ctx, events.TipoInsert, criado.ID)
	return criado, nil
}

// Atualizar edita aviso existente; só o síndico edita.
func (s *Service) Atualizar(ctx context.Context, caps service.Capacidades, id uuid.UUID, input Input) (Aviso, error) {
	if !caps.Sindico {
		return Aviso{}, ErrForbidden
	}
	if err := util.RequireString(input.Titulo, "titulo"); err != nil {
		return Aviso{}, ErrDadosInvalidos
	}
	if err := util.RequireString(input.Corpo, "corpo"); err != nil {
		return Aviso{}, ErrDadosInvalidos
	}

	atualizado, err := s.repo.Atualizar(ctx, id, strings.TrimSpace(input.Titulo), strings.TrimSpace(input.Corpo))
	if err != nil {
		return Aviso{}, err
	}

	s.publicar(ctx, events.TipoUpdate, id)
	return atualizado, nil
}

// Remover apaga aviso; só o síndico remove.
func (s *Service) Remover(ctx context.Context, caps service.Capacidades, id uuid.UUID) error {
	if !caps.Sindico {
		return ErrForbidden
	}
	if err := s.repo.Remover(ctx, id); err != nil {
		return err
	}
	s.publicar(ctx, events.TipoDelete, id)
	return nil
}

func (s *Service) publicar(ctx context.Context, tipo string, id uuid.UUID) {
	if s.redis != nil {
		if err := s.redis.Del(ctx, cacheLista).Err(); err != nil {
			log.Warn().Err(err).Msg("avisos: falha ao invalidar cache")
		}
	}
	if s.eventos != nil {
		s.eventos.Publicar(ctx, events.Evento{Tabela: tabelaAvisos, Tipo: tipo, ID: id})
	}
}
