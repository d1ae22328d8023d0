package visitante

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
	// ErrForbidden indica ator sem permissão sobre o registro.
	ErrForbidden = errors.New("sem permissão")
	// ErrCodigoInvalido indica código de admissão que não confere.
	ErrCodigoInvalido = errors.New("código inválido")
	// ErrDadosInvalidos indica entrada malformada.
	ErrDadosInvalidos = errors.New("dados inválidos")
)

const (
	listaCacheTTL     = 60 * time.Second
	cacheListaTodas   = "visitantes:lista:todas"
	cacheListaUnidade = "visitantes:lista:"
	tabelaVisitantes  = "visitantes"
	bufferInvalidacao = 64
)

// Ator é quem executa a operação: identidade, unidade do perfil e
// capacidades derivadas dos papéis no momento da chamada.
type Ator struct {
	ID      uuid.UUID
	Unidade string
	Caps    service.Capacidades
}

type repositorio interface {
	Inserir(ctx context.Context, v Visitante) (Visitante, error)
	Buscar(ctx context.Context, id uuid.UUID) (Visitante, error)
	ListarTodos(ctx context.Context) ([]Visitante, error)
	ListarPorUnidade(ctx context.Context, unidade string) ([]Visitante, error)
	Aprovar(ctx context.Context, id, por uuid.UUID, em time.Time) (Visitante, error)
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type publicador interface {
	Publicar(ctx context.Context, ev events.Evento)
}

// Service orquestra o ciclo de admissão de visitantes.
type Service struct {
	repo    repositorio
	redis   redisCommander
	eventos publicador
	bus     *events.Bus

	invalidacoes     <-chan events.Evento
	pararInvalidacao func()
}

// NewService cria o serviço. O bus alimenta a invalidação de cache;
// o publicador propaga mutações locais. A assinatura de invalidação
// abre aqui, antes de qualquer listagem: eventos publicados entre a
// construção e o EscutarEventos ficam retidos no canal, não se perdem.
func NewService(repo repositorio, redisClient redisCommander, eventos publicador, bus *events.Bus) *Service {
	s := &Service{repo: repo, redis: redisClient, eventos: eventos, bus: bus}
	if bus != nil {
		s.invalidacoes, s.pararInvalidacao = bus.Assinar(bufferInvalidacao)
	}
	return s
}

// CriarInput agrupa os campos aceitos na criação.
type CriarInput struct {
	Nome            string     `json:"nome"`
	Motivo          string     `json:"motivo"`
	PrevisaoChegada *time.Time `json:"previsao_chegada"`
	Unidade         string     `json:"unidade"`
}

// Criar registra visitante pendente com código de admissão novo.
// Morador cria para a própria unidade e vira anfitrião do registro;
// porteiro cria para qualquer unidade, sem anfitrião. O papel de
// síndico não participa do ciclo de admissão.
func (s *Service) Criar(ctx context.Context, ator Ator, input CriarInput) (Visitante, error) {
	if err := util.RequireString(input.Nome, "nome"); err != nil {
		return Visitante{}, ErrDadosInvalidos
	}

	v := Visitante{
		ID:              uuid.New(),
		Nome:            strings.TrimSpace(input.Nome),
		Motivo:          strings.TrimSpace(input.Motivo),
		PrevisaoChegada: input.PrevisaoChegada,
		Status:          StatusPendente,
		CriadoEm:        util.Now(),
	}

	switch {
	case ator.Caps.Porteiro:
		if err := util.RequireString(input.Unidade, "unidade"); err != nil {
			return Visitante{}, ErrDadosInvalidos
		}
		v.Unidade = strings.TrimSpace(input.Unidade)
	case ator.Caps.Morador:
		if ator.Unidade == "" {
			return Visitante{}, ErrForbidden
		}
		v.Unidade = ator.Unidade
		anfitriao := ator.ID
		v.AnfitriaoID = &anfitriao
	default:
		return Visitante{}, ErrForbidden
	}

	otp, err := GerarOTP()
	if err != nil {
		return Visitante{}, err
	}
	v.OTP = &otp

	criado, err := s.repo.Inserir(ctx, v)
	if err != nil {
		return Visitante{}, err
	}

	s.publicar(ctx, events.TipoInsert, criado)
	return criado, nil
}

// Listar devolve os registros visíveis ao ator, filtrados pelo termo
// de busca. Porteiro e síndico enxergam tudo; morador só a própria
// unidade. O cache guarda a lista sem filtro; a busca e a ocultação
// do código acontecem por chamada.
func (s *Service) Listar(ctx context.Context, ator Ator, busca string) ([]Visitante, error) {
	var (
		lista []Visitante
		err   error
	)

	switch {
	case ator.Caps.Sindico || ator.Caps.Porteiro:
		lista, err = s.listarCacheado(ctx, cacheListaTodas, s.repo.ListarTodos)
	case ator.Caps.Morador:
		if ator.Unidade == "" {
			return []Visitante{}, nil
		}
		unidade := ator.Unidade
		lista, err = s.listarCacheado(ctx, cacheListaUnidade+unidade, func(ctx context.Context) ([]Visitante, error) {
			return s.repo.ListarPorUnidade(ctx, unidade)
		})
	default:
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, err
	}

	lista = filtrar(lista, busca)
	saida := make([]Visitante, 0, len(lista))
	for _, v := range lista {
		saida = append(saida, s.ocultarOTP(ator, v))
	}
	return saida, nil
}

// Buscar devolve um registro único respeitando o escopo do ator.
func (s *Service) Buscar(ctx context.Context, ator Ator, id uuid.UUID) (Visitante, error) {
	v, err := s.repo.Buscar(ctx, id)
	if err != nil {
		return Visitante{}, err
	}
	if !s.podeVer(ator, v) {
		return Visitante{}, ErrForbidden
	}
	return s.ocultarOTP(ator, v), nil
}

// VerificarOTP compara o código apresentado na portaria e, conferindo,
// efetiva a admissão. Código errado falha mesmo em registro já
// aprovado; código certo em registro já aprovado é sucesso idempotente.
func (s *Service) VerificarOTP(ctx context.Context, ator Ator, id uuid.UUID, codigo string) (Visitante, error) {
	v, err := s.repo.Buscar(ctx, id)
	if err != nil {
		return Visitante{}, err
	}
	if err := s.podeAprovar(ator, v); err != nil {
		return Visitante{}, err
	}

	codigo = strings.TrimSpace(codigo)
	if v.OTP == nil || codigo == "" || *v.OTP != codigo {
		return Visitante{}, ErrCodigoInvalido
	}

	return s.aprovar(ctx, ator, v)
}

// Aprovar admite o visitante sem conferência de código (porteiro
// liberando na portaria, morador confirmando o próprio convidado).
func (s *Service) Aprovar(ctx context.Context, ator Ator, id uuid.UUID) (Visitante, error) {
	v, err := s.repo.Buscar(ctx, id)
	if err != nil {
		return Visitante{}, err
	}
	if err := s.podeAprovar(ator, v); err != nil {
		return Visitante{}, err
	}
	return s.aprovar(ctx, ator, v)
}

func (s *Service) aprovar(ctx context.Context, ator Ator, v Visitante) (Visitante, error) {
	if v.Status == StatusAprovado {
		// Transição monotônica: repetir a aprovação não altera nada.
		return s.ocultarOTP(ator, v), nil
	}

	aprovado, err := s.repo.Aprovar(ctx, v.ID, ator.ID, util.Now())
	if err != nil {
		if errors.Is(err, errNotFound) {
			// Outro ator aprovou no meio do caminho; o resultado final
			// é o mesmo.
			atual, rerr := s.repo.Buscar(ctx, v.ID)
			if rerr != nil {
				return Visitante{}, rerr
			}
			return s.ocultarOTP(ator, atual), nil
		}
		return Visitante{}, err
	}

	s.publicar(ctx, events.TipoUpdate, aprovado)
	return s.ocultarOTP(ator, aprovado), nil
}

// podeAprovar é o único ponto de decisão de autorização de admissão.
// Porteiro aprova qualquer registro; morador aprova o registro de que é
// anfitrião ou, sem anfitrião, o da própria unidade. Síndico administra
// papéis e avisos, não transições de visitante.
func (s *Service) podeAprovar(ator Ator, v Visitante) error {
	if ator.Caps.Porteiro {
		return nil
	}
	if ator.Caps.Morador {
		if v.AnfitriaoID != nil && *v.AnfitriaoID == ator.ID {
			return nil
		}
		if v.AnfitriaoID == nil && ator.Unidade != "" && v.Unidade == ator.Unidade {
			return nil
		}
	}
	return ErrForbidden
}

func (s *Service) podeVer(ator Ator, v Visitante) bool {
	if ator.Caps.Sindico || ator.Caps.Porteiro {
		return true
	}
	if ator.Caps.Morador && ator.Unidade != "" && v.Unidade == ator.Unidade {
		return true
	}
	return false
}

// ocultarOTP limita o código a quem participa da conferência: o
// porteiro na entrada e o anfitrião que o repassa ao convidado. Para
// qualquer outro ator o campo sai vazio.
func (s *Service) ocultarOTP(ator Ator, v Visitante) Visitante {
	if ator.Caps.Porteiro {
		return v
	}
	if v.AnfitriaoID != nil && *v.AnfitriaoID == ator.ID {
		return v
	}
	v.OTP = nil
	return v
}

func filtrar(lista []Visitante, busca string) []Visitante {
	busca = strings.ToLower(strings.TrimSpace(busca))
	if busca == "" {
		return lista
	}
	var out []Visitante
	for _, v := range lista {
		if strings.Contains(strings.ToLower(v.Nome), busca) ||
			strings.Contains(strings.ToLower(v.Motivo), busca) ||
			strings.Contains(strings.ToLower(v.Unidade), busca) {
			out = append(out, v)
		}
	}
	return out
}

func (s *Service) listarCacheado(ctx context.Context, key string, carregar func(context.Context) ([]Visitante, error)) ([]Visitante, error) {
	if s.redis != nil {
		if data, err := s.redis.Get(ctx, key).Bytes(); err == nil {
			var lista []Visitante
			if json.Unmarshal(data, &lista) == nil {
				return lista, nil
			}
		}
	}

	lista, err := carregar(ctx)
	if err != nil {
		return nil, err
	}
	if lista == nil {
		lista = []Visitante{}
	}

	if s.redis != nil {
		if payload, err := json.Marshal(lista); err == nil {
			if err := s.redis.Set(ctx, key, payload, listaCacheTTL).Err(); err != nil {
				log.Warn().Err(err).Msg("visitantes: falha ao gravar cache")
			}
		}
	}
	return lista, nil
}

func (s *Service) publicar(ctx context.Context, tipo string, v Visitante) {
	s.invalidarCache(ctx, v.Unidade)
	if s.eventos != nil {
		s.eventos.Publicar(ctx, events.Evento{Tabela: tabelaVisitantes, Tipo: tipo, ID: v.ID, Unidade: v.Unidade})
	}
}

// EscutarEventos drena a assinatura aberta na construção e invalida o
// cache de listagens a cada mutação vista no bus, inclusive as vindas
// de outras instâncias. Invalidação é sempre conservadora: na dúvida,
// derruba a lista geral.
func (s *Service) EscutarEventos(ctx context.Context) {
	if s.invalidacoes == nil {
		return
	}
	defer s.pararInvalidacao()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.invalidacoes:
			if !ok {
				return
			}
			if ev.Tabela != tabelaVisitantes {
				continue
			}
			s.invalidarCache(ctx, ev.Unidade)
		}
	}
}

// Assinar expõe o bus para consumidores de stream.
func (s *Service) Assinar(buffer int) (<-chan events.Evento, func()) {
	return s.bus.Assinar(buffer)
}

// EventoVisivel decide se o evento pode chegar ao ator: mutações de
// visitantes seguem o mesmo escopo das listagens.
func EventoVisivel(ator Ator, ev events.Evento) bool {
	if ev.Tabela != tabelaVisitantes {
		return true
	}
	if ator.Caps.Sindico || ator.Caps.Porteiro {
		return true
	}
	return ator.Caps.Morador && ator.Unidade != "" && ev.Unidade == ator.Unidade
}

func (s *Service) invalidarCache(ctx context.Context, unidade string) {
	if s.redis == nil {
		return
	}
	keys := []string{cacheListaTodas}
	if unidade != "" {
		keys = append(keys, cacheListaUnidade+unidade)
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		log.Warn().Err(err).Msg("visitantes: falha ao invalidar cache")
	}
}
