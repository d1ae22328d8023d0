package aviso

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/urbanbyte/portaria/internal/events"
	httpmiddleware "github.com/urbanbyte/portaria/internal/http/middleware"
	"github.com/urbanbyte/portaria/internal/service"
	"github.com/urbanbyte/portaria/internal/util"
)

type stubRepo struct {
	mu    sync.Mutex
	itens map[uuid.UUID]Aviso
}

func newStubRepo() *stubRepo {
	return &stubRepo{itens: map[uuid.UUID]Aviso{}}
}

func (s *stubRepo) Inserir(_ context.Context, a Aviso) (Aviso, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itens[a.ID] = a
	return a, nil
}

func (s *stubRepo) Buscar(_ context.Context, id uuid.UUID) (Aviso, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.itens[id]
	if !ok {
		return Aviso{}, errNotFound
	}
	return a, nil
}

func (s *stubRepo) Listar(_ context.Context) ([]Aviso, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var avisos []Aviso
	for _, a := range s.itens {
		avisos = append(avisos, a)
	}
	return avisos, nil
}

func (s *stubRepo) Atualizar(_ context.Context, id uuid.UUID, titulo, corpo string) (Aviso, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.itens[id]
	if !ok {
		return Aviso{}, errNotFound
	}
	a.Titulo = titulo
	a.Corpo = corpo
	agora := util.Now()
	a.AtualizadoEm = &agora
	s.itens[id] = a
	return a, nil
}

func (s *stubRepo) Remover(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.itens[id]; !ok {
		return errNotFound
	}
	delete(s.itens, id)
	return nil
}

type stubCaps struct {
	caps service.Capacidades
}

func (s *stubCaps) Capacidades(_ context.Context, _ uuid.UUID) (service.Capacidades, error) {
	return s.caps, nil
}

type stubPublicador struct {
	mu      sync.Mutex
	eventos []events.Evento
}

func (s *stubPublicador) Publicar(_ context.Context, ev events.Evento) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventos = append(s.eventos, ev)
}

func requestBody(body any) *bytes.Buffer {
	if body == nil {
		return bytes.NewBuffer(nil)
	}
	b, _ := json.Marshal(body)
	return bytes.NewBuffer(b)
}

func withAuth(req *http.Request, subject uuid.UUID, roles []string) *http.Request {
	ctx := req.Context()
	ctx = context.WithValue(ctx, httpmiddleware.ContextKeySubject, subject.String())
	ctx = context.WithValue(ctx, httpmiddleware.ContextKeyRoles, roles)
	ctx = context.WithValue(ctx, httpmiddleware.ContextKeyAudience, "app")
	return req.WithContext(ctx)
}

func TestAvisoHandlersSindico(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil, &stubPublicador{})
	handler := NewHandler(svc, &stubCaps{caps: service.Capacidades{Sindico: true}})
	sindico := uuid.New()

	existente, err := svc.Criar(context.Background(), sindico, service.Capacidades{Sindico: true}, Input{Titulo: "Manutenção", Corpo: "Elevador parado na quinta."})
	if err != nil {
		t.Fatalf("criar: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"listar", http.MethodGet, "/avisos/", nil, http.StatusOK},
		{"buscar", http.MethodGet, "/avisos/" + existente.ID.String(), nil, http.StatusOK},
		{"buscar-inexistente", http.MethodGet, "/avisos/" + uuid.NewString(), nil, http.StatusNotFound},
		{"criar", http.MethodPost, "/avisos/", map[string]any{"titulo": "Assembleia", "corpo": "Sábado às 10h no salão."}, http.StatusCreated},
		{"criar-invalido", http.MethodPost, "/avisos/", map[string]any{"titulo": ""}, http.StatusBadRequest},
		{"atualizar", http.MethodPut, "/avisos/" + existente.ID.String(), map[string]any{"titulo": "Manutenção", "corpo": "Elevador liberado."}, http.StatusOK},
		{"remover", http.MethodDelete, "/avisos/" + existente.ID.String(), nil, http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, requestBody(tc.body))
			req = withAuth(req, sindico, []string{"SINDICO"})
			rec := httptest.NewRecorder()

			r := chi.NewRouter()
			handler.RegisterRoutes(r)
			r.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAvisoEscritaRestritaAoSindico(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil, &stubPublicador{})
	handler := NewHandler(svc, &stubCaps{caps: service.Capacidades{Morador: true}})
	morador := uuid.New()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"morador-le", http.MethodGet, "/avisos/", nil, http.StatusOK},
		{"morador-nao-cria", http.MethodPost, "/avisos/", map[string]any{"titulo": "Festa", "corpo": "Hoje."}, http.StatusForbidden},
		{"morador-nao-edita", http.MethodPut, "/avisos/" + uuid.NewString(), map[string]any{"titulo": "x", "corpo": "y"}, http.StatusForbidden},
		{"morador-nao-remove", http.MethodDelete, "/avisos/" + uuid.NewString(), nil, http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, requestBody(tc.body))
			req = withAuth(req, morador, []string{"MORADOR"})
			rec := httptest.NewRecorder()

			r := chi.NewRouter()
			handler.RegisterRoutes(r)
			r.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAvisoNormalizaTexto(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil, &stubPublicador{})
	caps := service.Capacidades{Sindico: true}
	ctx := context.Background()

	criado, err := svc.Criar(ctx, uuid.New(), caps, Input{Titulo: "  Assembleia  ", Corpo: " Sábado às 10h. \n"})
	if err != nil {
		t.Fatalf("criar: %v", err)
	}
	if criado.Titulo != "Assembleia" || criado.Corpo != "Sábado às 10h." {
		t.Fatalf("texto não normalizado na criação: %+v", criado)
	}

	atualizado, err := svc.Atualizar(ctx, caps, criado.ID, Input{Titulo: " Assembleia ", Corpo: "\tAdiada para domingo. "})
	if err != nil {
		t.Fatalf("atualizar: %v", err)
	}
	if atualizado.Titulo != "Assembleia" || atualizado.Corpo != "Adiada para domingo." {
		t.Fatalf("texto não normalizado na edição: %+v", atualizado)
	}
}

func TestAvisoPublicaEventos(t *testing.T) {
	repo := newStubRepo()
	pub := &stubPublicador{}
	svc := NewService(repo, nil, pub)
	caps := service.Capacidades{Sindico: true}
	ctx := context.Background()

	criado, err := svc.Criar(ctx, uuid.New(), caps, Input{Titulo: "Obra", Corpo: "Fachada em pintura."})
	if err != nil {
		t.Fatalf("criar: %v", err)
	}
	if _, err := svc.Atualizar(ctx, caps, criado.ID, Input{Titulo: "Obra", Corpo: "Pintura concluída."}); err != nil {
		t.Fatalf("atualizar: %v", err)
	}
	if err := svc.Remover(ctx, caps, criado.ID); err != nil {
		t.Fatalf("remover: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.eventos) != 3 {
		t.Fatalf("eventos = %d, esperado 3", len(pub.eventos))
	}
	tipos := []string{events.TipoInsert, events.TipoUpdate, events.TipoDelete}
	for i, ev := range pub.eventos {
		if ev.Tabela != "avisos" || ev.Tipo != tipos[i] {
			t.Fatalf("evento %d inesperado: %+v", i, ev)
		}
	}
}
