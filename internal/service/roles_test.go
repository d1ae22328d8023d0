package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/urbanbyte/portaria/internal/repo"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case string:
		f.data[key] = v
	case []byte:
		f.data[key] = string(v)
	default:
		f.data[key] = fmt.Sprint(v)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) GetDel(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	delete(f.data, key)
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type stubPapelRepo struct {
	papeis   map[uuid.UUID][]string
	listas   int
	perfis   []repo.Perfil
	inserts  int
	removals int
}

func newStubPapelRepo() *stubPapelRepo {
	return &stubPapelRepo{papeis: map[uuid.UUID][]string{}}
}

func (s *stubPapelRepo) ListPapeisByUsuario(_ context.Context, usuarioID uuid.UUID) ([]string, error) {
	s.listas++
	return append([]string(nil), s.papeis[usuarioID]...), nil
}

func (s *stubPapelRepo) InsertPapel(_ context.Context, usuarioID uuid.UUID, papel string) error {
	s.inserts++
	for _, p := range s.papeis[usuarioID] {
		if p == papel {
			return nil
		}
	}
	s.papeis[usuarioID] = append(s.papeis[usuarioID], papel)
	return nil
}

func (s *stubPapelRepo) DeletePapel(_ context.Context, usuarioID uuid.UUID, papel string) error {
	s.removals++
	atual := s.papeis[usuarioID]
	for i, p := range atual {
		if p == papel {
			s.papeis[usuarioID] = append(atual[:i], atual[i+1:]...)
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s *stubPapelRepo) ListPerfis(_ context.Context) ([]repo.Perfil, error) {
	return s.perfis, nil
}

func TestCapacidadesDe(t *testing.T) {
	cases := []struct {
		nome   string
		papeis []string
		want   Capacidades
	}{
		{"vazio", []string{}, Capacidades{}},
		{"morador", []string{"MORADOR"}, Capacidades{Morador: true}},
		{"porteiro e morador", []string{"PORTEIRO", "MORADOR"}, Capacidades{Porteiro: true, Morador: true}},
		{"sindico", []string{"SINDICO"}, Capacidades{Sindico: true}},
		{"normaliza caixa e espaços", []string{" morador ", "Porteiro"}, Capacidades{Porteiro: true, Morador: true}},
		{"desconhecido ignorado", []string{"ZELADOR"}, Capacidades{}},
	}

	for _, tc := range cases {
		t.Run(tc.nome, func(t *testing.T) {
			got := CapacidadesDe(tc.papeis)
			if got != tc.want {
				t.Fatalf("capacidades = %+v, esperado %+v", got, tc.want)
			}
		})
	}
}

func TestListarPapeisSemSessao(t *testing.T) {
	repoStub := newStubPapelRepo()
	svc := NewPapelService(repoStub, newFakeRedis())

	papeis, err := svc.ListarPapeis(context.Background(), uuid.Nil)
	if err != nil {
		t.Fatalf("erro inesperado: %v", err)
	}
	if len(papeis) != 0 {
		t.Fatalf("esperado conjunto vazio, veio %v", papeis)
	}
	if repoStub.listas != 0 {
		t.Fatalf("sem sessão não deve consultar o backend (%d consultas)", repoStub.listas)
	}
}

func TestListarPapeisUsaCache(t *testing.T) {
	repoStub := newStubPapelRepo()
	id := uuid.New()
	repoStub.papeis[id] = []string{"PORTEIRO"}
	svc := NewPapelService(repoStub, newFakeRedis())
	ctx := context.Background()

	if _, err := svc.ListarPapeis(ctx, id); err != nil {
		t.Fatalf("erro inesperado: %v", err)
	}
	if _, err := svc.ListarPapeis(ctx, id); err != nil {
		t.Fatalf("erro inesperado: %v", err)
	}
	if repoStub.listas != 1 {
		t.Fatalf("segunda leitura deveria vir do cache (%d consultas)", repoStub.listas)
	}
}

func TestAtribuirERemoverInvalidamCache(t *testing.T) {
	repoStub := newStubPapelRepo()
	id := uuid.New()
	svc := NewPapelService(repoStub, newFakeRedis())
	ctx := context.Background()

	if err := svc.Atribuir(ctx, id, "porteiro"); err != nil {
		t.Fatalf("atribuir: %v", err)
	}

	caps, err := svc.Capacidades(ctx, id)
	if err != nil {
		t.Fatalf("capacidades: %v", err)
	}
	if !caps.Porteiro {
		t.Fatal("esperado porteiro após atribuição")
	}

	if err := svc.Remover(ctx, id, "PORTEIRO"); err != nil {
		t.Fatalf("remover: %v", err)
	}

	// A derivação nunca pode ficar presa no estado anterior.
	caps, err = svc.Capacidades(ctx, id)
	if err != nil {
		t.Fatalf("capacidades: %v", err)
	}
	if caps.Porteiro {
		t.Fatal("porteiro deveria cair após remoção")
	}
}

func TestAtribuirPapelInvalido(t *testing.T) {
	svc := NewPapelService(newStubPapelRepo(), newFakeRedis())

	if err := svc.Atribuir(context.Background(), uuid.New(), "ZELADOR"); err != ErrPapelInvalido {
		t.Fatalf("esperado ErrPapelInvalido, veio %v", err)
	}
	if err := svc.Remover(context.Background(), uuid.New(), ""); err != ErrPapelInvalido {
		t.Fatalf("esperado ErrPapelInvalido, veio %v", err)
	}
}
