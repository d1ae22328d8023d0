package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/urbanbyte/portaria/internal/auth"
	"github.com/urbanbyte/portaria/internal/repo"
)

type stubAuthRepo struct {
	usuarios  map[uuid.UUID]repo.Usuario
	perfis    map[uuid.UUID]repo.Perfil
	perfilErr error
	tokens    map[string]repo.TokenRefresh
}

func newStubAuthRepo() *stubAuthRepo {
	return &stubAuthRepo{
		usuarios: map[uuid.UUID]repo.Usuario{},
		perfis:   map[uuid.UUID]repo.Perfil{},
		tokens:   map[string]repo.TokenRefresh{},
	}
}

func (s *stubAuthRepo) GetUsuarioByEmail(_ context.Context, email string) (repo.Usuario, error) {
	for _, u := range s.usuarios {
		if u.Email == email {
			return u, nil
		}
	}
	return repo.Usuario{}, repo.ErrNotFound
}

func (s *stubAuthRepo) GetUsuarioByID(_ context.Context, id uuid.UUID) (repo.Usuario, error) {
	u, ok := s.usuarios[id]
	if !ok {
		return repo.Usuario{}, repo.ErrNotFound
	}
	return u, nil
}

func (s *stubAuthRepo) GetPerfil(_ context.Context, usuarioID uuid.UUID) (repo.Perfil, error) {
	if s.perfilErr != nil {
		return repo.Perfil{}, s.perfilErr
	}
	p, ok := s.perfis[usuarioID]
	if !ok {
		return repo.Perfil{}, repo.ErrNotFound
	}
	return p, nil
}

func (s *stubAuthRepo) UpdatePerfil(_ context.Context, usuarioID uuid.UUID, nome, unidade string) error {
	p, ok := s.perfis[usuarioID]
	if !ok {
		return repo.ErrNotFound
	}
	p.Nome = nome
	p.Unidade = unidade
	s.perfis[usuarioID] = p
	return nil
}

func (s *stubAuthRepo) GetRefreshTokenByHash(_ context.Context, hash string) (repo.TokenRefresh, error) {
	t, ok := s.tokens[hash]
	if !ok {
		return repo.TokenRefresh{}, repo.ErrNotFound
	}
	return t, nil
}

func (s *stubAuthRepo) RotateRefreshTokens(_ context.Context, arg repo.InsertRefreshTokenParams) (repo.TokenRefresh, error) {
	t := repo.TokenRefresh{
		ID:        arg.ID,
		Subject:   arg.Subject,
		Audience:  arg.Audience,
		TokenHash: arg.TokenHash,
		Expiracao: arg.Expiracao,
		CriadoEm:  arg.CriadoEm,
	}
	s.tokens[arg.TokenHash] = t
	for hash, old := range s.tokens {
		if old.Subject == arg.Subject && hash != arg.TokenHash {
			old.Revogado = true
			s.tokens[hash] = old
		}
	}
	return t, nil
}

func (s *stubAuthRepo) RevokeRefreshToken(_ context.Context, hash string) error {
	t, ok := s.tokens[hash]
	if !ok || t.Revogado {
		return repo.ErrNotFound
	}
	t.Revogado = true
	s.tokens[hash] = t
	return nil
}

var senhaHashTeste string

func hashSenhaTeste(t *testing.T) string {
	t.Helper()
	if senhaHashTeste == "" {
		h, err := auth.Hash("senha-forte-123")
		if err != nil {
			t.Fatalf("hash de senha: %v", err)
		}
		senhaHashTeste = h
	}
	return senhaHashTeste
}

type authFixture struct {
	svc      *AuthService
	repo     *stubAuthRepo
	papeis   *stubPapelRepo
	redis    *fakeRedis
	morador  uuid.UUID
	sindico  uuid.UUID
	inactive uuid.UUID
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	repoStub := newStubAuthRepo()
	papelStub := newStubPapelRepo()
	redisStub := newFakeRedis()

	hash := hashSenhaTeste(t)

	morador := uuid.New()
	repoStub.usuarios[morador] = repo.Usuario{ID: morador, Email: "asha@condominio.dev", SenhaHash: &hash, Ativo: true}
	repoStub.perfis[morador] = repo.Perfil{ID: morador, Nome: "Asha Prado", Unidade: "B-203"}
	papelStub.papeis[morador] = []string{repo.PapelMorador}

	sindico := uuid.New()
	repoStub.usuarios[sindico] = repo.Usuario{ID: sindico, Email: "sindico@condominio.dev", SenhaHash: &hash, Ativo: true}
	repoStub.perfis[sindico] = repo.Perfil{ID: sindico, Nome: "Marta Leão", Unidade: "A-101", Sindico: true}
	papelStub.papeis[sindico] = []string{repo.PapelSindico}

	inactive := uuid.New()
	repoStub.usuarios[inactive] = repo.Usuario{ID: inactive, Email: "antigo@condominio.dev", SenhaHash: &hash, Ativo: false}

	papeis := NewPapelService(papelStub, redisStub)
	jwtMgr := auth.NewJWTManager("segredo-de-teste", 15*time.Minute)

	svc := &AuthService{
		repo:       repoStub,
		redis:      redisStub,
		jwt:        jwtMgr,
		papeis:     papeis,
		refreshTTL: time.Hour,
	}

	return &authFixture{svc: svc, repo: repoStub, papeis: papelStub, redis: redisStub, morador: morador, sindico: sindico, inactive: inactive}
}

func TestLoginOK(t *testing.T) {
	fx := newAuthFixture(t)

	res, err := fx.svc.Login(context.Background(), "Asha@condominio.dev", "senha-forte-123", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("tokens vazios")
	}
	if res.Subject != fx.morador {
		t.Fatalf("subject = %s, esperado %s", res.Subject, fx.morador)
	}
	if len(res.Roles) != 1 || res.Roles[0] != repo.PapelMorador {
		t.Fatalf("roles = %v", res.Roles)
	}
	if res.Perfil == nil || res.Perfil.Nome != "Asha Prado" {
		t.Fatalf("perfil inesperado: %+v", res.Perfil)
	}

	claims, err := fx.svc.jwt.ParseAndValidate(res.AccessToken)
	if err != nil {
		t.Fatalf("token inválido: %v", err)
	}
	if claims.Subject != fx.morador.String() {
		t.Fatalf("claims.Subject = %s", claims.Subject)
	}
}

func TestLoginSenhaInvalida(t *testing.T) {
	fx := newAuthFixture(t)

	if _, err := fx.svc.Login(context.Background(), "asha@condominio.dev", "senha-errada", ""); err != ErrInvalidCredentials {
		t.Fatalf("esperado ErrInvalidCredentials, veio %v", err)
	}
}

func TestLoginUsuarioInexistente(t *testing.T) {
	fx := newAuthFixture(t)

	if _, err := fx.svc.Login(context.Background(), "ninguem@condominio.dev", "senha-forte-123", ""); err != ErrInvalidCredentials {
		t.Fatalf("esperado ErrInvalidCredentials, veio %v", err)
	}
}

func TestLoginContaDesativada(t *testing.T) {
	fx := newAuthFixture(t)

	if _, err := fx.svc.Login(context.Background(), "antigo@condominio.dev", "senha-forte-123", ""); err != ErrAccountDisabled {
		t.Fatalf("esperado ErrAccountDisabled, veio %v", err)
	}
}

func TestLoginPerfilFalhaSuave(t *testing.T) {
	fx := newAuthFixture(t)
	fx.repo.perfilErr = errors.New("banco fora do ar")

	res, err := fx.svc.Login(context.Background(), "asha@condominio.dev", "senha-forte-123", "")
	if err != nil {
		t.Fatalf("sessão deveria sobreviver à falha de perfil: %v", err)
	}
	if res.Perfil != nil {
		t.Fatalf("perfil deveria vir nulo, veio %+v", res.Perfil)
	}
	if res.AccessToken == "" {
		t.Fatal("token vazio")
	}
}

func TestLoginSemPapeis(t *testing.T) {
	fx := newAuthFixture(t)
	delete(fx.papeis.papeis, fx.morador)

	res, err := fx.svc.Login(context.Background(), "asha@condominio.dev", "senha-forte-123", "")
	if err != nil {
		t.Fatalf("login sem papéis deve funcionar: %v", err)
	}
	if len(res.Roles) != 0 {
		t.Fatalf("roles = %v, esperado vazio", res.Roles)
	}
}

func TestRefreshRotaciona(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Login(ctx, "asha@condominio.dev", "senha-forte-123", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	second, err := fx.svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh deveria emitir token novo")
	}

	// O token antigo não serve de novo.
	if _, err := fx.svc.Refresh(ctx, first.RefreshToken); err != ErrRefreshInvalid {
		t.Fatalf("reuso deveria falhar, veio %v", err)
	}

	if old := fx.repo.tokens[auth.HashRefreshToken(first.RefreshToken)]; !old.Revogado {
		t.Fatal("token anterior deveria estar revogado no banco")
	}
}

func TestRefreshDesconhecido(t *testing.T) {
	fx := newAuthFixture(t)

	if _, err := fx.svc.Refresh(context.Background(), "token-que-nunca-existiu"); err != ErrRefreshInvalid {
		t.Fatalf("esperado ErrRefreshInvalid, veio %v", err)
	}
	if _, err := fx.svc.Refresh(context.Background(), ""); err != ErrRefreshInvalid {
		t.Fatalf("esperado ErrRefreshInvalid, veio %v", err)
	}
}

func TestLogoutRevoga(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	res, err := fx.svc.Login(ctx, "asha@condominio.dev", "senha-forte-123", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := fx.svc.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := fx.svc.Refresh(ctx, res.RefreshToken); err != ErrRefreshInvalid {
		t.Fatalf("refresh após logout deveria falhar, veio %v", err)
	}
}

func TestMe(t *testing.T) {
	fx := newAuthFixture(t)

	perfil, papeis, err := fx.svc.Me(context.Background(), fx.sindico)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if perfil == nil || !perfil.Sindico {
		t.Fatalf("perfil inesperado: %+v", perfil)
	}
	if len(papeis) != 1 || papeis[0] != repo.PapelSindico {
		t.Fatalf("papeis = %v", papeis)
	}
}

func TestDestinoConsumidoUmaVez(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	if err := fx.svc.SalvarDestino(ctx, "chave-abc", "/visitantes"); err != nil {
		t.Fatalf("salvar destino: %v", err)
	}

	if got := fx.svc.ConsumirDestino(ctx, "chave-abc"); got != "/visitantes" {
		t.Fatalf("destino = %q", got)
	}
	if got := fx.svc.ConsumirDestino(ctx, "chave-abc"); got != "" {
		t.Fatalf("slot deveria estar vazio após consumo, veio %q", got)
	}
}

func TestSalvarDestinoInvalido(t *testing.T) {
	fx := newAuthFixture(t)

	if err := fx.svc.SalvarDestino(context.Background(), "chave", "https://externo.dev/phish"); err == nil {
		t.Fatal("destino fora do app deveria ser rejeitado")
	}
	if err := fx.svc.SalvarDestino(context.Background(), "", "/visitantes"); err == nil {
		t.Fatal("chave vazia deveria ser rejeitada")
	}
}

func TestLoginConsomeDestino(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	if err := fx.svc.SalvarDestino(ctx, "chave-login", "/avisos"); err != nil {
		t.Fatalf("salvar destino: %v", err)
	}

	res, err := fx.svc.Login(ctx, "asha@condominio.dev", "senha-forte-123", "chave-login")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.RedirectTo != "/avisos" {
		t.Fatalf("redirect = %q", res.RedirectTo)
	}
}
