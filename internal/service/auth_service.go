package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/urbanbyte/portaria/internal/auth"
	"github.com/urbanbyte/portaria/internal/repo"
	"github.com/urbanbyte/portaria/internal/util"
)

var (
	// ErrInvalidCredentials indica falha na autenticação.
	ErrInvalidCredentials = errors.New("credenciais inválidas")
	// ErrAccountDisabled indica conta desativada.
	ErrAccountDisabled = errors.New("conta desativada")
	// ErrRefreshInvalid indica refresh token inválido ou expirado.
	ErrRefreshInvalid = errors.New("refresh token inválido")
)

const (
	destinoTTL       = 10 * time.Minute
	destinoKeyPrefix = "destino:"
)

type authRepository interface {
	GetUsuarioByEmail(ctx context.Context, email string) (repo.Usuario, error)
	GetUsuarioByID(ctx context.Context, id uuid.UUID) (repo.Usuario, error)
	GetPerfil(ctx context.Context, usuarioID uuid.UUID) (repo.Perfil, error)
	UpdatePerfil(ctx context.Context, usuarioID uuid.UUID, nome, unidade string) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (repo.TokenRefresh, error)
	RotateRefreshTokens(ctx context.Context, arg repo.InsertRefreshTokenParams) (repo.TokenRefresh, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AuthService concentra a sessão autenticada: login, renovação, saída e
// o slot de destino pendente do redirecionamento de login.
type AuthService struct {
	repo       authRepository
	redis      redisCommander
	jwt        *auth.JWTManager
	papeis     *PapelService
	refreshTTL time.Duration
	pool       *pgxpool.Pool
}

// NewAuthService cria novo serviço.
func NewAuthService(r *repo.Queries, pool *pgxpool.Pool, redisClient *redis.Client, jwtMgr *auth.JWTManager, papeis *PapelService, refreshTTL time.Duration) *AuthService {
	return &AuthService{repo: r, pool: pool, redis: redisClient, jwt: jwtMgr, papeis: papeis, refreshTTL: refreshTTL}
}

// JWT expõe gerenciador de JWT (útil em middlewares).
func (s *AuthService) JWT() *auth.JWTManager {
	return s.jwt
}

// LoginResult representa retorno padrão de autenticações.
type LoginResult struct {
	AccessToken   string
	RefreshToken  string
	Subject       uuid.UUID
	Roles         []string
	Perfil        *repo.Perfil
	RefreshHash   string
	RefreshExpiry time.Time
	RedirectTo    string
}

// Login autentica por e-mail e senha. A chave de intenção, quando
// presente, consome o destino pendente gravado antes do redirect.
func (s *AuthService) Login(ctx context.Context, email, senha, chaveIntencao string) (*LoginResult, error) {
	user, err := s.repo.GetUsuarioByEmail(ctx, strings.ToLower(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Warn().Msg("login: usuário não encontrado")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.SenhaHash == nil {
		return nil, ErrInvalidCredentials
	}

	ok, err := auth.Verify(senha, *user.SenhaHash)
	if err != nil {
		log.Warn().Err(err).Msg("login: verificação de senha falhou")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		log.Warn().Msg("login: senha inválida")
		return nil, ErrInvalidCredentials
	}

	return s.loginFromUser(ctx, user, chaveIntencao)
}

// LoginComUsuario completa o login para um usuário já autenticado por
// outro fator (passkey).
func (s *AuthService) LoginComUsuario(ctx context.Context, user repo.Usuario, chaveIntencao string) (*LoginResult, error) {
	return s.loginFromUser(ctx, user, chaveIntencao)
}

func (s *AuthService) loginFromUser(ctx context.Context, user repo.Usuario, chaveIntencao string) (*LoginResult, error) {
	if !user.Ativo {
		return nil, ErrAccountDisabled
	}

	// Papéis podem legitimamente ser vazios: a autorização trata o
	// conjunto vazio como ausência de privilégios.
	roles, err := s.papeis.ListarPapeis(ctx, user.ID)
	if err != nil {
		log.Warn().Err(err).Msg("login: falha ao resolver papéis")
		roles = []string{}
	}

	token, _, err := s.jwt.GenerateAccessToken(user.ID.String(), roles)
	if err != nil {
		return nil, err
	}

	rawRefresh, refreshHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	expires := util.Now().Add(s.refreshTTL)
	if err := s.persistRefresh(ctx, user.ID, refreshHash, expires); err != nil {
		return nil, err
	}

	result := &LoginResult{
		AccessToken:   token,
		RefreshToken:  rawRefresh,
		Subject:       user.ID,
		Roles:         roles,
		Perfil:        s.fetchPerfil(ctx, user.ID),
		RefreshHash:   refreshHash,
		RefreshExpiry: expires,
	}

	if chaveIntencao != "" {
		result.RedirectTo = s.ConsumirDestino(ctx, chaveIntencao)
	}

	return result, nil
}

// fetchPerfil carrega o perfil com falha suave: a sessão permanece
// válida com perfil nulo e o erro vira aviso.
func (s *AuthService) fetchPerfil(ctx context.Context, usuarioID uuid.UUID) *repo.Perfil {
	perfil, err := s.repo.GetPerfil(ctx, usuarioID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Str("usuario", usuarioID.String()).Msg("perfil: falha ao carregar")
		}
		return nil
	}
	return &perfil
}

// Refresh troca refresh token por novos tokens (rotação).
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*LoginResult, error) {
	if rawToken == "" {
		return nil, ErrRefreshInvalid
	}

	hash := auth.HashRefreshToken(rawToken)
	record, err := s.repo.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	if record.Revogado || util.Now().After(record.Expiracao) || record.Audience != auth.Audience {
		return nil, ErrRefreshInvalid
	}

	redisKey := auth.RefreshRedisKey(hash)
	status, err := s.redis.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return nil, ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}
	if status != "active" {
		return nil, ErrRefreshInvalid
	}

	user, err := s.repo.GetUsuarioByID(ctx, record.Subject)
	if err != nil {
		return nil, err
	}

	result, err := s.loginFromUser(ctx, user, "")
	if err != nil {
		return nil, err
	}

	// Revoga token anterior (DB + Redis)
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err := s.redis.Del(ctx, redisKey).Err(); err != nil && err != redis.Nil {
		return nil, err
	}

	return result, nil
}

// Logout revoga refresh token atual.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	hash := auth.HashRefreshToken(rawToken)
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := s.redis.Del(ctx, auth.RefreshRedisKey(hash)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// Me devolve perfil (falha suave) e papéis do sujeito autenticado.
func (s *AuthService) Me(ctx context.Context, subject uuid.UUID) (*repo.Perfil, []string, error) {
	roles, err := s.papeis.ListarPapeis(ctx, subject)
	if err != nil {
		log.Warn().Err(err).Msg("me: falha ao resolver papéis")
		roles = []string{}
	}
	return s.fetchPerfil(ctx, subject), roles, nil
}

// AtualizarPerfil altera nome e unidade e devolve o perfil recarregado.
func (s *AuthService) AtualizarPerfil(ctx context.Context, subject uuid.UUID, nome, unidade string) (*repo.Perfil, error) {
	if err := util.RequireString(nome, "nome"); err != nil {
		return nil, err
	}
	if err := util.RequireString(unidade, "unidade"); err != nil {
		return nil, err
	}
	if err := s.repo.UpdatePerfil(ctx, subject, nome, unidade); err != nil {
		return nil, err
	}
	perfil, err := s.repo.GetPerfil(ctx, subject)
	if err != nil {
		return nil, err
	}
	return &perfil, nil
}

// GetUsuarioByID expõe leitura de conta (usado pelo fluxo de passkey).
func (s *AuthService) GetUsuarioByID(ctx context.Context, id uuid.UUID) (repo.Usuario, error) {
	return s.repo.GetUsuarioByID(ctx, id)
}

// GetUsuarioByEmail expõe leitura de conta pelo e-mail.
func (s *AuthService) GetUsuarioByEmail(ctx context.Context, email string) (repo.Usuario, error) {
	return s.repo.GetUsuarioByEmail(ctx, strings.ToLower(email))
}

// SalvarDestino grava o caminho pretendido antes do redirect de login.
// Um único slot por chave; expira sozinho se o login nunca acontecer.
func (s *AuthService) SalvarDestino(ctx context.Context, chave, caminho string) error {
	caminho = strings.TrimSpace(caminho)
	if chave == "" || !strings.HasPrefix(caminho, "/") {
		return errors.New("destino inválido")
	}
	return s.redis.Set(ctx, destinoKeyPrefix+chave, caminho, destinoTTL).Err()
}

// ConsumirDestino lê e limpa o destino pendente em uma operação.
func (s *AuthService) ConsumirDestino(ctx context.Context, chave string) string {
	caminho, err := s.redis.GetDel(ctx, destinoKeyPrefix+chave).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Msg("destino: falha ao consumir slot")
		}
		return ""
	}
	return caminho
}

func (s *AuthService) persistRefresh(ctx context.Context, subject uuid.UUID, hash string, expires time.Time) error {
	_, err := s.repo.RotateRefreshTokens(ctx, repo.InsertRefreshTokenParams{
		ID:        uuid.New(),
		Subject:   subject,
		Audience:  auth.Audience,
		TokenHash: hash,
		Expiracao: expires,
		CriadoEm:  util.Now(),
	})
	if err != nil {
		return err
	}

	return s.redis.Set(ctx, auth.RefreshRedisKey(hash), "active", time.Until(expires)).Err()
}

// PasskeyCredential modela uma credencial WebAuthn persistida.
type PasskeyCredential struct {
	ID           uuid.UUID
	UsuarioID    uuid.UUID
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	Transports   []string
	AAGUID       []byte
	Cloned       bool
	CriadoEm     time.Time
}

// ListPasskeys lista credenciais do usuário.
func (s *AuthService) ListPasskeys(ctx context.Context, usuarioID uuid.UUID) ([]PasskeyCredential, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, usuario_id, credential_id, public_key, sign_count, transports, aaguid, cloned, criado_em
        FROM passkeys
        WHERE usuario_id = $1
        ORDER BY criado_em DESC
    `, usuarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []PasskeyCredential
	for rows.Next() {
		var (
			cred PasskeyCredential
			sign int64
		)
		if err := rows.Scan(&cred.ID, &cred.UsuarioID, &cred.CredentialID, &cred.PublicKey, &sign, &cred.Transports, &cred.AAGUID, &cred.Cloned, &cred.CriadoEm); err != nil {
			return nil, err
		}
		if sign < 0 {
			sign = 0
		}
		cred.SignCount = uint32(sign)
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// GetPasskeyByCredentialID localiza credencial pelo identificador WebAuthn.
func (s *AuthService) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (*PasskeyCredential, error) {
	var (
		cred PasskeyCredential
		sign int64
	)
	err := s.pool.QueryRow(ctx, `
        SELECT id, usuario_id, credential_id, public_key, sign_count, transports, aaguid, cloned, criado_em
        FROM passkeys
        WHERE credential_id = $1
    `, credentialID).Scan(&cred.ID, &cred.UsuarioID, &cred.CredentialID, &cred.PublicKey, &sign, &cred.Transports, &cred.AAGUID, &cred.Cloned, &cred.CriadoEm)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrNotFound
		}
		return nil, err
	}
	if sign < 0 {
		sign = 0
	}
	cred.SignCount = uint32(sign)
	return &cred, nil
}

// CreatePasskey grava nova credencial WebAuthn.
func (s *AuthService) CreatePasskey(ctx context.Context, usuarioID uuid.UUID, credentialID, publicKey []byte, signCount uint32, transports []string, aaguid []byte, cloned bool) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO passkeys (usuario_id, credential_id, public_key, sign_count, transports, aaguid, cloned)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, usuarioID, credentialID, publicKey, int64(signCount), transports, aaguid, cloned)
	return err
}

// UpdatePasskeyCounter atualiza contador de assinaturas e flag de clone.
func (s *AuthService) UpdatePasskeyCounter(ctx context.Context, id uuid.UUID, signCount uint32, cloned bool) error {
	cmd, err := s.pool.Exec(ctx, `
        UPDATE passkeys SET sign_count = $2, cloned = $3 WHERE id = $1
    `, id, int64(signCount), cloned)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
