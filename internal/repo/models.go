package repo

import (
	"time"

	"github.com/google/uuid"
)

// Papéis reconhecidos pelo condomínio.
const (
	PapelSindico  = "SINDICO"
	PapelPorteiro = "PORTEIRO"
	PapelMorador  = "MORADOR"
)

// Usuario representa uma conta autenticável.
type Usuario struct {
	ID        uuid.UUID
	Email     string
	SenhaHash *string
	Ativo     bool
	CriadoEm  time.Time
}

// Perfil guarda dados de exibição do usuário. É cache de apresentação,
// nunca credencial: decisões de autorização usam sempre os papéis.
type Perfil struct {
	ID           uuid.UUID  `json:"id"`
	Nome         string     `json:"nome"`
	Unidade      string     `json:"unidade"`
	Sindico      bool       `json:"sindico"`
	CriadoEm     time.Time  `json:"criado_em"`
	AtualizadoEm *time.Time `json:"atualizado_em,omitempty"`
}

// PapelUsuario vincula usuário a um papel (semântica de conjunto,
// unicidade garantida por constraint no banco).
type PapelUsuario struct {
	UsuarioID uuid.UUID `json:"usuario_id"`
	Papel     string    `json:"papel"`
}

// TokenRefresh modela tabela de refresh tokens.
type TokenRefresh struct {
	ID        uuid.UUID
	Subject   uuid.UUID
	Audience  string
	TokenHash string
	Expiracao time.Time
	CriadoEm  time.Time
	Revogado  bool
}

// InsertRefreshTokenParams agrupa campos de inserção de refresh token.
type InsertRefreshTokenParams struct {
	ID        uuid.UUID
	Subject   uuid.UUID
	Audience  string
	TokenHash string
	Expiracao time.Time
	CriadoEm  time.Time
}
