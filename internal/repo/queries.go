package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/urbanbyte/portaria/internal/db"
)

const dbTimeout = 3 * time.Second

// Queries provê acesso às tabelas centrais (usuários, perfis, papéis,
// refresh tokens).
type Queries struct {
	pool *pgxpool.Pool
}

// New cria instância de Queries.
func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

// GetUsuarioByEmail busca conta pelo e-mail normalizado.
func (q *Queries) GetUsuarioByEmail(ctx context.Context, email string) (Usuario, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var u Usuario
	err := q.pool.QueryRow(ctx, `
		SELECT id, email, senha_hash, ativo, criado_em
		FROM usuarios
		WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email)).Scan(&u.ID, &u.Email, &u.SenhaHash, &u.Ativo, &u.CriadoEm)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Usuario{}, ErrNotFound
		}
		return Usuario{}, err
	}
	return u, nil
}

// GetUsuarioByID busca conta pelo identificador.
func (q *Queries) GetUsuarioByID(ctx context.Context, id uuid.UUID) (Usuario, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var u Usuario
	err := q.pool.QueryRow(ctx, `
		SELECT id, email, senha_hash, ativo, criado_em
		FROM usuarios
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.SenhaHash, &u.Ativo, &u.CriadoEm)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Usuario{}, ErrNotFound
		}
		return Usuario{}, err
	}
	return u, nil
}

// GetPerfil devolve o perfil do usuário com a flag de síndico derivada
// do conjunto de papéis.
func (q *Queries) GetPerfil(ctx context.Context, usuarioID uuid.UUID) (Perfil, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var p Perfil
	err := q.pool.QueryRow(ctx, `
		SELECT p.usuario_id, p.nome, p.unidade,
		       EXISTS(SELECT 1 FROM papeis_usuarios pu WHERE pu.usuario_id = p.usuario_id AND pu.papel = $2),
		       p.criado_em, p.atualizado_em
		FROM perfis p
		WHERE p.usuario_id = $1
	`, usuarioID, PapelSindico).Scan(&p.ID, &p.Nome, &p.Unidade, &p.Sindico, &p.CriadoEm, &p.AtualizadoEm)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Perfil{}, ErrNotFound
		}
		return Perfil{}, err
	}
	return p, nil
}

// UpdatePerfil altera nome e unidade do perfil.
func (q *Queries) UpdatePerfil(ctx context.Context, usuarioID uuid.UUID, nome, unidade string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := q.pool.Exec(ctx, `
		UPDATE perfis SET nome = $2, unidade = $3, atualizado_em = now()
		WHERE usuario_id = $1
	`, usuarioID, strings.TrimSpace(nome), strings.TrimSpace(unidade))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPerfis lista perfis para gestão de papéis.
func (q *Queries) ListPerfis(ctx context.Context) ([]Perfil, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := q.pool.Query(ctx, `
		SELECT p.usuario_id, p.nome, p.unidade,
		       EXISTS(SELECT 1 FROM papeis_usuarios pu WHERE pu.usuario_id = p.usuario_id AND pu.papel = $1),
		       p.criado_em, p.atualizado_em
		FROM perfis p
		ORDER BY p.nome
	`, PapelSindico)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perfis []Perfil
	for rows.Next() {
		var p Perfil
		if err := rows.Scan(&p.ID, &p.Nome, &p.Unidade, &p.Sindico, &p.CriadoEm, &p.AtualizadoEm); err != nil {
			return nil, err
		}
		perfis = append(perfis, p)
	}
	return perfis, rows.Err()
}

// ListPapeisByUsuario devolve o conjunto de papéis atribuídos.
func (q *Queries) ListPapeisByUsuario(ctx context.Context, usuarioID uuid.UUID) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := q.pool.Query(ctx, `
		SELECT papel FROM papeis_usuarios WHERE usuario_id = $1 ORDER BY papel
	`, usuarioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papeis []string
	for rows.Next() {
		var papel string
		if err := rows.Scan(&papel); err != nil {
			return nil, err
		}
		papeis = append(papeis, papel)
	}
	return papeis, rows.Err()
}

// InsertPapel atribui papel; repetições são ignoradas (conjunto).
func (q *Queries) InsertPapel(ctx context.Context, usuarioID uuid.UUID, papel string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := q.pool.Exec(ctx, `
		INSERT INTO papeis_usuarios (usuario_id, papel)
		VALUES ($1, $2)
		ON CONFLICT (usuario_id, papel) DO NOTHING
	`, usuarioID, papel)
	return err
}

// DeletePapel remove papel do usuário.
func (q *Queries) DeletePapel(ctx context.Context, usuarioID uuid.UUID, papel string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := q.pool.Exec(ctx, `
		DELETE FROM papeis_usuarios WHERE usuario_id = $1 AND papel = $2
	`, usuarioID, papel)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RotateRefreshTokens insere o novo refresh token e revoga os demais
// do subject na mesma transação: sempre há no máximo um token vivo.
func (q *Queries) RotateRefreshTokens(ctx context.Context, arg InsertRefreshTokenParams) (TokenRefresh, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var t TokenRefresh
	err := db.WithTx(ctx, q.pool, func(ctx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO tokens_refresh (id, subject, audience, token_hash, expiracao, criado_em, revogado)
			VALUES ($1, $2, $3, $4, $5, $6, false)
			RETURNING id, subject, audience, token_hash, expiracao, criado_em, revogado
		`, arg.ID, arg.Subject, arg.Audience, arg.TokenHash, arg.Expiracao, arg.CriadoEm).
			Scan(&t.ID, &t.Subject, &t.Audience, &t.TokenHash, &t.Expiracao, &t.CriadoEm, &t.Revogado)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE tokens_refresh SET revogado = true
			WHERE subject = $1 AND token_hash <> $2 AND NOT revogado
		`, arg.Subject, arg.TokenHash)
		return err
	})
	return t, err
}

// GetRefreshTokenByHash busca refresh token pelo hash.
func (q *Queries) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (TokenRefresh, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var t TokenRefresh
	err := q.pool.QueryRow(ctx, `
		SELECT id, subject, audience, token_hash, expiracao, criado_em, revogado
		FROM tokens_refresh
		WHERE token_hash = $1
	`, tokenHash).Scan(&t.ID, &t.Subject, &t.Audience, &t.TokenHash, &t.Expiracao, &t.CriadoEm, &t.Revogado)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenRefresh{}, ErrNotFound
		}
		return TokenRefresh{}, err
	}
	return t, nil
}

// RevokeRefreshToken marca token como revogado.
func (q *Queries) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := q.pool.Exec(ctx, `
		UPDATE tokens_refresh SET revogado = true WHERE token_hash = $1 AND NOT revogado
	`, tokenHash)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
