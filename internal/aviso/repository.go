package aviso

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	errNotFound = errors.New("not found")
)

const dbTimeout = 3 * time.Second

// Aviso é um comunicado do condomínio.
type Aviso struct {
	ID           uuid.UUID  `json:"id"`
	Titulo       string     `json:"titulo"`
	Corpo        string     `json:"corpo"`
	CriadoPor    uuid.UUID  `json:"criado_por"`
	CriadoEm     time.Time  `json:"criado_em"`
	AtualizadoEm *time.Time `json:"atualizado_em,omitempty"`
}

// Repository fornece acesso aos avisos.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const avisoColunas = `id, titulo, corpo, criado_por, criado_em, atualizado_em`

func scanAviso(row pgx.Row) (Aviso, error) {
	var a Aviso
	err := row.Scan(&a.ID, &a.Titulo, &a.Corpo, &a.CriadoPor, &a.CriadoEm, &a.AtualizadoEm)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Aviso{}, errNotFound
		}
		return Aviso{}, err
	}
	return a, nil
}

// Inserir grava novo aviso.
func (r *Repository) Inserir(ctx context.Context, a Aviso) (Aviso, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `
		INSERT INTO avisos (id, titulo, corpo, criado_por, criado_em)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+avisoColunas+`
	`, a.ID, strings.TrimSpace(a.Titulo), strings.TrimSpace(a.Corpo), a.CriadoPor, a.CriadoEm)
	return scanAviso(row)
}

// Buscar devolve aviso pelo identificador.
func (r *Repository) Buscar(ctx context.Context, id uuid.UUID) (Aviso, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `
		SELECT `+avisoColunas+` FROM avisos WHERE id = $1
	`, id)
	return scanAviso(row)
}

// Listar devolve todos os avisos, mais recentes primeiro.
func (r *Repository) Listar(ctx context.Context) ([]Aviso, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT `+avisoColunas+` FROM avisos ORDER BY criado_em DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var avisos []Aviso
	for rows.Next() {
		var a Aviso
		if err := rows.Scan(&a.ID, &a.Titulo, &a.Corpo, &a.CriadoPor, &a.CriadoEm, &a.AtualizadoEm); err != nil {
			return nil, err
		}
		avisos = append(avisos, a)
	}
	return avisos, rows.Err()
}

// Atualizar altera título e corpo.
func (r *Repository) Atualizar(ctx context.Context, id uuid.UUID, titulo, corpo string) (Aviso, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `
		UPDATE avisos SET titulo = $2, corpo = $3, atualizado_em = now()
		WHERE id = $1
		RETURNING `+avisoColunas+`
	`, id, strings.TrimSpace(titulo), strings.TrimSpace(corpo))
	return scanAviso(row)
}

// Remover apaga o aviso.
func (r *Repository) Remover(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := r.db.Exec(ctx, `DELETE FROM avisos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errNotFound
	}
	return nil
}
