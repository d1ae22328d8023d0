package visitante

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

// Status do ciclo de admissão. A transição é monotônica: um registro
// aprovado nunca volta a pendente.
const (
	StatusPendente = "PENDENTE"
	StatusAprovado = "APROVADO"
)

// Visitante é um registro de admissão esperado na portaria.
type Visitante struct {
	ID              uuid.UUID  `json:"id"`
	Nome            string     `json:"nome"`
	Motivo          string     `json:"motivo"`
	PrevisaoChegada *time.Time `json:"previsao_chegada,omitempty"`
	Unidade         string     `json:"unidade"`
	AnfitriaoID     *uuid.UUID `json:"anfitriao_id,omitempty"`
	OTP             *string    `json:"otp,omitempty"`
	Status          string     `json:"status"`
	VerificadoEm    *time.Time `json:"verificado_em,omitempty"`
	VerificadoPor   *uuid.UUID `json:"verificado_por,omitempty"`
	CriadoEm        time.Time  `json:"criado_em"`
}

// Repository fornece acesso aos registros de visitantes.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const visitanteColunas = `id, nome, motivo, previsao_chegada, unidade, anfitriao_id, otp, status, verificado_em, verificado_por, criado_em`

func scanVisitante(row pgx.Row) (Visitante, error) {
	var v Visitante
	err := row.Scan(&v.ID, &v.Nome, &v.Motivo, &v.PrevisaoChegada, &v.Unidade, &v.AnfitriaoID, &v.OTP, &v.Status, &v.VerificadoEm, &v.VerificadoPor, &v.CriadoEm)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Visitante{}, errNotFound
		}
		return Visitante{}, err
	}
	return v, nil
}

// Inserir grava novo registro pendente e devolve a linha completa.
func (r *Repository) Inserir(ctx context.Context, v Visitante) (Visitante, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `
		INSERT INTO visitantes (id, nome, motivo, previsao_chegada, unidade, anfitriao_id, otp, status, criado_em)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+visitanteColunas+`
	`, v.ID, strings.TrimSpace(v.Nome), strings.TrimSpace(v.Motivo), v.PrevisaoChegada, strings.TrimSpace(v.Unidade), v.AnfitriaoID, v.OTP, v.Status, v.CriadoEm)
	return scanVisitante(row)
}

// Buscar devolve o registro pelo identificador.
func (r *Repository) Buscar(ctx context.Context, id uuid.UUID) (Visitante, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `
		SELECT `+visitanteColunas+` FROM visitantes WHERE id = $1
	`, id)
	return scanVisitante(row)
}

// ListarTodos devolve todos os registros, mais recentes primeiro.
func (r *Repository) ListarTodos(ctx context.Context) ([]Visitante, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT `+visitanteColunas+` FROM visitantes ORDER BY criado_em DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVisitantes(rows)
}

// ListarPorUnidade devolve os registros da unidade informada.
func (r *Repository) ListarPorUnidade(ctx context.Context, unidade string) ([]Visitante, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT `+visitanteColunas+` FROM visitantes WHERE unidade = $1 ORDER BY criado_em DESC
	`, strings.TrimSpace(unidade))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectVisitantes(rows)
}

// Aprovar efetiva a transição pendente->aprovado. O filtro por status
// garante a monotonicidade mesmo sob corrida: a segunda aprovação não
// encontra linha e devolve errNotFound.
func (r *Repository) Aprovar(ctx context.Context, id, por uuid.UUID, em time.Time) (Visitante, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	row := r.db.QueryRow(ctx, `
		UPDATE visitantes
		SET status = $4, verificado_em = $3, verificado_por = $2
		WHERE id = $1 AND status = $5
		RETURNING `+visitanteColunas+`
	`, id, por, em, StatusAprovado, StatusPendente)
	return scanVisitante(row)
}

func collectVisitantes(rows pgx.Rows) ([]Visitante, error) {
	var lista []Visitante
	for rows.Next() {
		var v Visitante
		if err := rows.Scan(&v.ID, &v.Nome, &v.Motivo, &v.PrevisaoChegada, &v.Unidade, &v.AnfitriaoID, &v.OTP, &v.Status, &v.VerificadoEm, &v.VerificadoPor, &v.CriadoEm); err != nil {
			return nil, err
		}
		lista = append(lista, v)
	}
	return lista, rows.Err()
}
