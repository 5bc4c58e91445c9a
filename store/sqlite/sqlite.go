/*
Package sqlite provides a SQLite-backed implementation of core.TxStore.

PURPOSE:
  Persists contracts, periods, service orders, tickets and invoices in a
  single SQLite file. Used for local runs and the demo server; production
  deployments use store/postgres with the same schema.

KEY TABLES:
  clientes, contratos, contrato_tipos_hora:  Clients, contracts, hour tiers
  contrato_periodos:                         Monthly periods, UNIQUE(contrato_id, mes)
  contrato_periodo_horas_tipo:               Per-tier breakdown written at close
  ordens_servico:                            Service orders
  chamados, chamado_historico:               Tickets and their interactions
  faturas:                                   Invoices
  fechamento_execucoes:                      Rollover audit records

ENCODING:
  Decimals are stored as TEXT (exact). Timestamps are TEXT in a fixed-width
  UTC layout so that string comparison orders them correctly.

CONCURRENCY:
  The pool is limited to one connection. Writers are serialized by SQLite
  anyway, and ":memory:" databases only exist per connection.

USAGE:
  store, err := sqlite.New("./data/servicedesk.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - core/store.go: Interface definitions
  - core/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/servicedesk/core"
)

// timeLayout is RFC 3339 with a fixed nine-digit fraction.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements core.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var _ core.TxStore = (*Store)(nil)

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{queries: queries{q: db}, db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS clientes (
	id TEXT PRIMARY KEY,
	nome TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS contratos (
	id TEXT PRIMARY KEY,
	numero TEXT NOT NULL,
	cliente_id TEXT NOT NULL,
	valor_mensal TEXT NOT NULL,
	horas_inclusas TEXT NOT NULL,
	data_inicio TEXT NOT NULL,
	data_fim TEXT,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contratos_status ON contratos(status);

CREATE TABLE IF NOT EXISTS contrato_tipos_hora (
	id TEXT PRIMARY KEY,
	contrato_id TEXT NOT NULL REFERENCES contratos(id),
	nome TEXT NOT NULL,
	valor_hora_extra TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS contrato_periodos (
	id TEXT PRIMARY KEY,
	contrato_id TEXT NOT NULL REFERENCES contratos(id),
	mes TEXT NOT NULL,
	horas_inclusas TEXT NOT NULL,
	total_horas_usadas TEXT NOT NULL,
	horas_excedentes TEXT NOT NULL,
	total_os INTEGER NOT NULL DEFAULT 0,
	valor_horas_extras TEXT NOT NULL,
	valor_materiais TEXT NOT NULL,
	valor_total TEXT NOT NULL,
	status TEXT NOT NULL,
	fechado_em TEXT,
	aprovado_em TEXT,
	aprovado_por TEXT,
	fatura_id TEXT,
	criado_em TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_periodos_contrato_mes ON contrato_periodos(contrato_id, mes);

CREATE TABLE IF NOT EXISTS contrato_periodo_horas_tipo (
	id TEXT PRIMARY KEY,
	periodo_id TEXT NOT NULL REFERENCES contrato_periodos(id),
	tipo_hora_id TEXT NOT NULL,
	tipo_nome TEXT NOT NULL,
	horas TEXT NOT NULL,
	valor_hora TEXT NOT NULL,
	valor_excedente TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_horas_tipo_periodo ON contrato_periodo_horas_tipo(periodo_id);

CREATE TABLE IF NOT EXISTS ordens_servico (
	id TEXT PRIMARY KEY,
	numero INTEGER NOT NULL,
	cliente_id TEXT NOT NULL,
	chamado_id TEXT,
	contrato_id TEXT,
	tipo_hora_id TEXT,
	tecnico_id TEXT,
	titulo TEXT NOT NULL DEFAULT '',
	horas_trabalhadas TEXT NOT NULL,
	custo_materiais TEXT NOT NULL,
	custo_mao_obra TEXT NOT NULL,
	custo_total TEXT NOT NULL,
	data_inicio TEXT NOT NULL,
	criado_em TEXT NOT NULL,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_os_cliente_inicio ON ordens_servico(cliente_id, data_inicio);
CREATE INDEX IF NOT EXISTS idx_os_tecnico_status ON ordens_servico(tecnico_id, status);

CREATE TABLE IF NOT EXISTS chamados (
	id TEXT PRIMARY KEY,
	numero INTEGER NOT NULL,
	cliente_id TEXT NOT NULL,
	titulo TEXT NOT NULL DEFAULT '',
	prioridade TEXT NOT NULL,
	status TEXT NOT NULL,
	tecnico_id TEXT,
	aberto_em TEXT NOT NULL,
	sla_horas INTEGER
);
CREATE INDEX IF NOT EXISTS idx_chamados_tecnico_status ON chamados(tecnico_id, status);

CREATE TABLE IF NOT EXISTS chamado_historico (
	id TEXT PRIMARY KEY,
	chamado_id TEXT NOT NULL REFERENCES chamados(id),
	autor_id TEXT NOT NULL,
	tipo TEXT NOT NULL,
	mensagem TEXT NOT NULL,
	criado_em TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_historico_chamado_data ON chamado_historico(chamado_id, criado_em);

CREATE TABLE IF NOT EXISTS faturas (
	id TEXT PRIMARY KEY,
	cliente_id TEXT NOT NULL,
	contrato_id TEXT NOT NULL,
	periodo_id TEXT NOT NULL,
	descricao TEXT NOT NULL,
	valor TEXT NOT NULL,
	vencimento TEXT NOT NULL,
	status TEXT NOT NULL,
	criado_em TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_faturas_periodo ON faturas(periodo_id);

CREATE TABLE IF NOT EXISTS fechamento_execucoes (
	id TEXT PRIMARY KEY,
	contrato_id TEXT NOT NULL,
	mes TEXT NOT NULL,
	acao TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	erro TEXT NOT NULL DEFAULT '',
	iniciado_em TEXT NOT NULL,
	concluido_em TEXT
);
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. Reads and writes made
// through the Store passed to fn see the transaction's own writes.
func (s *Store) WithTx(ctx context.Context, fn func(core.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(queries{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"fechamento_execucoes", "faturas", "chamado_historico", "chamados",
		"ordens_servico", "contrato_periodo_horas_tipo", "contrato_periodos",
		"contrato_tipos_hora", "contratos", "clientes",
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

// timeText scans a TEXT timestamp into t.
type timeText struct{ t *time.Time }

func (x timeText) Scan(v any) error {
	str, ok := textValue(v)
	if !ok {
		return fmt.Errorf("cannot scan %T into timestamp", v)
	}
	t, err := time.Parse(timeLayout, str)
	if err != nil {
		return fmt.Errorf("bad timestamp %q: %w", str, err)
	}
	*x.t = t
	return nil
}

// nullTimeText scans a nullable TEXT timestamp; NULL leaves *t nil.
type nullTimeText struct{ t **time.Time }

func (x nullTimeText) Scan(v any) error {
	if v == nil {
		*x.t = nil
		return nil
	}
	var t time.Time
	if err := (timeText{&t}).Scan(v); err != nil {
		return err
	}
	*x.t = &t
	return nil
}

func textValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
