package storage

// sqlite.go — persistencia local del cliente.
//
// Estrategia:
//   - `hint`: como mucho UNA fila (id = 1). Cuenta y red de la última conexión
//     exitosa, para reconectar en silencio al arrancar. Se borra en cualquier
//     fallo de conexión o desconexión.
//   - `journal`: una fila por acción terminada (confirmada o fallida). Sólo
//     para historial y diagnóstico; el estado del juego siempre sale de la
//     cadena, nunca de aquí.
//   - Prune automático al arrancar: journal > 30d.
//   - Tiempos como unix nanos (INTEGER), sin depender del formato del driver.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
)

const schema = `
-- Pista de reconexión: una sola fila
CREATE TABLE IF NOT EXISTS hint (
    id       INTEGER PRIMARY KEY CHECK (id = 1),
    account  TEXT    NOT NULL,
    chain_id INTEGER NOT NULL,
    saved_at INTEGER NOT NULL
);

-- Resultado de cada acción
CREATE TABLE IF NOT EXISTS journal (
    id          TEXT PRIMARY KEY,
    session_id  TEXT    NOT NULL,
    account     TEXT    NOT NULL,
    action      TEXT    NOT NULL,
    token       INTEGER NOT NULL,
    count       INTEGER NOT NULL DEFAULT 0,
    stage       TEXT    NOT NULL,
    category    TEXT    NOT NULL DEFAULT '',
    tx_hash     TEXT    NOT NULL DEFAULT '',
    finished_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_at      ON journal(finished_at DESC);
CREATE INDEX IF NOT EXISTS idx_journal_account ON journal(account);
`

const (
	retentionJournal = 30 * 24 * time.Hour
	defaultRecent    = 20
)

// SQLiteStorage implementa ports.HintStore y ports.Journal usando SQLite
// (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

var (
	_ ports.HintStore = (*SQLiteStorage)(nil)
	_ ports.Journal   = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveHint reemplaza la pista guardada.
func (s *SQLiteStorage) SaveHint(ctx context.Context, hint domain.ConnectionHint) error {
	savedAt := hint.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO hint (id, account, chain_id, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account  = excluded.account,
			chain_id = excluded.chain_id,
			saved_at = excluded.saved_at
	`, hint.Account.Hex(), hint.ChainID, savedAt.UTC().UnixNano()); err != nil {
		return fmt.Errorf("storage.SaveHint: %w", err)
	}
	return nil
}

// LoadHint devuelve ports.ErrNoHint si no hay pista.
func (s *SQLiteStorage) LoadHint(ctx context.Context) (domain.ConnectionHint, error) {
	var (
		hint    domain.ConnectionHint
		account string
		savedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT account, chain_id, saved_at FROM hint WHERE id = 1`,
	).Scan(&account, &hint.ChainID, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConnectionHint{}, ports.ErrNoHint
	}
	if err != nil {
		return domain.ConnectionHint{}, fmt.Errorf("storage.LoadHint: %w", err)
	}
	if !common.IsHexAddress(account) {
		return domain.ConnectionHint{}, fmt.Errorf("storage.LoadHint: bad account %q", account)
	}
	hint.Account = common.HexToAddress(account)
	hint.SavedAt = time.Unix(0, savedAt).UTC()
	return hint, nil
}

// ClearHint borra la pista. Sin pista no es error.
func (s *SQLiteStorage) ClearHint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM hint`); err != nil {
		return fmt.Errorf("storage.ClearHint: %w", err)
	}
	return nil
}

// RecordOutcome guarda una acción terminada. Reintentar con el mismo ID no
// duplica la fila.
func (s *SQLiteStorage) RecordOutcome(ctx context.Context, e domain.JournalEntry) error {
	finished := e.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO journal
			(id, session_id, account, action, token, count, stage, category, tx_hash, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.SessionID,
		e.Account.Hex(),
		string(e.Action),
		int(e.Token),
		int64(e.Count),
		string(e.Stage),
		string(e.Category),
		e.TxHash,
		finished.UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("storage.RecordOutcome: insert %s: %w", e.ID, err)
	}
	return nil
}

// RecentOutcomes devuelve las últimas acciones, la más reciente primero.
func (s *SQLiteStorage) RecentOutcomes(ctx context.Context, limit int) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = defaultRecent
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, account, action, token, count, stage, category, tx_hash, finished_at
		FROM journal
		ORDER BY finished_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentOutcomes: query: %w", err)
	}
	defer rows.Close()

	var out []domain.JournalEntry
	for rows.Next() {
		var (
			e                      domain.JournalEntry
			account, action, stage string
			category               string
			token                  int
			count, finished        int64
		)
		if err := rows.Scan(
			&e.ID,
			&e.SessionID,
			&account,
			&action,
			&token,
			&count,
			&stage,
			&category,
			&e.TxHash,
			&finished,
		); err != nil {
			return nil, fmt.Errorf("storage.RecentOutcomes: scan row: %w", err)
		}
		e.Account = common.HexToAddress(account)
		e.Action = domain.ActionKind(action)
		e.Token = domain.TokenKind(token)
		e.Count = uint64(count)
		e.Stage = domain.Stage(stage)
		e.Category = domain.ErrorCategory(category)
		e.FinishedAt = time.Unix(0, finished).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld elimina historial antiguo para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionJournal).UnixNano()
	s.db.ExecContext(ctx, `DELETE FROM journal WHERE finished_at < ?`, cutoff)
}
