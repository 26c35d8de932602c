package ports

import (
	"context"
	"errors"

	"github.com/alejandrodnm/hilo/internal/domain"
)

// ErrNoHint se devuelve cuando no hay una conexión previa guardada.
var ErrNoHint = errors.New("no connection hint saved")

// HintStore persiste la pista de conexión usada para reconectar en silencio.
type HintStore interface {
	SaveHint(ctx context.Context, hint domain.ConnectionHint) error

	// LoadHint devuelve ErrNoHint si no hay nada guardado.
	LoadHint(ctx context.Context) (domain.ConnectionHint, error)

	ClearHint(ctx context.Context) error
}

// Journal registra el resultado de cada acción del usuario.
type Journal interface {
	RecordOutcome(ctx context.Context, entry domain.JournalEntry) error
	RecentOutcomes(ctx context.Context, limit int) ([]domain.JournalEntry, error)
}
