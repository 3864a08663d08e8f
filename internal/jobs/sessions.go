package jobs

import (
	"context"
	"log/slog"

	"github.com/veriflow-io/veriflow/internal/engine"
	"github.com/veriflow-io/veriflow/internal/incident"
	"github.com/veriflow-io/veriflow/internal/storage"
)

// NewSessionFactory builds the production session factory. Every job opens
// its own single-connection database session so long-running sensor queries
// never contend with the foreground HTTP pool, and closes it on job exit.
func NewSessionFactory(cfg *storage.Config, notifier incident.Notifier, logger *slog.Logger) SessionFactory {
	return func(ctx context.Context) (*Session, error) {
		conn, err := storage.NewSingletonConnection(cfg)
		if err != nil {
			return nil, err
		}

		cipher, err := storage.NewConfigCipher(cfg.EncryptionKeyHex())
		if err != nil {
			conn.Close()
			return nil, err
		}

		connections, err := storage.NewConnectionStore(conn, cipher)
		if err != nil {
			conn.Close()
			return nil, err
		}

		checkStore, err := storage.NewCheckStore(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}

		jobStore, err := storage.NewJobStore(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}

		// No sweeper in job sessions; the foreground store owns retention.
		resultStore, err := storage.NewResultStore(conn, 0, 0)
		if err != nil {
			conn.Close()
			return nil, err
		}

		incidentStore, err := storage.NewIncidentStore(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}

		return &Session{
			Jobs:      jobStore,
			Checks:    checkStore,
			Executor:  engine.New(connections, resultStore, logger),
			Results:   resultStore,
			Incidents: incident.NewManager(incidentStore, notifier, logger),
			close:     conn.Close,
		}, nil
	}
}
