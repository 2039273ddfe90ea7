// Package backends opens storage backends from agent configuration.
package backends

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codeaudit/cougaar-core-sub004/internal/config"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/buffered"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/file"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/kv"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/null"
	"github.com/codeaudit/cougaar-core-sub004/internal/storage/sqldb"
)

// Open creates the backend described by bc. opts carries the agent, the
// archive flag, lock timings and the logger; its Name is taken from bc.
// reg, when non-nil, receives the collectors of backends that have any.
func Open(ctx context.Context, bc config.BackendConfig, opts storage.Options, reg prometheus.Registerer) (storage.Backend, error) {
	opts.Name = bc.DisplayName()

	switch bc.Type {
	case config.BackendFile:
		return file.New(file.Config{Options: opts, Root: bc.Path})

	case config.BackendBuffered:
		return buffered.New(buffered.Config{
			Config:      file.Config{Options: opts, Root: bc.Path},
			BufferSize:  bc.BufferSize,
			BufferCount: bc.BufferCount,
		})

	case config.BackendSQL:
		return sqldb.New(ctx, sqldb.Config{Options: opts, DSN: bc.DSN, Table: bc.Table})

	case config.BackendKV:
		b, err := kv.New(kv.Config{Options: opts, Store: kv.DefaultStoreConfig(bc.Path)})
		if err != nil {
			return nil, err
		}
		if reg != nil {
			if err := b.Store().RegisterMetrics(reg); err != nil {
				b.Close()
				return nil, fmt.Errorf("backends: register kv metrics: %w", err)
			}
		}
		return b, nil

	case config.BackendNull:
		return null.New(opts.Name), nil

	default:
		return nil, fmt.Errorf("backends: unknown backend type %q", bc.Type)
	}
}

// OpenAll opens every configured backend. On error the ones already opened
// are closed.
func OpenAll(ctx context.Context, cfg config.PersistenceSection, opts storage.Options, reg prometheus.Registerer) ([]storage.Backend, error) {
	opts.DisableArchive = cfg.DisableArchive
	if cfg.OwnershipTimeout > 0 {
		opts.LockTimeout = cfg.OwnershipTimeout
	}

	out := make([]storage.Backend, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		b, err := Open(ctx, bc, opts, reg)
		if err != nil {
			for _, o := range out {
				o.Close()
			}
			return nil, fmt.Errorf("backend %s: %w", bc.DisplayName(), err)
		}
		out = append(out, b)
	}
	return out, nil
}
