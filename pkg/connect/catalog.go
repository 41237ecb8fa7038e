package connect

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-pkgz/syncs"

	"github.com/umputun/tablecrow/pkg/table"
)

// Tables lists names of existing tables in the connected database, sorted
func Tables(ctx context.Context, conn *Connection) ([]string, error) {
	res, err := conn.Dialect().Tables(ctx, conn.DB())
	if err != nil {
		return nil, fmt.Errorf("can't list tables of %s: %w", conn.Location(), conn.Dialect().Classify(err))
	}
	return res, nil
}

// OpenTable connects and opens a single table, the table owns the connection
func OpenTable(ctx context.Context, opts Options, def table.Options) (*table.Table, error) {
	conn, err := Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	if def.Logger == nil {
		def.Logger = opts.Logger
	}
	res, err := table.New(ctx, conn, def)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return res, nil
}

// OpenTables opens tables concurrently, each over its own connection. Result keeps the order of defs.
// On any failure all opened tables are closed and the aggregated error returned.
func OpenTables(ctx context.Context, opts Options, defs []table.Options, concurrency int) ([]*table.Table, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	res := make([]*table.Table, len(defs))
	var lock sync.Mutex

	wg := syncs.NewErrSizedGroup(concurrency, syncs.Context(ctx))
	for i, def := range defs {
		wg.Go(func() error {
			tbl, err := OpenTable(ctx, opts, def)
			if err != nil {
				return fmt.Errorf("can't open table %s: %w", def.Name, err)
			}
			lock.Lock()
			res[i] = tbl
			lock.Unlock()
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		for _, tbl := range res {
			if tbl != nil {
				_ = tbl.Close()
			}
		}
		return nil, err
	}
	return res, nil
}
