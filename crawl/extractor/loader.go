package extractor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/nci/vegindex/provider"
)

const stagingTable = "scenes_load"

var archiveColumns = []string{"scene_id", "acquired", "cloud_cover", "platform", "min_lon", "min_lat", "max_lon", "max_lat", "assets"}

func stagingQuery(table string) string {
	return fmt.Sprintf("create temp table %s (like %s including defaults) on commit drop",
		pq.QuoteIdentifier(stagingTable), pq.QuoteIdentifier(table))
}

// upsertQuery merges the staging rows into table. The last record wins
// when a scene is seen twice.
func upsertQuery(table string) string {
	cols := strings.Join(archiveColumns, ", ")
	var updates []string
	for _, c := range archiveColumns[1:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf(`insert into %s (%s)
		select distinct on (scene_id) %s from %s order by scene_id, acquired desc
		on conflict (scene_id) do update set %s`,
		pq.QuoteIdentifier(table), cols, cols, pq.QuoteIdentifier(stagingTable), strings.Join(updates, ", "))
}

// Loader batches scene records into the archive table with COPY.
type Loader struct {
	DB        *sql.DB
	Table     string
	BatchSize int
	Loaded    int

	pending []*SceneRecord
}

func NewLoader(db *sql.DB, table string, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Loader{DB: db, Table: table, BatchSize: batchSize}
}

func (l *Loader) EnsureSchema(ctx context.Context) error {
	_, err := l.DB.ExecContext(ctx, fmt.Sprintf(provider.ArchiveSchema, pq.QuoteIdentifier(l.Table)))
	return err
}

func (l *Loader) Add(ctx context.Context, rec *SceneRecord) error {
	l.pending = append(l.pending, rec)
	if len(l.pending) >= l.BatchSize {
		return l.Flush(ctx)
	}
	return nil
}

func (l *Loader) Flush(ctx context.Context) error {
	if len(l.pending) == 0 {
		return nil
	}

	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stagingQuery(l.Table)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(stagingTable, archiveColumns...))
	if err != nil {
		return err
	}
	for _, rec := range l.pending {
		assets, err := json.Marshal(rec.Assets)
		if err != nil {
			stmt.Close()
			return err
		}
		_, err = stmt.ExecContext(ctx, rec.SceneID, rec.Acquired, rec.CloudCover, rec.Platform,
			rec.BBox[0], rec.BBox[1], rec.BBox[2], rec.BBox[3], string(assets))
		if err != nil {
			stmt.Close()
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, upsertQuery(l.Table)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	l.Loaded += len(l.pending)
	l.pending = l.pending[:0]
	return nil
}
