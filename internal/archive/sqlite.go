package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
)

// fixed width so created_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository stores records in the extractions table.
type SQLiteRepository struct {
	db     *sql.DB
	logger logger.Logger
}

// NewSQLiteRepository opens path, or an in-memory database for ":memory:".
func NewSQLiteRepository(path string, log logger.Logger) (*SQLiteRepository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps :memory: a single database
	db.SetMaxOpenConns(1)

	repo := &SQLiteRepository{db: db, logger: log}
	if err := repo.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return repo, nil
}

func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS extractions (
		id TEXT PRIMARY KEY,
		image_data TEXT NOT NULL,
		extracted_text TEXT NOT NULL,
		latency INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_extractions_created_at ON extractions(created_at);
	`
	_, err := r.db.Exec(schema)
	return err
}

func (r *SQLiteRepository) Create(ctx context.Context, rec models.ArchiveRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO extractions (id, image_data, extracted_text, latency, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.ImageData, rec.ExtractedText, rec.Latency, rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert extraction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.ArchiveRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, image_data, extracted_text, latency, created_at FROM extractions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query extractions: %w", err)
	}
	defer rows.Close()

	records := []models.ArchiveRecord{}
	for rows.Next() {
		var rec models.ArchiveRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.ImageData, &rec.ExtractedText, &rec.Latency, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan extraction: %w", err)
		}
		if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			r.logger.Warn("Unparseable created_at", logger.String("id", rec.ID), logger.Error(err))
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM extractions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete extraction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM extractions WHERE created_at < ?`, before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune extractions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
