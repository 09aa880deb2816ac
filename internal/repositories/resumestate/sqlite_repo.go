package resumestate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/dbx"
	"github.com/dmitrijs2005/uploadkeeper/internal/models"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectState = `select content_hash, source_ref, file_size, chunk_size, chunk_count, status,
	progress, remote_file_id, last_updated, error_count from resume_states`

func (r *SQLiteRepository) Load(ctx context.Context, hash string) (*models.ResumeRecord, error) {
	var rec *models.ResumeRecord

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		row := tx.QueryRowContext(ctx, selectState+` where content_hash=?`, hash)

		var err error
		rec, err = scanState(row)
		if errors.Is(err, sql.ErrNoRows) {
			rec = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select resume state: %w", err)
		}

		chunks, err := loadChunks(ctx, tx, `where content_hash=?`, hash)
		if err != nil {
			return err
		}
		rec.UploadedChunks = chunks[hash]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, rec *models.ResumeRecord) error {
	if rec == nil || rec.ContentHash == "" {
		return errors.New("resume record without content hash")
	}

	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `insert into resume_states (content_hash, source_ref, file_size, chunk_size, chunk_count,
				status, progress, remote_file_id, last_updated, error_count)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			on conflict(content_hash) do update set source_ref = excluded.source_ref,
				file_size = excluded.file_size,
				chunk_size = excluded.chunk_size,
				chunk_count = excluded.chunk_count,
				status = excluded.status,
				progress = excluded.progress,
				remote_file_id = excluded.remote_file_id,
				last_updated = excluded.last_updated,
				error_count = excluded.error_count`

		_, err := tx.ExecContext(ctx, query, rec.ContentHash, rec.SourceRef, rec.FileSize, rec.ChunkSize,
			rec.ChunkCount, string(rec.Status), rec.Progress, rec.RemoteFileID, rec.LastUpdated.UnixNano(), rec.ErrorCount)
		if err != nil {
			return fmt.Errorf("failed to upsert resume state: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `delete from resume_chunks where content_hash=?`, rec.ContentHash); err != nil {
			return fmt.Errorf("failed to clear uploaded chunks: %w", err)
		}

		for _, idx := range rec.UploadedChunks {
			_, err := tx.ExecContext(ctx, `insert into resume_chunks (content_hash, chunk_index) values (?, ?)`, rec.ContentHash, idx)
			if err != nil {
				return fmt.Errorf("failed to insert uploaded chunk %d: %w", idx, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) Delete(ctx context.Context, hash string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `delete from resume_chunks where content_hash=?`, hash); err != nil {
			return fmt.Errorf("failed to delete uploaded chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `delete from resume_states where content_hash=?`, hash); err != nil {
			return fmt.Errorf("failed to delete resume state: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.ResumeRecord, error) {
	var result []*models.ResumeRecord

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rows, err := tx.QueryContext(ctx, selectState+` order by content_hash`)
		if err != nil {
			return fmt.Errorf("error selecting resume states: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanState(rows)
			if err != nil {
				return err
			}
			result = append(result, rec)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		chunks, err := loadChunks(ctx, tx, "")
		if err != nil {
			return err
		}
		for _, rec := range result {
			rec.UploadedChunks = chunks[rec.ContentHash]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(s scanner) (*models.ResumeRecord, error) {
	rec := &models.ResumeRecord{}
	var status string
	var updated int64

	err := s.Scan(&rec.ContentHash, &rec.SourceRef, &rec.FileSize, &rec.ChunkSize, &rec.ChunkCount,
		&status, &rec.Progress, &rec.RemoteFileID, &updated, &rec.ErrorCount)
	if err != nil {
		return nil, err
	}

	rec.Status = models.Status(status)
	rec.LastUpdated = time.Unix(0, updated).UTC()
	return rec, nil
}

// loadChunks returns uploaded chunk indices grouped by content hash, each
// group in ascending order.
func loadChunks(ctx context.Context, db dbx.DBTX, where string, args ...any) (map[string][]int, error) {
	rows, err := db.QueryContext(ctx, `select content_hash, chunk_index from resume_chunks `+where+` order by content_hash, chunk_index`, args...)
	if err != nil {
		return nil, fmt.Errorf("error selecting uploaded chunks: %w", err)
	}
	defer rows.Close()

	out := map[string][]int{}
	for rows.Next() {
		var hash string
		var idx int
		if err := rows.Scan(&hash, &idx); err != nil {
			return nil, err
		}
		out[hash] = append(out[hash], idx)
	}
	return out, rows.Err()
}
