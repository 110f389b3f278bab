package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitbot/internal/models"
)

const fileColumns = `id, file_id, archive_message_id, uploader_id, mime, size,
	related_type, related_id, uploaded_at`

// CreateFileRef stores a pointer to an archived attachment.
func (s *SQLiteStore) CreateFileRef(ctx context.Context, ref *models.FileRef) error {
	if ref.ID == "" {
		ref.ID = uuid.New().String()
	}
	if ref.UploadedAt == 0 {
		ref.UploadedAt = time.Now().Unix()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.FileID, ref.ArchiveMessageID, ref.UploaderID, ref.MIME, ref.Size,
		string(ref.Relation.Kind), ref.Relation.ID, ref.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert file ref: %w", err)
	}
	return nil
}

// ListFileRefs returns the files owned by rel in upload order.
func (s *SQLiteStore) ListFileRefs(ctx context.Context, rel models.Relation) ([]*models.FileRef, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE related_type = ? AND related_id = ? ORDER BY uploaded_at, rowid",
		string(rel.Kind), rel.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list file refs: %w", err)
	}
	defer rows.Close()

	var refs []*models.FileRef
	for rows.Next() {
		ref, err := scanFileRef(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file refs: %w", err)
	}
	return refs, nil
}

// DeleteFileRef removes a file reference. Missing references are not an error.
func (s *SQLiteStore) DeleteFileRef(ctx context.Context, refID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", refID); err != nil {
		return fmt.Errorf("failed to delete file ref: %w", err)
	}
	return nil
}

// RelinkFiles repoints every file owned by from to to.
func (s *SQLiteStore) RelinkFiles(ctx context.Context, from, to models.Relation) (int, error) {
	return relinkFiles(ctx, s.db, from, to)
}

func relinkFiles(ctx context.Context, q querier, from, to models.Relation) (int, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE files SET related_type = ?, related_id = ? WHERE related_type = ? AND related_id = ?",
		string(to.Kind), to.ID, string(from.Kind), from.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to relink files: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count relinked files: %w", err)
	}
	return int(n), nil
}

func scanFileRef(row rowScanner) (*models.FileRef, error) {
	var (
		ref  models.FileRef
		kind string
	)
	if err := row.Scan(&ref.ID, &ref.FileID, &ref.ArchiveMessageID, &ref.UploaderID, &ref.MIME, &ref.Size,
		&kind, &ref.Relation.ID, &ref.UploadedAt); err != nil {
		return nil, err
	}
	ref.Relation.Kind = models.RelationKind(kind)
	return &ref, nil
}
