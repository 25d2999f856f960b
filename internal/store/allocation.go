package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tbloader/internal/srn"
)

// LoadAllocation returns the persisted serial allocation for loaderID. The
// boolean is false when none has been saved.
func (s *Store) LoadAllocation(ctx context.Context, loaderID string) (srn.Allocator, bool, error) {
	ctx = ensureContext(ctx)
	var a srn.Allocator
	var row *sql.Row
	err := retryOnBusy(ctx, func() error {
		row = s.db.QueryRowContext(ctx, `SELECT tbloaderid, tbloaderidhex, nextsrn, primarybegin, primaryend, backupbegin, backupend
			FROM srn_allocation WHERE loader_id = ?`, loaderID)
		return row.Scan(&a.LoaderID, &a.LoaderHexID, &a.Next, &a.PrimaryBegin, &a.PrimaryEnd, &a.BackupBegin, &a.BackupEnd)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return srn.Allocator{}, false, nil
	}
	if err != nil {
		return srn.Allocator{}, false, fmt.Errorf("load srn allocation: %w", err)
	}
	return a, true, nil
}

// SaveAllocation replaces the persisted serial allocation for loaderID.
func (s *Store) SaveAllocation(ctx context.Context, loaderID string, a srn.Allocator) error {
	err := s.execWithoutResultRetry(ctx, `INSERT INTO srn_allocation
		(loader_id, tbloaderid, tbloaderidhex, nextsrn, primarybegin, primaryend, backupbegin, backupend, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(loader_id) DO UPDATE SET
			tbloaderid = excluded.tbloaderid,
			tbloaderidhex = excluded.tbloaderidhex,
			nextsrn = excluded.nextsrn,
			primarybegin = excluded.primarybegin,
			primaryend = excluded.primaryend,
			backupbegin = excluded.backupbegin,
			backupend = excluded.backupend,
			updated_at = excluded.updated_at`,
		loaderID, a.LoaderID, a.LoaderHexID, a.Next, a.PrimaryBegin, a.PrimaryEnd, a.BackupBegin, a.BackupEnd,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save srn allocation: %w", err)
	}
	return nil
}

var _ srn.Persister = (*Store)(nil)
