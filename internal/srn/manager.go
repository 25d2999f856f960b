package srn

import (
	"context"
	"log/slog"
	"sync"

	"tbloader/internal/logging"
	"tbloader/internal/services"
)

// DefaultBlockSize is the number of serials requested per block.
const DefaultBlockSize = 512

// Persister stores the allocator of one loader.
type Persister interface {
	LoadAllocation(ctx context.Context, loaderID string) (Allocator, bool, error)
	SaveAllocation(ctx context.Context, loaderID string, a Allocator) error
}

// Source issues serial numbers to update sessions.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// Manager combines an Allocator with persistence and the reservation service.
// It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	loaderID  string
	blockSize int
	alloc     Allocator
	loaded    bool
	persister Persister
	reserver  Reserver
	logger    *slog.Logger
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	LoaderID  string
	BlockSize int
	Persister Persister
	// Reserver may be nil when working offline.
	Reserver Reserver
	Logger   *slog.Logger
}

// NewManager returns a Manager; the allocator is loaded on first use.
func NewManager(opts ManagerOptions) *Manager {
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		loaderID:  opts.LoaderID,
		blockSize: blockSize,
		persister: opts.Persister,
		reserver:  opts.Reserver,
		logger:    logging.NewComponentLogger(logger, "srn"),
	}
}

func (m *Manager) loadLocked(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	if m.persister != nil {
		a, ok, err := m.persister.LoadAllocation(ctx, m.loaderID)
		if err != nil {
			return err
		}
		if ok && a.Valid() {
			m.alloc = a
		} else if ok {
			m.logger.Warn("discarding inconsistent serial number allocation",
				logging.Int("next", a.Next),
				logging.Int("primary_begin", a.PrimaryBegin),
				logging.Int("primary_end", a.PrimaryEnd),
			)
		}
	}
	m.loaded = true
	return nil
}

func (m *Manager) saveLocked(ctx context.Context) error {
	if m.persister == nil {
		return nil
	}
	return m.persister.SaveAllocation(ctx, m.loaderID, m.alloc)
}

// Snapshot returns a copy of the current allocator.
func (m *Manager) Snapshot(ctx context.Context) (Allocator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return Allocator{}, err
	}
	return m.alloc, nil
}

// Prepare tops up the allocator while a network is available: it reserves
// two blocks when nothing is left and one block when the backup is empty.
func (m *Manager) Prepare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return err
	}
	if m.alloc.HasNext() && m.alloc.HasBackup() {
		return nil
	}
	return m.refillLocked(ctx)
}

func (m *Manager) refillLocked(ctx context.Context) error {
	if m.reserver == nil {
		return services.Wrap(services.ErrAllocationExhausted, "srn", "refill", "no reservation service configured", nil)
	}
	blocks := 1
	if m.alloc.PrimaryBegin == 0 {
		blocks = 2
	}
	res, err := m.reserver.Reserve(ctx, blocks*m.blockSize)
	if err != nil {
		return err
	}
	if !m.alloc.ApplyReservation(res.LoaderID, res.LoaderHexID, res.Begin, res.End) {
		return services.Wrap(services.ErrExternalTool, "srn", "refill", "malformed reservation", nil)
	}
	m.logger.Info("serial number block reserved",
		logging.String("loader_hex_id", res.LoaderHexID),
		logging.Int("begin", res.Begin),
		logging.Int("end", res.End),
		logging.Int("available", m.alloc.Available()),
	)
	return m.saveLocked(ctx)
}

// Next issues one serial number. The allocator is persisted before the
// serial is returned. When the primary block is empty a refill is attempted
// first; if that fails and nothing is left, ErrAllocationExhausted is returned.
func (m *Manager) Next(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(ctx); err != nil {
		return "", err
	}
	if !m.alloc.HasNext() || !m.alloc.HasBackup() {
		if err := m.refillLocked(ctx); err != nil {
			if !m.alloc.HasNext() {
				return "", services.Wrap(services.ErrAllocationExhausted, "srn", "next", "no serial numbers left", err)
			}
			logging.WarnWithContext(m.logger, "serial number refill failed; using remaining block", "srn_refill_failed",
				logging.Hint("reserve more serial numbers while online"),
				logging.Error(err),
			)
		}
	}
	n := m.alloc.AllocateNext()
	if n == 0 {
		return "", services.Wrap(services.ErrAllocationExhausted, "srn", "next", "no serial numbers left", nil)
	}
	if err := m.saveLocked(ctx); err != nil {
		return "", err
	}
	sn := m.alloc.Format(n)
	m.logger.Info("serial number allocated", logging.Serial(sn), logging.Int("remaining", m.alloc.Available()))
	return sn, nil
}
