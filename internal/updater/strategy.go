package updater

import (
	"context"

	"tbloader/internal/identity"
)

// Strategy is the generation specific half of a session. The Engine owns
// the step order; a Strategy only knows how each step touches the device.
// The set of implementations is closed.
type Strategy interface {
	Version() identity.Version

	GatherDeviceFiles(ctx context.Context, s *Session) error
	GatherUserRecordings(ctx context.Context, s *Session) error
	ClearStatistics(ctx context.Context, s *Session) error
	ClearUserRecordings(ctx context.Context, s *Session) error
	ClearFeedbackCategories(ctx context.Context, s *Session) error
	ReformatRelabel(ctx context.Context, s *Session) error
	ClearSystemFiles(ctx context.Context, s *Session) error
	UpdateSystemFiles(ctx context.Context, s *Session) error
	UpdateSystemTime(ctx context.Context, s *Session) error
	UpdateContent(ctx context.Context, s *Session) error
	UpdateCommunity(ctx context.Context, s *Session) error
	Verify(ctx context.Context, s *Session) (bool, error)
	ForceFirmwareRefresh(ctx context.Context, s *Session) error

	// DiskLabel is the volume label the device should carry after the update.
	DiskLabel(next identity.Descriptor) string
	// CollectedZipPath and RecordingsDir locate collected data relative to
	// the collected-data root.
	CollectedZipPath(s *Session) string
	RecordingsDir(s *Session) string

	sealed()
}

// StrategyFor returns the strategy of a device generation.
func StrategyFor(v identity.Version) (Strategy, bool) {
	switch v {
	case identity.Gen1:
		return gen1{}, true
	case identity.Gen2:
		return gen2{}, true
	default:
		return nil, false
	}
}
