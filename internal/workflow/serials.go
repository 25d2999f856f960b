package workflow

import (
	"context"

	"tbloader/internal/metrics"
	"tbloader/internal/srn"
)

// meteredSerials reports every issued serial and the remaining count.
type meteredSerials struct {
	manager *srn.Manager
	metrics *metrics.Metrics
}

func (s meteredSerials) Next(ctx context.Context) (string, error) {
	sn, err := s.manager.Next(ctx)
	if err != nil {
		return "", err
	}
	if s.metrics != nil {
		if snap, err := s.manager.Snapshot(ctx); err == nil {
			s.metrics.SerialIssued(snap.Available())
		}
	}
	return sn, nil
}

var _ srn.Source = meteredSerials{}
