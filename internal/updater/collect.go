package updater

import (
	"context"
	"io"

	"tbloader/internal/devicefs"
	"tbloader/internal/logging"
	"tbloader/internal/oplog"
	"tbloader/internal/services"
)

// collect archives everything gathered during the session and writes the
// operation logs. It runs even when earlier steps failed so that whatever
// was salvaged is kept.
func (e *Engine) collect(ctx context.Context, s *Session, action string) error {
	st := s.State
	if st.DataDir == "" {
		return services.Wrap(services.ErrIO, "updater", "collect", "session never reached the device", nil)
	}

	props := collectionProperties(s)
	props.Set(propAction, action)
	if err := s.writeText(s.Temp, st.DataDir+"/"+statsCollectedFile, crlfProperties(props)); err != nil {
		return err
	}

	zipPath := e.strategy.CollectedZipPath(s)
	if err := e.archive(ctx, s, zipPath); err != nil {
		return err
	}
	st.ZipPath = zipPath
	s.log("Saved " + zipPath)

	op := oplog.Operation{
		Action:      action,
		Timestamp:   s.now,
		Duration:    e.opts.Clock().Sub(st.Started),
		StatsOnly:   s.StatsOnly,
		Previous:    st.Previous,
		New:         st.Next,
		DiskLabel:   st.Before.DiskLabel,
		Corrupted:   st.HadCorruption,
		UserName:    s.UserName,
		UserEmail:   s.UserEmail,
		Location:    s.Location,
		Coordinates: s.Coordinates,
		StatsUUID:   st.StatsUUID,
		Flash:       st.Flash,
	}
	records, err := e.oplog.Log(ctx, op)
	if err != nil {
		return err
	}
	s.logger.Info("operation logged",
		logging.String(logging.FieldEventType, "operation_logged"),
		logging.String("action", action),
		logging.Int("records", len(records)),
	)
	return nil
}

// archive streams the session work dir from Temp into a zip on Collected.
func (e *Engine) archive(ctx context.Context, s *Session, zipPath string) error {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		stats, err := devicefs.ZipTree(ctx, s.Temp, s.State.WorkDir, pw)
		s.State.addFiles(stats.Files)
		pw.CloseWithError(err)
		done <- err
	}()
	n, err := s.Collected.CreateFile(zipPath, pr, false)
	_ = pr.CloseWithError(err)
	if zipErr := <-done; zipErr != nil && err == nil {
		err = zipErr
	}
	if err != nil {
		return services.Wrap(services.ErrIO, "updater", "archive", "write "+zipPath, err)
	}
	s.State.addBytes(n)
	return nil
}
