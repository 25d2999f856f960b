package updater

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"tbloader/internal/devicefs"
	"tbloader/internal/identity"
	"tbloader/internal/logging"
	"tbloader/internal/services"
)

// Session is what every strategy step sees: the options plus the shared
// state.
type Session struct {
	Options
	State *SessionState

	logger *slog.Logger
	now    time.Time
}

// Logger returns the session logger, tagged with the current step.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Now is the session timestamp. It is fixed when the session starts so that
// every artifact of one session carries the same time.
func (s *Session) Now() time.Time { return s.now }

func (s *Session) detail(line string) { s.Progress.Detail(line) }

func (s *Session) log(line string) {
	s.Progress.Log(line)
	s.logger.Info(line)
}

func (s *Session) ioError(op, msg string, err error) error {
	return services.Wrap(services.ErrIO, "updater", op, msg, err)
}

// writeText replaces p on fsys with content.
func (s *Session) writeText(fsys devicefs.FS, p, content string) error {
	n, err := fsys.CreateFile(p, strings.NewReader(content), true)
	if err != nil {
		return s.ioError("write", p, err)
	}
	s.State.addFiles(1)
	s.State.addBytes(n)
	return nil
}

// writeDevice replaces p on the device with content.
func (s *Session) writeDevice(p, content string) error {
	return s.writeText(s.Device, p, content)
}

func (s *Session) writeProperties(fsys devicefs.FS, p string, props *identity.Properties, comment string) error {
	var buf bytes.Buffer
	if err := props.Write(&buf, comment, s.now); err != nil {
		return s.ioError("write", p, err)
	}
	return s.writeText(fsys, p, buf.String())
}

func (s *Session) mkdir(p string) error {
	if err := s.Device.MkdirAll(p); err != nil {
		return s.ioError("mkdir", p, err)
	}
	return nil
}

// remove deletes p from the device. Missing paths are not an error.
func (s *Session) remove(p string, recursive bool) error {
	if !s.Device.Exists(p) {
		return nil
	}
	s.detail(p)
	n, err := s.Device.Delete(p, recursive)
	if err != nil {
		return s.ioError("delete", p, err)
	}
	s.State.addFiles(n)
	return nil
}

// clearDir deletes the contents of p on the device and keeps p.
func (s *Session) clearDir(p string) error {
	n, err := devicefs.DeleteContents(s.Device, p)
	if err != nil {
		return s.ioError("delete", p, err)
	}
	s.State.addFiles(n)
	return nil
}

// copyTree copies with progress details and step accounting.
func (s *Session) copyTree(ctx context.Context, src devicefs.FS, sp string, dst devicefs.FS, dp string, opts devicefs.CopyOptions) error {
	inner := opts.Progress
	opts.Progress = func(from, to string, n int64) {
		s.detail(from)
		if inner != nil {
			inner(from, to, n)
		}
	}
	stats, err := devicefs.CopyTree(ctx, src, sp, dst, dp, opts)
	s.State.addCopy(stats)
	if err != nil {
		return s.ioError("copy", sp, err)
	}
	return nil
}

func (s *Session) copyFile(ctx context.Context, src devicefs.FS, sp string, dst devicefs.FS, dp string) error {
	n, err := devicefs.CopyFile(ctx, src, sp, dst, dp, true)
	if err != nil {
		return s.ioError("copy", sp, err)
	}
	s.detail(sp)
	s.State.addFiles(1)
	s.State.addBytes(n)
	return nil
}

// namesIn lists the direct children of dir on the device accepted by keep.
func (s *Session) namesIn(dir string, keep func(name string, isDir bool) bool) []string {
	return devicefs.ListNames(s.Device, dir, func(e devicefs.Entry) bool {
		return keep(e.Name, e.IsDir)
	})
}

func (s *Session) warn(msg, eventType string, err error, impact string) {
	details := services.Details(err)
	logging.WarnWithContext(s.logger, msg, eventType,
		logging.Error(err),
		logging.String(logging.FieldErrorKind, details.Kind),
		logging.Hint(details.Hint),
		logging.Impact(impact),
	)
}

// project is the project collected data is filed under: the device's
// previous project, else the one being deployed.
func (s *Session) project() string {
	p := s.State.Previous.Project
	if p == "" || strings.EqualFold(p, identity.Unknown) {
		if s.State.Next.Project != "" {
			return s.State.Next.Project
		}
		return identity.Unknown
	}
	return p
}

// serial is the serial collected data is filed under: the one the device
// carried, or the one just assigned to it.
func (s *Session) serial() string {
	if sn := s.State.Previous.SerialNumber; sn != "" && sn != identity.NeedSerialNumber {
		return sn
	}
	if s.State.Next.SerialNumber != "" && s.State.Next.SerialNumber != identity.NeedSerialNumber {
		return s.State.Next.SerialNumber
	}
	return identity.Unknown
}
