package identity

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"tbloader/internal/devicefs"
	"tbloader/internal/flashstats"
	"tbloader/internal/logging"
)

const (
	SystemDir      = "system"
	PropertiesFile = "deployment.properties"
	LastUpdated    = "last_updated.txt"
)

// DeviceIdentity is everything known about a device before it is updated.
type DeviceIdentity struct {
	SerialNumber   string
	Project        string
	Deployment     string
	Packages       []string
	Firmware       string
	Community      string
	RecipientID    string
	DeploymentUUID string
	TBCDID         string
	UserName       string
	NeedsNewSerial bool
	TestDeployment bool
	Coordinates    string
	Version        Version
	SynchDir       string
	// LastUpdated is "y/m/d" from flash or the synch dir, else Unknown.
	LastUpdated string
	DiskLabel   string
	Corrupted   bool
}

// PackageList joins the package names the way logs and properties store them.
func (d DeviceIdentity) PackageList() string {
	return strings.Join(d.Packages, ",")
}

// Options tune a Resolver.
type Options struct {
	// SerialPrefix is the legacy serial prefix accepted from flash.
	SerialPrefix string
	// Label is the volume label reported by the OS, if known.
	Label string
	// Version skips detection when not VersionUnknown.
	Version Version
	Logger  *slog.Logger
}

type memo[T any] struct {
	once  sync.Once
	value T
}

func (m *memo[T]) get(fn func() T) T {
	m.once.Do(func() { m.value = fn() })
	return m.value
}

// Resolver derives identity fields from a device snapshot on first use and
// remembers them.
type Resolver struct {
	fs     devicefs.FS
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	corrupted bool

	version     memo[Version]
	props       memo[*Properties]
	flash       memo[*flashstats.Stats]
	serial      memo[serialResult]
	project     memo[string]
	deployment  memo[string]
	packages    memo[[]string]
	community   memo[string]
	firmware    memo[string]
	synchDir    memo[string]
	lastUpdated memo[string]
}

type serialResult struct {
	value    string
	needsNew bool
	source   string
}

// Resolve returns a Resolver over fsys. Nothing is read until a field is asked for.
func Resolve(fsys devicefs.FS, opts Options) *Resolver {
	if opts.SerialPrefix == "" {
		opts.SerialPrefix = DefaultSerialPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		fs:     fsys,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "identity").With(logging.Device(fsys.Root())),
	}
}

// FS returns the device filesystem the resolver reads.
func (r *Resolver) FS() devicefs.FS { return r.fs }

// Version returns the detected device generation.
func (r *Resolver) Version() Version {
	return r.version.get(func() Version {
		if r.opts.Version != VersionUnknown {
			return r.opts.Version
		}
		return DetectVersion(r.fs)
	})
}

// Properties returns system/deployment.properties, empty when missing or unreadable.
func (r *Resolver) Properties() *Properties {
	return r.props.get(func() *Properties {
		p, ok := devicefs.FindFold(r.fs, SystemDir, PropertiesFile)
		if !ok {
			return NewProperties()
		}
		rc, err := r.fs.Open(p)
		if err != nil {
			r.logger.Warn("deployment properties unreadable", logging.Error(err))
			return NewProperties()
		}
		defer rc.Close()
		props, err := ParseProperties(rc)
		if err != nil {
			r.logger.Warn("deployment properties unparseable", logging.Error(err))
			return NewProperties()
		}
		return props
	})
}

// Flash returns the decoded statistics blob of a first generation device.
// ok is false when the blob is missing, corrupt, or not present.
func (r *Resolver) Flash() (*flashstats.Stats, bool) {
	stats := r.flash.get(func() *flashstats.Stats {
		if r.Version() == Gen2 {
			return nil
		}
		for _, p := range flashstats.Paths {
			if !r.fs.Exists(p) {
				continue
			}
			data, err := devicefs.ReadAll(r.fs, p)
			if err != nil {
				r.logger.Warn("flash statistics unreadable", logging.String("path", p), logging.Error(err))
				return nil
			}
			stats, err := flashstats.DecodeBytes(data)
			if err != nil {
				r.logger.Warn("flash statistics corrupt", logging.String("path", p), logging.Error(err))
				return nil
			}
			if !stats.Present() {
				return nil
			}
			r.logger.Debug("flash statistics found", logging.String("path", p), logging.Int("messages", int(stats.TotalMessages)))
			return stats
		}
		return nil
	})
	return stats, stats != nil
}

func (r *Resolver) flashSerial() (string, bool) {
	stats, ok := r.Flash()
	if !ok || !IsSerialFormatGood(r.opts.SerialPrefix, stats.Serial) {
		return "", false
	}
	return stats.Serial, true
}

func (r *Resolver) resolveSerial() serialResult {
	res := serialResult{value: Unknown, source: "none"}
	if v, ok := r.Properties().Lookup(PropTalkingBookID); ok {
		res.value, res.source = v, "properties"
	} else if fsn, ok := r.flashSerial(); ok {
		res.value, res.source = fsn, "flash"
	} else if sn, ok := r.serialMarker(); ok {
		res.value, res.source = sn, "marker"
	}
	res.value = strings.ToUpper(res.value)
	if !IsSerialFormatGood2(res.value) {
		res.value = NeedSerialNumber
		res.needsNew = true
	}
	r.logger.Debug("serial number resolved", logging.Serial(res.value), logging.String("source", res.source))
	return res
}

func (r *Resolver) serialMarker() (string, bool) {
	for _, name := range devicefs.ListNames(r.fs, SystemDir, devicefs.FilesWithSuffix(".srn")) {
		if strings.HasPrefix(strings.ToLower(name), "-erase") {
			continue
		}
		if stem := name[:len(name)-len(".srn")]; stem != "" {
			return stem, true
		}
	}
	return "", false
}

// SerialNumber returns the resolved serial, or NeedSerialNumber.
func (r *Resolver) SerialNumber() string {
	return r.serial.get(r.resolveSerial).value
}

// NeedsNewSerial reports whether a serial must be allocated for this device.
func (r *Resolver) NeedsNewSerial() bool {
	return r.serial.get(r.resolveSerial).needsNew
}

// markerStem returns the stem of the only file in dir with the suffix. With
// first set, the first match wins instead.
func (r *Resolver) markerStem(dir, suffix string, first bool) (string, bool) {
	names := devicefs.ListNames(r.fs, dir, devicefs.FilesWithSuffix(suffix))
	if len(names) == 0 || (!first && len(names) != 1) {
		return "", false
	}
	stem := names[0][:len(names[0])-len(suffix)]
	return stem, stem != ""
}

// Project returns the project name.
func (r *Resolver) Project() string {
	return r.project.get(func() string {
		if v, ok := r.Properties().Lookup(PropProject); ok {
			return v
		}
		if v, ok := r.markerStem(SystemDir, ".prj", true); ok {
			return v
		}
		return Unknown
	})
}

// Deployment returns the name of the deployment on the device.
func (r *Resolver) Deployment() string {
	return r.deployment.get(func() string {
		if v, ok := r.Properties().Lookup(PropDeployment); ok {
			return v
		}
		if stats, ok := r.Flash(); ok && stats.Deployment != "" {
			return stats.Deployment
		}
		if v, ok := r.markerStem(SystemDir, ".dep", false); ok {
			return v
		}
		return Unknown
	})
}

// Packages returns the package names on the device.
func (r *Resolver) Packages() []string {
	pkgs := r.packages.get(func() []string {
		if v, ok := r.Properties().Lookup(PropPackage); ok {
			var out []string
			for _, p := range strings.Split(v, ",") {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			if len(out) > 0 {
				return out
			}
		}
		if stats, ok := r.Flash(); ok && stats.Image != "" {
			return []string{stats.Image}
		}
		if v, ok := r.markerStem(SystemDir, ".pkg", false); ok {
			return []string{v}
		}
		return []string{Unknown}
	})
	return append([]string(nil), pkgs...)
}

// Community returns the community or recipient name.
func (r *Resolver) Community() string {
	return r.community.get(func() string {
		if v, ok := r.Properties().Lookup(PropCommunity); ok {
			return v
		}
		if stats, ok := r.Flash(); ok && stats.Community != "" {
			return stats.Community
		}
		rootLocs := devicefs.ListNames(r.fs, "", devicefs.FilesWithSuffix(".loc"))
		switch len(rootLocs) {
		case 1:
			if stem := rootLocs[0][:len(rootLocs[0])-4]; stem != "" {
				return stem
			}
		case 0:
			if v, ok := r.markerStem(SystemDir, ".loc", false); ok {
				return v
			}
		}
		return Unknown
	})
}

// Firmware returns the lowercased firmware revision from the only *.rev, or
// failing that the only *.img, in system/.
func (r *Resolver) Firmware() string {
	return r.firmware.get(func() string {
		revs := devicefs.ListNames(r.fs, SystemDir, longerThan(4, devicefs.FilesWithSuffix(".rev")))
		switch len(revs) {
		case 1:
			return strings.ToLower(revs[0][:len(revs[0])-4])
		case 0:
			imgs := devicefs.ListNames(r.fs, SystemDir, longerThan(4, devicefs.FilesWithSuffix(".img")))
			if len(imgs) == 1 {
				return strings.ToLower(imgs[0][:len(imgs[0])-4])
			}
		}
		return Unknown
	})
}

func longerThan(n int, f devicefs.Filter) devicefs.Filter {
	return func(e devicefs.Entry) bool { return len(e.Name) > n && f(e) }
}

// SynchDir returns the first line of system/last_updated.txt, or "".
func (r *Resolver) SynchDir() string {
	return r.synchDir.get(func() string {
		p, ok := devicefs.FindFold(r.fs, SystemDir, LastUpdated)
		if !ok {
			return ""
		}
		lines, err := devicefs.ReadLines(r.fs, p)
		if err != nil || len(lines) == 0 {
			return ""
		}
		return strings.TrimSpace(lines[0])
	})
}

// LastUpdatedDate returns "y/m/d" from flash, else from the synch dir.
func (r *Resolver) LastUpdatedDate() string {
	return r.lastUpdated.get(func() string {
		if stats, ok := r.Flash(); ok && stats.Day != -1 {
			return stats.UpdateDate()
		}
		if d, ok := ParseSynchDir(r.SynchDir()); ok {
			return fmt.Sprintf("%d/%d/%d", d.Year(), int(d.Month()), d.Day())
		}
		return Unknown
	})
}

// ParseSynchDir extracts the timestamp from a synch dir name such as
// "2016y12m20d08h45m55s-000C". Only the date part is required.
func ParseSynchDir(s string) (time.Time, bool) {
	y := strings.IndexByte(s, 'y')
	if y <= 0 {
		return time.Time{}, false
	}
	m := strings.IndexByte(s[y+1:], 'm')
	if m <= 0 {
		return time.Time{}, false
	}
	m += y + 1
	d := strings.IndexByte(s[m+1:], 'd')
	if d <= 0 {
		return time.Time{}, false
	}
	d += m + 1
	year, err1 := strconv.Atoi(s[:y])
	month, err2 := strconv.Atoi(s[y+1 : m])
	day, err3 := strconv.Atoi(s[m+1 : d])
	if err1 != nil || err2 != nil || err3 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	var hh, mm, ss int
	if n, _ := fmt.Sscanf(s[d+1:], "%dh%dm%ds", &hh, &mm, &ss); n == 3 {
		t = t.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second)
	}
	return t, true
}

// SetCorrupted records that the disk check found corruption.
func (r *Resolver) SetCorrupted() {
	r.mu.Lock()
	r.corrupted = true
	r.mu.Unlock()
}

// Corrupted reports whether SetCorrupted was called.
func (r *Resolver) Corrupted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.corrupted
}

func (r *Resolver) property(key string) string {
	v, _ := r.Properties().Get(key)
	return v
}

// Identity assembles every resolved field.
func (r *Resolver) Identity() DeviceIdentity {
	test, _ := strconv.ParseBool(strings.TrimSpace(r.property(PropTestDeployment)))
	return DeviceIdentity{
		SerialNumber:   r.SerialNumber(),
		NeedsNewSerial: r.NeedsNewSerial(),
		Project:        r.Project(),
		Deployment:     r.Deployment(),
		Packages:       r.Packages(),
		Firmware:       r.Firmware(),
		Community:      r.Community(),
		RecipientID:    r.property(PropRecipientID),
		DeploymentUUID: r.property(PropDeploymentUUID),
		TBCDID:         r.property(PropTBCDID),
		UserName:       r.property(PropUserName),
		TestDeployment: test,
		Coordinates:    r.property(PropCoordinates),
		Version:        r.Version(),
		SynchDir:       r.SynchDir(),
		LastUpdated:    r.LastUpdatedDate(),
		DiskLabel:      strings.TrimSpace(r.opts.Label),
		Corrupted:      r.Corrupted(),
	}
}
