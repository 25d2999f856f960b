package updater

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tbloader/internal/devicefs"
	"tbloader/internal/diskutil"
	"tbloader/internal/identity"
	"tbloader/internal/logging"
	"tbloader/internal/services"
)

const (
	sysDataFile          = "sysdata.txt"
	dirListingFile       = "dir.txt"
	dirListingPostFile   = "dir_post.txt"
	statsCollectedFile   = "statsCollected.properties"
	talkingBookDataDir   = "TalkingBookData"
	userRecordingsDir    = "UserRecordings"
	userRecordingsDirV2  = "userrecordings"
	isoTimestamp         = "20060102T150405.000Z"
	recordingPropsHeader = "User Feedback"
)

const (
	propAction            = "ACTION"
	propClearedFlash      = "CLEARED_FLASH"
	propStatsCollectedID  = "STATS_COLLECTED_UUID"
	collectionPropsPrefix = "collection."
)

var upperCaser = cases.Upper(language.Und)

func upper(s string) string { return upperCaser.String(s) }

func timestampISO(t time.Time) string { return t.UTC().Format(isoTimestamp) }

// SynchDirName names one collection: the session time and the loader id.
func SynchDirName(t time.Time, loaderID string) string {
	return fmt.Sprintf("%04dy%02dm%02dd%02dh%02dm%02ds-%s",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), loaderID)
}

// collectionProperties describe the collection itself. They go in
// statsCollected.properties and, prefixed, in every recording sidecar.
func collectionProperties(s *Session) *identity.Properties {
	kind := "update"
	if s.StatsOnly {
		kind = "stats"
	}
	props := identity.NewProperties()
	props.Set(propAction, kind)
	props.Set(propClearedFlash, strconv.FormatBool(s.State.ClearedFlash))
	props.Set(identity.PropTimestamp, timestampISO(s.now))
	props.Set(identity.PropUserName, s.UserName)
	props.Set(identity.PropUserEmail, s.UserEmail)
	props.Set(identity.PropTBCDID, s.LoaderID)
	props.Set(identity.PropLocation, s.Location)
	props.Set(propStatsCollectedID, s.State.StatsUUID)
	if s.Coordinates != "" {
		props.Set(identity.PropCoordinates, s.Coordinates)
	}
	return props
}

// crlfProperties renders props as plain key=value lines with CRLF endings,
// the form statsCollected.properties has always used.
func crlfProperties(props *identity.Properties) string {
	var b strings.Builder
	for _, k := range props.Keys() {
		v, _ := props.Get(k)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	return b.String()
}

// recordingSidecar is written next to every collected recording: the
// device's deployment.properties plus the collection properties.
func recordingSidecar(s *Session) (string, error) {
	props := identity.NewProperties()
	device := s.Identity.Properties()
	for _, k := range device.Keys() {
		v, _ := device.Get(k)
		props.Set(k, v)
	}
	collection := collectionProperties(s)
	for _, k := range collection.Keys() {
		v, _ := collection.Get(k)
		props.Set(collectionPropsPrefix+k, v)
	}
	var buf bytes.Buffer
	if err := props.Write(&buf, recordingPropsHeader, s.now); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// gatherRecordings copies the recordings below src that keep accepts into
// dst on the collected-data tree, each with a .properties sidecar.
func gatherRecordings(ctx context.Context, s *Session, src, dst string, keep devicefs.Filter) error {
	if !s.Device.IsDir(src) {
		return nil
	}
	sidecar, err := recordingSidecar(s)
	if err != nil {
		return s.ioError("gather_recordings", "build sidecar", err)
	}
	var sidecarErr error
	err = s.copyTree(ctx, s.Device, src, s.Collected, dst, devicefs.CopyOptions{
		Filter: func(e devicefs.Entry) bool {
			if e.IsDir {
				return true
			}
			return keep == nil || keep(e)
		},
		Progress: func(_, to string, _ int64) {
			name := devicefs.Base(to)
			info := devicefs.Join(devicefs.Dir(to), strings.TrimSuffix(name, path.Ext(name))+".properties")
			if err := s.writeText(s.Collected, info, sidecar); err != nil && sidecarErr == nil {
				sidecarErr = err
			}
		},
	})
	if err != nil {
		return err
	}
	if sidecarErr != nil {
		s.warn("recording sidecar not written", "recording_sidecar_failed", sidecarErr,
			"recordings were collected without their deployment properties")
	}
	return nil
}

// gatherFilter excludes names (lower case) and dotfiles, plus anything
// with one of the excluded suffixes.
func gatherFilter(names []string, suffixes []string) devicefs.Filter {
	excluded := make(map[string]bool, len(names))
	for _, n := range names {
		excluded[n] = true
	}
	return func(e devicefs.Entry) bool {
		name := strings.ToLower(e.Name)
		if excluded[name] || strings.HasPrefix(name, ".") {
			return false
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) {
				return false
			}
		}
		return true
	}
}

// gatherDeviceFiles copies the device, minus filter, into the data dir.
func gatherDeviceFiles(ctx context.Context, s *Session, filter devicefs.Filter) error {
	return s.copyTree(ctx, s.Device, "", s.Temp, s.State.DataDir, devicefs.CopyOptions{Filter: filter})
}

// isRootJunk matches root entries both generations remove before an update:
// dotfiles and the directories other operating systems leave behind.
func isRootJunk(name string) bool {
	name = strings.ToLower(name)
	if strings.HasPrefix(name, ".") && name != "." && name != ".." {
		return true
	}
	switch name {
	case "android", "music", "system volume information":
		return true
	}
	return false
}

// needFirmware reports whether the firmware must be copied: the device's
// firmware is unknown or not acceptable, or a refresh was requested. The
// deployment's own firmware is always acceptable.
func needFirmware(s *Session) bool {
	current := s.State.Previous.Firmware
	if s.RefreshFirmware || current == "" || strings.EqualFold(current, identity.Unknown) {
		return true
	}
	acceptable := append([]string{s.State.Next.Firmware}, s.AcceptableFirmware...)
	for _, fw := range acceptable {
		if strings.EqualFold(strings.TrimSpace(fw), current) {
			return false
		}
	}
	return true
}

// deploymentProperties is system/deployment.properties for the new
// deployment. With firmware being replaced FIRMWARE is the new revision;
// otherwise the device keeps its firmware and LATEST_FIRMWARE records the
// newer one.
func deploymentProperties(s *Session, firmwareCopied bool) *identity.Properties {
	next := s.State.Next
	props := identity.NewProperties()
	props.Set(identity.PropTalkingBookID, next.SerialNumber)
	props.Set(identity.PropProject, next.Project)
	props.Set(identity.PropDeployment, next.Deployment)
	props.Set(identity.PropPackage, next.PackageList())
	props.Set(identity.PropCommunity, next.Community)
	if firmwareCopied {
		props.Set(identity.PropFirmware, next.Firmware)
	} else {
		props.Set(identity.PropLatestFirmware, next.Firmware)
		props.Set(identity.PropFirmware, s.State.Previous.Firmware)
	}
	props.Set(identity.PropTimestamp, timestampISO(s.now))
	props.Set(identity.PropTestDeployment, strconv.FormatBool(next.TestDeployment))
	props.Set(identity.PropUserName, s.UserName)
	props.Set(identity.PropUserEmail, s.UserEmail)
	props.Set(identity.PropTBCDID, s.LoaderID)
	props.Set(identity.PropNewTBID, strconv.FormatBool(next.NewSerial))
	props.Set(identity.PropLocation, s.Location)
	if s.Coordinates != "" {
		props.Set(identity.PropCoordinates, s.Coordinates)
	}
	if next.RecipientID != "" {
		props.Set(identity.PropRecipientID, next.RecipientID)
	}
	props.Set(identity.PropDeploymentUUID, next.DeploymentUUID)
	if next.DeploymentNumber > 0 {
		props.Set(identity.PropDeploymentNumber, strconv.Itoa(next.DeploymentNumber))
	}
	return props
}

func writeDeploymentProperties(s *Session, firmwareCopied bool) error {
	if err := s.mkdir(identity.SystemDir); err != nil {
		return err
	}
	p := devicefs.Join(identity.SystemDir, identity.PropertiesFile)
	return s.writeProperties(s.Device, p, deploymentProperties(s, firmwareCopied), "")
}

// shadowCopy replaces zero-byte placeholder files with the real bytes kept
// in the deployment's shadow directory. Every zero-byte file under dirs is a
// placeholder and must have a shadow counterpart.
type shadowCopy struct {
	// dirs are the image-relative directories that may hold placeholders.
	dirs []string
	// skip are image-relative paths handled elsewhere.
	skip     []string
	deferred map[string]string
	s        *Session
}

func newShadowCopy(s *Session, dirs, skip []string) *shadowCopy {
	return &shadowCopy{dirs: dirs, skip: skip, deferred: make(map[string]string), s: s}
}

func underAny(rel string, dirs []string) bool {
	rel = strings.ToLower(rel)
	for _, d := range dirs {
		d = strings.ToLower(d)
		if rel == d || strings.HasPrefix(rel, d+"/") {
			return true
		}
	}
	return false
}

func (c *shadowCopy) filter(e devicefs.Entry) bool {
	for _, p := range c.skip {
		if strings.EqualFold(e.Rel, p) {
			return false
		}
	}
	return true
}

func (c *shadowCopy) intercept(src devicefs.Entry, dst string) (bool, error) {
	if src.Size != 0 || !underAny(src.Rel, c.dirs) {
		return false, nil
	}
	c.deferred[dst] = devicefs.Join(c.s.Deployment.ShadowPath(), src.Rel)
	return true, nil
}

func (c *shadowCopy) options() devicefs.CopyOptions {
	return devicefs.CopyOptions{Filter: c.filter, Intercept: c.intercept}
}

// resolve copies every deferred placeholder from the shadow directory.
func (c *shadowCopy) resolve(ctx context.Context) error {
	targets := make([]string, 0, len(c.deferred))
	for dst := range c.deferred {
		targets = append(targets, dst)
	}
	sort.Strings(targets)
	fsys := c.s.Deployment.FS()
	for _, dst := range targets {
		shadow := c.deferred[dst]
		if !fsys.Exists(shadow) {
			return services.Wrap(services.ErrUnresolvedShadowReference, "updater", "update_content",
				fmt.Sprintf("%s has no shadow copy at %s", dst, shadow), nil)
		}
		if err := c.s.copyFile(ctx, fsys, shadow, c.s.Device, dst); err != nil {
			return err
		}
	}
	if len(targets) > 0 {
		c.s.logger.Debug("shadow files resolved", logging.Int("files", len(targets)))
	}
	return nil
}

// reformatRelabel reformats a corrupted device or relabels a healthy one
// whose label differs from label.
func reformatRelabel(ctx context.Context, s *Session, label string) error {
	label = strings.ToUpper(strings.TrimSpace(label))
	s.State.NewLabel = label
	if s.State.HadCorruption {
		err := s.DiskUtils.Format(ctx, s.DevicePath, label)
		switch {
		case err == nil:
			s.State.Reformat = Succeeded
			s.log("Reformatted card")
			return nil
		case diskutil.IsUnsupported(err):
			s.State.Reformat = NoAttempt
			s.warn("device is corrupted but cannot be reformatted here", "reformat_unsupported", err,
				"device left unchanged; reformat it on a supported host")
			return err
		default:
			s.State.Reformat = Failed
			s.log("Reformat failed")
			return services.Wrap(services.ErrReformatFailed, "updater", "reformat", s.DevicePath, err)
		}
	}
	if label == "" || strings.EqualFold(label, s.State.Before.DiskLabel) {
		return nil
	}
	err := s.DiskUtils.Relabel(ctx, s.DevicePath, label)
	switch {
	case err == nil:
		s.log("Relabelled as " + label)
	case diskutil.IsUnsupported(err):
		s.log("Skipping relabeling; not supported on this OS.")
	default:
		s.warn("relabel failed", "relabel_failed", err, "device keeps its previous volume label")
	}
	return nil
}

// deviceListing renders a recursive directory listing of the device, in the
// shape of a DOS "dir /s".
func deviceListing(s *Session) string {
	var b strings.Builder
	var files, dirs int
	var size int64
	var list func(dir string)
	list = func(dir string) {
		entries, err := s.Device.List(dir)
		if err != nil {
			fmt.Fprintf(&b, " Directory of /%s: %v\n\n", dir, err)
			return
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
		})
		fmt.Fprintf(&b, " Directory of /%s\n\n", dir)
		var dirFiles int
		var dirSize int64
		for _, e := range entries {
			if e.IsDir {
				dirs++
				fmt.Fprintf(&b, "%15s %s\n", "<DIR>", e.Name)
				continue
			}
			dirFiles++
			dirSize += e.Size
			fmt.Fprintf(&b, "%15d %s\n", e.Size, e.Name)
		}
		fmt.Fprintf(&b, "%11c%5d File(s)%15d bytes\n\n", ' ', dirFiles, dirSize)
		files += dirFiles
		size += dirSize
		for _, e := range entries {
			if e.IsDir {
				s.detail(e.Path + "/*")
				list(e.Path)
			}
		}
	}
	list("")
	fmt.Fprintf(&b, "%5cTotal Files Listed:\n%10c%6d File(s)%15d bytes\n", ' ', ' ', files, size)
	fmt.Fprintf(&b, "%10c%6d Dir(s)", ' ', dirs)
	summary := fmt.Sprintf("%d files, %d dirs, %d bytes", files, dirs, size)
	if free, ok := devicefs.FreeSpace(s.Device); ok {
		fmt.Fprintf(&b, " %15d bytes free", free)
		summary += fmt.Sprintf(", %s free", FormatBytes(free))
	}
	b.WriteByte('\n')
	s.Progress.Log(summary)
	return b.String()
}
