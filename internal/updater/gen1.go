package updater

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"tbloader/internal/devicefs"
	"tbloader/internal/identity"
)

const (
	gen1AudioDir     = "messages/audio"
	gen1ListsDir     = "messages/lists"
	gen1MessagesDir  = "messages"
	gen1LanguagesDir = "languages"
	gen1ProfilesFile = "system/profiles.txt"
	gen1FirstList    = "messages/lists/1"
)

// userRecordingPattern matches feedback and sign-in recordings.
var userRecordingPattern = regexp.MustCompile(`(?i)^(([abc]-[0-9a-f]{8})|.*(_9_|_9-0_)).*\.a18$`)

var gen1GatherFilter = gatherFilter(
	[]string{"languages", "audio", "ostats", "inbox", "archive", "android", "config.bin", "lost.dir", "system volume information"},
	[]string{".img", ".old"},
)

// gen1 drives the original Talking Book: messages/, languages/ and flash
// statistics.
type gen1 struct{}

func (gen1) sealed() {}

func (gen1) Version() identity.Version { return identity.Gen1 }

func (gen1) DiskLabel(next identity.Descriptor) string { return Gen1Label(next.SerialNumber) }

// collectionDir is {dep}/{loader}/{community} below a project's collection
// tree, keyed by what the device carried before the update.
func (gen1) collectionDir(s *Session, kind string) string {
	prev := s.State.Previous
	return devicefs.Join(s.project(), kind, prev.Deployment, s.LoaderID, prev.Community)
}

func (g gen1) CollectedZipPath(s *Session) string {
	return devicefs.Join(g.collectionDir(s, talkingBookDataDir), s.serial(), s.State.SynchDir+".zip")
}

func (g gen1) RecordingsDir(s *Session) string {
	return g.collectionDir(s, userRecordingsDir)
}

func (gen1) GatherDeviceFiles(ctx context.Context, s *Session) error {
	return gatherDeviceFiles(ctx, s, gen1GatherFilter)
}

func (g gen1) GatherUserRecordings(ctx context.Context, s *Session) error {
	return gatherRecordings(ctx, s, gen1AudioDir, g.RecordingsDir(s), func(e devicefs.Entry) bool {
		return userRecordingPattern.MatchString(e.Name)
	})
}

func (gen1) ClearStatistics(ctx context.Context, s *Session) error {
	for _, dir := range []string{"log", "log-archive", "statistics"} {
		if err := s.clearDir(dir); err != nil {
			return err
		}
	}
	// Copying sysdata.txt to the root makes the device reinitialize its
	// flash, which clears the flash statistics.
	sysdata := devicefs.Join(identity.SystemDir, sysDataFile)
	if s.Device.IsDir(identity.SystemDir) && s.Device.Exists(sysdata) {
		if err := s.copyFile(ctx, s.Device, sysdata, s.Device, sysDataFile); err != nil {
			return err
		}
		s.State.ClearedFlash = true
	}
	return nil
}

func (gen1) ClearUserRecordings(_ context.Context, s *Session) error {
	for _, name := range s.namesIn(gen1AudioDir, func(name string, isDir bool) bool {
		return !isDir && userRecordingPattern.MatchString(name)
	}) {
		if err := s.remove(devicefs.Join(gen1AudioDir, name), false); err != nil {
			return err
		}
	}
	return nil
}

func (gen1) ClearFeedbackCategories(_ context.Context, s *Session) error {
	for _, list := range s.namesIn(gen1ListsDir, func(_ string, isDir bool) bool { return isDir }) {
		dir := devicefs.Join(gen1ListsDir, list)
		for _, name := range s.namesIn(dir, func(name string, isDir bool) bool {
			return !isDir && strings.HasPrefix(name, "9") && strings.HasSuffix(strings.ToLower(name), ".txt")
		}) {
			if err := s.remove(devicefs.Join(dir, name), false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g gen1) ReformatRelabel(ctx context.Context, s *Session) error {
	return reformatRelabel(ctx, s, g.DiskLabel(s.State.Next))
}

var gen1SystemSuffixes = []string{".dep", ".grp", ".loc", ".pkg", ".prj", ".rtc", ".srn", ".txt"}

func (gen1) ClearSystemFiles(_ context.Context, s *Session) error {
	for _, dir := range []string{"archive", "LOST.DIR", gen1MessagesDir, gen1LanguagesDir} {
		if err := s.remove(dir, true); err != nil {
			return err
		}
	}
	for _, name := range s.namesIn("", func(name string, _ bool) bool {
		lower := strings.ToLower(name)
		return strings.HasSuffix(lower, ".img") || strings.HasSuffix(lower, ".rtc") || isRootJunk(name)
	}) {
		if err := s.remove(name, true); err != nil {
			return err
		}
	}
	for _, name := range s.namesIn(identity.SystemDir, func(name string, isDir bool) bool {
		if isDir {
			return false
		}
		lower := strings.ToLower(name)
		for _, suffix := range gen1SystemSuffixes {
			if strings.HasSuffix(lower, suffix) {
				return true
			}
		}
		return false
	}) {
		if err := s.remove(devicefs.Join(identity.SystemDir, name), false); err != nil {
			return err
		}
	}
	// Both are rebuilt by the device on first boot.
	if err := s.remove(devicefs.Join(identity.SystemDir, "config.bin"), false); err != nil {
		return err
	}
	return s.remove(devicefs.Join(gen1LanguagesDir, "control.bin"), false)
}

func (gen1) UpdateSystemFiles(ctx context.Context, s *Session) error {
	s.State.NeedFirmware = needFirmware(s)
	next := s.State.Next
	if s.State.NeedFirmware {
		basic := s.Deployment.BasicPath()
		if s.Deployment.FS().IsDir(basic) {
			err := s.copyTree(ctx, s.Deployment.FS(), basic, s.Device, "", devicefs.CopyOptions{
				Filter: func(e devicefs.Entry) bool {
					return e.IsDir || (!strings.HasSuffix(e.Name, ".srn") && !strings.HasSuffix(e.Name, ".rev"))
				},
			})
			if err != nil {
				return err
			}
			s.State.FirmwareCopied = true
		}
	} else {
		s.log(fmt.Sprintf("Keeping firmware version %s (%s is latest)", s.State.Previous.Firmware, next.Firmware))
	}

	project := upper(next.Project)
	community := upper(next.Community)
	serial := upper(next.SerialNumber)
	dep := upper(next.Deployment)
	now := s.now
	sysdata := strings.Join([]string{
		"SRN:" + serial,
		"IMAGE:" + upper(next.PackageList()),
		"UPDATE:" + dep,
		"LOCATION:" + community,
		fmt.Sprintf("YEAR:%d", now.Year()),
		fmt.Sprintf("MONTH:%d", int(now.Month())),
		fmt.Sprintf("DATE:%d", now.Day()),
		"PROJECT:" + project,
	}, "\r\n") + "\r\n"
	if err := s.writeDevice(sysDataFile, sysdata); err != nil {
		return err
	}
	// A fresh sysdata.txt also clears the flash statistics.
	s.State.ClearedFlash = true
	if err := s.writeDevice("inspect", "."); err != nil {
		return err
	}
	if err := s.writeDevice("0h1m0s.rtc", "."); err != nil {
		return err
	}
	for _, dir := range []string{"log", "log-archive", "Inbox", "statistics", identity.SystemDir} {
		if err := s.mkdir(dir); err != nil {
			return err
		}
	}
	markers := []struct{ name, content string }{
		{serial + ".srn", "."},
		{dep + ".dep", "."},
		{community + ".loc", community},
		{identity.LastUpdated, s.State.SynchDir},
		{project + ".prj", project},
		{"notest.pcb", "."},
	}
	for _, m := range markers {
		if err := s.writeDevice(devicefs.Join(identity.SystemDir, m.name), m.content); err != nil {
			return err
		}
	}
	return writeDeploymentProperties(s, s.State.FirmwareCopied)
}

// UpdateSystemTime is a no-op: the clock is set by the 0h1m0s.rtc marker
// written with the system files.
func (gen1) UpdateSystemTime(context.Context, *Session) error { return nil }

func (gen1) UpdateContent(ctx context.Context, s *Session) error {
	dfs := s.Deployment.FS()
	shadows := newShadowCopy(s, []string{gen1AudioDir, gen1LanguagesDir}, []string{gen1ProfilesFile, gen1FirstList})
	for _, pkg := range s.State.Next.Packages {
		image := s.Deployment.ImagePath(identity.Gen1, pkg)
		if !dfs.IsDir(image) {
			s.warn("package image missing", "image_missing", fmt.Errorf("%s not found", image),
				"package content is not on the device")
			continue
		}
		if err := s.copyTree(ctx, dfs, image, s.Device, "", shadows.options()); err != nil {
			return err
		}
	}
	if err := shadows.resolve(ctx); err != nil {
		return err
	}
	return copyListsAndProfiles(ctx, s)
}

// copyListsAndProfiles copies each package's messages/lists/1 to
// messages/lists/N and merges the first line of every profiles.txt, with
// its third field renumbered to N.
func copyListsAndProfiles(ctx context.Context, s *Session) error {
	dfs := s.Deployment.FS()
	var profiles strings.Builder
	for i, pkg := range s.State.Next.Packages {
		n := fmt.Sprint(i + 1)
		image := s.Deployment.ImagePath(identity.Gen1, pkg)
		lists := devicefs.Join(image, gen1FirstList)
		if dfs.IsDir(lists) {
			if err := s.copyTree(ctx, dfs, lists, s.Device, devicefs.Join(gen1ListsDir, n), devicefs.CopyOptions{}); err != nil {
				return err
			}
		}
		lines, err := devicefs.ReadLines(dfs, devicefs.Join(image, gen1ProfilesFile))
		if err != nil {
			if devicefs.IsNotExist(err) {
				continue
			}
			return s.ioError("update_content", "read profiles", err)
		}
		if len(lines) == 0 {
			continue
		}
		parts := strings.Split(lines[0], ",")
		if len(parts) >= 3 {
			parts[2] = n
		}
		profiles.WriteString(strings.Join(parts, ","))
		profiles.WriteByte('\n')
	}
	if profiles.Len() == 0 {
		return nil
	}
	return s.writeDevice(gen1ProfilesFile, profiles.String())
}

func (gen1) UpdateCommunity(ctx context.Context, s *Session) error {
	src := s.Deployment.CommunityPath(s.State.Next.Community)
	dfs := s.Deployment.FS()
	if !dfs.IsDir(src) {
		return nil
	}
	return s.copyTree(ctx, dfs, src, s.Device, "", devicefs.CopyOptions{
		Filter: func(e devicefs.Entry) bool {
			if e.IsDir {
				return true
			}
			name := strings.ToLower(e.Name)
			return strings.HasSuffix(name, ".a18") || strings.HasSuffix(name, ".grp")
		},
	})
}

func (gen1) Verify(_ context.Context, s *Session) (bool, error) {
	return s.Device.Exists(sysDataFile), nil
}

// ForceFirmwareRefresh renames the firmware image to system.img, which the
// device always loads.
func (gen1) ForceFirmwareRefresh(_ context.Context, s *Session) error {
	if !s.RefreshFirmware {
		return nil
	}
	s.log("Forcing firmware refresh")
	firmware := s.State.Next.Firmware + ".img"
	if !s.Device.Exists(firmware) {
		return nil
	}
	if err := s.Device.Rename(firmware, "system.img"); err != nil {
		return s.ioError("force_firmware_refresh", firmware, err)
	}
	return nil
}
