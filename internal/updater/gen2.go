package updater

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"tbloader/internal/devicefs"
	"tbloader/internal/identity"
	"tbloader/internal/manifest"
	"tbloader/internal/services"
)

const (
	gen2ContentDir    = "content"
	gen2RecordingsDir = "recordings"
	gen2SetRTC        = "system/SetRTC.txt"
	gen2BootCount     = "system/bootcount.txt"
	gen2QCPass        = "QC_PASS.TXT"
)

var gen2SystemKeepers = map[string]bool{gen2QCPass: true, "DEVICE_ID.TXT": true, "FIRMWARE_ID.TXT": true}

var gen2GatherFilter = gatherFilter(
	[]string{"$recycle.bin", "recordings", "android", "config.bin", "lost.dir", "system volume information"},
	[]string{".wav", ".mp3", ".a18"},
)

// gen2 drives the second generation device: a flat log/stats/recordings
// layout and manifest-driven content.
type gen2 struct{}

func (gen2) sealed() {}

func (gen2) Version() identity.Version { return identity.Gen2 }

func (gen2) DiskLabel(next identity.Descriptor) string { return Gen2Label(next.SerialNumber) }

func (gen2) CollectedZipPath(s *Session) string {
	return devicefs.Join(s.project(), talkingBookDataDir, s.serial(), s.State.SynchDir+".zip")
}

func (gen2) RecordingsDir(s *Session) string {
	return devicefs.Join(s.project(), userRecordingsDirV2, s.serial(), s.State.SynchDir)
}

func (gen2) GatherDeviceFiles(ctx context.Context, s *Session) error {
	return gatherDeviceFiles(ctx, s, gen2GatherFilter)
}

func (g gen2) GatherUserRecordings(ctx context.Context, s *Session) error {
	return gatherRecordings(ctx, s, gen2RecordingsDir, g.RecordingsDir(s), nil)
}

func (gen2) ClearStatistics(_ context.Context, s *Session) error {
	for _, dir := range []string{"log", "stats"} {
		if err := s.clearDir(dir); err != nil {
			return err
		}
	}
	if s.Device.IsDir(identity.SystemDir) {
		if err := s.writeDevice(gen2BootCount, "0"); err != nil {
			return err
		}
		s.State.ClearedFlash = true
	}
	return nil
}

func (gen2) ClearUserRecordings(_ context.Context, s *Session) error {
	return s.clearDir(gen2RecordingsDir)
}

func (gen2) ClearFeedbackCategories(context.Context, *Session) error { return nil }

func (g gen2) ReformatRelabel(ctx context.Context, s *Session) error {
	return reformatRelabel(ctx, s, g.DiskLabel(s.State.Next))
}

func (gen2) ClearSystemFiles(_ context.Context, s *Session) error {
	for _, dir := range []string{"LOST.DIR", "$RECYCLE.BIN"} {
		if err := s.remove(dir, true); err != nil {
			return err
		}
	}
	for _, name := range s.namesIn("", func(name string, _ bool) bool { return isRootJunk(name) }) {
		if err := s.remove(name, true); err != nil {
			return err
		}
	}
	for _, name := range s.namesIn(identity.SystemDir, func(name string, _ bool) bool {
		return !gen2SystemKeepers[strings.ToUpper(name)]
	}) {
		if err := s.remove(devicefs.Join(identity.SystemDir, name), true); err != nil {
			return err
		}
	}
	if _, ok := devicefs.FindFold(s.Device, identity.SystemDir, gen2QCPass); !ok {
		return s.writeDevice(devicefs.Join(identity.SystemDir, gen2QCPass), "")
	}
	return nil
}

func (gen2) UpdateSystemFiles(_ context.Context, s *Session) error {
	for _, dir := range []string{"log", gen2RecordingsDir, "stats"} {
		if err := s.mkdir(dir); err != nil {
			return err
		}
	}
	return writeDeploymentProperties(s, false)
}

func (gen2) UpdateSystemTime(_ context.Context, s *Session) error {
	return s.writeDevice(gen2SetRTC, "")
}

func (gen2) UpdateContent(ctx context.Context, s *Session) error {
	dfs := s.Deployment.FS()
	manifestPath := devicefs.Join(gen2ContentDir, manifest.FileName)
	shadows := newShadowCopy(s, []string{gen2ContentDir}, []string{manifestPath})
	merged := manifest.New(s.State.Next.Deployment)
	for _, pkg := range s.State.Next.Packages {
		image := s.Deployment.ImagePath(identity.Gen2, pkg)
		if !dfs.IsDir(image) {
			s.warn("package image missing", "image_missing", fmt.Errorf("%s not found", image),
				"package content is not on the device")
			continue
		}
		if err := s.copyTree(ctx, dfs, image, s.Device, "", shadows.options()); err != nil {
			return err
		}
		data, err := devicefs.ReadAll(dfs, devicefs.Join(image, manifestPath))
		if err != nil {
			if devicefs.IsNotExist(err) {
				continue
			}
			return s.ioError("update_content", "read manifest", err)
		}
		m, err := manifest.Decode(data)
		if err != nil {
			return fmt.Errorf("package %s: %w", pkg, err)
		}
		manifest.Merge(merged, m)
	}
	if err := shadows.resolve(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	merged.Created = s.now
	if err := manifest.Write(&buf, merged); err != nil {
		return err
	}
	if err := s.writeDevice(manifestPath, buf.String()); err != nil {
		return err
	}
	return checkManifestFiles(s, merged)
}

// checkManifestFiles requires every audio file the merged manifest names
// to be on the device with real content.
func checkManifestFiles(s *Session, m *manifest.Manifest) error {
	var missing []string
	for _, f := range m.Files() {
		p := strings.TrimPrefix(f, "/")
		if !s.Device.Exists(p) {
			found, ok := devicefs.FindFold(s.Device, devicefs.Dir(p), devicefs.Base(p))
			if !ok {
				missing = append(missing, f)
				continue
			}
			p = found
		}
		if size, err := s.Device.Size(p); err != nil || size == 0 {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return services.Wrap(services.ErrUnresolvedShadowReference, "updater", "update_content",
		fmt.Sprintf("%d manifest file(s) missing on device, first %s", len(missing), missing[0]), nil)
}

func (gen2) UpdateCommunity(context.Context, *Session) error { return nil }

func (gen2) Verify(_ context.Context, s *Session) (bool, error) {
	_, ok := devicefs.FindFold(s.Device, identity.SystemDir, devicefs.Base(gen2SetRTC))
	return ok, nil
}

func (gen2) ForceFirmwareRefresh(context.Context, *Session) error { return nil }
