package testsupport

import (
	"bytes"
	"testing"

	"tbloader/internal/deployment"
	"tbloader/internal/devicefs"
	"tbloader/internal/flashstats"
	"tbloader/internal/identity"
	"tbloader/internal/manifest"
)

// Fixture values shared by the device and deployment builders.
const (
	Project        = "UNICEF-2"
	OldDeployment  = "UNICEF-2-2025-3"
	NextDeployment = "UNICEF-2-2026-1"
	Community      = "VILLAGE-A"
	OldPackage     = "pkg-old"
	NewPackage     = "pkg-new"
	Serial         = "B-000C0223"
	OldFirmware    = "r1216"
	NewFirmware    = "r1220"
	RecipientID    = "rcp-0042"
	FeedbackFile   = "a-0123abcd_9_feedback.a18"
	MessageFile    = "msg-001.a18"
	Gen2Recording  = "uf-0001.mp3"
	Gen2StatsFile  = "stats/playstats.csv"
	Gen2PromptFile = "content/prompts/en/0.mp3"
)

// DeviceOption adjusts a fixture device after it has been built.
type DeviceOption func(testing.TB, *devicefs.Memory)

// WithoutSerial removes every trace of the serial number.
func WithoutSerial() DeviceOption {
	return func(t testing.TB, m *devicefs.Memory) {
		t.Helper()
		props, err := devicefs.ReadAll(m, identity.SystemDir+"/"+identity.PropertiesFile)
		if err == nil {
			parsed, err := identity.ParseProperties(bytes.NewReader(props))
			if err != nil {
				t.Fatalf("parse properties: %v", err)
			}
			out := identity.NewProperties()
			for _, k := range parsed.Keys() {
				if k == identity.PropTalkingBookID {
					continue
				}
				v, _ := parsed.Get(k)
				out.Set(k, v)
			}
			mustWrite(t, m, identity.SystemDir+"/"+identity.PropertiesFile, out.String())
		}
		for _, name := range devicefs.ListNames(m, identity.SystemDir, devicefs.FilesWithSuffix(".srn")) {
			if _, err := m.Delete(identity.SystemDir+"/"+name, false); err != nil {
				t.Fatalf("delete %s: %v", name, err)
			}
		}
		for _, p := range flashstats.Paths {
			if m.Exists(p) {
				if _, err := m.Delete(p, false); err != nil {
					t.Fatalf("delete %s: %v", p, err)
				}
			}
		}
	}
}

// WithFile adds a file to the device.
func WithFile(p, content string) DeviceOption {
	return func(t testing.TB, m *devicefs.Memory) {
		t.Helper()
		mustWrite(t, m, p, content)
	}
}

// NewGen1Device builds a first generation device that last received
// OldDeployment: flash statistics, a user recording, a feedback category
// and the system markers.
func NewGen1Device(t testing.TB, opts ...DeviceOption) *devicefs.Memory {
	t.Helper()
	m := devicefs.NewMemory("tb1")
	props := identity.NewProperties()
	props.Set(identity.PropTalkingBookID, Serial)
	props.Set(identity.PropProject, Project)
	props.Set(identity.PropDeployment, OldDeployment)
	props.Set(identity.PropPackage, OldPackage)
	props.Set(identity.PropCommunity, Community)
	mustWrite(t, m, "system/"+identity.PropertiesFile, props.String())
	mustWrite(t, m, "system/config.txt", "DEFAULT_LANG:en\r\n")
	mustWrite(t, m, "system/profiles.txt", OldPackage+",en,1,menu\r\n")
	mustWrite(t, m, "system/"+Serial+".srn", ".")
	mustWrite(t, m, "system/"+OldFirmware+".rev", ".")
	mustWrite(t, m, "system/"+OldFirmware+".img", "firmware")
	mustWrite(t, m, "system/sysdata.txt", "SRN:"+Serial+"\r\n")
	mustWrite(t, m, "system/"+OldDeployment+".dep", ".")
	mustWrite(t, m, "system/last_updated.txt", "2025y09m01d10h00m00s-000C\n")
	mustWrite(t, m, "messages/audio/"+MessageFile, "message audio")
	mustWrite(t, m, "messages/audio/"+FeedbackFile, "feedback audio")
	mustWrite(t, m, "messages/lists/1/_activeLists.txt", "!9\r\n")
	mustWrite(t, m, "messages/lists/1/9-0.txt", FeedbackFile+"\r\n")
	mustWrite(t, m, "languages/en/control.txt", "menu")
	mustWrite(t, m, "log/log.txt", "boot\n")
	mustWrite(t, m, "log-archive/log_1.txt", "older boot\n")
	mustWrite(t, m, flashstats.Paths[0], string(flashstats.Encode(NewFlashStats())))
	for _, opt := range opts {
		opt(t, m)
	}
	return m
}

// NewGen2Device builds a second generation device that last received
// OldDeployment.
func NewGen2Device(t testing.TB, opts ...DeviceOption) *devicefs.Memory {
	t.Helper()
	m := devicefs.NewMemory("tb2")
	props := identity.NewProperties()
	props.Set(identity.PropTalkingBookID, Serial)
	props.Set(identity.PropProject, Project)
	props.Set(identity.PropDeployment, OldDeployment)
	props.Set(identity.PropPackage, OldPackage)
	props.Set(identity.PropCommunity, Community)
	props.Set(identity.PropFirmware, OldFirmware)
	mustWrite(t, m, "system/"+identity.PropertiesFile, props.String())
	mustWrite(t, m, "system/device_ID.txt", Serial)
	mustWrite(t, m, "system/firmware_ID.txt", OldFirmware)
	mustWrite(t, m, "system/QC_PASS.TXT", "")
	mustWrite(t, m, "system/bootcount.txt", "17")
	mustWrite(t, m, "system/old.txt", "stale")
	mustWrite(t, m, "content/"+manifest.FileName, "stale manifest")
	mustWrite(t, m, "log/tblog.txt", "boot\n")
	mustWrite(t, m, Gen2StatsFile, "m1,3\n")
	mustWrite(t, m, "recordings/"+Gen2Recording, "feedback audio")
	for _, opt := range opts {
		opt(t, m)
	}
	return m
}

// NewFlashStats returns a small, present statistics blob for the old
// deployment.
func NewFlashStats() *flashstats.Stats {
	s := &flashstats.Stats{
		Reflashes:     3,
		Serial:        Serial,
		Deployment:    OldDeployment,
		Community:     Community,
		Image:         OldPackage,
		Day:           1,
		Month:         9,
		Year:          2025,
		Periods:       1,
		Powerups:      12,
		TotalMessages: 1,
		MessageIDs:    []string{"msg-001"},
		ProfileName:   OldPackage,
	}
	s.Messages = make([][flashstats.Rotations]flashstats.MessageStats, 1)
	s.Messages[0][0].Completed = 4
	return s
}

// NewDeployment publishes NextDeployment of Project on a memory filesystem
// with one image per generation, shadowed audio, firmware and a community
// directory, and opens it.
func NewDeployment(t testing.TB) *deployment.Deployment {
	t.Helper()
	m := devicefs.NewMemory("deployments")
	base := Project + "/content/" + NextDeployment
	shadow := base + "/" + deployment.ShadowDir

	mustWrite(t, m, base+"/basic/system/"+NewFirmware+".img", "new firmware")
	mustWrite(t, m, base+"/basic/system/"+NewFirmware+".rev", ".")
	mustWrite(t, m, base+"/basic/"+NewFirmware+".img", "new firmware")

	v1 := base + "/images.v1/" + NewPackage
	mustWrite(t, m, v1+"/system/profiles.txt", NewPackage+",en,1,menu\r\n")
	mustWrite(t, m, v1+"/system/default.grp", ".")
	mustWrite(t, m, v1+"/messages/lists/1/_activeLists.txt", "!1\r\n")
	mustWrite(t, m, v1+"/messages/audio/new-001.a18", "")
	mustWrite(t, m, shadow+"/messages/audio/new-001.a18", "new message audio")
	mustWrite(t, m, v1+"/languages/en/control.txt", "menu")

	v2 := base + "/images.v2/" + NewPackage
	mustWrite(t, m, v2+"/content/messages/new-001.mp3", "")
	mustWrite(t, m, shadow+"/content/messages/new-001.mp3", "new message audio")
	mustWrite(t, m, v2+"/"+Gen2PromptFile, "prompt")
	mustWrite(t, m, v2+"/system/default.grp", ".")
	pm := manifest.New(NextDeployment)
	pm.Packages = append(pm.Packages, manifest.Package{
		Name: NewPackage,
		Playlists: []manifest.Playlist{{
			Name:        "health",
			ShortPrompt: pm.Ref("/content/prompts/en/0.mp3"),
			LongPrompt:  pm.Ref("/content/prompts/en/0.mp3"),
			Messages:    []manifest.Message{{Title: "Handwashing", AudioRef: pm.Ref("/content/messages/new-001.mp3")}},
		}},
	})
	data, err := manifest.Encode(pm)
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	mustWrite(t, m, v2+"/content/"+manifest.FileName, string(data))

	comm := base + "/" + deployment.CommunitiesDir + "/" + Community
	mustWrite(t, m, comm+"/system/"+Community+".grp", ".")
	mustWrite(t, m, comm+"/languages/en/intro.a18", "welcome")
	mustWrite(t, m, comm+"/recipient.id", "recipientid="+RecipientID+"\n")

	dep, err := deployment.Open(m, Project, NextDeployment)
	if err != nil {
		t.Fatalf("open deployment: %v", err)
	}
	return dep
}

func mustWrite(t testing.TB, m devicefs.FS, p, content string) {
	t.Helper()
	if err := devicefs.WriteText(m, p, content); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}
