package deployment

import (
	"sort"
	"strings"

	"tbloader/internal/devicefs"
	"tbloader/internal/identity"
	"tbloader/internal/services"
)

const (
	ContentDir     = "content"
	BasicDir       = "basic"
	ImagesV1Dir    = "images.v1"
	ImagesOldDir   = "images"
	ImagesV2Dir    = "images.v2"
	CommunitiesDir = "communities"
	ShadowDir      = "shadowFiles"

	// MissingPackage is the image name reported when no image fits a community.
	MissingPackage = "MISSING_PACKAGE"
	// NoFirmware and MultipleFirmware are reported by FirmwareRevision.
	NoFirmware       = "(No firmware)"
	MultipleFirmware = "(Multiple Firmwares!)"

	defaultGroup    = "default"
	groupSuffix     = ".grp"
	recipientIDFile = "recipient.id"
	recipientIDKey  = "recipientid"
)

// Deployment is one published deployment directory.
type Deployment struct {
	fs      devicefs.FS
	dir     string
	Project string
	Name    string
}

// Open locates {project}/content/{name} on fsys.
func Open(fsys devicefs.FS, project, name string) (*Deployment, error) {
	project = strings.TrimSpace(project)
	name = strings.TrimSpace(name)
	if project == "" || name == "" {
		return nil, services.Wrap(services.ErrValidation, "deployment", "open", "project and deployment are required", nil)
	}
	dir := devicefs.Join(project, ContentDir, name)
	if !fsys.IsDir(dir) {
		return nil, services.Wrap(services.ErrNotFound, "deployment", "open",
			"no deployment "+name+" for project "+project+" in "+fsys.Root(), nil)
	}
	return &Deployment{fs: fsys, dir: dir, Project: project, Name: name}, nil
}

// At wraps an already located deployment directory.
func At(fsys devicefs.FS, dir, project, name string) *Deployment {
	return &Deployment{fs: fsys, dir: dir, Project: project, Name: name}
}

// List returns the deployments published for project, sorted by name.
func List(fsys devicefs.FS, project string) []string {
	return devicefs.ListNames(fsys, devicefs.Join(project, ContentDir), isDir)
}

// FS is the filesystem holding the deployment.
func (d *Deployment) FS() devicefs.FS { return d.fs }

// Path joins elem below the deployment directory.
func (d *Deployment) Path(elem ...string) string {
	return devicefs.Join(append([]string{d.dir}, elem...)...)
}

// ImagesDir is the directory holding the images for devices of version v.
// Gen1 falls back to the pre-versioned images/ directory.
func (d *Deployment) ImagesDir(v identity.Version) string {
	if v == identity.Gen2 {
		return d.Path(ImagesV2Dir)
	}
	if dir := d.Path(ImagesV1Dir); d.fs.IsDir(dir) {
		return dir
	}
	return d.Path(ImagesOldDir)
}

// Images lists the package images for devices of version v.
func (d *Deployment) Images(v identity.Version) []string {
	return devicefs.ListNames(d.fs, d.ImagesDir(v), isDir)
}

// ImagePath is the directory of package pkg.
func (d *Deployment) ImagePath(v identity.Version, pkg string) string {
	return devicefs.Join(d.ImagesDir(v), pkg)
}

// ShadowPath is the root of the shadow file cache.
func (d *Deployment) ShadowPath() string { return d.Path(ShadowDir) }

// BasicPath is the firmware directory.
func (d *Deployment) BasicPath() string { return d.Path(BasicDir) }

// CommunityPath is the directory of community-specific content.
func (d *Deployment) CommunityPath(community string) string {
	return d.Path(CommunitiesDir, community)
}

// Communities lists the community directories.
func (d *Deployment) Communities() []string {
	return devicefs.ListNames(d.fs, d.Path(CommunitiesDir), isDir)
}

// FirmwareRevision is the stem of the single basic/*.img file, NoFirmware
// when there is none, or MultipleFirmware when there are several.
func (d *Deployment) FirmwareRevision() string {
	names := devicefs.ListNames(d.fs, d.BasicPath(), devicefs.FilesWithSuffix(".img"))
	switch len(names) {
	case 0:
		return NoFirmware
	case 1:
		return names[0][:len(names[0])-len(".img")]
	default:
		return MultipleFirmware
	}
}

// HasFirmware reports whether FirmwareRevision names a real revision.
func (d *Deployment) HasFirmware() bool {
	rev := d.FirmwareRevision()
	return rev != NoFirmware && rev != MultipleFirmware
}

// ImageForCommunity picks the package image for community: the only image
// when there is one; else the first image sharing a group (system/*.grp)
// with the community; else an image in the default group; else
// MissingPackage.
func (d *Deployment) ImageForCommunity(v identity.Version, community string) string {
	images := d.Images(v)
	if len(images) == 1 {
		return images[0]
	}
	if len(images) == 0 {
		return MissingPackage
	}
	imageGroups := make(map[string][]string, len(images))
	for _, img := range images {
		imageGroups[img] = groups(d.fs, devicefs.Join(d.ImagePath(v, img), "system"))
	}
	if community != "" {
		for _, group := range groups(d.fs, devicefs.Join(d.CommunityPath(community), "system")) {
			for _, img := range images {
				if containsFold(imageGroups[img], group) {
					return img
				}
			}
		}
	}
	for _, img := range images {
		if containsFold(imageGroups[img], defaultGroup) {
			return img
		}
	}
	return MissingPackage
}

// RecipientID reads the recipientid entry of communities/{c}/recipient.id.
func (d *Deployment) RecipientID(community string) (string, bool) {
	lines, err := devicefs.ReadLines(d.fs, devicefs.Join(d.CommunityPath(community), recipientIDFile))
	if err != nil {
		return "", false
	}
	for _, line := range lines {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), recipientIDKey) {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func groups(fsys devicefs.FS, dir string) []string {
	names := devicefs.ListNames(fsys, dir, devicefs.FilesWithSuffix(groupSuffix))
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n[:len(n)-len(groupSuffix)])
	}
	sort.Strings(out)
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func isDir(e devicefs.Entry) bool { return e.IsDir }
