package updater

import (
	"log/slog"
	"time"

	"tbloader/internal/deployment"
	"tbloader/internal/devicefs"
	"tbloader/internal/diskutil"
	"tbloader/internal/identity"
	"tbloader/internal/oplog"
	"tbloader/internal/srn"
)

// Options configure one session.
type Options struct {
	// Device is the Talking Book filesystem.
	Device devicefs.FS
	// DevicePath is the block device or mount point handed to disk utilities.
	DevicePath string
	// Deployment is the new content; nil when collecting statistics only.
	Deployment *deployment.Deployment
	// Target selects what from Deployment goes on the device.
	Target Target
	// Collected receives zips, recordings, and operation logs.
	Collected devicefs.FS
	// Temp holds gathered files until they are zipped.
	Temp devicefs.FS
	// Identity reads the device before anything is changed. Resolved from
	// Device when nil.
	Identity *identity.Resolver
	// Version overrides the generation detected by Identity.
	Version identity.Version
	// Allocator issues a serial when the device has none.
	Allocator srn.Source
	// DiskUtils checks, formats, and relabels the device.
	DiskUtils diskutil.Utilities
	// Publisher forwards operation projections; optional.
	Publisher oplog.Publisher

	// SessionID names the session in logs and records; random when empty.
	SessionID string

	Logger   *slog.Logger
	Progress ProgressSink
	Observer StepObserver
	Clock    func() time.Time

	LoaderID    string
	LoaderHexID string
	UserName    string
	UserEmail   string
	Location    string
	Coordinates string

	StatsOnly          bool
	RefreshFirmware    bool
	AcceptableFirmware []string
	// PostUpdateDelay lets slow media settle before the session finishes.
	PostUpdateDelay time.Duration
}

// Target is the community and packages being deployed.
type Target struct {
	Community string
	// Packages defaults to the image chosen for Community.
	Packages         []string
	TestDeployment   bool
	DeploymentNumber int
	// RecipientID defaults to the community's recipient.id.
	RecipientID string
	// DeploymentUUID defaults to a random uuid.
	DeploymentUUID string
}
