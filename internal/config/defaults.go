package config

const (
	defaultCollectedDir       = "~/.local/share/tbloader/collected"
	defaultDeploymentsDir     = "~/.local/share/tbloader/deployments"
	defaultTempDir            = "~/.cache/tbloader/tmp"
	defaultLogDir             = "~/.local/share/tbloader/logs"
	defaultStateDir           = "~/.local/share/tbloader/state"
	defaultAPIBind            = "127.0.0.1:7488"
	defaultSerialPrefix       = "b-"
	defaultSRNBlockSize       = 512
	defaultSRNRequestsPerMin  = 6
	defaultSRNTimeoutSeconds  = 20
	defaultPostUpdateDelayMS  = 0
	defaultDiskEnabled        = true
	defaultFsckBinary         = "fsck.vfat"
	defaultMkfsBinary         = "mkfs.vfat"
	defaultLabelBinary        = "fatlabel"
	defaultLsblkBinary        = "lsblk"
	defaultDiskTimeoutSeconds = 300
	defaultCollectionBackend  = BackendLocal
	defaultS3Region           = "us-west-2"
	defaultMountRoot          = "/media"
	defaultSettleSeconds      = 3
	defaultNtfyTimeoutSeconds = 10
	defaultLowSerialThreshold = 25
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultLogRetentionDays   = 60
)

// Collection backends.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			CollectedDir:   defaultCollectedDir,
			DeploymentsDir: defaultDeploymentsDir,
			TempDir:        defaultTempDir,
			LogDir:         defaultLogDir,
			StateDir:       defaultStateDir,
			APIBind:        defaultAPIBind,
		},
		Loader: Loader{
			SerialPrefix: defaultSerialPrefix,
		},
		SRN: SRN{
			BlockSize:         defaultSRNBlockSize,
			RequestsPerMinute: defaultSRNRequestsPerMin,
			TimeoutSeconds:    defaultSRNTimeoutSeconds,
		},
		Update: Update{
			PostUpdateDelayMS: defaultPostUpdateDelayMS,
		},
		Disk: Disk{
			Enabled:        defaultDiskEnabled,
			FsckBinary:     defaultFsckBinary,
			MkfsBinary:     defaultMkfsBinary,
			LabelBinary:    defaultLabelBinary,
			LsblkBinary:    defaultLsblkBinary,
			TimeoutSeconds: defaultDiskTimeoutSeconds,
		},
		Collection: Collection{
			Backend:  defaultCollectionBackend,
			S3Region: defaultS3Region,
		},
		Daemon: Daemon{
			MountRoot:     defaultMountRoot,
			SettleSeconds: defaultSettleSeconds,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			LowSerialThreshold:    defaultLowSerialThreshold,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
