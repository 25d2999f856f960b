package workflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tbloader/internal/config"
	"tbloader/internal/devicefs"
	"tbloader/internal/diskutil"
	"tbloader/internal/logging"
	"tbloader/internal/oplog"
	"tbloader/internal/oplog/dynamosink"
	"tbloader/internal/services"
	"tbloader/internal/srn"
)

// Backends are the filesystems and sinks shared by every session.
type Backends struct {
	// Collected receives zips, recordings, and operation logs.
	Collected devicefs.FS
	// Deployments holds published deployments as {project}/{deployment}.
	Deployments devicefs.FS
	// Temp holds gathered files until they are archived.
	Temp devicefs.FS
	// Publisher forwards operation projections; nil when not configured.
	Publisher oplog.Publisher
}

// OpenBackends builds the backends described by cfg. AWS clients are only
// created when the S3 backend or a DynamoDB table is configured; ctx bounds
// their requests for the life of the process.
func OpenBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backends, error) {
	if cfg == nil {
		return Backends{}, services.Wrap(services.ErrConfiguration, "workflow", "backends", "configuration is required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	b := Backends{
		Collected:   devicefs.NewLocal(cfg.Paths.CollectedDir),
		Deployments: devicefs.NewLocal(cfg.Paths.DeploymentsDir),
		Temp:        devicefs.NewLocal(cfg.Paths.TempDir),
	}

	useS3 := cfg.Collection.Backend == config.BackendS3
	table := strings.TrimSpace(cfg.Collection.DynamoDBTable)
	if !useS3 && table == "" {
		return b, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Collection.S3Region))
	if err != nil {
		return Backends{}, services.Wrap(services.ErrConfiguration, "workflow", "backends", "load AWS configuration", err)
	}
	if useS3 {
		b.Collected = devicefs.NewS3(ctx, s3.NewFromConfig(awsCfg), cfg.Collection.S3Bucket, cfg.Collection.S3Prefix)
		logger.Info("collected data goes to S3",
			logging.String("bucket", cfg.Collection.S3Bucket),
			logging.String("prefix", cfg.Collection.S3Prefix),
		)
	}
	if table != "" {
		sink, err := dynamosink.New(dynamodb.NewFromConfig(awsCfg), table)
		if err != nil {
			return Backends{}, services.Wrap(services.ErrConfiguration, "workflow", "backends", "create audit sink", err)
		}
		b.Publisher = sink
		logger.Info("operation records published to DynamoDB", logging.String("table", table))
	}
	return b, nil
}

func diskUtilities(cfg *config.Config) diskutil.Utilities {
	if cfg == nil {
		return diskutil.Unsupported
	}
	return diskutil.New(cfg.Disk)
}

// newReserver returns nil when no reservation service is configured; the
// serial manager then works from the blocks it already holds.
func newReserver(cfg *config.Config, logger *slog.Logger) srn.Reserver {
	if cfg == nil || strings.TrimSpace(cfg.SRN.ReservationURL) == "" {
		return nil
	}
	r, err := srn.NewHTTPReserver(srn.HTTPConfig{
		BaseURL:           cfg.SRN.ReservationURL,
		Token:             cfg.SRN.APIToken,
		RequestsPerMinute: cfg.SRN.RequestsPerMinute,
		Timeout:           time.Duration(cfg.SRN.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		logging.WarnWithContext(logger, "serial number reservation disabled", "srn_reserver_invalid",
			logging.Hint("check srn.reservation_url in the configuration"),
			logging.Error(err),
		)
		return nil
	}
	return r
}
