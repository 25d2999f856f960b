package oplog

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tbloader/internal/devicefs"
	"tbloader/internal/flashstats"
	"tbloader/internal/identity"
	"tbloader/internal/logging"
	"tbloader/internal/services"
)

const (
	tbDataVersion   = "v03"
	operationalData = "OperationalData"
	tbDataDir       = "tbData"
	legacyLayout    = "2006y01m02d15h04m05s"
	dateLayout      = "2006y01m02d"
)

// Operation is the outcome of one update or collection attempt.
type Operation struct {
	Action    string
	Timestamp time.Time
	Duration  time.Duration
	StatsOnly bool
	Previous  identity.Descriptor
	New       identity.Descriptor
	// Flash is nil when the device had no statistics blob.
	Flash       *flashstats.Stats
	DiskLabel   string
	Corrupted   bool
	UserName    string
	UserEmail   string
	Location    string
	Coordinates string
	StatsUUID   string
}

// Record is one key=value log entry written for an operation.
type Record struct {
	Kind      Kind
	Name      string
	Timestamp time.Time
	Before    identity.Descriptor
	After     identity.Descriptor
	Duration  time.Duration
	Location  string
	Payload   *Payload
}

// Format renders the record as appended to a log file: a "# timestamp
// name" line, key=value lines, and a blank line.
func (r Record) Format() string {
	return fmt.Sprintf("# %s %s\n%s\n", r.Timestamp.UTC().Format(time.RFC3339), r.Name, r.Payload.Format())
}

// Publisher receives every projection row after it has been written.
type Publisher interface {
	Publish(ctx context.Context, row Projection) error
}

// Options configure a Logger.
type Options struct {
	LoaderID string
	// Publisher is optional.
	Publisher Publisher
	Logger    *slog.Logger
}

// Logger writes operation records below the collected-data root.
type Logger struct {
	fs        devicefs.FS
	loaderID  string
	publisher Publisher
	logger    *slog.Logger
}

// New returns a Logger writing to fsys.
func New(fsys devicefs.FS, opts Options) *Logger {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Logger{
		fs:        fsys,
		loaderID:  opts.LoaderID,
		publisher: opts.Publisher,
		logger:    logging.NewComponentLogger(logger, "oplog"),
	}
}

// Dir is the directory receiving the logs for project.
func (l *Logger) Dir(project string) string {
	return devicefs.Join(project, operationalData, l.loaderID, tbDataDir)
}

func upper(s string) string {
	return cases.Upper(language.Und).String(s)
}

// Log writes every artifact for op and returns the collected record and,
// unless stats-only, the deployed record.
func (l *Logger) Log(ctx context.Context, op Operation) ([]Record, error) {
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	project := op.Previous.Project
	if project == "" || project == identity.Unknown {
		project = op.New.Project
	}
	dir := l.Dir(project)
	day := op.Timestamp.Format(dateLayout)
	logSuffix := fmt.Sprintf("-%s-%s.log", day, l.loaderID)

	tbData, stats, deployed := l.payloads(op)

	csvName := devicefs.Join(dir, fmt.Sprintf("tbData-%s-%s-%s.csv", tbDataVersion, day, l.loaderID))
	if err := l.appendCSVRow(csvName, l.csvRow(op)); err != nil {
		return nil, err
	}

	base := Record{Timestamp: op.Timestamp, Before: op.Previous, After: op.New, Duration: op.Duration, Location: op.Location}
	opRecord := base
	opRecord.Name = "LogTbData"
	opRecord.Payload = tbData
	collected := base
	collected.Kind = KindCollected
	collected.Name = "statsdata"
	collected.Payload = stats
	records := []Record{collected}

	if err := l.appendRecord(devicefs.Join(dir, "tbData"+logSuffix), opRecord); err != nil {
		return nil, err
	}
	if err := l.appendRecord(devicefs.Join(dir, "statsData"+logSuffix), collected); err != nil {
		return nil, err
	}
	if deployed != nil {
		rec := base
		rec.Kind = KindDeployed
		rec.Name = "deployment"
		rec.Payload = deployed
		if err := l.appendRecord(devicefs.Join(dir, "deployments"+logSuffix), rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	for _, rec := range records {
		row := Project(rec.Kind, rec.Payload)
		if err := l.writeProjection(devicefs.Join(dir, rec.Kind.FileName()), row); err != nil {
			return nil, err
		}
		if l.publisher != nil {
			if err := l.publisher.Publish(ctx, row); err != nil {
				logging.WarnWithContext(l.logger, "operation record not published", "oplog_publish_failed",
					logging.String("kind", string(rec.Kind)),
					logging.Hint("check the DynamoDB table and credentials"),
					logging.Impact("record is only in the collected-data tree"),
					logging.Error(err),
				)
			}
		}
	}
	l.logger.Info("operation logged",
		logging.String("action", op.Action),
		logging.Serial(op.New.SerialNumber),
		logging.String("dir", dir),
		logging.Int("records", len(records)),
	)
	return records, nil
}

func (l *Logger) payloads(op Operation) (tbData, stats, deployed *Payload) {
	legacy := upper(op.Timestamp.Format(legacyLayout))
	timestamp := op.Timestamp.UTC().Format(time.RFC3339)
	seconds := int(op.Duration.Round(time.Second) / time.Second)
	prev, next := op.Previous, op.New

	info := NewPayload().
		Put("action", op.Action).
		Put("tbcdid", l.loaderID).
		Put("username", op.UserName).
		Put("useremail", op.UserEmail).
		Put("project", upper(prev.Project)).
		Put("update_date_time", legacy).
		Put("out_synch_dir", legacy+"-"+upper(l.loaderID)).
		Put("location", upper(op.Location))
	if op.Coordinates != "" {
		info.Put("coordinates", op.Coordinates)
	}
	info.Put("duration_sec", seconds).Put("timestamp", timestamp)

	tbData = NewPayload().Merge(info)
	stats = NewPayload().Merge(info)

	if !op.StatsOnly {
		tbData.Put("out_sn", upper(next.SerialNumber)).
			Put("out_deployment", upper(next.Deployment)).
			Put("out_package", upper(next.PackageList())).
			Put("out_firmware", next.Firmware).
			Put("out_community", upper(next.Community)).
			Put("out_rotation", next.UpdateTimestamp).
			Put("out_project", next.Project).
			Put("out_testing", next.TestDeployment)

		deployed = NewPayload().
			Put("action", op.Action).
			Put("tbcdid", l.loaderID).
			Put("username", op.UserName).
			Put("useremail", op.UserEmail).
			Put("sn", upper(next.SerialNumber)).
			Put("newsn", next.NewSerial).
			Put("project", upper(next.Project)).
			Put("deployment", upper(next.Deployment)).
			Put("package", upper(next.PackageList())).
			Put("community", upper(next.Community)).
			Put("firmware", next.Firmware).
			Put("location", upper(op.Location)).
			Put("timestamp", timestamp).
			Put("duration", seconds).
			Put("testing", next.TestDeployment)
		if next.DeploymentNumber > 0 {
			deployed.Put("deploymentnumber", next.DeploymentNumber)
		}
		if next.RecipientID != "" {
			tbData.Put("out_recipientid", next.RecipientID)
			deployed.Put("recipientid", next.RecipientID)
		}
		if op.Coordinates != "" {
			deployed.Put("coordinates", op.Coordinates)
		}
	}

	in := NewPayload().
		Put("in_sn", upper(prev.SerialNumber)).
		Put("in_deployment", upper(prev.Deployment)).
		Put("in_package", upper(prev.PackageList())).
		Put("in_firmware", prev.Firmware).
		Put("in_community", upper(prev.Community)).
		Put("in_project", prev.Project).
		Put("in_update_timestamp", prev.UpdateTimestamp).
		Put("in_synchdir", upper(prev.SynchDir)).
		Put("in_disk_label", op.DiskLabel).
		Put("disk_corrupted", op.Corrupted)
	if prev.RecipientID != "" {
		in.Put("in_recipientid", prev.RecipientID)
		tbData.Put("in_recipientid", prev.RecipientID)
	}
	if f := op.Flash; f.Present() {
		t := f.Totals()
		in.Put("flash_sn", upper(f.Serial)).
			Put("flash_reflashes", f.Reflashes).
			Put("flash_deployment", upper(f.Deployment)).
			Put("flash_package", upper(f.Image)).
			Put("flash_community", upper(f.Community)).
			Put("flash_last_updated", f.UpdateDate()).
			Put("flash_cumulative_days", f.CumulativeDays).
			Put("flash_corruption_day", f.CorruptionDay).
			Put("flash_last_initial_v", f.LastInitVoltage).
			Put("flash_powerups", f.Powerups).
			Put("flash_periods", f.Periods).
			Put("flash_rotations", f.ProfileTotalRotations).
			Put("flash_num_messages", f.TotalMessages).
			Put("flash_total_seconds", t.Seconds).
			Put("flash_started", t.Started).
			Put("flash_one_quarter", t.Quarter).
			Put("flash_half", t.Half).
			Put("flash_three_quarters", t.ThreeQuarters).
			Put("flash_completed", t.Completed).
			Put("flash_applied", t.Applied).
			Put("flash_useless", t.Useless)
		for r := range flashstats.Rotations {
			n := strconv.Itoa(r)
			in.Put("flash_seconds_"+n, f.SecondsPerRotation(r)).
				Put("flash_period_"+n, f.Rotations[r].StartingPeriod).
				Put("flash_hours_post_update_"+n, f.Rotations[r].HoursAfterUpdate).
				Put("flash_initial_v_"+n, f.Rotations[r].InitVoltage)
		}
	}
	in.Put("in_testing", prev.TestDeployment)

	tbData.Merge(in)
	stats.Merge(in)
	stats.Put("statsonly", op.StatsOnly)

	if prev.DeploymentUUID != "" {
		stats.Put("deployment_uuid", prev.DeploymentUUID)
		tbData.Put("in_deployment_uuid", prev.DeploymentUUID)
		if deployed != nil {
			deployed.Put("prev_deployment_uuid", prev.DeploymentUUID)
		}
	}
	if deployed != nil {
		tbData.Put("out_deployment_uuid", next.DeploymentUUID)
		deployed.Put("deployment_uuid", next.DeploymentUUID)
	}
	if op.StatsUUID != "" {
		stats.Put("stats_uuid", op.StatsUUID)
		tbData.Put("stats_uuid", op.StatsUUID)
	}
	return tbData, stats, deployed
}

// csvHeader is the wide tbData header.
func csvHeader() []string {
	h := []string{
		"PROJECT", "UPDATE_DATE_TIME", "OUT_SYNCH_DIR", "LOCATION", "ACTION", "DURATION_SEC",
		"OUT-SN", "OUT-DEPLOYMENT", "OUT-IMAGE", "OUT-FW-REV", "OUT-COMMUNITY", "OUT-ROTATION-DATE",
		"IN-SN", "IN-DEPLOYMENT", "IN-IMAGE", "IN-FW-REV", "IN-COMMUNITY", "IN-LAST-UPDATED", "IN-SYNCH-DIR",
		"IN-DISK-LABEL", "CHKDSK CORRUPTION?",
		"FLASH-SN", "FLASH-REFLASHES", "FLASH-DEPLOYMENT", "FLASH-IMAGE", "FLASH-COMMUNITY", "FLASH-LAST-UPDATED",
		"FLASH-CUM-DAYS", "FLASH-CORRUPTION-DAY", "FLASH-VOLT", "FLASH-POWERUPS", "FLASH-PERIODS", "FLASH-ROTATIONS",
		"FLASH-MSGS", "FLASH-MINUTES", "FLASH-STARTS", "FLASH-PARTIAL", "FLASH-HALF", "FLASH-MOST", "FLASH-ALL",
		"FLASH-APPLIED", "FLASH-USELESS",
	}
	for r := range flashstats.Rotations {
		n := strconv.Itoa(r)
		h = append(h, "FLASH-ROTATION", "FLASH-MINUTES-R"+n, "FLASH-PERIOD-R"+n, "FLASH-HRS-POST-UPDATE-R"+n, "FLASH-VOLT-R"+n)
	}
	return h
}

func (l *Logger) csvRow(op Operation) []string {
	legacy := upper(op.Timestamp.Format(legacyLayout))
	prev, next := op.Previous, op.New
	row := []string{
		upper(prev.Project), legacy, legacy + "-" + upper(l.loaderID), upper(op.Location), op.Action,
		strconv.Itoa(int(op.Duration.Round(time.Second) / time.Second)),
		upper(next.SerialNumber),
	}
	if op.StatsOnly {
		row = append(row, "", "", "", "", "")
	} else {
		row = append(row, upper(next.Deployment), upper(next.PackageList()), next.Firmware, upper(next.Community), next.UpdateTimestamp)
	}
	row = append(row,
		upper(prev.SerialNumber), upper(prev.Deployment), upper(prev.PackageList()), prev.Firmware,
		upper(prev.Community), prev.UpdateTimestamp, upper(prev.SynchDir), op.DiskLabel, strconv.FormatBool(op.Corrupted),
	)

	f := op.Flash
	if !f.Present() {
		return append(row, make([]string, len(csvHeader())-len(row))...)
	}
	itoa := func(v int64) string { return strconv.FormatInt(v, 10) }
	t := f.Totals()
	row = append(row,
		upper(f.Serial), itoa(int64(f.Reflashes)), upper(f.Deployment), upper(f.Image), upper(f.Community), f.UpdateDate(),
		itoa(int64(f.CumulativeDays)), itoa(int64(f.CorruptionDay)), itoa(int64(f.LastInitVoltage)), itoa(int64(f.Powerups)),
		itoa(int64(f.Periods)), itoa(int64(f.ProfileTotalRotations)), itoa(int64(f.TotalMessages)),
		itoa(t.Seconds/60), itoa(t.Started), itoa(t.Quarter), itoa(t.Half), itoa(t.ThreeQuarters), itoa(t.Completed),
		itoa(t.Applied), itoa(t.Useless),
	)
	for r := range flashstats.Rotations {
		rot := f.Rotations[r]
		row = append(row, strconv.Itoa(r), itoa(f.SecondsPerRotation(r)/60), itoa(int64(rot.StartingPeriod)),
			itoa(int64(rot.HoursAfterUpdate)), itoa(int64(rot.InitVoltage)))
	}
	return row
}

func encodeCSV(rows ...[]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (l *Logger) appendCSVRow(name string, row []string) error {
	rows := [][]string{row}
	if !l.fs.Exists(name) {
		rows = [][]string{csvHeader(), row}
	}
	data, err := encodeCSV(rows...)
	if err != nil {
		return services.Wrap(services.ErrIO, "oplog", "csv", name, err)
	}
	if _, err := l.fs.Append(name, bytes.NewReader(data)); err != nil {
		return services.Wrap(services.ErrIO, "oplog", "csv", "append "+name, err)
	}
	return nil
}

func (l *Logger) appendRecord(name string, rec Record) error {
	if _, err := l.fs.Append(name, strings.NewReader(rec.Format())); err != nil {
		return services.Wrap(services.ErrIO, "oplog", "log", "append "+name, err)
	}
	return nil
}

func (l *Logger) writeProjection(name string, row Projection) error {
	data, err := encodeCSV(row.Columns, row.Values)
	if err != nil {
		return services.Wrap(services.ErrIO, "oplog", "projection", name, err)
	}
	if _, err := l.fs.CreateFile(name, bytes.NewReader(data), true); err != nil {
		return services.Wrap(services.ErrIO, "oplog", "projection", "write "+name, err)
	}
	return nil
}
