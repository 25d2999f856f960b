package oplog

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind distinguishes the two operation projections.
type Kind string

const (
	KindCollected Kind = "collected"
	KindDeployed  Kind = "deployed"
)

// FileName is the projection CSV for the kind.
func (k Kind) FileName() string {
	return "tbs" + string(k) + ".csv"
}

// coordinatesPattern splits "lat, lon", "(lat lon)" or "lat;lon".
var coordinatesPattern = regexp.MustCompile(`^\s*\(?\s*(?P<lat>[-+]?\d+(\.\d+)?)\s*[,; ]\s*(?P<lon>[-+]?\d+(\.\d+)?)\s*\)?\s*$`)

// ParseCoordinates extracts latitude and longitude from a combined value.
func ParseCoordinates(s string) (lat, lon float64, ok bool) {
	m := coordinatesPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(m[coordinatesPattern.SubexpIndex("lat")], 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(m[coordinatesPattern.SubexpIndex("lon")], 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

type column struct {
	name   string
	source string
}

var deployedColumns = []column{
	{"talkingbookid", "sn"},
	{"recipientid", "recipientid"},
	{"deployedtimestamp", "timestamp"},
	{"project", "project"},
	{"deployment", "deployment"},
	{"contentpackage", "package"},
	{"firmware", "firmware"},
	{"location", "location"},
	{"username", "username"},
	{"tbcdid", "tbcdid"},
	{"action", "action"},
	{"newsn", "newsn"},
	{"testing", "testing"},
	{"deployment_uuid", "deployment_uuid"},
}

var collectedColumns = []column{
	{"talkingbookid", "in_sn"},
	{"recipientid", "in_recipientid"},
	{"collectedtimestamp", "timestamp"},
	{"project", "in_project"},
	{"deployment", "in_deployment"},
	{"contentpackage", "in_package"},
	{"firmware", "in_firmware"},
	{"location", "location"},
	{"username", "username"},
	{"tbcdid", "tbcdid"},
	{"action", "action"},
	{"testing", "in_testing"},
	{"deployment_uuid", "deployment_uuid"},
	{"collection_uuid", "stats_uuid"},
}

// Projection is one row of tbsdeployed.csv or tbscollected.csv.
type Projection struct {
	Kind    Kind
	Columns []string
	Values  []string
}

// Value returns the value of column name.
func (p Projection) Value(name string) string {
	for i, c := range p.Columns {
		if c == name {
			return p.Values[i]
		}
	}
	return ""
}

// Map returns the row keyed by column.
func (p Projection) Map() map[string]string {
	out := make(map[string]string, len(p.Columns))
	for i, c := range p.Columns {
		out[c] = p.Values[i]
	}
	return out
}

// Project renames a key=value payload into the fixed projection columns of
// kind. Missing keys become empty strings. latitude and longitude come
// from explicit fields when both are present, else from coordinates.
func Project(kind Kind, payload *Payload) Projection {
	cols := deployedColumns
	if kind == KindCollected {
		cols = collectedColumns
	}
	p := Projection{Kind: kind}
	for _, c := range cols {
		v, _ := payload.Get(c.source)
		p.Columns = append(p.Columns, c.name)
		p.Values = append(p.Values, v)
	}
	lat, lon := latLon(payload)
	p.Columns = append(p.Columns, "latitude", "longitude")
	p.Values = append(p.Values, lat, lon)
	return p
}

func latLon(payload *Payload) (string, string) {
	latText, hasLat := payload.Get("latitude")
	lonText, hasLon := payload.Get("longitude")
	if hasLat && hasLon {
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(latText), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonText), 64)
		if err1 != nil || err2 != nil {
			return "", ""
		}
		return formatFloat(lat), formatFloat(lon)
	}
	if coords, ok := payload.Get("coordinates"); ok {
		if lat, lon, ok := ParseCoordinates(coords); ok {
			return formatFloat(lat), formatFloat(lon)
		}
	}
	return "", ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
