package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/siffror/iiot-machine-health/pkg/timestamp"
)

// Dataset is a feature table loaded from CSV: a header plus rows of
// raw string cells.
type Dataset struct {
	Columns []string
	Rows    [][]string
}

// LoadDataset reads a CSV file with a header row.
func LoadDataset(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("csv has no header row")
	}

	return &Dataset{
		Columns: records[0],
		Rows:    records[1:],
	}, nil
}

// columnIndex returns the index of a named column, or -1.
func (d *Dataset) columnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// isNumericColumn reports whether every non-empty cell in the column
// parses as a float.
func (d *Dataset) isNumericColumn(idx int) bool {
	seen := false
	for _, row := range d.Rows {
		if idx >= len(row) || row[idx] == "" {
			continue
		}
		if _, err := strconv.ParseFloat(row[idx], 64); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

// SelectFeatureColumns chooses which columns become features.
// Explicit keys win; otherwise numeric columns are auto-detected, and
// count > 0 limits the auto-detection to the first N.
func (d *Dataset) SelectFeatureColumns(keys []string, count int) ([]string, error) {
	if len(keys) > 0 {
		var missing []string
		for _, k := range keys {
			if d.columnIndex(k) < 0 {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("missing feature columns in source file: %s",
				strings.Join(missing, ", "))
		}
		return keys, nil
	}

	var numeric []string
	for i, c := range d.Columns {
		if d.isNumericColumn(i) {
			numeric = append(numeric, c)
		}
	}
	if count > 0 {
		if len(numeric) < count {
			return nil, fmt.Errorf("found only %d numeric columns but %d requested",
				len(numeric), count)
		}
		return numeric[:count], nil
	}
	if len(numeric) == 0 {
		return nil, fmt.Errorf("no numeric columns found; provide feature keys or a count")
	}
	return numeric, nil
}

// EventOptions controls how rows convert to events.
type EventOptions struct {
	DeviceIDs     []string // round-robin targets when DeviceIDColumn is unset
	DeviceIDCol   string   // optional column carrying the device id
	TimestampCol  string   // optional column carrying a timestamp
	FeaturePrefix string   // output key prefix, feature_ by default
	Now           func() time.Time
}

// RowToEvent converts one dataset row to a precomputed-feature event:
//
//	{"device_id": ..., "timestamp": <unix seconds>, "feature_1": ..., ...}
//
// Feature cells that fail to parse become 0 so a single bad cell does
// not abort a replay.
func (d *Dataset) RowToEvent(row []string, featureCols []string, rowIdx int, opts EventOptions) map[string]any {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	prefix := opts.FeaturePrefix
	if prefix == "" {
		prefix = "feature_"
	}

	deviceID := ""
	if opts.DeviceIDCol != "" {
		if idx := d.columnIndex(opts.DeviceIDCol); idx >= 0 && idx < len(row) && row[idx] != "" {
			deviceID = row[idx]
		}
	}
	if deviceID == "" && len(opts.DeviceIDs) > 0 {
		deviceID = opts.DeviceIDs[rowIdx%len(opts.DeviceIDs)]
	}

	// Timestamps normalize to seconds whatever their source unit.
	ts := float64(now().UnixMilli()) / 1e3
	if opts.TimestampCol != "" {
		if idx := d.columnIndex(opts.TimestampCol); idx >= 0 && idx < len(row) && row[idx] != "" {
			if raw, err := strconv.ParseFloat(row[idx], 64); err == nil {
				if ms, ok := timestamp.FromEventValue(raw); ok {
					ts = float64(ms) / 1e3
				}
			}
		}
	}

	event := map[string]any{
		"device_id": deviceID,
		"timestamp": ts,
	}
	for i, col := range featureCols {
		var v float64
		if idx := d.columnIndex(col); idx >= 0 && idx < len(row) {
			v, _ = strconv.ParseFloat(row[idx], 64)
		}
		event[fmt.Sprintf("%s%d", prefix, i+1)] = v
	}
	return event
}
