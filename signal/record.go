package signal

import (
	"encoding/json"

	"github.com/siffror/iiot-machine-health/errors"
)

// Record is one device's feature set at one instant: the unit of
// exchange between the processor and the storage writer.
type Record struct {
	Measurement string             `json:"measurement"`
	DeviceID    string             `json:"device_id"`
	Timestamp   int64              `json:"timestamp"` // Unix ms
	Fields      map[string]float64 `json:"fields"`
}

// Encode serializes a record for transport.
func (r Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses and validates a transported record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, errors.WrapInvalid(err, "signal", "DecodeRecord", "parse record")
	}
	if r.Measurement == "" {
		return Record{}, errors.WrapInvalid(errors.ErrMissingConfig,
			"signal", "DecodeRecord", "record has no measurement")
	}
	if r.DeviceID == "" {
		return Record{}, errors.WrapInvalid(errors.ErrMissingDeviceID,
			"signal", "DecodeRecord", "record has no device_id")
	}
	if len(r.Fields) == 0 {
		return Record{}, errors.WrapInvalid(errors.ErrEmptySignal,
			"signal", "DecodeRecord", "record has no fields")
	}
	return r, nil
}
