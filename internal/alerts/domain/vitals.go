package alerts

import (
	"encoding/json"
	"errors"
	"strconv"
)

// ErrNotNumeric indicates a reading value that cannot be coerced to a
// float. Evaluation skips the vital; it never fails the whole snapshot.
var ErrNotNumeric = errors.New("vitals: value not numeric")

// Reading is a single vital measurement as delivered by the ingestion
// pipeline.
type Reading struct {
	Value any `json:"value"`
}

// Snapshot holds zero or more named vital readings. Missing vitals are
// simply not evaluated.
type Snapshot map[string]Reading

// Float coerces the reading value to a float64.
func (r Reading) Float() (float64, error) {
	switch v := r.Value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, ErrNotNumeric
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, ErrNotNumeric
		}
		return f, nil
	default:
		return 0, ErrNotNumeric
	}
}
