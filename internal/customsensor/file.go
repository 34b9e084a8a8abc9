package customsensor

import (
	"os"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// maxFileSensorBytes and tempRangeMilli bound the File sensor contract
//: a text file of at most 15 bytes holding a single
// integer in milli-degrees within [0, 120000].
const (
	maxFileSensorBytes = 15
	tempRangeMinMilli  = 0
	tempRangeMaxMilli  = 120000
)

// ReadFileSensor runs the validation pipeline in order (exists, size ≤ 15
// bytes, integer parse, range check, divide by 1000), returning the
// temperature in °C. File read errors and validation failures both return
// a UserError/TransientIO-tagged *model.CoreError; the caller (the Custom
// Sensors adapter) substitutes 0 °C and logs rather than aborting the
// tick.
func ReadFileSensor(path string) (float64, *model.CoreError) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, model.TransientIO("customsensor.file", err)
	}
	if info.Size() > maxFileSensorBytes {
		return 0, model.UserError("customsensor.file", "file exceeds 15 bytes")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, model.TransientIO("customsensor.file", err)
	}
	text := strings.TrimSpace(string(raw))

	milli, err := strconv.Atoi(text)
	if err != nil {
		return 0, model.UserError("customsensor.file", "content is not an integer")
	}
	if milli < tempRangeMinMilli || milli > tempRangeMaxMilli {
		return 0, model.UserError("customsensor.file", "value out of range [0, 120000]")
	}
	return float64(milli) / 1000.0, nil
}
