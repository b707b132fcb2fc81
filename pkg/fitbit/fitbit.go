// Package fitbit reads weight logs from a Fitbit data export archive.
package fitbit

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/metrics"
)

// LbsToKg converts the pounds of the export to kilograms.
const LbsToKg = 0.45359237

const weightLogs = "/Personal & Account/weight"

// entry is one record of a weight-*.json log.
type entry struct {
	LogID  int64   `json:"logId"` // unix ms, UTC
	Weight float32 `json:"weight"`
	BMI    float32 `json:"bmi"`
	Fat    float32 `json:"fat"`
	Source string  `json:"source"`
}

// Read returns every weight log of the archive at path.
func Read(path string) ([]*core.Weight, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var weights []*core.Weight

	for _, f := range zr.File {
		if !strings.Contains(f.Name, weightLogs) {
			continue
		}

		entries, err := readLog(f)
		if err != nil {
			return nil, fmt.Errorf("fitbit: %s: %w", f.Name, err)
		}

		for _, e := range entries {
			weights = append(weights, &core.Weight{
				Date:    time.UnixMilli(e.LogID),
				Weight:  e.Weight * LbsToKg,
				BMI:     e.BMI,
				BodyFat: e.Fat,
				Source:  e.Source,
			})
			metrics.RecordNormalized("fitbit", "archive")
		}
	}

	return weights, nil
}

func readLog(f *zip.File) ([]entry, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var entries []entry
	if err = json.NewDecoder(rc).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}
