// Package csv encodes weights in the fixed-column CSV layout used for import
// and export. Zero numeric values are written as empty cells and dates use
// time.DateTime in local time.
package csv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/okian/scaleconnect/pkg/core"
)

// Header is the first line of every file written by Write.
const Header = "Date,Weight," +
	"BMI,BodyFat,BodyWater,BoneMass," +
	"MetabolicAge,MuscleMass,PhysiqueRating,ProteinMass,VisceralFat," +
	"BasalMetabolism,HeartRate,SkeletalMuscleMass," +
	"User,Source\n"

// Read decodes records by header name. Unknown columns are ignored.
func Read(r io.Reader) ([]*core.Weight, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, err
	}

	var weights []*core.Weight

	for {
		record, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		w := &core.Weight{}
		for i, name := range header {
			if i >= len(record) {
				break
			}
			setField(w, strings.TrimSpace(name), record[i])
		}

		weights = append(weights, w)
	}

	return weights, nil
}

func setField(w *core.Weight, name, s string) {
	switch name {
	case "Date":
		w.Date = parseDate(s)
	case "Weight":
		w.Weight = parseFloat(s)
	case "BMI":
		w.BMI = parseFloat(s)
	case "BodyFat":
		w.BodyFat = parseFloat(s)
	case "BodyWater":
		w.BodyWater = parseFloat(s)
	case "BoneMass":
		w.BoneMass = parseFloat(s)
	case "MetabolicAge":
		w.MetabolicAge = parseInt(s)
	case "MuscleMass":
		w.MuscleMass = parseFloat(s)
	case "PhysiqueRating":
		w.PhysiqueRating = parseInt(s)
	case "ProteinMass":
		w.ProteinMass = parseFloat(s)
	case "VisceralFat":
		w.VisceralFat = parseInt(s)
	case "BasalMetabolism":
		w.BasalMetabolism = parseInt(s)
	case "HeartRate":
		w.HeartRate = parseInt(s)
	case "SkeletalMuscleMass":
		w.SkeletalMuscleMass = parseFloat(s)
	case "User":
		w.User = s
	case "Source":
		w.Source = s
	}
}

func parseDate(s string) time.Time {
	t, _ := time.ParseInLocation(time.DateTime, s, time.Local)
	return t
}

func parseFloat(s string) float32 {
	f, _ := strconv.ParseFloat(s, 32)
	return float32(f)
}

func parseInt(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

// Write writes Header followed by one line per weight.
func Write(w io.Writer, weights []*core.Weight) error {
	if _, err := io.WriteString(w, Header); err != nil {
		return err
	}
	for _, weight := range weights {
		if _, err := w.Write(Marshal(weight)); err != nil {
			return err
		}
	}
	return nil
}

// Marshal encodes one weight as a CSV line, quoting text cells when needed.
func Marshal(weight *core.Weight) []byte {
	record := []string{
		weight.Date.Local().Format(time.DateTime),
		formatFloat(weight.Weight),

		formatFloat(weight.BMI),
		formatFloat(weight.BodyFat),
		formatFloat(weight.BodyWater),
		formatFloat(weight.BoneMass),

		formatInt(weight.MetabolicAge),
		formatFloat(weight.MuscleMass),
		formatInt(weight.PhysiqueRating),
		formatFloat(weight.ProteinMass),
		formatInt(weight.VisceralFat),

		formatInt(weight.BasalMetabolism),
		formatInt(weight.HeartRate),
		formatFloat(weight.SkeletalMuscleMass),

		weight.User,
		weight.Source,
	}

	var b bytes.Buffer
	cw := csv.NewWriter(&b)
	_ = cw.Write(record)
	cw.Flush()
	return b.Bytes()
}

func formatFloat(v float32) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(float64(v), 'f', 2, 32)
}

func formatInt(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}
