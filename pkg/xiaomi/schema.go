package xiaomi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/metrics"
)

// scalePageSize is the number of records a full scale data page carries.
const scalePageSize = 20

// fromSource values.
const (
	sourceTyped  = 1
	sourceLoose  = 2
	sourceString = 3
)

// scaleItem is one record of the eco scale endpoints. Data holds a JSON
// document whose shape depends on FromSource.
type scaleItem struct {
	Model       string `json:"model"`
	UID         int64  `json:"uid"`
	AccountID   int64  `json:"accountId"`
	Did         string `json:"did"`
	CreateTime  int64  `json:"createTime"` // ms
	Data        string `json:"data"`
	DataVersion int    `json:"dataVersion"`
	Sn          string `json:"sn"`
	FromSource  int    `json:"fromSource"`
}

// scaleData is the closed set of payload shapes. Only the types in this file
// implement it.
type scaleData interface {
	schema() string
	weight(item *scaleItem) *core.Weight
}

// typedScaleData (fromSource 1) carries numbers with their natural types.
type typedScaleData struct {
	Weight    float32 `json:"weight"`
	BMI       float32 `json:"bmi"`
	BodyFat   float32 `json:"bfp"`
	BodyWater float32 `json:"bwp"`
	BoneMass  float32 `json:"bmc"`

	MetabolicAge int     `json:"ma"`
	MuscleMass   float32 `json:"slm"`
	BodyType     int     `json:"bt"`
	ProteinMass  float32 `json:"pm"`
	VisceralFat  int     `json:"vfl"`

	BMR                int     `json:"bmr"`
	BodyScore          int     `json:"sbc"`
	HeartRate          int     `json:"heartRate"`
	SkeletalMuscleMass float32 `json:"smm"`
	ReportFrom         string  `json:"reportFrom"`

	User struct {
		Name   string `json:"name"`
		Height any    `json:"height"`
	} `json:"user"`
}

func (*typedScaleData) schema() string { return "typed" }

func (d *typedScaleData) weight(item *scaleItem) *core.Weight {
	return &core.Weight{
		Date:      time.UnixMilli(item.CreateTime),
		Weight:    d.Weight,
		BMI:       d.BMI,
		BodyFat:   d.BodyFat,
		BodyWater: d.BodyWater,
		BoneMass:  d.BoneMass,

		MetabolicAge:   d.MetabolicAge,
		MuscleMass:     d.MuscleMass,
		PhysiqueRating: d.BodyType,
		ProteinMass:    d.ProteinMass,
		VisceralFat:    d.VisceralFat,

		BasalMetabolism:    d.BMR,
		BodyScore:          d.BodyScore,
		HeartRate:          d.HeartRate,
		Height:             parseAnyFloat(d.User.Height),
		SkeletalMuscleMass: d.SkeletalMuscleMass,

		User:   d.User.Name,
		Source: d.ReportFrom,
	}
}

// looseScaleData (fromSource 2) has the same keys but every value may be a
// string or a number.
type looseScaleData struct {
	Weight    any `json:"weight"`
	BMI       any `json:"bmi"`
	BodyFat   any `json:"bfp"`
	BodyWater any `json:"bwp"`
	BoneMass  any `json:"bmc"`

	MetabolicAge any `json:"ma"`
	MuscleMass   any `json:"slm"`
	BodyType     any `json:"bt"`
	ProteinMass  any `json:"pm"`
	VisceralFat  any `json:"vfl"`

	BMR                any `json:"bmr"`
	BodyScore          any `json:"sbc"`
	HeartRate          any `json:"heartRate"`
	SkeletalMuscleMass any `json:"smm"`

	User struct {
		Name     string `json:"name"`
		Height   any    `json:"height"`
		DeviceID string `json:"deviceId"`
	} `json:"user"`
}

func (*looseScaleData) schema() string { return "loose" }

func (d *looseScaleData) weight(item *scaleItem) *core.Weight {
	return &core.Weight{
		Date:      time.UnixMilli(item.CreateTime),
		Weight:    parseAnyFloat(d.Weight),
		BMI:       parseAnyFloat(d.BMI),
		BodyFat:   parseAnyFloat(d.BodyFat),
		BodyWater: parseAnyFloat(d.BodyWater),
		BoneMass:  parseAnyFloat(d.BoneMass),

		MetabolicAge:   parseAnyInt(d.MetabolicAge),
		MuscleMass:     parseAnyFloat(d.MuscleMass),
		PhysiqueRating: parseAnyInt(d.BodyType),
		ProteinMass:    parseAnyFloat(d.ProteinMass),
		VisceralFat:    parseAnyInt(d.VisceralFat),

		BasalMetabolism:    parseAnyInt(d.BMR),
		BodyScore:          parseAnyInt(d.BodyScore),
		HeartRate:          parseAnyInt(d.HeartRate),
		Height:             parseAnyFloat(d.User.Height),
		SkeletalMuscleMass: parseAnyFloat(d.SkeletalMuscleMass),

		User:   d.User.Name,
		Source: d.User.DeviceID,
	}
}

// stringScaleData (fromSource 3) has string-typed top-level values and an
// optional JSON blob with the body composition.
type stringScaleData struct {
	BMI         string `json:"bmi"`
	BodyRes     string `json:"bodyRes"`
	BodyRes2    string `json:"bodyRes2"`
	BodyResData string `json:"bodyResData"`
	HeartRate   any    `json:"heartRate"`
	Mid         string `json:"mid"`
	Time        string `json:"time"` // ms
	Weight      string `json:"weight"`
	User        struct {
		Name string `json:"name"`
	} `json:"user"`

	composition *bodyComposition
}

// bodyComposition is the decoded bodyResData blob.
type bodyComposition struct {
	BodyFat            string `json:"bfp"`
	MuscleMass         string `json:"slm"`
	BodyWater          string `json:"bwp"`
	BoneMass           string `json:"bmc"`
	VisceralFat        string `json:"vfl"`
	ProteinRate        string `json:"pp"`
	SkeletalMuscleMass string `json:"smm"`
	BMI                string `json:"bmi"`
	StandardWeight     string `json:"swt"`
	MuscleControl      string `json:"mc"`
	WeightControl      string `json:"wc"`
	FatControl         string `json:"fc"`
	WHR                string `json:"whr"`
	WaistLine          string `json:"wl"`
	HipLine            string `json:"hl"`
	BMR                string `json:"bmr"`
	BodyType           string `json:"bt"`
	MetabolicAge       string `json:"ma"`
	BodyScore          string `json:"sbc"`
	MuscleRate         string `json:"slp"`
	BoneRate           string `json:"bmcp"`
	FatMass            string `json:"bfm"`
	FatFreeMass        string `json:"ffm"`
	BodyWaterMass      string `json:"bwm"`
	ProteinMass        string `json:"pm"`
	SMI                string `json:"smi"`
}

func (*stringScaleData) schema() string { return "string" }

// UnmarshalJSON decodes the top-level fields and then the nested blob.
func (d *stringScaleData) UnmarshalJSON(b []byte) error {
	type plain stringScaleData
	if err := json.Unmarshal(b, (*plain)(d)); err != nil {
		return err
	}
	if d.BodyResData == "" {
		return nil
	}
	d.composition = &bodyComposition{}
	if err := json.Unmarshal([]byte(d.BodyResData), d.composition); err != nil {
		return fmt.Errorf("bodyResData: %w", err)
	}
	return nil
}

func (d *stringScaleData) weight(item *scaleItem) *core.Weight {
	ts := parseInt64(d.Time)
	if ts == 0 {
		ts = item.CreateTime
	}

	w := &core.Weight{
		Date:      time.UnixMilli(ts),
		Weight:    parseFloat(d.Weight),
		BMI:       parseFloat(d.BMI),
		HeartRate: parseAnyInt(d.HeartRate),
		User:      d.User.Name,
		Source:    item.Did,
	}

	if c := d.composition; c != nil {
		w.BodyFat = parseFloat(c.BodyFat)
		w.BodyWater = parseFloat(c.BodyWater)
		w.BoneMass = parseFloat(c.BoneMass)

		w.MetabolicAge = parseInt(c.MetabolicAge)
		w.MuscleMass = parseFloat(c.MuscleMass)
		w.ProteinMass = parseFloat(c.ProteinMass)
		w.VisceralFat = parseInt(c.VisceralFat)

		w.BasalMetabolism = parseInt(c.BMR)
		w.BodyScore = parseInt(c.BodyScore)
		w.SkeletalMuscleMass = parseFloat(c.SkeletalMuscleMass)
	}

	return w
}

// decodeScaleData selects the payload shape by fromSource. It returns nil
// for an unknown discriminator.
func decodeScaleData(item *scaleItem) (scaleData, error) {
	var d scaleData
	switch item.FromSource {
	case sourceTyped:
		d = &typedScaleData{}
	case sourceLoose:
		d = &looseScaleData{}
	case sourceString:
		d = &stringScaleData{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal([]byte(item.Data), d); err != nil {
		return nil, fmt.Errorf("xiaomi: decode fromSource %d record: %w", item.FromSource, err)
	}
	return d, nil
}

// unmarshalScaleData appends the weights of one page and returns the cursor
// for the next one: the createTime of the 20th record of a full page, or 0
// when the page is the last.
func unmarshalScaleData(data []byte, weights *[]*core.Weight) (int64, error) {
	var items []scaleItem
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, fmt.Errorf("xiaomi: decode scale page: %w", err)
	}

	for i := range items {
		item := &items[i]

		d, err := decodeScaleData(item)
		if err != nil {
			return 0, err
		}
		if d == nil {
			metrics.RecordSkipped(vendor, "unknown_source")
			continue
		}

		*weights = append(*weights, d.weight(item))
		metrics.RecordNormalized(vendor, d.schema())
	}

	if len(items) < scalePageSize {
		return 0, nil
	}

	return items[scalePageSize-1].CreateTime, nil
}

// fitnessValue is the value document of a Mi Fitness "weight" record.
type fitnessValue struct {
	BasalMetabolism    int     `json:"basal_metabolism"`
	BMI                float32 `json:"bmi"`
	BodyAge            int     `json:"body_age"`
	BodyFatRate        float32 `json:"body_fat_rate"`
	BodyScore          int     `json:"body_score"`
	BoneMass           float32 `json:"bone_mass"`
	BPM                int     `json:"bpm"`
	MoistureRate       float32 `json:"moisture_rate"`
	MuscleMass         float32 `json:"muscle_mass"`
	ProteinMass        float32 `json:"protein_mass"`
	SkeletalMuscleMass float32 `json:"skeletal_muscle_mass"`
	Time               int64   `json:"time"` // s
	VisceralFat        float32 `json:"visceral_fat"`
	Weight             float32 `json:"weight"`
}

func (v *fitnessValue) weight(sid string, recordTime int64) *core.Weight {
	ts := v.Time
	if ts == 0 {
		ts = recordTime
	}

	return &core.Weight{
		Date:      time.Unix(ts, 0),
		Weight:    v.Weight,
		BMI:       v.BMI,
		BodyFat:   v.BodyFatRate,
		BodyWater: v.MoistureRate,
		BoneMass:  v.BoneMass,

		MetabolicAge: v.BodyAge,
		MuscleMass:   v.MuscleMass,
		ProteinMass:  v.ProteinMass,
		VisceralFat:  int(v.VisceralFat),

		BasalMetabolism:    v.BasalMetabolism,
		BodyScore:          v.BodyScore,
		HeartRate:          v.BPM,
		SkeletalMuscleMass: v.SkeletalMuscleMass,

		Source: sid,
	}
}
