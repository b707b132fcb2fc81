// Package core holds the canonical measurement record and the capability
// interfaces every vendor account implements.
package core

import (
	"time"
)

// Weight is one body-composition measurement. A zero numeric field means the
// value was not reported.
type Weight struct {
	Date   time.Time `json:"Date"`
	Weight float32   `json:"Weight"` // kg

	BMI       float32 `json:"BMI,omitempty"`
	BodyFat   float32 `json:"BodyFat,omitempty"`   // %
	BodyWater float32 `json:"BodyWater,omitempty"` // %
	BoneMass  float32 `json:"BoneMass,omitempty"`  // kg

	MetabolicAge   int     `json:"MetabolicAge,omitempty"`   // years
	MuscleMass     float32 `json:"MuscleMass,omitempty"`     // kg
	PhysiqueRating int     `json:"PhysiqueRating,omitempty"` // 1-9
	ProteinMass    float32 `json:"ProteinMass,omitempty"`    // kg
	VisceralFat    int     `json:"VisceralFat,omitempty"`    // level

	BasalMetabolism    int     `json:"BasalMetabolism,omitempty"` // kcal/day
	BodyScore          int     `json:"BodyScore,omitempty"`
	HeartRate          int     `json:"HeartRate,omitempty"` // bpm
	Height             float32 `json:"Height,omitempty"`    // cm
	SkeletalMuscleMass float32 `json:"SkeletalMuscleMass,omitempty"`

	User   string `json:"User,omitempty"`
	Source string `json:"Source,omitempty"`
}

// Equal reports whether two measurements carry the same values. Date, User
// and Source are identity, not values, and are not compared.
func Equal(a, b *Weight) bool {
	return a.Weight == b.Weight &&
		a.BMI == b.BMI &&
		a.BodyFat == b.BodyFat &&
		a.BodyWater == b.BodyWater &&
		a.BoneMass == b.BoneMass &&
		a.MetabolicAge == b.MetabolicAge &&
		a.MuscleMass == b.MuscleMass &&
		a.PhysiqueRating == b.PhysiqueRating &&
		a.ProteinMass == b.ProteinMass &&
		a.VisceralFat == b.VisceralFat &&
		a.BasalMetabolism == b.BasalMetabolism &&
		a.BodyScore == b.BodyScore &&
		a.HeartRate == b.HeartRate &&
		a.Height == b.Height &&
		a.SkeletalMuscleMass == b.SkeletalMuscleMass
}
