// Package transform rewrites weight fields with expr-lang expressions.
package transform

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/okian/scaleconnect/pkg/core"
)

type kind int

const (
	kindFloat kind = iota
	kindInt
	kindString
	kindDate
)

var fields = map[string]kind{
	"Date": kindDate,

	"Weight":             kindFloat,
	"BMI":                kindFloat,
	"BodyFat":            kindFloat,
	"BodyWater":          kindFloat,
	"BoneMass":           kindFloat,
	"MuscleMass":         kindFloat,
	"ProteinMass":        kindFloat,
	"Height":             kindFloat,
	"SkeletalMuscleMass": kindFloat,

	"MetabolicAge":    kindInt,
	"PhysiqueRating":  kindInt,
	"VisceralFat":     kindInt,
	"BasalMetabolism": kindInt,
	"BodyScore":       kindInt,
	"HeartRate":       kindInt,

	"User":   kindString,
	"Source": kindString,
}

type program struct {
	field string
	kind  kind
	prog  *vm.Program
}

// compile checks every expression against the Weight environment.
func compile(exprs map[string]string) ([]program, error) {
	names := make([]string, 0, len(exprs))
	for name := range exprs {
		names = append(names, name)
	}
	sort.Strings(names)

	programs := make([]program, 0, len(names))
	for _, name := range names {
		k, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("expr: unknown field %q", name)
		}

		opts := []expr.Option{expr.Env(core.Weight{})}
		switch k {
		case kindFloat:
			opts = append(opts, expr.AsFloat64())
		case kindInt:
			opts = append(opts, expr.AsInt())
		case kindString:
			opts = append(opts, expr.AsKind(reflect.String))
		case kindDate:
			opts = append(opts, expr.AsAny())
		}

		p, err := expr.Compile(exprs[name], opts...)
		if err != nil {
			return nil, fmt.Errorf("expr %s: %w", name, err)
		}
		programs = append(programs, program{field: name, kind: k, prog: p})
	}
	return programs, nil
}

// Apply evaluates exprs against each weight and stores the results. Every
// expression sees the weight as it was before any field was rewritten.
func Apply(exprs map[string]string, weights []*core.Weight) error {
	programs, err := compile(exprs)
	if err != nil {
		return err
	}

	for _, w := range weights {
		env := *w
		for _, p := range programs {
			v, err := expr.Run(p.prog, env)
			if err != nil {
				return fmt.Errorf("expr %s: %w", p.field, err)
			}
			if err = set(w, p, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func set(w *core.Weight, p program, v any) error {
	switch p.kind {
	case kindDate:
		date, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("expr Date: invalid date: %v", v)
		}
		w.Date = date
		return nil
	case kindString:
		s := v.(string)
		if p.field == "User" {
			w.User = s
		} else {
			w.Source = s
		}
		return nil
	case kindInt:
		setInt(w, p.field, v.(int))
		return nil
	}

	setFloat(w, p.field, float32(v.(float64)))
	return nil
}

func setInt(w *core.Weight, field string, i int) {
	switch field {
	case "MetabolicAge":
		w.MetabolicAge = i
	case "PhysiqueRating":
		w.PhysiqueRating = i
	case "VisceralFat":
		w.VisceralFat = i
	case "BasalMetabolism":
		w.BasalMetabolism = i
	case "BodyScore":
		w.BodyScore = i
	case "HeartRate":
		w.HeartRate = i
	}
}

func setFloat(w *core.Weight, field string, f float32) {
	switch field {
	case "Weight":
		w.Weight = f
	case "BMI":
		w.BMI = f
	case "BodyFat":
		w.BodyFat = f
	case "BodyWater":
		w.BodyWater = f
	case "BoneMass":
		w.BoneMass = f
	case "MuscleMass":
		w.MuscleMass = f
	case "ProteinMass":
		w.ProteinMass = f
	case "Height":
		w.Height = f
	case "SkeletalMuscleMass":
		w.SkeletalMuscleMass = f
	}
}
