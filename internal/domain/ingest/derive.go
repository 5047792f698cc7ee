package ingest

const (
	SystemWearable = "http://whoop.com/fhir/CodeSystem"
	SystemLOINC    = "http://loinc.org"

	LOINCHeartRate       = "8867-4"
	LOINCHRV             = "80404-7"
	LOINCRespiratoryRate = "9279-1"

	ObservationCategoryVitalSigns = "vital-signs"
	ObservationCategoryActivity   = "activity"
)

// Reading is one value derived from a source record, ready to become an
// Observation.
type Reading struct {
	System            string
	Code              string
	Value             float64
	Unit              string
	EffectiveDateTime string
	Category          string
}

// Derive maps a record of the given category to its readings. Records
// without a timestamp or score yield nothing; optional metrics are skipped
// when absent.
func Derive(category string, rec Record) []Reading {
	switch category {
	case CategoryRecovery:
		return deriveRecovery(rec)
	case CategorySleep:
		return deriveSleep(rec)
	case CategoryWorkout:
		return deriveWorkout(rec)
	case CategoryCycle:
		return deriveCycle(rec)
	}
	return nil
}

type deriver struct {
	ts    string
	score map[string]any
	out   []Reading
}

func newDeriver(rec Record, tsField string) (*deriver, bool) {
	ts, _ := rec[tsField].(string)
	score, _ := rec["score"].(map[string]any)
	if ts == "" || score == nil {
		return nil, false
	}
	return &deriver{ts: ts, score: score}, true
}

// add appends the score field divided by div when it is numeric.
func (d *deriver) add(system, code, field, unit, category string, div float64) {
	v, ok := number(d.score[field])
	if !ok {
		return
	}
	d.out = append(d.out, Reading{
		System:            system,
		Code:              code,
		Value:             v / div,
		Unit:              unit,
		EffectiveDateTime: d.ts,
		Category:          category,
	})
}

func deriveRecovery(rec Record) []Reading {
	d, ok := newDeriver(rec, "created_at")
	if !ok {
		return nil
	}
	d.add(SystemWearable, "recovery-score", "recovery_score", "score", ObservationCategoryVitalSigns, 1)
	d.add(SystemLOINC, LOINCHRV, "hrv_rmssd_milli", "ms", ObservationCategoryVitalSigns, 1)
	d.add(SystemLOINC, LOINCHeartRate, "resting_heart_rate", "bpm", ObservationCategoryVitalSigns, 1)
	d.add(SystemLOINC, LOINCRespiratoryRate, "respiratory_rate", "/min", ObservationCategoryVitalSigns, 1)
	return d.out
}

func deriveSleep(rec Record) []Reading {
	d, ok := newDeriver(rec, "end")
	if !ok {
		return nil
	}
	// milliseconds to minutes
	d.add(SystemWearable, "sleep-duration", "total_in_bed_time_milli", "min", ObservationCategoryActivity, 60000)
	d.add(SystemWearable, "sleep-quality", "sleep_performance_percentage", "%", ObservationCategoryActivity, 1)
	return d.out
}

func deriveWorkout(rec Record) []Reading {
	d, ok := newDeriver(rec, "end")
	if !ok {
		return nil
	}
	d.add(SystemWearable, "strain-score", "strain", "score", ObservationCategoryActivity, 1)
	d.add(SystemLOINC, LOINCHeartRate, "average_heart_rate", "bpm", ObservationCategoryVitalSigns, 1)
	return d.out
}

func deriveCycle(rec Record) []Reading {
	d, ok := newDeriver(rec, "end")
	if !ok {
		return nil
	}
	d.add(SystemWearable, "day-strain", "strain", "score", ObservationCategoryActivity, 1)
	return d.out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
