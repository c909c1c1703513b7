package anova

// Unit is the temperature unit the device reports raw values in.
type Unit string

const (
	UnitUnknown    Unit = ""
	UnitCelsius    Unit = "C"
	UnitFahrenheit Unit = "F"
)

// Status is the last known state of the cooker. Every field starts unknown
// and is filled in as status reads succeed. Temperatures are always stored
// Celsius-normalized; Unit records what the device itself reports so raw
// readings can be converted on the way in.
type Status struct {
	CurrentTemp  *float64 // Celsius
	TargetTemp   *float64 // Celsius
	TimerMinutes *int
	Running      *bool
	Unit         Unit
}

// clone returns a deep copy so callers can't mutate the cached snapshot.
func (s Status) clone() Status {
	out := Status{Unit: s.Unit}
	if s.CurrentTemp != nil {
		v := *s.CurrentTemp
		out.CurrentTemp = &v
	}
	if s.TargetTemp != nil {
		v := *s.TargetTemp
		out.TargetTemp = &v
	}
	if s.TimerMinutes != nil {
		v := *s.TimerMinutes
		out.TimerMinutes = &v
	}
	if s.Running != nil {
		v := *s.Running
		out.Running = &v
	}
	return out
}
