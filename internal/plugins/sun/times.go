package sun

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Phase is a named part of the day
type Phase string

const (
	PhaseNight      Phase = "night"
	PhaseDawn       Phase = "dawn"
	PhaseMorning    Phase = "morning"
	PhaseDay        Phase = "day"
	PhaseGoldenHour Phase = "golden_hour"
	PhaseDusk       Phase = "dusk"
	// PhasePolar means the sun neither rises nor sets on that day
	PhasePolar Phase = "polar"
)

// Civil twilight and golden hour are approximated as fixed offsets from
// sunrise and sunset.
const (
	twilight   = 30 * time.Minute
	goldenHour = 60 * time.Minute
)

// Times holds the sun events of one UTC day at a location
type Times struct {
	Dawn       time.Time
	Sunrise    time.Time
	SunriseEnd time.Time
	GoldenHour time.Time
	Sunset     time.Time
	Dusk       time.Time
}

// Compute returns the sun events of the UTC day containing day. The zero
// Times is returned when the sun does not rise or set that day.
func Compute(lat, lon float64, day time.Time) Times {
	day = day.UTC()
	rise, set := sunrise.SunriseSunset(lat, lon, day.Year(), day.Month(), day.Day())
	if rise.IsZero() || set.IsZero() {
		return Times{}
	}
	return Times{
		Dawn:       rise.Add(-twilight),
		Sunrise:    rise,
		SunriseEnd: rise.Add(twilight),
		GoldenHour: set.Add(-goldenHour),
		Sunset:     set,
		Dusk:       set.Add(twilight),
	}
}

// Polar reports whether the day has no sunrise or sunset
func (t Times) Polar() bool { return t.Sunrise.IsZero() }

type boundary struct {
	at    time.Time
	phase Phase
}

// boundaries lists each event with the phase that begins there
func (t Times) boundaries() []boundary {
	if t.Polar() {
		return nil
	}
	return []boundary{
		{t.Dawn, PhaseDawn},
		{t.Sunrise, PhaseMorning},
		{t.SunriseEnd, PhaseDay},
		{t.GoldenHour, PhaseGoldenHour},
		{t.Sunset, PhaseDusk},
		{t.Dusk, PhaseNight},
	}
}

// Location is a point on earth in decimal degrees
type Location struct {
	Latitude  float64
	Longitude float64
}

// Times returns the sun events of the UTC day containing day
func (l Location) Times(day time.Time) Times {
	return Compute(l.Latitude, l.Longitude, day)
}

// around returns the phase boundaries of the UTC days from the day before
// now up to days after it, in time order. Evening events west of Greenwich
// fall on the next UTC day, so a single day is not enough.
func (l Location) around(now time.Time, days int) []boundary {
	var all []boundary
	day := now.UTC().AddDate(0, 0, -1)
	for i := 0; i <= days+1; i++ {
		all = append(all, l.Times(day).boundaries()...)
		day = day.AddDate(0, 0, 1)
	}
	return all
}

// PhaseAt returns the phase at now
func (l Location) PhaseAt(now time.Time) Phase {
	all := l.around(now, 1)
	if len(all) == 0 {
		return PhasePolar
	}
	phase := PhaseNight
	for _, b := range all {
		if now.Before(b.at) {
			break
		}
		phase = b.phase
	}
	return phase
}

// NextChange returns the first phase change strictly after now and the
// phase that begins there, searching up to a week ahead. ok is false during
// a polar day or night.
func (l Location) NextChange(now time.Time) (at time.Time, phase Phase, ok bool) {
	for _, b := range l.around(now, 7) {
		if b.at.After(now) {
			return b.at, b.phase, true
		}
	}
	return time.Time{}, "", false
}
