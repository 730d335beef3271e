// Package calendar answers business-day and business-hour questions for the
// countries the CRM serves and schedules follow-up tasks inside office hours.
package calendar

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	// AgentPrefix marks CRM tasks the activation sweep picks up.
	AgentPrefix = "Agente:"

	openHour  = 9
	closeHour = 17
	dayCap    = 30
)

type country struct {
	tz   string
	code string
}

// countries is keyed by lower-case English country name as stored in the CRM.
var countries = map[string]country{
	"argentina":          {"America/Argentina/Buenos_Aires", "AR"},
	"bolivia":            {"America/La_Paz", "BO"},
	"brazil":             {"America/Sao_Paulo", "BR"},
	"chile":              {"America/Santiago", "CL"},
	"colombia":           {"America/Bogota", "CO"},
	"costa rica":         {"America/Costa_Rica", "CR"},
	"cuba":               {"America/Havana", "CU"},
	"dominican republic": {"America/Santo_Domingo", "DO"},
	"ecuador":            {"America/Guayaquil", "EC"},
	"el salvador":        {"America/El_Salvador", "SV"},
	"guatemala":          {"America/Guatemala", "GT"},
	"honduras":           {"America/Tegucigalpa", "HN"},
	"mexico":             {"America/Mexico_City", "MX"},
	"nicaragua":          {"America/Managua", "NI"},
	"panama":             {"America/Panama", "PA"},
	"paraguay":           {"America/Asuncion", "PY"},
	"peru":               {"America/Lima", "PE"},
	"puerto rico":        {"America/Puerto_Rico", "US"},
	"spain":              {"Europe/Madrid", "ES"},
	"uruguay":            {"America/Montevideo", "UY"},
	"venezuela":          {"America/Caracas", "VE"},
}

func lookup(name string) (country, bool) {
	c, ok := countries[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Location returns the country's timezone, UTC when the country is unknown.
func Location(name string) *time.Location {
	c, ok := lookup(name)
	if !ok {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Code returns the ISO 3166 code used for the holiday table.
func Code(name string) string {
	c, _ := lookup(name)
	return c.code
}

// IsBusinessDay reports whether now falls on a weekday that is not a national
// holiday, in the country's local time.
func IsBusinessDay(name string, now time.Time) bool {
	local := now.In(Location(name))
	return workday(local, Code(name))
}

// IsBusinessHour reports whether 09:00 <= local time < 17:00.
func IsBusinessHour(name string, now time.Time) bool {
	h := now.In(Location(name)).Hour()
	return h >= openHour && h < closeHour
}

func workday(day time.Time, code string) bool {
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !IsHoliday(code, day)
}

// NextBusinessDay returns the first business day strictly after ref's date,
// as local midnight. It gives up after dayCap candidates.
func NextBusinessDay(ref time.Time, name string) time.Time {
	loc := Location(name)
	code := Code(name)
	local := ref.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	for i := 0; i < dayCap; i++ {
		if workday(day, code) {
			return day
		}
		day = day.AddDate(0, 0, 1)
	}
	return day
}

// RandomBusinessTime picks a minute in 09:00-11:59 or 14:00-16:59 on day, in
// loc, and returns it in UTC. A nil rnd uses the global source.
func RandomBusinessTime(day time.Time, loc *time.Location, rnd *rand.Rand) time.Time {
	intN := rand.IntN
	if rnd != nil {
		intN = rnd.IntN
	}
	hour := 9 + intN(3)
	if intN(2) == 1 {
		hour = 14 + intN(3)
	}
	minute := intN(60)
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, hour, minute, 0, 0, loc).UTC()
}

// TaskDueDate schedules a follow-up on the next business day after now.
func TaskDueDate(name string, now time.Time, rnd *rand.Rand) time.Time {
	loc := Location(name)
	return RandomBusinessTime(NextBusinessDay(now, name), loc, rnd)
}

// ParseTaskAgent extracts the agent value from "Agente:<value> | <name>".
// Subjects without the prefix yield "".
func ParseTaskAgent(subject string) string {
	rest, ok := strings.CutPrefix(strings.TrimSpace(subject), AgentPrefix)
	if !ok {
		return ""
	}
	if i := strings.Index(rest, " | "); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

// TaskSubject builds the subject of a qualification follow-up task.
func TaskSubject(agent, companyName string) string {
	name := strings.TrimSpace(companyName)
	if name == "" {
		name = "Sin nombre"
	}
	return fmt.Sprintf("%s%s | %s", AgentPrefix, agent, name)
}

// TaskBody lists the company context a human needs to pick up the task.
func TaskBody(companyID, name, city, countryName string) string {
	na := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "N/A"
		}
		return s
	}
	return strings.Join([]string{
		"company_id: " + companyID,
		"company_name: " + na(name),
		"city: " + na(city),
		"country: " + na(countryName),
	}, "\n")
}
