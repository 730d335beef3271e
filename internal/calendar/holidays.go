package calendar

import "time"

type monthDay struct {
	m time.Month
	d int
}

// nthWeekday is "the n-th <weekday> of month"; n = -1 picks the last one.
type nthWeekday struct {
	m  time.Month
	wd time.Weekday
	n  int
}

type holidayRules struct {
	fixed []monthDay
	nth   []nthWeekday
	// Easter-relative observances.
	holyThursday bool
	goodFriday   bool
}

// National, non-movable public holidays. Regional and "bridge" holidays are
// not listed.
var holidays = map[string]holidayRules{
	"AR": {fixed: []monthDay{{1, 1}, {3, 24}, {4, 2}, {5, 1}, {5, 25}, {6, 20}, {7, 9}, {12, 8}, {12, 25}}, holyThursday: true, goodFriday: true},
	"BO": {fixed: []monthDay{{1, 1}, {1, 22}, {5, 1}, {8, 6}, {11, 2}, {12, 25}}, goodFriday: true},
	"BR": {fixed: []monthDay{{1, 1}, {4, 21}, {5, 1}, {9, 7}, {10, 12}, {11, 2}, {11, 15}, {11, 20}, {12, 25}}, goodFriday: true},
	"CL": {fixed: []monthDay{{1, 1}, {5, 1}, {5, 21}, {7, 16}, {8, 15}, {9, 18}, {9, 19}, {10, 31}, {11, 1}, {12, 8}, {12, 25}}, goodFriday: true},
	"CO": {fixed: []monthDay{{1, 1}, {5, 1}, {7, 20}, {8, 7}, {12, 8}, {12, 25}}, holyThursday: true, goodFriday: true},
	"CR": {fixed: []monthDay{{1, 1}, {4, 11}, {5, 1}, {7, 25}, {8, 2}, {8, 15}, {9, 15}, {12, 25}}, holyThursday: true, goodFriday: true},
	"CU": {fixed: []monthDay{{1, 1}, {1, 2}, {5, 1}, {7, 25}, {7, 26}, {7, 27}, {10, 10}, {12, 25}}, goodFriday: true},
	"DO": {fixed: []monthDay{{1, 1}, {1, 21}, {2, 27}, {5, 1}, {8, 16}, {9, 24}, {11, 6}, {12, 25}}, goodFriday: true},
	"EC": {fixed: []monthDay{{1, 1}, {5, 1}, {5, 24}, {8, 10}, {10, 9}, {11, 2}, {11, 3}, {12, 25}}, goodFriday: true},
	"ES": {fixed: []monthDay{{1, 1}, {1, 6}, {5, 1}, {8, 15}, {10, 12}, {11, 1}, {12, 6}, {12, 8}, {12, 25}}, goodFriday: true},
	"GT": {fixed: []monthDay{{1, 1}, {5, 1}, {6, 30}, {9, 15}, {10, 20}, {11, 1}, {12, 25}}, holyThursday: true, goodFriday: true},
	"HN": {fixed: []monthDay{{1, 1}, {4, 14}, {5, 1}, {9, 15}, {12, 25}}, holyThursday: true, goodFriday: true},
	"MX": {
		fixed: []monthDay{{1, 1}, {5, 1}, {9, 16}, {12, 25}},
		nth:   []nthWeekday{{2, time.Monday, 1}, {3, time.Monday, 3}, {11, time.Monday, 3}},
	},
	"NI": {fixed: []monthDay{{1, 1}, {5, 1}, {7, 19}, {9, 14}, {9, 15}, {12, 8}, {12, 25}}, holyThursday: true, goodFriday: true},
	"PA": {fixed: []monthDay{{1, 1}, {1, 9}, {5, 1}, {11, 3}, {11, 4}, {11, 5}, {11, 10}, {11, 28}, {12, 8}, {12, 25}}, goodFriday: true},
	"PE": {fixed: []monthDay{{1, 1}, {5, 1}, {6, 7}, {6, 29}, {7, 23}, {7, 28}, {7, 29}, {8, 6}, {8, 30}, {10, 8}, {11, 1}, {12, 8}, {12, 9}, {12, 25}}, holyThursday: true, goodFriday: true},
	"PY": {fixed: []monthDay{{1, 1}, {3, 1}, {5, 1}, {5, 14}, {5, 15}, {6, 12}, {8, 15}, {9, 29}, {12, 8}, {12, 25}}, holyThursday: true, goodFriday: true},
	"SV": {fixed: []monthDay{{1, 1}, {5, 1}, {5, 10}, {8, 6}, {9, 15}, {11, 2}, {12, 25}}, holyThursday: true, goodFriday: true},
	"US": {
		fixed: []monthDay{{1, 1}, {6, 19}, {7, 4}, {11, 11}, {12, 25}},
		nth: []nthWeekday{
			{1, time.Monday, 3}, {2, time.Monday, 3}, {5, time.Monday, -1},
			{9, time.Monday, 1}, {10, time.Monday, 2}, {11, time.Thursday, 4},
		},
	},
	"UY": {fixed: []monthDay{{1, 1}, {1, 6}, {5, 1}, {6, 19}, {7, 18}, {8, 25}, {12, 25}}, holyThursday: true, goodFriday: true},
	"VE": {fixed: []monthDay{{1, 1}, {4, 19}, {5, 1}, {6, 24}, {7, 5}, {7, 24}, {10, 12}, {12, 24}, {12, 25}, {12, 31}}, holyThursday: true, goodFriday: true},
}

// IsHoliday reports whether day's calendar date is a national holiday for
// the ISO country code. Unknown codes have no holidays.
func IsHoliday(code string, day time.Time) bool {
	r, ok := holidays[code]
	if !ok {
		return false
	}
	y, m, d := day.Date()
	for _, f := range r.fixed {
		if f.m == m && f.d == d {
			return true
		}
	}
	for _, n := range r.nth {
		if n.m == m && n.matches(y, d) {
			return true
		}
	}
	if r.holyThursday || r.goodFriday {
		em, ed := Easter(y)
		easter := time.Date(y, em, ed, 0, 0, 0, 0, time.UTC)
		date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		switch easter.Sub(date) {
		case 3 * 24 * time.Hour:
			return r.holyThursday
		case 2 * 24 * time.Hour:
			return r.goodFriday
		}
	}
	return false
}

func (n nthWeekday) matches(year, day int) bool {
	first := time.Date(year, n.m, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(n.wd) - int(first.Weekday()) + 7) % 7
	target := 1 + offset + 7*(n.n-1)
	if n.n < 0 {
		last := first.AddDate(0, 1, -1).Day()
		target = 1 + offset
		for target+7 <= last {
			target += 7
		}
	}
	return day == target
}

// Easter returns the Gregorian Easter Sunday of year (anonymous algorithm).
func Easter(year int) (time.Month, int) {
	a := year % 19
	b, c := year/100, year%100
	d, e := b/4, b%4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i, k := c/4, c%4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Month(month), day
}
