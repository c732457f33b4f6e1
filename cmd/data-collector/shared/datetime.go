package shared

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	extendedDate = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	basicDate    = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	extendedWeek = regexp.MustCompile(`^(\d{4})-W(\d{2})(?:-(\d))?$`)
	basicWeek    = regexp.MustCompile(`^(\d{4})W(\d{2})(\d)?$`)

	// hh[:mm[:ss[.fff]]] in extended or basic form, optional Z or numeric offset
	timeOfDay = regexp.MustCompile(`^(\d{2})(?::?(\d{2})(?::?(\d{2})(?:[.,](\d{1,9}))?)?)?(Z|[+-](\d{2})(?::?(\d{2}))?)?$`)
)

// IsISODatetime reports whether s is an ISO-8601 date or datetime.
// Dates are calendar (2024-05-01, 20240501) or week dates (2024-W18-3, 2024W183).
// The time follows a "T" or a space. Surrounding whitespace is not accepted.
func IsISODatetime(s string) bool {
	datePart, timePart, hasTime := strings.Cut(s, "T")
	if !hasTime {
		datePart, timePart, hasTime = strings.Cut(s, " ")
	}
	if !isISODate(datePart) {
		return false
	}
	return !hasTime || isISOTime(timePart)
}

func isISODate(s string) bool {
	if m := extendedDate.FindStringSubmatch(s); m != nil {
		return validCalendarDate(m[1], m[2], m[3])
	}
	if m := basicDate.FindStringSubmatch(s); m != nil {
		return validCalendarDate(m[1], m[2], m[3])
	}
	if m := extendedWeek.FindStringSubmatch(s); m != nil {
		return validWeekDate(m[1], m[2], m[3])
	}
	if m := basicWeek.FindStringSubmatch(s); m != nil {
		return validWeekDate(m[1], m[2], m[3])
	}
	return false
}

func validCalendarDate(year, month, day string) bool {
	_, err := time.Parse("2006-01-02", year+"-"+month+"-"+day)
	return err == nil
}

func validWeekDate(yearText, weekText, dayText string) bool {
	year, _ := strconv.Atoi(yearText)
	week, _ := strconv.Atoi(weekText)
	day := 1
	if dayText != "" {
		day, _ = strconv.Atoi(dayText)
	}
	if year < 1 || week < 1 || week > 53 || day < 1 || day > 7 {
		return false
	}
	// week 1 is the week containing January 4th
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := (int(jan4.Weekday()) + 6) % 7
	date := jan4.AddDate(0, 0, -offset+(week-1)*7+day-1)
	isoYear, isoWeek := date.ISOWeek()
	return isoYear == year && isoWeek == week
}

func isISOTime(s string) bool {
	m := timeOfDay.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	below := func(text string, limit int) bool {
		if text == "" {
			return true
		}
		n, _ := strconv.Atoi(text)
		return n < limit
	}
	return below(m[1], 24) && below(m[2], 60) && below(m[3], 60) && below(m[6], 24) && below(m[7], 60)
}
