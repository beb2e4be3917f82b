// Package dateparse turns natural-language date expressions into concrete
// time intervals. Parsing is reference-instant driven so results are
// reproducible in tests, and "no match" is a nil result rather than an error.
// Range expressions ("sep 8 to 12") are tried before single expressions
// because a range contains substrings the single-expression patterns would
// otherwise claim.
package dateparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"inquest/schema"
)

var (
	daysAgoRe      = regexp.MustCompile(`(\d+)\s+days?\s+ago`)
	lastNDaysRe    = regexp.MustCompile(`last\s+(\d+)\s+days?`)
	lastNWeeksRe   = regexp.MustCompile(`last\s+(\d+)\s+weeks?`)
	lastNMonthsRe  = regexp.MustCompile(`last\s+(\d+)\s+months?`)
	lastWeekdayRe  = regexp.MustCompile(`last\s+([a-z]+)`)
	thisWeekdayRe  = regexp.MustCompile(`this\s+([a-z]+)`)
	nextWeekdayRe  = regexp.MustCompile(`next\s+([a-z]+)`)
	monthWordRe    = regexp.MustCompile(`([a-z]+)`)
	monthDayRe     = regexp.MustCompile(`([a-z]+)\s+(\d+)`)
	isoDateRe      = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	yearQuarterRe  = regexp.MustCompile(`(\d{4})\s*q([1-4])`)
	quarterRe      = regexp.MustCompile(`q([1-4])`)
	timeOfDayRe    = regexp.MustCompile(`(day before yesterday|day after tomorrow|today|yesterday|tomorrow)\s+(early morning|morning|noon|afternoon|evening|night)`)
	monthDayToRe   = regexp.MustCompile(`([a-z]+)\s+(\d+)\s+to\s+(\d+)`)
	monthToMonthRe = regexp.MustCompile(`([a-z]+)\s+(\d+)\s+to\s+([a-z]+)\s+(\d+)`)
	isoRangeRe     = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*(?:to|~)\s*(\d{4}-\d{2}-\d{2})`)
	dayWordToRe    = regexp.MustCompile(`(day before yesterday|day after tomorrow|today|yesterday|tomorrow)\s+to\s+(day before yesterday|day after tomorrow|today|yesterday|tomorrow)`)
	agoRangeRe     = regexp.MustCompile(`(\d+)\s+days?\s+ago\s+to\s+(today|(\d+)\s+days?\s+ago)`)
	weekWeekdayRe  = regexp.MustCompile(`(last|this|next)\s+week\s+([a-z]+)\s+to\s+([a-z]+)`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// timeOfDayHours maps a time-of-day word to its inclusive [start, end] hour
// window. Windows deliberately overlap at the boundaries.
var timeOfDayHours = map[string][2]int{
	"morning":       {0, 11},
	"noon":          {11, 13},
	"afternoon":     {12, 17},
	"evening":       {17, 20},
	"night":         {20, 23},
	"early morning": {0, 5},
}

var dayWordOffsets = map[string]int{
	"day before yesterday": -2,
	"yesterday":            -1,
	"today":                0,
	"tomorrow":             1,
	"day after tomorrow":   2,
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999e6, t.Location())
}

// startOfWeek returns the Monday midnight opening t's calendar week.
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t.AddDate(0, 0, -offset))
}

func endOfWeek(t time.Time) time.Time {
	return endOfDay(startOfWeek(t).AddDate(0, 0, 6))
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func endOfMonth(t time.Time) time.Time {
	return endOfDay(startOfMonth(t).AddDate(0, 1, -1))
}

// previousWeekday returns the most recent day strictly before t falling on w.
func previousWeekday(t time.Time, w time.Weekday) time.Time {
	diff := (int(t.Weekday()) - int(w) + 7) % 7
	if diff == 0 {
		diff = 7
	}
	return t.AddDate(0, 0, -diff)
}

// nextWeekday returns the first day strictly after t falling on w.
func nextWeekday(t time.Time, w time.Weekday) time.Time {
	diff := (int(w) - int(t.Weekday()) + 7) % 7
	if diff == 0 {
		diff = 7
	}
	return t.AddDate(0, 0, diff)
}

func dayRange(t time.Time) *schema.TimeRange {
	return &schema.TimeRange{Start: startOfDay(t), End: endOfDay(t)}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// ParseSingle parses a single-period expression ("yesterday", "last friday",
// "last 7 days", "q2", "yesterday evening") against ref. Returns nil when the
// expression is not a recognized date phrase.
func ParseSingle(expression string, ref time.Time) *schema.TimeRange {
	expr := strings.ToLower(strings.TrimSpace(expression))

	// Compound day + time-of-day windows first; the day words alone would
	// otherwise swallow them.
	if m := timeOfDayRe.FindStringSubmatch(expr); m != nil {
		base := ref.AddDate(0, 0, dayWordOffsets[m[1]])
		hours := timeOfDayHours[m[2]]
		day := startOfDay(base)
		return &schema.TimeRange{
			Start: day.Add(time.Duration(hours[0]) * time.Hour),
			End:   time.Date(day.Year(), day.Month(), day.Day(), hours[1], 59, 59, 999e6, day.Location()),
		}
	}

	if off, ok := dayWordOffsets[expr]; ok {
		return dayRange(ref.AddDate(0, 0, off))
	}

	if m := daysAgoRe.FindStringSubmatch(expr); m != nil {
		return dayRange(ref.AddDate(0, 0, -atoi(m[1])))
	}

	switch expr {
	case "a week ago", "week ago":
		return dayRange(ref.AddDate(0, 0, -7))
	case "a month ago", "month ago":
		return dayRange(ref.AddDate(0, -1, 0))
	case "last week":
		lw := ref.AddDate(0, 0, -7)
		return &schema.TimeRange{Start: startOfWeek(lw), End: endOfWeek(lw)}
	case "this week":
		return &schema.TimeRange{Start: startOfWeek(ref), End: endOfWeek(ref)}
	case "next week":
		nw := ref.AddDate(0, 0, 7)
		return &schema.TimeRange{Start: startOfWeek(nw), End: endOfWeek(nw)}
	case "last hour", "last 1 hour":
		return &schema.TimeRange{Start: ref.Add(-time.Hour), End: ref}
	case "last 24 hours":
		return &schema.TimeRange{Start: ref.Add(-24 * time.Hour), End: ref}
	case "first half":
		y := ref.Year()
		return &schema.TimeRange{
			Start: time.Date(y, time.January, 1, 0, 0, 0, 0, ref.Location()),
			End:   endOfDay(time.Date(y, time.June, 30, 0, 0, 0, 0, ref.Location())),
		}
	case "second half":
		y := ref.Year()
		return &schema.TimeRange{
			Start: time.Date(y, time.July, 1, 0, 0, 0, 0, ref.Location()),
			End:   endOfDay(time.Date(y, time.December, 31, 0, 0, 0, 0, ref.Location())),
		}
	case "last year":
		y := ref.Year() - 1
		return &schema.TimeRange{
			Start: time.Date(y, time.January, 1, 0, 0, 0, 0, ref.Location()),
			End:   endOfDay(time.Date(y, time.December, 31, 0, 0, 0, 0, ref.Location())),
		}
	case "this year":
		// Year to date, not the whole calendar year.
		return &schema.TimeRange{
			Start: time.Date(ref.Year(), time.January, 1, 0, 0, 0, 0, ref.Location()),
			End:   endOfDay(ref),
		}
	}

	// "last N days" counts today as day one.
	if m := lastNDaysRe.FindStringSubmatch(expr); m != nil {
		return &schema.TimeRange{
			Start: startOfDay(ref.AddDate(0, 0, -(atoi(m[1]) - 1))),
			End:   endOfDay(ref),
		}
	}
	if m := lastNWeeksRe.FindStringSubmatch(expr); m != nil {
		return &schema.TimeRange{
			Start: startOfDay(ref.AddDate(0, 0, -7*atoi(m[1]))),
			End:   endOfDay(ref),
		}
	}
	if m := lastNMonthsRe.FindStringSubmatch(expr); m != nil {
		return &schema.TimeRange{
			Start: startOfDay(ref.AddDate(0, -atoi(m[1]), 0)),
			End:   endOfDay(ref),
		}
	}

	// Weekday phrases. Non-weekday words ("last month") fall through to the
	// calendar checks below.
	if m := lastWeekdayRe.FindStringSubmatch(expr); m != nil {
		if w, ok := weekdays[m[1]]; ok {
			return dayRange(previousWeekday(ref, w))
		}
	}
	if m := thisWeekdayRe.FindStringSubmatch(expr); m != nil {
		if w, ok := weekdays[m[1]]; ok {
			return dayRange(startOfWeek(ref).AddDate(0, 0, (int(w)+6)%7))
		}
	}
	if m := nextWeekdayRe.FindStringSubmatch(expr); m != nil {
		if w, ok := weekdays[m[1]]; ok {
			return dayRange(nextWeekday(ref, w))
		}
	}

	switch expr {
	case "last month":
		lm := startOfMonth(ref).AddDate(0, -1, 0)
		return &schema.TimeRange{Start: lm, End: endOfMonth(lm)}
	case "this month":
		// Month to date.
		return &schema.TimeRange{Start: startOfMonth(ref), End: endOfDay(ref)}
	}

	// Quarters before bare month words: "q1" has no month name but
	// "2024 q1" does not either, keep both above the word scan.
	if m := yearQuarterRe.FindStringSubmatch(expr); m != nil {
		return quarterRange(atoi(m[1]), atoi(m[2]), ref.Location())
	}
	if m := quarterRe.FindStringSubmatch(expr); m != nil {
		return quarterRange(ref.Year(), atoi(m[1]), ref.Location())
	}

	// "september 8" style before bare month names.
	if m := monthDayRe.FindStringSubmatch(expr); m != nil {
		if month, ok := months[m[1]]; ok {
			day := atoi(m[2])
			if day >= 1 && day <= 31 {
				return dayRange(time.Date(ref.Year(), month, day, 0, 0, 0, 0, ref.Location()))
			}
		}
	}

	if m := isoDateRe.FindStringSubmatch(expr); m != nil {
		return dayRange(time.Date(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]), 0, 0, 0, 0, ref.Location()))
	}

	// Bare month name means the whole month of the reference year.
	if m := monthWordRe.FindStringSubmatch(expr); m != nil {
		if month, ok := months[m[1]]; ok {
			first := time.Date(ref.Year(), month, 1, 0, 0, 0, 0, ref.Location())
			return &schema.TimeRange{Start: first, End: endOfMonth(first)}
		}
	}

	return nil
}

func quarterRange(year, quarter int, loc *time.Location) *schema.TimeRange {
	startMonth := time.Month((quarter-1)*3 + 1)
	first := time.Date(year, startMonth, 1, 0, 0, 0, 0, loc)
	return &schema.TimeRange{Start: first, End: endOfMonth(first.AddDate(0, 2, 0))}
}

// ParseRange parses an explicit start-to-end expression ("sep 8 to 12",
// "2025-09-08 ~ 2025-09-12", "3 days ago to today", "last week monday to
// friday"). Returns nil when the expression is not a range.
func ParseRange(expression string, ref time.Time) *schema.TimeRange {
	expr := strings.ToLower(strings.TrimSpace(expression))

	if m := dayWordToRe.FindStringSubmatch(expr); m != nil {
		return &schema.TimeRange{
			Start: startOfDay(ref.AddDate(0, 0, dayWordOffsets[m[1]])),
			End:   endOfDay(ref.AddDate(0, 0, dayWordOffsets[m[2]])),
		}
	}

	if m := agoRangeRe.FindStringSubmatch(expr); m != nil {
		end := ref
		if m[3] != "" {
			end = ref.AddDate(0, 0, -atoi(m[3]))
		}
		return &schema.TimeRange{
			Start: startOfDay(ref.AddDate(0, 0, -atoi(m[1]))),
			End:   endOfDay(end),
		}
	}

	if m := isoRangeRe.FindStringSubmatch(expr); m != nil {
		start, err1 := time.ParseInLocation("2006-01-02", m[1], ref.Location())
		end, err2 := time.ParseInLocation("2006-01-02", m[2], ref.Location())
		if err1 == nil && err2 == nil {
			return &schema.TimeRange{Start: startOfDay(start), End: endOfDay(end)}
		}
	}

	// Cross-month form before same-month form so "sep 8 to oct 5" is not
	// truncated.
	if m := monthToMonthRe.FindStringSubmatch(expr); m != nil {
		sm, ok1 := months[m[1]]
		em, ok2 := months[m[3]]
		if ok1 && ok2 {
			y := ref.Year()
			return &schema.TimeRange{
				Start: time.Date(y, sm, atoi(m[2]), 0, 0, 0, 0, ref.Location()),
				End:   endOfDay(time.Date(y, em, atoi(m[4]), 0, 0, 0, 0, ref.Location())),
			}
		}
	}

	if m := monthDayToRe.FindStringSubmatch(expr); m != nil {
		if month, ok := months[m[1]]; ok {
			y := ref.Year()
			return &schema.TimeRange{
				Start: time.Date(y, month, atoi(m[2]), 0, 0, 0, 0, ref.Location()),
				End:   endOfDay(time.Date(y, month, atoi(m[3]), 0, 0, 0, 0, ref.Location())),
			}
		}
	}

	if m := weekWeekdayRe.FindStringSubmatch(expr); m != nil {
		sw, ok1 := weekdays[m[2]]
		ew, ok2 := weekdays[m[3]]
		if ok1 && ok2 {
			var weekStart time.Time
			switch m[1] {
			case "last":
				weekStart = startOfWeek(ref.AddDate(0, 0, -7))
			case "next":
				weekStart = startOfWeek(ref.AddDate(0, 0, 7))
			default:
				weekStart = startOfWeek(ref)
			}
			return &schema.TimeRange{
				Start: startOfDay(weekStart.AddDate(0, 0, (int(sw)+6)%7)),
				End:   endOfDay(weekStart.AddDate(0, 0, (int(ew)+6)%7)),
			}
		}
	}

	return nil
}

// Parse is the unified entry point: range expressions win over single
// expressions, and an unrecognized phrase yields nil.
func Parse(expression string, ref time.Time) *schema.TimeRange {
	if r := ParseRange(expression, ref); r != nil {
		return r
	}
	return ParseSingle(expression, ref)
}
