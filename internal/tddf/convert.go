package tddf

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Options tunes decoding behavior.
type Options struct {
	// StrictDates rejects date fields that are not valid calendar dates.
	// The network's files occasionally carry filler like 99999999 in date
	// columns; the historical behavior is to pass those through as
	// syntactically ISO strings (9999-99-99), and downstream reporting
	// depends on that, so lenient is the default.
	StrictDates bool
}

// extractField slices one field out of a line and converts it. The second
// return value is false when the field is absent: slice out of bounds, empty
// after trimming, or failed conversion. Absence is never an error.
func extractField(line string, def FieldDef, opts Options) (any, bool) {
	start := def.Start - 1
	if start < 0 || start >= len(line) {
		return nil, false
	}
	end := def.End
	if end > len(line) {
		end = len(line)
	}
	raw := strings.TrimSpace(line[start:end])
	if raw == "" {
		return nil, false
	}

	switch def.Type {
	case TypeNumeric:
		return convertNumeric(raw, def.Scale)
	case TypeDate:
		return convertDate(raw, opts.StrictDates)
	default:
		return raw, true
	}
}

// convertNumeric parses a base-10 number with optional sign and applies the
// implied decimal scale: raw 000000012345 at scale 2 is 123.45.
func convertNumeric(raw string, scale int) (any, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, false
	}
	if scale > 0 {
		v /= math.Pow10(scale)
	}
	return v, true
}

// convertDate converts an 8-character MMDDCCYY value to an ISO-8601 date
// string. Anything that is not exactly 8 characters is absent. Lenient mode
// does not validate the calendar: 99999999 becomes 9999-99-99.
func convertDate(raw string, strict bool) (any, bool) {
	if len(raw) != 8 {
		return nil, false
	}
	mm, dd, ccyy := raw[0:2], raw[2:4], raw[4:8]
	if strict && !validCalendarDate(ccyy, mm, dd) {
		return nil, false
	}
	return fmt.Sprintf("%s-%s-%s", ccyy, mm, dd), true
}

// validCalendarDate reports whether ccyy-mm-dd is a real calendar date.
func validCalendarDate(ccyy, mm, dd string) bool {
	year, err := strconv.Atoi(ccyy)
	if err != nil {
		return false
	}
	month, err := strconv.Atoi(mm)
	if err != nil {
		return false
	}
	day, err := strconv.Atoi(dd)
	if err != nil {
		return false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	// time.Date normalizes overflow (Feb 30 -> Mar 2); round-trip to catch it.
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Year() == year && t.Month() == time.Month(month) && t.Day() == day
}
