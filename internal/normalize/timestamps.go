package normalize

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// isoLayouts are tried in order for string timestamps. Layouts without a zone
// are read as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// appleEpoch is the zero point of iMessage's numeric dates.
var appleEpoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// millisFloorYear separates millisecond values from second values: a number
// read as milliseconds that lands before this year was really seconds.
const millisFloorYear = 1990

// plausible rejects zero times and values outside the range any real export
// can carry.
func plausible(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	y := t.Year()
	return y >= 1970 && y <= 2100
}

// scalar splits a raw JSON value into a numeric literal or a string. Numeric
// strings count as numbers.
func scalar(raw json.RawMessage) (num, str string, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", "", false
	}
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &str); err != nil {
			return "", "", false
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return "", "", false
		}
		if _, err := strconv.ParseFloat(str, 64); err == nil {
			return str, "", true
		}
		return "", str, true
	}
	if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
		return "", "", false
	}
	return string(raw), "", true
}

func parseInt(num string) (int64, bool) {
	if n, err := strconv.ParseInt(num, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// parseISO parses the string timestamp shapes seen in exports.
func parseISO(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil && plausible(t) {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseMillisFirst reads a numeric value as epoch milliseconds, falling back
// to seconds when milliseconds give an implausibly early date. Strings that
// are not numeric are parsed as ISO-8601.
func parseMillisFirst(raw json.RawMessage) (time.Time, bool) {
	num, str, ok := scalar(raw)
	if !ok {
		return time.Time{}, false
	}
	if num == "" {
		return parseISO(str)
	}
	n, ok := parseInt(num)
	if !ok {
		return time.Time{}, false
	}
	if t := time.UnixMilli(n).UTC(); plausible(t) && t.Year() >= millisFloorYear {
		return t, true
	}
	if t := time.Unix(n, 0).UTC(); plausible(t) {
		return t, true
	}
	return time.Time{}, false
}

// parseUnixSeconds reads epoch seconds, as a number or numeric string.
func parseUnixSeconds(raw json.RawMessage) (time.Time, bool) {
	num, _, ok := scalar(raw)
	if !ok || num == "" {
		return time.Time{}, false
	}
	n, ok := parseInt(num)
	if !ok {
		return time.Time{}, false
	}
	t := time.Unix(n, 0).UTC()
	return t, plausible(t)
}

// parseAppleDate reads iMessage dates: an ISO string, or seconds or
// nanoseconds since 2001-01-01.
func parseAppleDate(raw json.RawMessage) (time.Time, bool) {
	num, str, ok := scalar(raw)
	if !ok {
		return time.Time{}, false
	}
	if num == "" {
		return parseISO(str)
	}
	n, ok := parseInt(num)
	if !ok {
		return time.Time{}, false
	}
	var t time.Time
	if n > 1e14 || n < -1e14 {
		t = appleEpoch.Add(time.Duration(n))
	} else {
		// Seconds are added to the epoch's Unix time; a Duration would
		// overflow past ~292 years.
		t = time.Unix(appleEpoch.Unix()+n, 0).UTC()
	}
	return t, plausible(t)
}
