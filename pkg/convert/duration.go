package convert

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// layouts used for textual dates on the wire
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05.999999"
)

// ParseDuration parses "[days:]hours:minutes:seconds" first and falls back to a bare number of seconds.
// Every part may be fractional, i.e. "01:13:20:00" is 1 day 13 hours 20 minutes.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if parts := strings.Split(s, ":"); len(parts) == 3 || len(parts) == 4 {
		if d, ok := structuredDuration(parts); ok {
			return d, nil
		}
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(math.Round(secs * float64(time.Second))), nil
}

func structuredDuration(parts []string) (time.Duration, bool) {
	neg := strings.HasPrefix(strings.TrimSpace(parts[0]), "-")
	vals := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, false
		}
		vals[i] = math.Abs(f)
	}
	var days float64
	if len(vals) == 4 {
		days, vals = vals[0], vals[1:]
	}
	res := scaled(days, 24*time.Hour) + scaled(vals[0], time.Hour) + scaled(vals[1], time.Minute) + scaled(vals[2], time.Second)
	if neg {
		res = -res
	}
	return res, true
}

func scaled(v float64, unit time.Duration) time.Duration {
	return time.Duration(math.Round(v * float64(unit)))
}

// FormatDuration formats as HH:MM:SS.sss with total hours (not wrapped into days),
// seconds kept to three significant digits and padded to four characters, i.e. 1h is "01:00:00.0"
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign, d = "-", -d
	}
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute

	secs := strconv.FormatFloat(d.Seconds(), 'g', 3, 64)
	if !strings.ContainsAny(secs, ".e") {
		secs += ".0"
	}
	if len(secs) < 4 {
		secs = strings.Repeat("0", 4-len(secs)) + secs
	}
	return fmt.Sprintf("%s%02d:%02d:%s", sign, int64(hours), int64(minutes), secs)
}

// wireDuration keeps microsecond precision, accepted by interval and time column parsers
func wireDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign, d = "-", -d
	}
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	secs := d / time.Second
	d -= secs * time.Second
	return fmt.Sprintf("%s%02d:%02d:%02d.%06d", sign, int64(hours), int64(minutes), int64(secs), d.Microseconds())
}
