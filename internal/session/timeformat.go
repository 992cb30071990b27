package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is a named clock configuration. Label is kept as the client
// sent it; Key is the canonical form used for matchmaking.
type TimeFormat struct {
	Label     string
	Base      time.Duration
	Increment time.Duration
}

// Key is "<base minutes>+<increment seconds>", so "Blitz: 3 + 1 min" and "3+1"
// land in the same queue.
func (f TimeFormat) Key() string {
	return fmt.Sprintf("%s+%d", trimFloat(f.Base.Minutes()), int(f.Increment/time.Second))
}

func (f TimeFormat) String() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Key()
}

var timeFormatRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(?:\+\s*(\d+))?\s*(?:m|min|mins|minutes)?$`)

// ParseTimeFormat accepts "10", "5+3", "3 + 1 min" and labelled forms such
// as "Rapid: 10 min" or "Bullet: 1 + 1 min". Base is in minutes, increment
// in seconds.
func ParseTimeFormat(s string) (TimeFormat, error) {
	label := strings.TrimSpace(s)
	body := label
	if i := strings.LastIndex(body, ":"); i >= 0 {
		body = body[i+1:]
	}
	body = strings.ToLower(strings.TrimSpace(body))
	m := timeFormatRe.FindStringSubmatch(body)
	if m == nil {
		return TimeFormat{}, fmt.Errorf("unrecognized time format %q", s)
	}
	mins, err := strconv.ParseFloat(m[1], 64)
	if err != nil || mins <= 0 || mins > 24*60 {
		return TimeFormat{}, fmt.Errorf("bad base time in %q", s)
	}
	f := TimeFormat{Label: label, Base: time.Duration(mins * float64(time.Minute))}
	if m[2] != "" {
		inc, err := strconv.Atoi(m[2])
		if err != nil || inc > 600 {
			return TimeFormat{}, fmt.Errorf("bad increment in %q", s)
		}
		f.Increment = time.Duration(inc) * time.Second
	}
	return f, nil
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
