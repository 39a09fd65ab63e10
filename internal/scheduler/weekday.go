package scheduler

import (
	"errors"
	"strconv"
	"strings"
)

var errWeekday = errors.New("bad day of week")

// cronWeekdays rewrites numeric days from Monday-based 0..6 to the
// Sunday-based numbering of the cron parser. Names and "*" pass through.
// Numeric ranges are expanded into lists since a shifted range may wrap
// past Sunday.
func cronWeekdays(field string) (string, error) {
	items := strings.Split(field, ",")
	out := make([]string, 0, len(items))

	for _, item := range items {
		if item == "" {
			return "", errWeekday
		}
		if !startsWithDigit(item) {
			out = append(out, item)
			continue
		}

		days, err := expandNumeric(item)
		if err != nil {
			return "", err
		}
		for _, d := range days {
			out = append(out, strconv.Itoa((d+1)%7))
		}
	}
	return strings.Join(out, ","), nil
}

func startsWithDigit(s string) bool {
	return s[0] >= '0' && s[0] <= '9'
}

// expandNumeric parses "n", "n-m" or either with a "/step" suffix.
func expandNumeric(item string) ([]int, error) {
	rng, stepStr, hasStep := strings.Cut(item, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepStr)
		if err != nil || n <= 0 {
			return nil, errWeekday
		}
		step = n
	}

	loStr, hiStr, isRange := strings.Cut(rng, "-")
	lo, err := weekday(loStr)
	if err != nil {
		return nil, err
	}
	hi := lo
	if isRange {
		if hi, err = weekday(hiStr); err != nil {
			return nil, err
		}
	} else if hasStep {
		hi = 6
	}
	if hi < lo {
		return nil, errWeekday
	}

	var days []int
	for d := lo; d <= hi; d += step {
		days = append(days, d)
	}
	return days, nil
}

func weekday(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 6 {
		return 0, errWeekday
	}
	return n, nil
}
