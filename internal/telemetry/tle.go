package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Element is one named two-line element set.
type Element struct {
	NORADID int
	Name    string
	Epoch   time.Time
	Line1   string
	Line2   string
}

// ParseElements reads TLE text in 2-line or 3-line (named) form. A line is
// taken as a title only when a valid line 1/line 2 pair follows it, so
// stray lines between entries are skipped with a warning. An unnamed entry
// is named after its NORAD ID.
func ParseElements(r io.Reader, logger *slog.Logger) ([]Element, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r\n "); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var out []Element
	for i := 0; i < len(lines); {
		var name, line1, line2 string
		switch {
		case linePair(lines, i):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case linePair(lines, i+1):
			// Title line of a 3-line entry.
			name = strings.TrimSpace(lines[i])
			line1, line2 = lines[i+1], lines[i+2]
			i += 3
		default:
			logger.Warn("skipping malformed TLE line", "line_index", i)
			i++
			continue
		}

		el, err := parseElement(name, line1, line2)
		if err != nil {
			logger.Warn("skipping TLE entry", "name", name, "error", err)
			continue
		}
		out = append(out, el)
	}
	return out, nil
}

// linePair reports whether lines[i] and lines[i+1] are element lines 1 and 2.
func linePair(lines []string, i int) bool {
	return i+1 < len(lines) && strings.HasPrefix(lines[i], "1 ") && strings.HasPrefix(lines[i+1], "2 ")
}

func parseElement(name, line1, line2 string) (Element, error) {
	if len(line1) < 32 {
		return Element{}, fmt.Errorf("line1 too short (%d)", len(line1))
	}
	id, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return Element{}, fmt.Errorf("invalid NORAD ID %q", line1[2:7])
	}
	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return Element{}, err
	}
	if name == "" {
		name = strconv.Itoa(id)
	}
	return Element{NORADID: id, Name: name, Epoch: epoch, Line1: line1, Line2: line2}, nil
}

// parseEpoch decodes YYDDD.DDDDDDDD. Years 57-99 are 19xx, 00-56 are 20xx.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}
	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}
	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((day - 1) * float64(24*time.Hour))), nil
}
