package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"pairsbot-go/internal/signal"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// LoadCSV reads a price file with at least `timestamp` and `close` columns.
func LoadCSV(path string) (Series, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prices: %w", err)
	}
	defer file.Close()

	s, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return s, nil
}

// ReadCSV parses CSV rows into a sorted series with duplicate timestamps collapsed to the last row.
func ReadCSV(r io.Reader) (Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	tsCol, closeCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "timestamp", "open_time", "time":
			if tsCol < 0 {
				tsCol = i
			}
		case "close":
			closeCol = i
		}
	}
	if tsCol < 0 || closeCol < 0 {
		return nil, &InputDataError{Series: "csv", Reason: "missing timestamp or close column"}
	}

	var out Series
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if len(row) <= tsCol || len(row) <= closeCol {
			return nil, &InputDataError{Series: "csv", Index: line, Reason: "short row"}
		}
		ts, err := ParseTime(row[tsCol])
		if err != nil {
			return nil, &InputDataError{Series: "csv", Index: line, Reason: err.Error()}
		}
		px, err := strconv.ParseFloat(strings.TrimSpace(row[closeCol]), 64)
		if err != nil {
			return nil, &InputDataError{Series: "csv", Index: line, Ts: ts, Reason: fmt.Sprintf("bad close %q", row[closeCol])}
		}
		out = append(out, signal.PricePoint{Ts: ts, Close: px})
	}
	return out.Sort(), nil
}

// ParseTime accepts RFC3339-like strings, plain dates, or epoch milliseconds.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
