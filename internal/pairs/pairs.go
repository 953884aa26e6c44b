// Package pairs reads the cointegration scan output and locates each pair's price files.
package pairs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pairsbot-go/internal/spread"
)

// Pair is one row of the cointegration scan.
type Pair struct {
	Crypto1  string        `json:"crypto1"`
	Crypto2  string        `json:"crypto2"`
	Params   spread.Params `json:"params"`
	Category string        `json:"category"`
}

// Name renders the pair the way result folders are named.
func (p Pair) Name() string { return p.Crypto1 + "_" + p.Crypto2 }

// SymbolA is the perpetual futures symbol of the first leg.
func (p Pair) SymbolA(quote string) string { return p.Crypto1 + quote }

// SymbolB is the perpetual futures symbol of the second leg.
func (p Pair) SymbolB(quote string) string { return p.Crypto2 + quote }

// PricePath follows the {dir}/{SYMBOL}_USDT_{interval}.csv layout written by the data collector.
func PricePath(dir, symbol, interval string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_USDT_%s.csv", strings.ToUpper(symbol), interval))
}

// LoadCSV opens and parses a coint_pairs.csv file.
func LoadCSV(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pairs: %w", err)
	}
	defer f.Close()
	pairs, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pairs, nil
}

var required = []string{"crypto1", "crypto2", "hr", "spread_mean", "spread_std"}

// ReadCSV parses rows with columns crypto1, crypto2, HR, spread_mean, spread_std and an optional
// categories column. A malformed row fails the whole file.
func ReadCSV(r io.Reader) ([]Pair, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	cat, hasCat := cols["categories"]
	if !hasCat {
		cat, hasCat = cols["category"]
	}

	var out []Pair
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		field := func(name string) string {
			i := cols[name]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		p := Pair{Crypto1: strings.ToUpper(field("crypto1")), Crypto2: strings.ToUpper(field("crypto2"))}
		if p.Crypto1 == "" || p.Crypto2 == "" {
			return nil, fmt.Errorf("line %d: empty symbol", line)
		}
		if p.Params.HedgeRatio, err = strconv.ParseFloat(field("hr"), 64); err != nil {
			return nil, fmt.Errorf("line %d: HR: %w", line, err)
		}
		if p.Params.Mean, err = strconv.ParseFloat(field("spread_mean"), 64); err != nil {
			return nil, fmt.Errorf("line %d: spread_mean: %w", line, err)
		}
		if p.Params.Std, err = strconv.ParseFloat(field("spread_std"), 64); err != nil {
			return nil, fmt.Errorf("line %d: spread_std: %w", line, err)
		}
		if hasCat && cat < len(rec) {
			p.Category = strings.TrimSpace(rec[cat])
		}
		out = append(out, p)
	}
	return out, nil
}
