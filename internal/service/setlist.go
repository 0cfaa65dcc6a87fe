package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var setListColumns = []string{"set #", "set_number", "set number", "set"}

// ReadSetList reads a CSV with a set number column and returns the
// normalized set numbers in file order without duplicates.
func ReadSetList(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := -1
	for _, want := range setListColumns {
		for i, h := range header {
			if strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) == want {
				idx = i
				break
			}
		}
		if idx >= 0 {
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("no set number column in %q", header)
	}

	var (
		out  []string
		seen = map[string]bool{}
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read set list: %w", err)
		}
		if idx >= len(rec) {
			continue
		}
		n := NormalizeSetNumber(rec[idx])
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}
