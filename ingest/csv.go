// Package ingest parses CSV uploads into typed entity rows, validates them
// per kind, and commits accepted batches atomically with one created event
// per row. Dry runs return the read-back summary without touching the store.
package ingest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// normalizeHeader maps a raw column name onto its canonical field name:
// case-insensitive, spaces equivalent to underscores.
func normalizeHeader(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return strings.ReplaceAll(name, " ", "_")
}

// table is a fully read CSV upload with normalized headers.
type table struct {
	columns []string
	rows    [][]string
	// warnings collects non-fatal findings (unknown columns).
	warnings []string
}

// readTable reads the upload. The stream must be UTF-8; a leading BOM is
// tolerated. Empty trailing rows are dropped.
func readTable(r io.Reader) (*table, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, domain.Validation("file", "upload is empty")
	}
	if err != nil {
		return nil, domain.Validation("file", fmt.Sprintf("not parseable as CSV: %v", err))
	}

	t := &table{}
	for _, h := range header {
		t.columns = append(t.columns, normalizeHeader(h))
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domain.Validation("file", fmt.Sprintf("not parseable as CSV: %v", err))
		}
		if blank(rec) {
			continue
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// checkHeader verifies the required columns are present and warns once per
// unknown column. Missing required columns abort the whole upload.
func (t *table) checkHeader(required, known []string) error {
	have := map[string]bool{}
	for _, c := range t.columns {
		have[c] = true
	}
	var missing []string
	for _, c := range required {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return domain.Validation("header", "missing required columns: "+strings.Join(missing, ", "))
	}
	ok := map[string]bool{}
	for _, c := range known {
		ok[c] = true
	}
	for _, c := range t.columns {
		if !ok[c] {
			t.warnings = append(t.warnings, "unknown column ignored: "+c)
		}
	}
	return nil
}

// record is one data row with field access by canonical column name.
type record struct {
	columns []string
	fields  []string
	// index is 1-based over data rows, matching the error report contract.
	index int
}

func (t *table) record(i int) record {
	return record{columns: t.columns, fields: t.rows[i], index: i + 1}
}

func (r record) raw() string { return strings.Join(r.fields, ",") }

func (r record) get(name string) string {
	for i, c := range r.columns {
		if c == name && i < len(r.fields) {
			return strings.TrimSpace(r.fields[i])
		}
	}
	return ""
}

func (r record) str(name string) string { return r.get(name) }

func (r record) need(name string) (string, error) {
	v := r.get(name)
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

// float parses a decimal, stripping thousands separators.
func (r record) float(name string) (float64, bool, error) {
	v := r.get(name)
	if v == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s is not a number: %q", name, v)
	}
	return f, true, nil
}

func (r record) int(name string) (int, bool, error) {
	v := r.get(name)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(v, ",", ""))
	if err != nil {
		return 0, false, fmt.Errorf("%s is not an integer: %q", name, v)
	}
	return n, true, nil
}

func (r record) bool(name string) (bool, bool, error) {
	v := strings.ToLower(r.get(name))
	switch v {
	case "":
		return false, false, nil
	case "true", "yes", "1", "y":
		return true, true, nil
	case "false", "no", "0", "n":
		return false, true, nil
	}
	return false, false, fmt.Errorf("%s is not a boolean: %q", name, v)
}

// date parses YYYY-MM-DD, or slash-separated DMY/MDY disambiguated by a
// first component greater than 12. An ambiguous slash date is rejected.
func (r record) date(name string) (time.Time, bool, error) {
	v := r.get(name)
	if v == "" {
		return time.Time{}, false, nil
	}
	t, err := parseDate(v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %v", name, err)
	}
	return t, true, nil
}

// timestamp accepts RFC 3339 or a bare date (midnight UTC).
func (r record) timestamp(name string) (time.Time, bool, error) {
	v := r.get(name)
	if v == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), true, nil
	}
	t, err := parseDate(v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %v", name, err)
	}
	return t, true, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), nil
	}
	parts := strings.Split(v, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("unrecognized date %q", v)
	}
	a, err1 := strconv.Atoi(parts[0])
	b, err2 := strconv.Atoi(parts[1])
	year, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", v)
	}
	var day, month int
	switch {
	case a > 12 && b <= 12:
		day, month = a, b
	case b > 12 && a <= 12:
		day, month = b, a
	default:
		return time.Time{}, fmt.Errorf("ambiguous date %q, use YYYY-MM-DD", v)
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}
