// Package ingest turns uploaded coupon files into normalized candidates for
// CouponRepository.BulkInsert. It performs no I/O beyond reading the file.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"coupon-registration/internal/model"
	apperrors "coupon-registration/pkg/errors"

	"github.com/xuri/excelize/v2"
)

type record struct {
	line  int
	cells []string
}

type column int

const (
	colCode column = iota
	colDescription
	colDiscount
	colMaxUses
	colExpiry
	colLinkedInURL
)

var headerAliases = map[string]column{
	"coupon_code":  colCode,
	"code":         colCode,
	"coupon":       colCode,
	"description":  colDescription,
	"discount":     colDiscount,
	"max_uses":     colMaxUses,
	"maxuses":      colMaxUses,
	"expiry_date":  colExpiry,
	"expiry":       colExpiry,
	"linkedin_url": colLinkedInURL,
	"linkedinurl":  colLinkedInURL,
	"url":          colLinkedInURL,
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"01-02-06",
}

// Parse reads a .csv or .xlsx file. The first non-blank row is the header; rows that
// cannot be used are reported as LineErrors with their 1-based file row number.
func Parse(filename string, r io.Reader) ([]model.CouponCandidate, []model.LineError, error) {
	var (
		rows []record
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		rows, err = readCSV(r)
	case ".xlsx":
		rows, err = readXLSX(r)
	default:
		return nil, nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedFile, filepath.Ext(filename))
	}
	if err != nil {
		return nil, nil, err
	}

	return parseRows(rows)
}

func readCSV(r io.Reader) ([]record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []record
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.ValidationError{Field: "file", Message: fmt.Sprintf("malformed csv: %v", err)}
		}
		// csv skips blank lines, so the row index is not the file line
		line, _ := reader.FieldPos(0)
		rows = append(rows, record{line: line, cells: cells})
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([]record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.ValidationError{Field: "file", Message: fmt.Sprintf("unreadable workbook: %v", err)}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.ValidationError{Field: "file", Message: "workbook has no sheets"}
	}
	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperrors.ValidationError{Field: "file", Message: fmt.Sprintf("unreadable sheet: %v", err)}
	}

	rows := make([]record, 0, len(cells))
	for i, c := range cells {
		rows = append(rows, record{line: i + 1, cells: c})
	}
	return rows, nil
}

func parseRows(rows []record) ([]model.CouponCandidate, []model.LineError, error) {
	headerIdx := -1
	for i, row := range rows {
		if !blank(row.cells) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, nil, apperrors.ErrEmptyUpload
	}

	known := make(map[column]int)
	extra := make(map[int]string)
	for i, h := range rows[headerIdx].cells {
		key := normalizeHeader(h)
		if key == "" {
			continue
		}
		if col, ok := headerAliases[key]; ok {
			if _, seen := known[col]; !seen {
				known[col] = i
			}
			continue
		}
		extra[i] = key
	}
	if _, ok := known[colCode]; !ok {
		return nil, nil, apperrors.ValidationError{Field: "file", Message: "missing coupon_code, code or coupon column"}
	}

	candidates := make([]model.CouponCandidate, 0, len(rows)-headerIdx-1)
	var lineErrors []model.LineError
	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		if blank(row.cells) {
			continue
		}

		cand, err := parseRow(row.cells, known, extra)
		if err != nil {
			lineErrors = append(lineErrors, model.LineError{Line: row.line, Message: err.Error()})
			continue
		}
		cand.Line = row.line
		candidates = append(candidates, cand)
	}

	return candidates, lineErrors, nil
}

func parseRow(row []string, known map[column]int, extra map[int]string) (model.CouponCandidate, error) {
	get := func(col column) string {
		idx, ok := known[col]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	cand := model.CouponCandidate{
		Code:        model.NormalizeCode(get(colCode)),
		Description: get(colDescription),
		LinkedInURL: get(colLinkedInURL),
		MaxUses:     1,
	}
	if cand.Code == "" {
		return cand, errors.New("missing coupon code")
	}

	if raw := get(colDiscount); raw != "" {
		if strings.HasSuffix(raw, "%") {
			cand.IsPercentage = true
			raw = strings.TrimSpace(strings.TrimSuffix(raw, "%"))
		}
		discount, err := strconv.ParseFloat(raw, 64)
		if err != nil || discount < 0 {
			return cand, fmt.Errorf("invalid discount %q", get(colDiscount))
		}
		cand.Discount = discount
	}

	if raw := get(colMaxUses); raw != "" {
		maxUses, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || maxUses < 1 {
			return cand, fmt.Errorf("invalid max_uses %q", raw)
		}
		cand.MaxUses = int32(maxUses)
	}

	if raw := get(colExpiry); raw != "" {
		expiry, err := parseDate(raw)
		if err != nil {
			return cand, err
		}
		cand.ExpiryDate = &expiry
	}

	for idx, key := range extra {
		if idx >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[idx]); v != "" {
			if cand.Metadata == nil {
				cand.Metadata = make(map[string]string)
			}
			cand.Metadata[key] = v
		}
	}

	return cand, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	// Spreadsheet cells without a date format come through as serial numbers
	if serial, err := strconv.ParseFloat(raw, 64); err == nil && serial > 0 {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid expiry date %q", raw)
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	return h
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
