/*
csv.go - Shared parsing helpers for the sensor CSV endpoints

PURPOSE:
  The counting sensors answer with small CSV documents whose headers carry
  inconsistent padding ("StartTime", " Line1 - In", "Value(s) ") and whose
  numbers occasionally use a decimal comma. These helpers normalize both so
  the per-endpoint adapters stay declarative.
*/
package source

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// csvRow is one data row keyed by its trimmed header name.
type csvRow map[string]string

// parseCSVRows reads an entire CSV document into header-keyed rows. Headers
// and cell values are whitespace-trimmed. Rows shorter than the header are
// skipped rather than failing the document.
func parseCSVRows(r io.Reader) ([]csvRow, []string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}

	var rows []csvRow
	for _, record := range records[1:] {
		if len(record) < len(headers) {
			continue
		}
		row := make(csvRow, len(headers))
		for i, h := range headers {
			row[h] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}
	return rows, headers, nil
}

// intField parses a numeric cell, tolerating a decimal comma and a
// fractional tail ("12,0" and "12.0" both read as 12). Empty cells read
// as zero.
func intField(row csvRow, key string) (int, error) {
	raw := row[key]
	if raw == "" {
		return 0, nil
	}
	raw = strings.ReplaceAll(raw, ",", ".")
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", key, err)
	}
	return int(f), nil
}

func stringReader(s string) io.Reader {
	return strings.NewReader(s)
}

// extractToken pulls the bearer token out of a login response, accepting
// either casing of the field name.
func extractToken(raw []byte) (string, error) {
	var body struct {
		Token      string `json:"Token"`
		TokenLower string `json:"token"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", err
	}
	if body.Token != "" {
		return body.Token, nil
	}
	if body.TokenLower != "" {
		return body.TokenLower, nil
	}
	return "", fmt.Errorf("login response carries no token")
}
