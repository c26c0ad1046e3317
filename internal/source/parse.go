package source

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// MaxDocumentSize bounds how much of a single file is read.
var MaxDocumentSize int64 = 32 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Supported reports whether name has an extension the parsers understand.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".csv", ".xlsx", ".txt":
		return true
	}
	return false
}

// parseRecords decodes a file into payload records.
//
//   - .json: one object, or an array of objects
//   - .csv / .xlsx: one record per data row, keyed by the header row
//   - .txt: a single record {"text": content}, e.g. OCR output
func parseRecords(name string, r io.Reader) ([]map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > MaxDocumentSize {
		return nil, fmt.Errorf("file too large: %s", name)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return parseJSON(data)
	case ".csv":
		return parseCSV(bytes.ToValidUTF8(data, []byte("?")))
	case ".xlsx":
		return parseXLSX(data)
	case ".txt":
		return []map[string]any{{"text": string(bytes.ToValidUTF8(data, []byte("?")))}}, nil
	default:
		return nil, fmt.Errorf("unsupported file type: %s", name)
	}
}

func parseJSON(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("invalid json array: %w", err)
		}
		return records, nil
	}
	var record map[string]any
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, fmt.Errorf("invalid json object: %w", err)
	}
	return []map[string]any{record}, nil
}

func parseCSV(data []byte) ([]map[string]any, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid csv: %w", err)
	}
	return rowsToRecords(rows), nil
}

func parseXLSX(data []byte) ([]map[string]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rowsToRecords(rows), nil
}

// rowsToRecords keys every data row by the (trimmed) header row.
// Blank rows are skipped.
func rowsToRecords(rows [][]string) []map[string]any {
	if len(rows) < 2 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}

	records := make([]map[string]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]any, len(header))
		blank := true
		for i, h := range header {
			if h == "" || i >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[i])
			if v != "" {
				blank = false
			}
			rec[h] = v
		}
		if !blank {
			records = append(records, rec)
		}
	}
	return records
}
