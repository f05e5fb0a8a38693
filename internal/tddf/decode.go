package tddf

import (
	"fmt"
	"strings"
	"time"
)

// ErrLineTooShort is the message carried by error records for lines that
// cannot hold a record identifier.
const ErrLineTooShort = "line too short for fixed-width format"

// DecodedRecord is the output of decoding one line. Exactly one of Fields or
// Error is populated. Fields omits absent values entirely; a numeric column
// of spaces is missing from the map, never present as zero.
type DecodedRecord struct {
	RecordType RecordType     `json:"recordType,omitempty"`
	LineNumber int            `json:"lineNumber"`
	RawLine    string         `json:"rawLine"`
	Fields     map[string]any `json:"extractedFields,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// IsError reports whether the record is the structural-error variant.
func (r DecodedRecord) IsError() bool { return r.Error != "" }

// RecordCounts aggregates per-type record counts over one file.
// Total mirrors FileResult.TotalRecords; the redundancy is deliberate and
// downstream reporting reads both.
type RecordCounts struct {
	Total  int            `json:"total"`
	ByType map[string]int `json:"byType"`
}

// FileResult is the aggregate outcome of decoding one file. The full record
// slice is held in memory; callers persist it and drop the result.
type FileResult struct {
	UploadID           string          `json:"uploadId"`
	Filename           string          `json:"filename"`
	TotalLines         int             `json:"totalLines"`
	TotalRecords       int             `json:"totalRecords"`
	RecordCounts       RecordCounts    `json:"recordCounts"`
	DecodedRecords     []DecodedRecord `json:"decodedRecords"`
	EncodingDurationMs int64           `json:"encodingDurationMs"`
	Errors             []string        `json:"errors"`
}

// Classify returns the 2-character record type at positions 18-19. The code
// is returned verbatim; unknown codes are valid output and select the
// fallback schema during extraction. Callers must check the line length
// first: Classify panics on lines shorter than MinLineLength.
func Classify(line string) RecordType {
	return RecordType(line[recordTypeOffset : recordTypeOffset+2])
}

// EncodeLine decodes one raw line into a DecodedRecord. Lines too short to
// carry a record identifier yield the error variant; everything else is
// classified and extracted field by field, collecting only present values.
func EncodeLine(line string, lineNumber int, opts Options) DecodedRecord {
	if len(line) < MinLineLength {
		return DecodedRecord{
			LineNumber: lineNumber,
			RawLine:    line,
			Error:      ErrLineTooShort,
		}
	}

	rt := Classify(line)
	fields := make(map[string]any)
	for _, def := range SchemaFor(rt) {
		if v, ok := extractField(line, def, opts); ok {
			fields[def.Name] = v
		}
	}

	return DecodedRecord{
		RecordType: rt,
		LineNumber: lineNumber,
		RawLine:    line,
		Fields:     fields,
	}
}

// EncodeFile decodes full file content in a single in-memory pass. Blank
// lines are dropped before numbering, so line numbers count non-blank lines
// starting at 1. A failure on one line is recorded in Errors and skipped;
// the pass never aborts early and never retries.
func EncodeFile(content, uploadID, filename string, opts Options) *FileResult {
	return encodeFileWith(content, uploadID, filename, func(line string, n int) DecodedRecord {
		return EncodeLine(line, n, opts)
	})
}

// lineEncoder decodes one non-blank line given its 1-based line number.
type lineEncoder func(line string, lineNumber int) DecodedRecord

func encodeFileWith(content, uploadID, filename string, encode lineEncoder) *FileResult {
	start := time.Now()

	// Lines are kept verbatim (including any trailing CR): per-field
	// trimming handles the whitespace and RawLine stays audit-faithful.
	var lines []string
	for _, l := range strings.Split(content, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}

	result := &FileResult{
		UploadID:   uploadID,
		Filename:   filename,
		TotalLines: len(lines),
		RecordCounts: RecordCounts{
			ByType: make(map[string]int),
		},
	}

	for i, line := range lines {
		lineNumber := i + 1
		rec, err := encodeLineSafe(line, lineNumber, encode)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Line %d: %v", lineNumber, err))
			continue
		}

		result.DecodedRecords = append(result.DecodedRecords, rec)
		result.TotalRecords++
		if rec.IsError() {
			// Structural errors are carried on the record and surfaced in
			// the aggregate error list so operators see them without
			// scanning individual records.
			result.Errors = append(result.Errors, fmt.Sprintf("Line %d: %s", lineNumber, rec.Error))
			continue
		}
		result.RecordCounts.ByType[string(rec.RecordType)]++
	}

	result.RecordCounts.Total = result.TotalRecords
	result.EncodingDurationMs = time.Since(start).Milliseconds()
	return result
}

// encodeLineSafe wraps the line encoder in a panic boundary so a defective
// field definition cannot take down the whole file pass.
func encodeLineSafe(line string, lineNumber int, encode lineEncoder) (rec DecodedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return encode(line, lineNumber), nil
}
