package csvutil

import (
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strings"
)

// RowValidator validates a CSV row.
type RowValidator func(row []string, rowNum int) error

// ParserConfig configures CSV parsing behavior.
type ParserConfig struct {
	HasHeader bool
	// RequiredHeaders must all appear in the header row. Implies HasHeader.
	RequiredHeaders []string
	Comma           rune
	Comment         rune
	LazyQuotes      bool
	// TrimSpace trims surrounding whitespace from every cell.
	TrimSpace     bool
	SkipEmptyRows bool
	Validators    []RowValidator
}

// DefaultParserConfig returns a default parser configuration.
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		HasHeader:     true,
		Comma:         ',',
		TrimSpace:     true,
		SkipEmptyRows: true,
	}
}

// Parser handles CSV parsing with validation.
type Parser struct {
	config ParserConfig
	header []string
}

// NewParser creates a new CSV parser.
func NewParser(config ParserConfig) *Parser {
	if len(config.RequiredHeaders) > 0 {
		config.HasHeader = true
	}
	if config.Comma == 0 {
		config.Comma = ','
	}
	return &Parser{config: config}
}

// Header returns the header row read by the last Parse.
func (p *Parser) Header() []string {
	return p.header
}

// Parse parses CSV data from a reader and calls the handler for each row.
// Row numbers are 1-based and count the header row.
func (p *Parser) Parse(reader io.Reader, handler func(rowNum int, headers []string, row []string) error) error {
	csvReader := csv.NewReader(reader)
	csvReader.Comma = p.config.Comma
	csvReader.Comment = p.config.Comment
	csvReader.LazyQuotes = p.config.LazyQuotes
	csvReader.FieldsPerRecord = -1

	rowNum := 0

	if p.config.HasHeader {
		header, err := csvReader.Read()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("CSV file is empty")
			}
			return fmt.Errorf("failed to read header: %w", err)
		}
		for i := range header {
			header[i] = strings.ToLower(strings.TrimSpace(header[i]))
		}
		for _, required := range p.config.RequiredHeaders {
			if !slices.Contains(header, required) {
				return fmt.Errorf("missing required column %q", required)
			}
		}
		p.header = header
		rowNum++
	}

	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read row %d: %w", rowNum+1, err)
		}
		rowNum++

		if p.config.SkipEmptyRows && isEmpty(row) {
			continue
		}

		if p.config.TrimSpace {
			for i := range row {
				row[i] = strings.TrimSpace(row[i])
			}
		}

		for _, validator := range p.config.Validators {
			if err := validator(row, rowNum); err != nil {
				return fmt.Errorf("validation failed for row %d: %w", rowNum, err)
			}
		}

		if err := handler(rowNum, p.header, row); err != nil {
			return fmt.Errorf("handler error for row %d: %w", rowNum, err)
		}
	}

	return nil
}

// ParseToSlice parses CSV data and returns all rows as a slice.
func (p *Parser) ParseToSlice(reader io.Reader) ([][]string, error) {
	var rows [][]string
	err := p.Parse(reader, func(rowNum int, headers []string, row []string) error {
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

func isEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// NonEmptyColumnsValidator validates that the given zero-based columns are not blank.
func NonEmptyColumnsValidator(columns ...int) RowValidator {
	return func(row []string, rowNum int) error {
		for _, i := range columns {
			if i >= len(row) || strings.TrimSpace(row[i]) == "" {
				return fmt.Errorf("empty cell at column %d", i+1)
			}
		}
		return nil
	}
}

// MinColumnsValidator validates that a row has at least N columns.
func MinColumnsValidator(minCols int) RowValidator {
	return func(row []string, rowNum int) error {
		if len(row) < minCols {
			return fmt.Errorf("row has %d columns, expected at least %d", len(row), minCols)
		}
		return nil
	}
}
