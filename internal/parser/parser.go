package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"suspension-bench/internal/models"
)

// Parser handles parsing of test run data files
type Parser struct {
	format string
}

// NewParser creates a new parser with the specified format
func NewParser(format string) *Parser {
	return &Parser{format: format}
}

// ParseFile parses a test run data file
func (p *Parser) ParseFile(filename string) ([]models.TestRun, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(p.format) {
	case "csv":
		return p.parseCSV(file)
	case "json":
		return p.parseJSON(file)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

// parseCSV parses CSV formatted test run data
func (p *Parser) parseCSV(r io.Reader) ([]models.TestRun, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable fields

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map header indices
	indices := make(map[string]int)
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var results []models.TestRun
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return results, fmt.Errorf("error at line %d: %w", lineNum, err)
		}
		lineNum++

		run, err := p.recordToTestRun(record, indices)
		if err != nil {
			// Log error but continue parsing
			fmt.Printf("Warning: line %d: %v\n", lineNum, err)
			continue
		}
		results = append(results, run)
	}

	return results, nil
}

// recordToTestRun converts a CSV record to a TestRun
func (p *Parser) recordToTestRun(record []string, indices map[string]int) (models.TestRun, error) {
	var t models.TestRun

	getValue := func(key string) string {
		if idx, ok := indices[key]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	vehicleID, err := strconv.ParseInt(getValue("vehicle_id"), 10, 64)
	if err != nil {
		return t, fmt.Errorf("missing or invalid vehicle_id")
	}
	t.VehicleID = vehicleID

	t.TestType = getValue("test_type")
	t.RoadSurface = getValue("road_surface")
	t.UserID = getValue("user_id")

	// Parse numeric fields, absent values stay 0
	t.ProtocolComplianceScore, _ = strconv.ParseFloat(getValue("protocol_compliance_score"), 64)
	t.PeakLateralG, _ = strconv.ParseFloat(getValue("peak_lateral_g"), 64)
	t.PeakLongitudinalG, _ = strconv.ParseFloat(getValue("peak_longitudinal_g"), 64)
	t.PeakVerticalG, _ = strconv.ParseFloat(getValue("peak_vertical_g"), 64)
	t.ReboundSettleTimeMS, _ = strconv.ParseInt(getValue("rebound_settle_time"), 10, 64)
	t.AmbientTemp, _ = strconv.ParseFloat(getValue("ambient_temp"), 64)

	if sensor := getValue("sensor_data"); sensor != "" {
		if err := json.Unmarshal([]byte(sensor), &t.SensorData); err != nil {
			return t, fmt.Errorf("invalid sensor_data: %w", err)
		}
	}

	return t, nil
}

// parseJSON parses JSON formatted test run data: either a single array
// or newline-delimited objects.
func (p *Parser) parseJSON(r io.Reader) ([]models.TestRun, error) {
	// Buffer the input so the line-by-line fallback sees the bytes the
	// array attempt already consumed.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	// Try to decode as array first
	var results []models.TestRun
	if err := json.Unmarshal(data, &results); err == nil {
		return results, nil
	}

	return p.parseJSONLines(bytes.NewReader(data))
}

// parseJSONLines parses newline-delimited JSON
func (p *Parser) parseJSONLines(r io.Reader) ([]models.TestRun, error) {
	var results []models.TestRun
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "[" || line == "]" {
			continue
		}

		// Remove trailing comma if present
		line = strings.TrimSuffix(line, ",")

		var t models.TestRun
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			fmt.Printf("Warning: line %d: %v\n", lineNum, err)
			continue
		}
		results = append(results, t)
	}

	return results, scanner.Err()
}

// ValidateTestRun validates a test run before bulk insertion
func ValidateTestRun(t *models.TestRun) []string {
	var errors []string

	if t.VehicleID <= 0 {
		errors = append(errors, "vehicle_id is required")
	}
	if t.TestType == "" {
		errors = append(errors, "test_type is required")
	}
	if t.ProtocolComplianceScore < 0 || t.ProtocolComplianceScore > 1 {
		errors = append(errors, "protocol_compliance_score must be between 0 and 1")
	}
	if t.ReboundSettleTimeMS < 0 {
		errors = append(errors, "rebound_settle_time cannot be negative")
	}

	return errors
}
