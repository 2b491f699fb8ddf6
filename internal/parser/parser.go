package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Payload is one raw ingestion request, keyed by field name
type Payload map[string]interface{}

// Parser reads raw sensor payloads from files
type Parser struct {
	format string
	logger *zap.Logger
}

// NewParser creates a new parser with the specified format
func NewParser(format string, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{format: format, logger: logger}
}

// ParseFile parses a sensor payload file
func (p *Parser) ParseFile(filename string) ([]Payload, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse parses payloads from r in the parser's format
func (p *Parser) Parse(r io.Reader) ([]Payload, error) {
	switch strings.ToLower(p.format) {
	case "csv":
		return p.parseCSV(r)
	case "json":
		return p.parseJSON(r)
	case "log":
		return p.parseLog(r)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

// parseCSV parses CSV rows into payloads keyed by header name
func (p *Parser) parseCSV(r io.Reader) ([]Payload, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable fields

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var results []Payload
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

		payload := make(Payload, len(header))
		for i, h := range header {
			if i >= len(record) || h == "" {
				continue
			}
			v := strings.TrimSpace(record[i])
			if v == "" {
				continue
			}
			payload[h] = v
		}
		if len(payload) == 0 {
			p.logger.Warn("skipping empty csv row", zap.Int("line", lineNum))
			continue
		}
		results = append(results, payload)
	}

	return results, nil
}

// parseJSON parses a JSON array of payloads, falling back to JSON lines
func (p *Parser) parseJSON(r io.Reader) ([]Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	var results []Payload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&results); err == nil {
		return results, nil
	}

	return p.parseJSONLines(bytes.NewReader(data))
}

// parseJSONLines parses newline-delimited JSON
func (p *Parser) parseJSONLines(r io.Reader) ([]Payload, error) {
	var results []Payload
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

		var payload Payload
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			p.logger.Warn("skipping malformed json line", zap.Int("line", lineNum), zap.Error(err))
			continue
		}
		results = append(results, payload)
	}

	return results, scanner.Err()
}

// parseLog parses serial log lines: commodity|temperature|humidity|gas_raw|gas_voltage[|batch[|observed_state]]
func (p *Parser) parseLog(r io.Reader) ([]Payload, error) {
	var results []Payload
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 5 {
			p.logger.Warn("skipping log line with insufficient fields", zap.Int("line", lineNum))
			continue
		}

		payload := Payload{
			"commodityType": strings.TrimSpace(parts[0]),
			"temperature":   strings.TrimSpace(parts[1]),
			"humidity":      strings.TrimSpace(parts[2]),
			"gasRaw":        strings.TrimSpace(parts[3]),
			"gasVoltage":    strings.TrimSpace(parts[4]),
		}
		if len(parts) > 5 && strings.TrimSpace(parts[5]) != "" {
			payload["batch"] = strings.TrimSpace(parts[5])
		}
		if len(parts) > 6 && strings.TrimSpace(parts[6]) != "" {
			payload["observedState"] = strings.TrimSpace(parts[6])
		}

		results = append(results, payload)
	}

	return results, scanner.Err()
}
