package prompts

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies how a prompt list is encoded
type Format string

const (
	FormatText Format = "text" // One prompt per line
	FormatCSV  Format = "csv"  // First column of each row
	FormatYAML Format = "yaml" // Sequence of strings or {prompts: [...]}
	FormatJSON Format = "json" // Array of strings or {"prompts": [...]}
)

// ErrUnknownFormat is returned for format names this package cannot parse
var ErrUnknownFormat = errors.New("unknown prompt format")

// ParseFormat maps a user-supplied name to a Format. Empty defaults to text.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text", "txt":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, name)
}

// FormatFromPath picks a format from the file extension, defaulting to text
func FormatFromPath(path string) Format {
	format, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return FormatText
	}
	return format
}

// ParseFile reads path and parses it according to its extension
func ParseFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}
	return Parse(data, FormatFromPath(path))
}

// Parse decodes data into an ordered list of non-empty, trimmed prompts
func Parse(data []byte, format Format) ([]string, error) {
	switch format {
	case FormatText, "":
		return ParseText(string(data)), nil
	case FormatCSV:
		return ParseCSV(data)
	case FormatYAML:
		return parseList(data, yaml.Unmarshal)
	case FormatJSON:
		return parseList(data, json.Unmarshal)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
}

// ParseText splits on newlines, trimming each line and dropping blanks
func ParseText(text string) []string {
	return Clean(strings.Split(text, "\n"))
}

// Clean trims every prompt and drops the blank ones
func Clean(list []string) []string {
	var prompts []string
	for _, p := range list {
		if p = strings.TrimSpace(p); p != "" {
			prompts = append(prompts, p)
		}
	}
	return prompts
}

// ParseCSV takes the first column of every row. A leading "prompt" header row is skipped.
func ParseCSV(data []byte) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var prompts []string
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		p := strings.TrimSpace(record[0])
		if first {
			first = false
			if strings.EqualFold(p, "prompt") || strings.EqualFold(p, "prompts") {
				continue
			}
		}
		if p != "" {
			prompts = append(prompts, p)
		}
	}
	return prompts, nil
}

type promptDocument struct {
	Prompts []string `json:"prompts" yaml:"prompts"`
}

// parseList accepts either a bare list of strings or an object with a prompts key
func parseList(data []byte, unmarshal func([]byte, interface{}) error) ([]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var list []string
	if err := unmarshal(data, &list); err != nil {
		var doc promptDocument
		if docErr := unmarshal(data, &doc); docErr != nil {
			return nil, fmt.Errorf("invalid prompt list: %w", err)
		}
		list = doc.Prompts
	}
	return Clean(list), nil
}
