package adapter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"github.com/google/uuid"
)

// maxLineSize bounds a single NDJSON resource.
const maxLineSize = 64 << 20

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Resource is one FHIR resource ready to be inserted.
type Resource struct {
	ID   string
	Type string
	// JSON is the resource text. It always carries ID as its "id" field.
	JSON string
}

// NDJSONError reports a line of an NDJSON stream that is not a JSON object.
type NDJSONError struct {
	Line int
	Err  error
}

func (e *NDJSONError) Error() string {
	return fmt.Sprintf("ndjson line %d: %v", e.Line, e.Err)
}

func (e *NDJSONError) Unwrap() error { return e.Err }

// InvalidTableNameError is returned for table names that are not plain
// (optionally schema qualified) identifiers.
type InvalidTableNameError struct {
	Name string
}

func (e *InvalidTableNameError) Error() string {
	return fmt.Sprintf("invalid table name %q", e.Name)
}

// ValidateTableName checks that name can be interpolated into DDL.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return &InvalidTableNameError{Name: name}
	}
	return nil
}

// ReadResources parses newline delimited FHIR resources. Blank lines are
// skipped; resources without an id get a random UUID.
func ReadResources(r io.Reader) ([]Resource, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var resources []Resource
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		res, err := parseResource(raw)
		if err != nil {
			return nil, &NDJSONError{Line: line, Err: err}
		}
		resources = append(resources, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ndjson: %w", err)
	}
	return resources, nil
}

func parseResource(raw []byte) (Resource, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Resource{}, err
	}
	if doc == nil {
		return Resource{}, fmt.Errorf("expected a JSON object")
	}

	resourceType, _ := doc["resourceType"].(string)
	id, _ := doc["id"].(string)
	if id != "" {
		return Resource{ID: id, Type: resourceType, JSON: string(raw)}, nil
	}

	id = uuid.NewString()
	doc["id"] = id
	out, err := json.Marshal(doc)
	if err != nil {
		return Resource{}, err
	}
	return Resource{ID: id, Type: resourceType, JSON: string(out)}, nil
}
