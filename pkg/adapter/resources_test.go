package adapter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadResources(t *testing.T) {
	input := strings.Join([]string{
		`{"resourceType":"Patient","id":"p1","active":true}`,
		``,
		`  {"resourceType":"Observation","id":"o1"}  `,
		`{"resourceType":"Patient","name":[{"family":"Chalmers"}]}`,
	}, "\n")

	resources, err := ReadResources(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, resources, 3)

	assert.Equal(t, "p1", resources[0].ID)
	assert.Equal(t, "Patient", resources[0].Type)
	assert.Equal(t, `{"resourceType":"Patient","id":"p1","active":true}`, resources[0].JSON)

	assert.Equal(t, "o1", resources[1].ID)
	assert.Equal(t, `{"resourceType":"Observation","id":"o1"}`, resources[1].JSON)

	generated := resources[2]
	_, err = uuid.Parse(generated.ID)
	require.NoError(t, err, "missing ids are replaced by a UUID")

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(generated.JSON), &doc))
	assert.Equal(t, generated.ID, doc["id"])
	assert.Equal(t, "Patient", doc["resourceType"])
}

func TestReadResources_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{"invalid json", "{\"id\":\"a\"}\n{oops", 2},
		{"array", "[1, 2]", 1},
		{"null", "\n\nnull", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadResources(strings.NewReader(tt.input))
			var lineErr *NDJSONError
			require.ErrorAs(t, err, &lineErr)
			assert.Equal(t, tt.line, lineErr.Line)
		})
	}
}

func TestReadResources_Empty(t *testing.T) {
	resources, err := ReadResources(strings.NewReader("\n\n"))
	require.NoError(t, err)
	assert.Empty(t, resources)
}

func TestValidateTableName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"resources", true},
		{"fhir.patients", true},
		{"_staging1", true},
		{"", false},
		{"1table", false},
		{"a.b.c", false},
		{"resources; DROP TABLE x", false},
		{"\"quoted\"", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTableName(tt.name)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var invalid *InvalidTableNameError
			assert.ErrorAs(t, err, &invalid)
		})
	}
}
