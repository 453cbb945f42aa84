package fhirtypes

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveToCanonical(t *testing.T) {
	r := Default()

	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"fhir primitive", "string", "string", true},
		{"system qualified", "System.String", "string", true},
		{"fhir qualified", "FHIR.dateTime", "dateTime", true},
		{"system datetime", "System.DateTime", "dateTime", true},
		{"case variant", "quantity", "Quantity", true},
		{"complex", "HumanName", "HumanName", true},
		{"backticked", "`Period`", "Period", true},
		{"unknown", "NotAType", "", false},
		{"empty", "  ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.ResolveToCanonical(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetPolymorphicVariants(t *testing.T) {
	r := Default()

	t.Run("owner qualified", func(t *testing.T) {
		variants := r.GetPolymorphicVariants("Observation.value")
		require.NotEmpty(t, variants)
		assert.Equal(t, "valueQuantity", variants[0])
		assert.Contains(t, variants, "valueString")
		assert.NotContains(t, variants, "valueReference")
	})

	t.Run("extension value at any depth", func(t *testing.T) {
		assert.Contains(t, r.GetPolymorphicVariants("Extension.value"), "valueReference")
		assert.Contains(t, r.GetPolymorphicVariants("Patient.extension.value"), "valueReference")
		assert.Contains(t, r.GetPolymorphicVariants("Patient.name.extension.value"), "valueString")
	})

	t.Run("deceased", func(t *testing.T) {
		assert.Equal(t, []string{"deceasedBoolean", "deceasedDateTime"}, r.GetPolymorphicVariants("Patient.deceased"))
	})

	t.Run("unknown owner merges every owner", func(t *testing.T) {
		variants := r.GetPolymorphicVariants("deceased")
		assert.Equal(t, []string{"deceasedBoolean", "deceasedAge", "deceasedRange", "deceasedDate", "deceasedString", "deceasedDateTime"}, variants)
		assert.Contains(t, r.GetPolymorphicVariants("value"), "valueQuantity")
	})

	tests := []struct {
		name string
		path string
	}{
		{"plain element", "Patient.name"},
		{"contact point value", "Patient.telecom.value"},
		{"identifier value", "Patient.identifier.value"},
		{"quantity value", "Quantity.value"},
		{"concrete choice field", "Observation.valueQuantity.value"},
		{"choice name on another resource", "Patient.effective"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, r.GetPolymorphicVariants(tt.path))
			assert.False(t, r.IsPolymorphic(tt.path))
		})
	}
}

func TestVariantFor(t *testing.T) {
	r := Default()

	field, ok := r.VariantFor("Observation.value", "Quantity")
	assert.True(t, ok)
	assert.Equal(t, "valueQuantity", field)

	field, ok = r.VariantFor("value", "System.String")
	assert.True(t, ok)
	assert.Equal(t, "valueString", field)

	_, ok = r.VariantFor("Observation.value", "HumanName")
	assert.False(t, ok)

	_, ok = r.VariantFor("Observation.value", "Bogus")
	assert.False(t, ok)
}

func TestGetStructuralDiscriminator(t *testing.T) {
	r := Default()

	assert.Equal(t, []string{"family", "given"}, r.GetStructuralDiscriminator("HumanName"))
	assert.Equal(t, []string{"value", "unit", "code"}, r.GetStructuralDiscriminator("Quantity"))
	// Quantity profiles cannot be told apart from Quantity.
	assert.Empty(t, r.GetStructuralDiscriminator("Age"))
	assert.Empty(t, r.GetStructuralDiscriminator("Duration"))
	assert.Empty(t, r.GetStructuralDiscriminator("string"))
	assert.Empty(t, r.GetStructuralDiscriminator("Unknown"))
}

func TestIsRepeating(t *testing.T) {
	r := Default()

	tests := []struct {
		path []string
		want bool
	}{
		{[]string{"Patient", "name"}, true},
		{[]string{"Patient", "name", "given"}, true},
		{[]string{"Patient", "name", "family"}, false},
		{[]string{"Observation", "bodySite"}, false},
		{[]string{"Procedure", "bodySite"}, true},
		{[]string{"Encounter", "type"}, true},
		{[]string{"Identifier", "type"}, false},
		{nil, false},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.path, "."), func(t *testing.T) {
			assert.Equal(t, tt.want, r.IsRepeating(tt.path...))
		})
	}
}

func TestElementKind(t *testing.T) {
	r := Default()

	assert.Equal(t, KindDate, r.ElementKind("birthDate"))
	assert.Equal(t, KindString, r.ElementKind("family"))
	assert.Equal(t, KindQuantity, r.ElementKind("valueQuantity"))
	assert.Equal(t, KindDateTime, r.ElementKind("effectiveDateTime"))
	assert.Equal(t, KindBoolean, r.ElementKind("deceasedBoolean"))
	assert.Equal(t, KindJSON, r.ElementKind("code"))
}

func TestPrimitiveKind(t *testing.T) {
	r := Default()

	kind, ok := r.PrimitiveKind("System.Integer")
	assert.True(t, ok)
	assert.Equal(t, KindInteger, kind)

	kind, ok = r.PrimitiveKind("positiveInt")
	assert.True(t, ok)
	assert.Equal(t, KindInteger, kind)

	_, ok = r.PrimitiveKind("HumanName")
	assert.False(t, ok)
}

func TestBuilder_IsolatedFromRegistry(t *testing.T) {
	b := NewBuilder().Primitive("string", KindString)
	r := b.Build()
	b.Primitive("integer", KindInteger)

	_, ok := r.ResolveToCanonical("integer")
	assert.False(t, ok, "registry must not see entries added after Build")

	extended := r.Extend().Complex("Money", "currency").Build()
	_, ok = extended.ResolveToCanonical("Money")
	assert.True(t, ok)
	_, ok = r.ResolveToCanonical("Money")
	assert.False(t, ok)
}

func TestLoadYAML(t *testing.T) {
	input := `
primitives:
  - name: xhtml
    kind: string
complex:
  - name: ContactDetail
    discriminator: [telecom]
polymorphic:
  Goal.start: [date, CodeableConcept]
repeating: [target]
single: [Patient.link]
resources: [Goal]
elements:
  lifecycleStatus: string
`
	b := DefaultBuilder()
	require.NoError(t, b.LoadYAML(strings.NewReader(input)))
	r := b.Build()

	assert.True(t, r.IsResourceType("Goal"))
	assert.Equal(t, []string{"startDate", "startCodeableConcept"}, r.GetPolymorphicVariants("Goal.start"))
	assert.Equal(t, []string{"telecom"}, r.GetStructuralDiscriminator("ContactDetail"))
	assert.True(t, r.IsRepeating("Goal", "target"))
	assert.False(t, r.IsRepeating("Patient", "link"))
	assert.Equal(t, KindString, r.ElementKind("lifecycleStatus"))
	assert.Equal(t, KindDate, r.ElementKind("startDate"))
}

func TestLoadYAML_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad kind", "primitives:\n  - name: x\n    kind: nope\n"},
		{"unknown field", "types: []\n"},
		{"bad element kind", "elements:\n  foo: bar\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewBuilder().LoadYAML(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestDefault_ConcurrentReads(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := Default()
			_, _ = r.ResolveToCanonical("Quantity")
			_ = r.GetPolymorphicVariants("Observation.value")
		}()
	}
	wg.Wait()
	assert.Same(t, Default(), Default())
}

func TestResourceTypes(t *testing.T) {
	names := Default().ResourceTypes()
	assert.Contains(t, names, "Patient")
	assert.Contains(t, names, "Observation")
	assert.IsIncreasing(t, names)

	ext := Default().Extend().Resource("Zeta").Build()
	assert.Equal(t, "Zeta", ext.ResourceTypes()[len(ext.ResourceTypes())-1])
}
