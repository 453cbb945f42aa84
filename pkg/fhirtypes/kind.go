// Package fhirtypes resolves FHIR and FHIRPath type names, polymorphic (choice)
// elements, repeating elements and structural discriminators for complex types.
//
// A Registry is built once and is read-only afterwards, so a single instance
// can be shared by any number of concurrent compilations.
package fhirtypes

import "strings"

// Kind is the scalar shape a value takes once extracted from a resource.
type Kind int

const (
	// KindJSON is an unresolved or complex value kept in its JSON form.
	KindJSON Kind = iota
	KindString
	KindInteger
	KindDecimal
	KindBoolean
	KindDate
	KindDateTime
	KindTime
	KindQuantity
)

var kindNames = map[Kind]string{
	KindJSON:     "json",
	KindString:   "string",
	KindInteger:  "integer",
	KindDecimal:  "decimal",
	KindBoolean:  "boolean",
	KindDate:     "date",
	KindDateTime: "dateTime",
	KindTime:     "time",
	KindQuantity: "quantity",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind converts a kind name (as written in registry files) to a Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, true
		}
	}
	if strings.EqualFold(s, "complex") {
		return KindJSON, true
	}
	return KindJSON, false
}

// IsNumeric reports whether values of this kind take part in arithmetic.
func (k Kind) IsNumeric() bool {
	return k == KindInteger || k == KindDecimal
}

// IsTemporal reports whether the kind is a date, dateTime or time.
func (k Kind) IsTemporal() bool {
	return k == KindDate || k == KindDateTime || k == KindTime
}

// IsScalar reports whether the kind maps onto a SQL scalar type.
func (k Kind) IsScalar() bool {
	return k != KindJSON && k != KindQuantity
}
