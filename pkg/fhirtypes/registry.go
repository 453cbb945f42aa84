package fhirtypes

import (
	"slices"
	"sort"
	"strings"
)

// TypeInfo describes one registered type.
type TypeInfo struct {
	// Name is the canonical type name (e.g. "string", "HumanName").
	Name string
	// Kind is the scalar kind; complex types use KindJSON (or KindQuantity).
	Kind Kind
	// Primitive is true for FHIR primitives and System types.
	Primitive bool
	// Discriminator lists the fields whose presence identifies a value of
	// this complex type. Empty means the type cannot be told apart.
	Discriminator []string
}

// Registry is an immutable type table. Build one with a Builder.
type Registry struct {
	types       map[string]TypeInfo
	aliases     map[string]string // lower-cased alias -> canonical name
	polymorphic map[string][]string
	// choices merges the owner-qualified choice elements by element name,
	// for paths whose owner is unknown.
	choices   map[string][]string
	repeating map[string]bool
	resources   map[string]bool
	elements    map[string]Kind
}

// ResolveToCanonical maps a type specifier to its canonical name. It accepts
// namespace qualifiers ("System.", "FHIR.") and case variants. The boolean
// is false for unknown types.
func (r *Registry) ResolveToCanonical(name string) (string, bool) {
	name = strings.TrimSpace(strings.Trim(name, "`"))
	if name == "" {
		return "", false
	}
	for _, ns := range []string{"System.", "FHIR."} {
		if rest, ok := strings.CutPrefix(name, ns); ok {
			name = rest
			break
		}
	}
	if _, ok := r.types[name]; ok {
		return name, true
	}
	if canonical, ok := r.aliases[strings.ToLower(name)]; ok {
		return canonical, true
	}
	return "", false
}

// Lookup returns the registered type information for a type specifier.
func (r *Registry) Lookup(name string) (TypeInfo, bool) {
	canonical, ok := r.ResolveToCanonical(name)
	if !ok {
		return TypeInfo{}, false
	}
	info, ok := r.types[canonical]
	return info, ok
}

// PrimitiveKind returns the kind of a primitive type, or false when the name
// is not a known primitive.
func (r *Registry) PrimitiveKind(name string) (Kind, bool) {
	info, ok := r.Lookup(name)
	if !ok || !info.Primitive {
		return KindJSON, false
	}
	return info.Kind, true
}

// GetPolymorphicVariants returns the concrete JSON field names of a choice
// element, in declaration order. The base is the element path from its
// owning type ("Observation.value", "Patient.extension.value"). A bare
// element name means the owner is unknown and matches every owner.
// Returns nil for non-polymorphic elements.
func (r *Registry) GetPolymorphicVariants(base string) []string {
	types := r.variantTypes(base)
	if len(types) == 0 {
		return nil
	}
	field := base
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		field = base[i+1:]
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = VariantField(field, t)
	}
	return out
}

// VariantFor returns the concrete field holding the given type for a choice
// element, e.g. ("value", "Quantity") -> "valueQuantity". The boolean is
// false when the element has no such variant.
func (r *Registry) VariantFor(base, typeName string) (string, bool) {
	canonical, ok := r.ResolveToCanonical(typeName)
	if !ok {
		return "", false
	}
	field := base
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		field = base[i+1:]
	}
	for _, t := range r.variantTypes(base) {
		if t == canonical {
			return VariantField(field, t), true
		}
	}
	return "", false
}

// ChoiceTypes returns the canonical types a choice element may hold, in
// declaration order.
func (r *Registry) ChoiceTypes(base string) []string {
	return slices.Clone(r.variantTypes(base))
}

// IsPolymorphic reports whether the element is a choice element.
func (r *Registry) IsPolymorphic(base string) bool {
	return len(r.variantTypes(base)) > 0
}

// variantTypes matches the longest registered owner path that base ends
// with. A bare name is only consulted when base has no owner, so
// ContactPoint.value or Quantity.value never read as choice elements.
func (r *Registry) variantTypes(base string) []string {
	segs := strings.Split(base, ".")
	if len(segs) == 1 {
		if v, ok := r.polymorphic[base]; ok {
			return v
		}
		return r.choices[base]
	}
	for i := 0; i < len(segs)-1; i++ {
		if v, ok := r.polymorphic[strings.Join(segs[i:], ".")]; ok {
			return v
		}
	}
	return nil
}

// GetStructuralDiscriminator returns the fields that identify a complex
// type. Nil means the type is unknown, primitive, or structurally
// indistinguishable from its siblings.
func (r *Registry) GetStructuralDiscriminator(typeName string) []string {
	info, ok := r.Lookup(typeName)
	if !ok || info.Primitive {
		return nil
	}
	return info.Discriminator
}

// IsResourceType reports whether name is a known resource type.
func (r *Registry) IsResourceType(name string) bool {
	return r.resources[name]
}

// IsRepeating reports whether the element at the end of path has
// cardinality 0..*. The full dotted path is consulted before the bare
// element name.
func (r *Registry) IsRepeating(path ...string) bool {
	if len(path) == 0 {
		return false
	}
	if repeating, ok := r.repeating[strings.Join(path, ".")]; ok {
		return repeating
	}
	return r.repeating[path[len(path)-1]]
}

// ElementKind returns the scalar kind of a named element when it is known.
func (r *Registry) ElementKind(name string) Kind {
	return r.elements[name]
}

// Types returns all canonical type names, sorted.
func (r *Registry) Types() []TypeInfo {
	out := make([]TypeInfo, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResourceTypes returns the known resource type names, sorted.
func (r *Registry) ResourceTypes() []string {
	out := make([]string, 0, len(r.resources))
	for name := range r.resources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// PolymorphicElements returns the registered choice element names, sorted.
func (r *Registry) PolymorphicElements() []string {
	out := make([]string, 0, len(r.polymorphic))
	for name := range r.polymorphic {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// VariantField joins a choice element name and a type name into the concrete
// JSON field name.
func VariantField(base, typeName string) string {
	if typeName == "" {
		return base
	}
	return base + strings.ToUpper(typeName[:1]) + typeName[1:]
}
