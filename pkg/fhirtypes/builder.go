package fhirtypes

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Builder accumulates registry entries. Call Build to obtain an immutable
// Registry; the builder may keep being used afterwards without affecting it.
type Builder struct {
	types       map[string]TypeInfo
	aliases     map[string]string
	polymorphic map[string][]string
	repeating   map[string]bool
	resources   map[string]bool
	elements    map[string]Kind
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		types:       make(map[string]TypeInfo),
		aliases:     make(map[string]string),
		polymorphic: make(map[string][]string),
		repeating:   make(map[string]bool),
		resources:   make(map[string]bool),
		elements:    make(map[string]Kind),
	}
}

// Extend returns a builder seeded with the contents of r.
func (r *Registry) Extend() *Builder {
	b := NewBuilder()
	maps.Copy(b.types, r.types)
	maps.Copy(b.aliases, r.aliases)
	for k, v := range r.polymorphic {
		b.polymorphic[k] = append([]string(nil), v...)
	}
	maps.Copy(b.repeating, r.repeating)
	maps.Copy(b.resources, r.resources)
	maps.Copy(b.elements, r.elements)
	return b
}

// Primitive registers a primitive type. Extra names are registered as aliases.
func (b *Builder) Primitive(name string, kind Kind, aliases ...string) *Builder {
	b.types[name] = TypeInfo{Name: name, Kind: kind, Primitive: true}
	b.alias(name, name)
	for _, a := range aliases {
		b.alias(a, name)
	}
	return b
}

// Complex registers a complex type with its discriminating fields.
func (b *Builder) Complex(name string, discriminator ...string) *Builder {
	kind := KindJSON
	if name == "Quantity" {
		kind = KindQuantity
	}
	b.types[name] = TypeInfo{Name: name, Kind: kind, Discriminator: discriminator}
	b.alias(name, name)
	return b
}

// Polymorphic registers a choice element and its allowed types, in the order
// they are tried when the element is read without a type.
func (b *Builder) Polymorphic(base string, types ...string) *Builder {
	b.polymorphic[base] = append([]string(nil), types...)
	return b
}

// Repeating marks elements (bare or dotted paths) as 0..*.
func (b *Builder) Repeating(paths ...string) *Builder {
	for _, p := range paths {
		b.repeating[p] = true
	}
	return b
}

// Single marks dotted paths as 0..1, overriding a bare repeating entry.
func (b *Builder) Single(paths ...string) *Builder {
	for _, p := range paths {
		b.repeating[p] = false
	}
	return b
}

// Resource registers resource type names.
func (b *Builder) Resource(names ...string) *Builder {
	for _, n := range names {
		b.resources[n] = true
	}
	return b
}

// Element records the scalar kind of a named element.
func (b *Builder) Element(name string, kind Kind) *Builder {
	b.elements[name] = kind
	return b
}

func (b *Builder) alias(alias, canonical string) {
	b.aliases[strings.ToLower(alias)] = canonical
}

// Build freezes the builder contents into a Registry. Kinds of concrete
// choice fields (valueString, effectiveDateTime, ...) are derived here.
func (b *Builder) Build() *Registry {
	r := &Registry{
		types:       maps.Clone(b.types),
		aliases:     maps.Clone(b.aliases),
		polymorphic: make(map[string][]string, len(b.polymorphic)),
		choices:     make(map[string][]string),
		repeating:   maps.Clone(b.repeating),
		resources:   maps.Clone(b.resources),
		elements:    maps.Clone(b.elements),
	}
	for _, base := range slices.Sorted(maps.Keys(b.polymorphic)) {
		types := b.polymorphic[base]
		r.polymorphic[base] = append([]string(nil), types...)
		field := base
		if i := strings.LastIndexByte(base, '.'); i >= 0 {
			field = base[i+1:]
		}
		for _, t := range types {
			if !slices.Contains(r.choices[field], t) {
				r.choices[field] = append(r.choices[field], t)
			}
		}
		for _, t := range types {
			info, ok := b.types[t]
			if !ok {
				continue
			}
			if _, set := r.elements[VariantField(field, t)]; !set {
				r.elements[VariantField(field, t)] = info.Kind
			}
		}
	}
	return r
}

// File is the YAML layout accepted by LoadYAML.
type File struct {
	Primitives []struct {
		Name    string   `yaml:"name"`
		Kind    string   `yaml:"kind"`
		Aliases []string `yaml:"aliases"`
	} `yaml:"primitives"`
	Complex []struct {
		Name          string   `yaml:"name"`
		Discriminator []string `yaml:"discriminator"`
	} `yaml:"complex"`
	Polymorphic map[string][]string `yaml:"polymorphic"`
	Repeating   []string            `yaml:"repeating"`
	Single      []string            `yaml:"single"`
	Resources   []string            `yaml:"resources"`
	Elements    map[string]string   `yaml:"elements"`
}

// LoadYAML reads registry entries from r and adds them to the builder.
func (b *Builder) LoadYAML(r io.Reader) error {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decoding type registry: %w", err)
	}

	for _, p := range f.Primitives {
		kind, ok := ParseKind(p.Kind)
		if !ok || p.Name == "" {
			return fmt.Errorf("primitive %q: invalid kind %q", p.Name, p.Kind)
		}
		b.Primitive(p.Name, kind, p.Aliases...)
	}
	for _, c := range f.Complex {
		if c.Name == "" {
			return fmt.Errorf("complex type without a name")
		}
		b.Complex(c.Name, c.Discriminator...)
	}
	for base, types := range f.Polymorphic {
		b.Polymorphic(base, types...)
	}
	b.Repeating(f.Repeating...)
	b.Single(f.Single...)
	b.Resource(f.Resources...)
	for name, k := range f.Elements {
		kind, ok := ParseKind(k)
		if !ok {
			return fmt.Errorf("element %q: invalid kind %q", name, k)
		}
		b.Element(name, kind)
	}
	return nil
}
