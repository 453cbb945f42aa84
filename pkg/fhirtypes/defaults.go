package fhirtypes

import "sync"

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the built-in FHIR R4 registry. It is built on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = DefaultBuilder().Build()
	})
	return defaultRegistry
}

// DefaultBuilder returns a builder holding the built-in FHIR R4 subset, for
// callers that want to add their own entries on top.
func DefaultBuilder() *Builder {
	b := NewBuilder()

	// FHIR primitives; System types resolve through aliases.
	b.Primitive("boolean", KindBoolean)
	b.Primitive("string", KindString)
	b.Primitive("integer", KindInteger)
	b.Primitive("decimal", KindDecimal)
	b.Primitive("date", KindDate)
	b.Primitive("dateTime", KindDateTime)
	b.Primitive("time", KindTime)
	b.Primitive("instant", KindDateTime)
	b.Primitive("code", KindString)
	b.Primitive("id", KindString)
	b.Primitive("uri", KindString)
	b.Primitive("url", KindString)
	b.Primitive("canonical", KindString)
	b.Primitive("oid", KindString)
	b.Primitive("uuid", KindString)
	b.Primitive("markdown", KindString)
	b.Primitive("base64Binary", KindString)
	b.Primitive("positiveInt", KindInteger)
	b.Primitive("unsignedInt", KindInteger)
	b.Primitive("integer64", KindInteger)

	b.Complex("Quantity", "value", "unit", "code")
	b.Complex("HumanName", "family", "given")
	b.Complex("Address", "line", "city", "postalCode")
	b.Complex("ContactPoint", "system")
	b.Complex("Coding", "code")
	b.Complex("CodeableConcept", "coding")
	b.Complex("Period", "start", "end")
	b.Complex("Range", "low", "high")
	b.Complex("Ratio", "numerator", "denominator")
	b.Complex("Reference", "reference")
	b.Complex("Identifier", "assigner")
	b.Complex("Attachment", "contentType")
	b.Complex("Money", "currency")
	b.Complex("SampledData", "origin")
	b.Complex("Timing", "repeat")
	b.Complex("Annotation", "authorString", "authorReference")
	b.Complex("Meta", "versionId", "lastUpdated")
	b.Complex("Narrative", "div")
	b.Complex("Extension", "url")
	// Quantity profiles are structurally identical to Quantity.
	b.Complex("Age")
	b.Complex("Duration")
	b.Complex("Distance")
	b.Complex("Count")
	b.Complex("SimpleQuantity")
	b.Complex("MoneyQuantity")

	// Choice elements are keyed by owner path. Paths ending in an owner
	// suffix (extension.value) match at any depth.
	extensionValue := []string{
		"Quantity", "CodeableConcept", "string", "boolean", "integer", "Range",
		"Ratio", "SampledData", "time", "dateTime", "Period", "decimal", "date",
		"code", "Coding", "uri", "Reference", "Identifier", "Attachment",
	}
	b.Polymorphic("Extension.value", extensionValue...)
	b.Polymorphic("extension.value", extensionValue...)
	b.Polymorphic("modifierExtension.value", extensionValue...)
	observationValue := []string{
		"Quantity", "CodeableConcept", "string", "boolean", "integer", "Range",
		"Ratio", "SampledData", "time", "dateTime", "Period",
	}
	b.Polymorphic("Observation.value", observationValue...)
	b.Polymorphic("Observation.component.value", observationValue...)
	b.Polymorphic("Observation.effective", "dateTime", "Period", "Timing", "instant")
	b.Polymorphic("DiagnosticReport.effective", "dateTime", "Period")
	b.Polymorphic("MedicationStatement.effective", "dateTime", "Period")
	b.Polymorphic("Condition.onset", "dateTime", "Age", "Period", "Range", "string")
	b.Polymorphic("Condition.abatement", "dateTime", "Age", "Period", "Range", "string")
	b.Polymorphic("AllergyIntolerance.onset", "dateTime", "Age", "Period", "Range", "string")
	b.Polymorphic("Patient.deceased", "boolean", "dateTime")
	b.Polymorphic("Patient.multipleBirth", "boolean", "integer")
	b.Polymorphic("Immunization.occurrence", "dateTime", "string")
	b.Polymorphic("Procedure.performed", "dateTime", "Period", "string", "Age", "Range")
	b.Polymorphic("MedicationRequest.medication", "CodeableConcept", "Reference")
	b.Polymorphic("MedicationStatement.medication", "CodeableConcept", "Reference")
	b.Polymorphic("FamilyMemberHistory.born", "Period", "date", "string")
	b.Polymorphic("FamilyMemberHistory.age", "Age", "Range", "string")
	b.Polymorphic("FamilyMemberHistory.deceased", "boolean", "Age", "Range", "date", "string")
	b.Polymorphic("Specimen.collection.collected", "dateTime", "Period")
	b.Polymorphic("answer.value",
		"boolean", "decimal", "integer", "date", "dateTime", "time", "string",
		"uri", "Attachment", "Coding", "Quantity", "Reference")

	b.Repeating(
		"name", "given", "prefix", "suffix", "telecom", "address", "line",
		"identifier", "coding", "extension", "modifierExtension", "contact",
		"communication", "link", "component", "category", "performer",
		"referenceRange", "interpretation", "note", "generalPractitioner",
		"photo", "contained", "reasonCode", "reasonReference", "entry",
		"hasMember", "derivedFrom", "basedOn", "partOf", "profile", "security",
		"tag", "dosageInstruction", "reaction", "manifestation", "evidence",
		"stage", "qualification", "item", "answer", "parameter", "part",
		"participant", "diagnosis", "relationship", "bodySite",
	)
	b.Single("Observation.bodySite", "Encounter.class", "Encounter.subject")
	b.Repeating("Encounter.type", "Condition.category", "AllergyIntolerance.category")

	b.Resource(
		"Patient", "Observation", "Condition", "Encounter", "Procedure",
		"MedicationRequest", "MedicationStatement", "AllergyIntolerance",
		"Immunization", "DiagnosticReport", "Practitioner", "Organization",
		"Location", "Bundle", "Questionnaire", "QuestionnaireResponse",
		"FamilyMemberHistory", "CarePlan", "Claim", "Device", "Specimen",
		"Resource", "DomainResource",
	)

	for _, name := range []string{
		"id", "family", "given", "prefix", "suffix", "use", "gender",
		"status", "system", "display", "unit", "city", "state",
		"country", "postalCode", "district", "line", "reference", "url",
		"comparator", "currency", "language", "intent", "version",
	} {
		b.Element(name, KindString)
	}
	b.Element("birthDate", KindDate)
	b.Element("recordedDate", KindDateTime)
	b.Element("issued", KindDateTime)
	b.Element("start", KindDateTime)
	b.Element("end", KindDateTime)
	b.Element("lastUpdated", KindDateTime)
	b.Element("authoredOn", KindDateTime)
	b.Element("active", KindBoolean)
	b.Element("rank", KindInteger)
	b.Element("sequence", KindInteger)
	return b
}
