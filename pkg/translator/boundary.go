package translator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
	"github.com/leapstack-labs/fhirsql/pkg/fhirtypes"
	"github.com/leapstack-labs/fhirsql/pkg/fragment"
)

// Default precisions of lowBoundary/highBoundary per kind.
const (
	defaultDecimalPrecision  = 8
	maxDecimalPrecision      = 28
	defaultDatePrecision     = 8
	defaultDateTimePrecision = 17
	defaultTimePrecision     = 9
)

// Precision (digit count) to text length.
var (
	dateLengths     = map[int]int{4: 4, 6: 7, 8: 10}
	dateTimeLengths = map[int]int{4: 4, 6: 7, 8: 10, 10: 13, 12: 16, 14: 19, 17: 23}
	timeLengths     = map[int]int{2: 2, 4: 5, 6: 8, 9: 12}
)

var timezoneSuffix = regexp.MustCompile(`(Z|[+-][0-9]{2}:[0-9]{2})$`)

const (
	timezonePattern = `(Z|[+-][0-9]{2}:[0-9]{2})$`
	lowTimezone     = "+14:00"
	highTimezone    = "-12:00"
)

// boundary implements lowBoundary and highBoundary.
func (t *Translator) boundary(ctx *Context, f fragment.Fragment, args []ast.Node, high bool) (fragment.Fragment, error) {
	if t.isEmpty(f) {
		return f, nil
	}
	precision, explicit := -1, false
	if len(args) == 1 {
		p, err := t.argument(ctx, f, args[0])
		if err != nil {
			return fragment.Fragment{}, err
		}
		if !p.Metadata.Constant || p.Kind != fhirtypes.KindInteger {
			return fragment.Fragment{}, &UnsupportedNodeError{Node: p.Expression, Reason: "boundary precision must be an integer literal"}
		}
		precision, _ = strconv.Atoi(p.Metadata.Value)
		explicit = true
	}

	if untypedChoice(f) {
		return t.choiceBoundary(f, precision, explicit, high), nil
	}
	return t.boundaryOf(f, elementKind(f), precision, explicit, high), nil
}

func (t *Translator) boundaryOf(f fragment.Fragment, kind fhirtypes.Kind, precision int, explicit, high bool) fragment.Fragment {
	switch {
	case kind.IsTemporal():
		if !explicit {
			precision = map[fhirtypes.Kind]int{
				fhirtypes.KindDate:     defaultDatePrecision,
				fhirtypes.KindDateTime: defaultDateTimePrecision,
				fhirtypes.KindTime:     defaultTimePrecision,
			}[kind]
		}
		return t.temporalBoundary(f, kind, precision, high)
	case kind == fhirtypes.KindQuantity:
		if !explicit {
			precision = defaultDecimalPrecision
		}
		return t.quantityBoundary(f, precision, high)
	}
	if !explicit {
		precision = defaultDecimalPrecision
	}
	return t.decimalBoundary(f, precision, high)
}

// choiceBoundary takes the boundary of whichever variant of an untyped
// choice element is present. Variants without a boundary are skipped, and
// mixed result kinds are compared as JSON.
func (t *Translator) choiceBoundary(f fragment.Fragment, precision int, explicit, high bool) fragment.Fragment {
	var parts []fragment.Fragment
	for _, name := range t.registry.ChoiceTypes(f.Metadata.ChoiceBase) {
		if !t.hasBoundary(name) {
			continue
		}
		v := t.narrow(f, name, modeAs)
		if t.isEmpty(v) {
			continue
		}
		if b := t.boundaryOf(v, elementKind(v), precision, explicit, high); !t.isEmpty(b) {
			parts = append(parts, b)
		}
	}
	switch len(parts) {
	case 0:
		return t.empty()
	case 1:
		return parts[0]
	}

	kind := parts[0].Kind
	for _, p := range parts[1:] {
		if p.Kind != kind {
			kind = fhirtypes.KindJSON
		}
	}
	exprs := make([]string, len(parts))
	for i, p := range parts {
		exprs[i] = p.Expression
		if kind == fhirtypes.KindJSON {
			exprs[i] = t.toJSON(p)
		}
	}
	expr := fmt.Sprintf("COALESCE(%s)", strings.Join(exprs, ", "))
	if kind != fhirtypes.KindJSON {
		return scalarResult(expr, kind, parts...)
	}
	out := t.jsonValue(expr, parts[0], parts[1:]...)
	out.ElementKind = fhirtypes.KindJSON
	out.Metadata.TypePath = nil
	return out
}

// hasBoundary reports whether values of the named type have a low and high
// boundary.
func (t *Translator) hasBoundary(name string) bool {
	if kind, ok := t.registry.PrimitiveKind(name); ok {
		return kind.IsTemporal() || kind.IsNumeric()
	}
	info, ok := t.registry.Lookup(name)
	return ok && info.Kind == fhirtypes.KindQuantity
}

// foldDecimal computes the boundary of a decimal literal. The uncertainty is
// half a unit of the literal's last digit.
func foldDecimal(value string, precision int, high bool) (string, bool) {
	v, err := decimal.NewFromString(value)
	if err != nil || precision < 0 || precision > maxDecimalPrecision {
		return "", false
	}
	digits := 0
	if i := strings.IndexByte(value, '.'); i >= 0 {
		digits = len(value) - i - 1
	}
	u := decimal.New(5, -int32(digits+1))
	p := int32(precision)
	if high {
		return v.Add(u).Shift(p).Ceil().Shift(-p).StringFixed(p), true
	}
	return v.Sub(u).Shift(p).Floor().Shift(-p).StringFixed(p), true
}

func (t *Translator) decimalBoundary(f fragment.Fragment, precision int, high bool) fragment.Fragment {
	if f.Metadata.Constant && f.Kind.IsNumeric() {
		v, ok := foldDecimal(f.Metadata.Value, precision, high)
		if !ok {
			return t.empty()
		}
		out := fragment.Literal(v, fhirtypes.KindDecimal)
		out.Metadata.Value = v
		return out
	}
	if precision < 0 || precision > maxDecimalPrecision {
		return t.empty()
	}
	var text string
	if f.IsJSON() {
		text = t.dialect.GenerateCast(t.single(f), fhirtypes.KindString)
	} else {
		text = t.dialect.GenerateCast(f.Expression, fhirtypes.KindString)
	}
	return scalarResult(t.decimalBoundarySQL(t.decimalOf(f), text, precision, high), fhirtypes.KindDecimal, f)
}

// decimalBoundarySQL mirrors foldDecimal for a runtime value x whose
// written form is text.
func (t *Translator) decimalBoundarySQL(x, text string, precision int, high bool) string {
	d := t.dialect
	dec := d.TypeName(fhirtypes.KindDecimal)
	dot := d.GenerateIndexOf(text, "'.'")
	digits := fmt.Sprintf("CASE WHEN %s < 0 THEN 0 ELSE %s(%s) - %s - 1 END", dot, d.FunctionName("length"), text, dot)
	u := fmt.Sprintf("CAST(0.5 / CAST(%s(10, %s) AS %s) AS %s)", d.FunctionName("power"), digits, dec, dec)
	scale := "1" + strings.Repeat("0", precision)
	round, sign := "floor", "-"
	if high {
		round, sign = d.FunctionName("ceiling"), "+"
	}
	return d.GenerateCast(fmt.Sprintf("%s((%s %s %s) * %s) / %s", round, x, sign, u, scale, scale), fhirtypes.KindDecimal)
}

func (t *Translator) quantityBoundary(f fragment.Fragment, precision int, high bool) fragment.Fragment {
	if f.Metadata.Constant && f.Kind == fhirtypes.KindQuantity {
		v, ok := foldDecimal(f.Metadata.Value, precision, high)
		if !ok {
			return t.empty()
		}
		return t.quantityLiteral(v, f.Metadata.Unit)
	}
	if precision < 0 || precision > maxDecimalPrecision {
		return t.empty()
	}
	q := t.jsonSingle(f)
	value := t.field(q, "value")
	bound := t.decimalBoundarySQL(
		t.dialect.GenerateJSONValueCast(value, fhirtypes.KindDecimal),
		t.dialect.GenerateCast(value, fhirtypes.KindString),
		precision, high)
	expr := t.dialect.GenerateJSONSetField(q, "value", bound)
	out := t.jsonValue(fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s END", value, expr), f)
	out.ElementKind = fhirtypes.KindQuantity
	return out
}

func lengthsFor(kind fhirtypes.Kind) map[int]int {
	switch kind {
	case fhirtypes.KindDate:
		return dateLengths
	case fhirtypes.KindTime:
		return timeLengths
	}
	return dateTimeLengths
}

func (t *Translator) temporalBoundary(f fragment.Fragment, kind fhirtypes.Kind, precision int, high bool) fragment.Fragment {
	target, ok := lengthsFor(kind)[precision]
	if !ok {
		return t.empty()
	}
	if f.Metadata.Constant && f.Kind.IsTemporal() {
		v := foldTemporal(kind, f.Metadata.Value, target, high)
		out := fragment.Literal(t.dialect.QuoteString(v), kind)
		out.Metadata.Value = v
		return out
	}
	s := t.scalar(f, fhirtypes.KindString)
	expr := t.temporalBoundarySQL(kind, s, target, high)
	out := scalarResult(fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE %s END", s, expr), kind, f)
	return out
}

// padding is the text appended to move a partial temporal value from one
// precision to the next. Month end days are computed separately.
type padding struct {
	from, to  int
	low, high string
}

var (
	datePads = []padding{
		{4, 7, "-01", "-12"},
		{7, 10, "-01", ""},
	}
	dateTimePads = append(append([]padding(nil), datePads...),
		padding{10, 13, "T00", "T23"},
		padding{13, 16, ":00", ":59"},
		padding{16, 19, ":00", ":59"},
		padding{19, 23, ".000", ".999"},
	)
	timePads = []padding{
		{2, 5, ":00", ":59"},
		{5, 8, ":00", ":59"},
		{8, 12, ".000", ".999"},
	}
)

func padsFor(kind fhirtypes.Kind) []padding {
	switch kind {
	case fhirtypes.KindDate:
		return datePads
	case fhirtypes.KindTime:
		return timePads
	}
	return dateTimePads
}

// fractionStart is the position of the fractional-seconds dot, 0 for dates.
func fractionStart(kind fhirtypes.Kind) int {
	switch kind {
	case fhirtypes.KindDateTime:
		return 19
	case fhirtypes.KindTime:
		return 8
	}
	return 0
}

func lastDayOfMonth(yearMonth string) string {
	tm, err := time.Parse("2006-01", yearMonth)
	if err != nil {
		return "28"
	}
	return fmt.Sprintf("%02d", tm.AddDate(0, 1, -1).Day())
}

// foldTemporal pads or truncates a partial date, dateTime or time literal
// to target characters, adding a timezone to dateTimes that carry a time.
func foldTemporal(kind fhirtypes.Kind, value string, target int, high bool) string {
	tz := ""
	if kind == fhirtypes.KindDateTime {
		if m := timezoneSuffix.FindString(value); m != "" && strings.Contains(value, "T") {
			tz = m
			value = strings.TrimSuffix(value, m)
		}
		value = strings.TrimSuffix(value, "T")
	}
	if dot := fractionStart(kind); dot > 0 {
		fill := "0"
		if high {
			fill = "9"
		}
		switch {
		case len(value) > dot+1 && len(value) < dot+4:
			value += strings.Repeat(fill, dot+4-len(value))
		case len(value) > dot+4:
			value = value[:dot+4]
		}
	}
	for _, p := range padsFor(kind) {
		if len(value) != p.from || p.from >= target {
			continue
		}
		switch {
		case !high:
			value += p.low
		case p.high == "":
			value += "-" + lastDayOfMonth(value)
		default:
			value += p.high
		}
	}
	if len(value) > target {
		value = value[:target]
	}
	if kind == fhirtypes.KindDateTime && target > 10 {
		switch {
		case tz != "":
			value += tz
		case high:
			value += highTimezone
		default:
			value += lowTimezone
		}
	}
	return value
}

// temporalBoundarySQL renders foldTemporal for a runtime text value s.
func (t *Translator) temporalBoundarySQL(kind fhirtypes.Kind, s string, target int, high bool) string {
	d := t.dialect
	length := d.FunctionName("length")
	substr := d.FunctionName("substring")

	base := s
	if kind == fhirtypes.KindDateTime {
		base = fmt.Sprintf("regexp_replace(%s, %s, '')", s, d.QuoteString(`T?`+timezonePattern))
		base = fmt.Sprintf("regexp_replace(%s, 'T$', '')", base)
	}

	pads := padsFor(kind)
	var cases []string
	for i, start := range pads {
		if start.from >= target {
			break
		}
		parts := []string{base}
		for _, p := range pads[i:] {
			if p.from >= target {
				break
			}
			switch {
			case !high:
				parts = append(parts, d.QuoteString(p.low))
			case p.high != "":
				parts = append(parts, d.QuoteString(p.high))
			case p.from == start.from:
				parts = append(parts, "'-'", d.GenerateLastDayOfMonth(base))
			default:
				// a year padded to December
				parts = append(parts, "'-31'")
			}
		}
		cases = append(cases, fmt.Sprintf("WHEN %s(%s) = %d THEN %s", length, base, start.from, strings.Join(parts, " || ")))
	}
	expr := fmt.Sprintf("%s(%s, 1, %d)", substr, base, target)
	if dot := fractionStart(kind); dot > 0 && target > dot {
		fill := "0"
		if high {
			fill = "9"
		}
		cases = append(cases, fmt.Sprintf("WHEN %s(%s) < %d THEN %s(%s || '%s', 1, %d)",
			length, base, target, substr, base, strings.Repeat(fill, 3), target))
	}
	if len(cases) > 0 {
		expr = fmt.Sprintf("CASE %s ELSE %s END", strings.Join(cases, " "), expr)
	}

	if kind == fhirtypes.KindDateTime && target > 10 {
		def := lowTimezone
		if high {
			def = highTimezone
		}
		tz := fmt.Sprintf("CASE WHEN %s THEN regexp_replace(%s, %s, '\\1') ELSE %s END",
			d.GenerateRegexMatch(s, d.QuoteString(`T.*`+timezonePattern)), s,
			d.QuoteString(`^.*?`+timezonePattern), d.QuoteString(def))
		expr = fmt.Sprintf("(%s || %s)", expr, tz)
	}
	return expr
}
