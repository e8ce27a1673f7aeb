package lakecat

import (
	"fmt"
	"strings"
)

// Predicate selects partitions by their key. A key that lacks a field the
// predicate references never matches. A nil Predicate matches every key.
type Predicate interface {
	Match(key PartitionKey) bool
	String() string
}

func matches(p Predicate, key PartitionKey) bool {
	return p == nil || p.Match(key)
}

type fieldCompare struct {
	field string
	op    string
	value string
}

func (p fieldCompare) Match(key PartitionKey) bool {
	v, ok := key.Get(p.field)
	if !ok {
		return false
	}
	c := ComparePartitionValues(v, p.value)
	switch p.op {
	case "=":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func (p fieldCompare) String() string {
	return p.field + p.op + p.value
}

// FieldEquals matches keys whose field equals value.
func FieldEquals(field string, value any) Predicate {
	return fieldCompare{field: field, op: "=", value: formatPartitionValue(value)}
}

type fieldIn struct {
	field  string
	values []string
}

// FieldIn matches keys whose field equals any of values.
func FieldIn(field string, values ...any) Predicate {
	p := fieldIn{field: field, values: make([]string, len(values))}
	for i, v := range values {
		p.values[i] = formatPartitionValue(v)
	}
	return p
}

func (p fieldIn) Match(key PartitionKey) bool {
	v, ok := key.Get(p.field)
	if !ok {
		return false
	}
	for _, want := range p.values {
		if ComparePartitionValues(v, want) == 0 {
			return true
		}
	}
	return false
}

func (p fieldIn) String() string {
	return p.field + "=" + strings.Join(p.values, "|")
}

type fieldBetween struct {
	field  string
	lo, hi string
}

// FieldBetween matches keys whose field lies in [lo, hi].
func FieldBetween(field string, lo, hi any) Predicate {
	return fieldBetween{field: field, lo: formatPartitionValue(lo), hi: formatPartitionValue(hi)}
}

func (p fieldBetween) Match(key PartitionKey) bool {
	v, ok := key.Get(p.field)
	if !ok {
		return false
	}
	return ComparePartitionValues(v, p.lo) >= 0 && ComparePartitionValues(v, p.hi) <= 0
}

func (p fieldBetween) String() string {
	return fmt.Sprintf("%s>=%s,%s<=%s", p.field, p.lo, p.field, p.hi)
}

type andPredicate []Predicate

// And matches keys matched by every operand. And() matches everything.
func And(preds ...Predicate) Predicate { return andPredicate(preds) }

func (p andPredicate) Match(key PartitionKey) bool {
	for _, q := range p {
		if !matches(q, key) {
			return false
		}
	}
	return true
}

func (p andPredicate) String() string { return joinPredicates(p, ",") }

type orPredicate []Predicate

// Or matches keys matched by at least one operand. Or() matches nothing.
func Or(preds ...Predicate) Predicate { return orPredicate(preds) }

func (p orPredicate) Match(key PartitionKey) bool {
	for _, q := range p {
		if matches(q, key) {
			return true
		}
	}
	return false
}

func (p orPredicate) String() string { return "(" + joinPredicates(p, " OR ") + ")" }

func joinPredicates(preds []Predicate, sep string) string {
	parts := make([]string, 0, len(preds))
	for _, q := range preds {
		if q == nil {
			parts = append(parts, "true")
			continue
		}
		parts = append(parts, q.String())
	}
	return strings.Join(parts, sep)
}

// ParsePredicate parses a comma-separated conjunction of comparisons, e.g.
// "year=2013,month>=6". Supported operators are = != < <= > >=; a value list
// separated by "|" after "=" means any of them ("store_nbr=1|2"). An empty
// string yields a nil Predicate.
func ParsePredicate(s string) (Predicate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var terms []Predicate
	for _, term := range strings.Split(s, ",") {
		term = strings.TrimSpace(term)
		p, err := parseTerm(term)
		if err != nil {
			return nil, fmt.Errorf("parse predicate %q: %w", s, err)
		}
		terms = append(terms, p)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return And(terms...), nil
}

func parseTerm(term string) (Predicate, error) {
	i := strings.IndexAny(term, "=!<>")
	if i <= 0 {
		return nil, fmt.Errorf("term %q: expected <field><op><value>", term)
	}
	field := strings.TrimSpace(term[:i])
	if !isKeyName(field) {
		return nil, fmt.Errorf("term %q: invalid field name", term)
	}
	rest := term[i:]
	var op string
	for _, candidate := range []string{"!=", "<=", ">=", "=", "<", ">"} {
		if strings.HasPrefix(rest, candidate) {
			op = candidate
			break
		}
	}
	if op == "" {
		return nil, fmt.Errorf("term %q: unknown operator", term)
	}
	value := strings.TrimSpace(rest[len(op):])
	if value == "" {
		return nil, fmt.Errorf("term %q: missing value", term)
	}
	if op == "=" && strings.Contains(value, "|") {
		alts := strings.Split(value, "|")
		args := make([]any, len(alts))
		for j, a := range alts {
			args[j] = strings.TrimSpace(a)
		}
		return FieldIn(field, args...), nil
	}
	return fieldCompare{field: field, op: op, value: value}, nil
}
