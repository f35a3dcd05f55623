package recordstore

import (
	"fmt"
	"strings"
	"unicode"
)

// Filter is a parsed list filter such as
//
//	category = "cat_1" && (label ~ "btn" || name !~ 'card')
//
// "~" and "!~" are case-insensitive substring matches; "=" and "!=" compare
// exactly. Values are quoted with ' or " and may escape with a backslash.
type Filter interface {
	eval(rec Record) bool
}

type comparison struct {
	field string
	op    string
	value string
}

func (c comparison) eval(rec Record) bool {
	got := rec[c.field]
	switch c.op {
	case "=":
		return got == c.value
	case "!=":
		return got != c.value
	case "~":
		return strings.Contains(strings.ToLower(got), strings.ToLower(c.value))
	case "!~":
		return !strings.Contains(strings.ToLower(got), strings.ToLower(c.value))
	}
	return false
}

type conjunction struct {
	or    bool
	terms []Filter
}

func (c conjunction) eval(rec Record) bool {
	for _, t := range c.terms {
		ok := t.eval(rec)
		if c.or && ok {
			return true
		}
		if !c.or && !ok {
			return false
		}
	}
	return !c.or
}

// Matches reports whether rec satisfies f. A nil filter matches everything.
func Matches(f Filter, rec Record) bool {
	return f == nil || f.eval(rec)
}

// ParseFilter parses raw. An empty filter returns nil.
func ParseFilter(raw string) (Filter, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	p := &filterParser{src: raw}
	f, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return f, nil
}

type filterParser struct {
	src string
	pos int
}

func (p *filterParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: filter at offset %d: %s", ErrInvalidInput, p.pos, fmt.Sprintf(format, args...))
}

func (p *filterParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *filterParser) consume(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *filterParser) parseOr() (Filter, error) {
	return p.parseJoined("||", true, p.parseAnd)
}

func (p *filterParser) parseAnd() (Filter, error) {
	return p.parseJoined("&&", false, p.parseTerm)
}

func (p *filterParser) parseJoined(sep string, or bool, next func() (Filter, error)) (Filter, error) {
	first, err := next()
	if err != nil {
		return nil, err
	}
	terms := []Filter{first}
	for p.consume(sep) {
		t, err := next()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return conjunction{or: or, terms: terms}, nil
}

func (p *filterParser) parseTerm() (Filter, error) {
	if p.consume("(") {
		f, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.consume(")") {
			return nil, p.errorf("missing closing parenthesis")
		}
		return f, nil
	}
	field := p.identifier()
	if field == "" {
		return nil, p.errorf("expected field name")
	}
	var op string
	for _, candidate := range []string{"!=", "!~", "=", "~"} {
		if p.consume(candidate) {
			op = candidate
			break
		}
	}
	if op == "" {
		return nil, p.errorf("expected operator after %s", field)
	}
	value, err := p.quoted()
	if err != nil {
		return nil, err
	}
	return comparison{field: field, op: op, value: value}, nil
}

func (p *filterParser) identifier() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		r := rune(p.src[p.pos])
		if r != '_' && r != '.' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *filterParser) quoted() (string, error) {
	p.skipSpace()
	if p.pos >= len(p.src) || (p.src[p.pos] != '"' && p.src[p.pos] != '\'') {
		return "", p.errorf("expected quoted value")
	}
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		ch := p.src[p.pos]
		switch {
		case ch == '\\' && p.pos+1 < len(p.src):
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case ch == quote:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(ch)
			p.pos++
		}
	}
	return "", p.errorf("unterminated value")
}
