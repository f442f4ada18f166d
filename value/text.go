package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// String returns the canonical text literal of v. Parse(v.String()) always
// returns a value Equal to v.
func (v Value) String() string {
	var buf strings.Builder
	v.appendText(&buf)
	return buf.String()
}

func (v Value) appendText(buf *strings.Builder) {
	switch v.kind {
	case Invalid:
		buf.WriteString("<invalid>")
	case Bool:
		if v.Bool() {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Int:
		buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case Double:
		buf.WriteString(formatDouble(v.Double()))
	case String:
		quoteString(buf, v.str)
	case Array:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteString(", ")
			}
			item.appendText(buf)
		}
		buf.WriteByte(']')
	case Tuple:
		buf.WriteByte('(')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteString(", ")
			}
			item.appendText(buf)
		}
		if len(v.items) == 1 {
			buf.WriteByte(',')
		}
		buf.WriteByte(')')
	}
}

func formatDouble(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func quoteString(buf *strings.Builder, s string) {
	quote := byte('\'')
	if strings.IndexByte(s, '\'') >= 0 && strings.IndexByte(s, '"') < 0 {
		quote = '"'
	}
	buf.WriteByte(quote)
	for _, r := range s {
		switch r {
		case '\\':
			buf.WriteString(`\\`)
		case rune(quote):
			buf.WriteByte('\\')
			buf.WriteByte(quote)
		case '\a':
			buf.WriteString(`\a`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\v':
			buf.WriteString(`\v`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte(quote)
}

// integer type keywords are accepted in front of a number and dropped:
// integer width is not part of the value model.
var intKeywords = map[string]bool{
	"byte":   true,
	"int16":  true,
	"uint16": true,
	"int32":  true,
	"uint32": true,
	"int64":  true,
	"uint64": true,
	"handle": true,
}

// Parse parses a text literal.
func Parse(s string) (Value, error) {
	p := &parser{src: s}
	p.skipSpace()
	v, err := p.parseValue()
	if err != nil {
		return Value{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Value{}, p.errorf("unexpected trailing input")
	}
	return v, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constants.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d in %q", ErrInvalidValue, fmt.Sprintf(format, args...), p.pos, p.src)
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) parseValue() (Value, error) {
	switch c := p.peek(); {
	case c == 0:
		return Value{}, p.errorf("unexpected end of input")
	case c == '[':
		return p.parseArray()
	case c == '(':
		return p.parseTuple()
	case c == '\'' || c == '"':
		s, err := p.parseString()
		if err != nil {
			return Value{}, err
		}
		return NewString(s), nil
	case c == '@':
		p.scanWord()
		p.skipSpace()
		return p.parseValue()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumber(false)
	case isWordChar(c):
		start := p.pos
		word := p.scanWord()
		switch {
		case word == "true":
			return NewBool(true), nil
		case word == "false":
			return NewBool(false), nil
		case word == "inf" || word == "nan":
			p.pos = start
			return p.parseNumber(true)
		case word == "double":
			p.skipSpace()
			return p.parseNumber(true)
		case intKeywords[word]:
			p.skipSpace()
			v, err := p.parseNumber(false)
			if err == nil && v.kind != Int {
				return Value{}, p.errorf("%s requires an integer", word)
			}
			return v, err
		default:
			p.pos = start
			return Value{}, p.errorf("unknown keyword %q", word)
		}
	default:
		return Value{}, p.errorf("unexpected character %q", c)
	}
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (p *parser) scanWord() string {
	start := p.pos
	if p.peek() == '@' {
		for p.pos < len(p.src) && !strings.ContainsRune(" \t\n\r['\"", rune(p.src[p.pos])) {
			p.pos++
		}
		return p.src[start:p.pos]
	}
	for p.pos < len(p.src) && isWordChar(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) parseNumber(forceDouble bool) (Value, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '-' || c == '+' || c == '.' || isWordChar(c) {
			p.pos++
			continue
		}
		break
	}
	lit := p.src[start:p.pos]
	if lit == "" {
		return Value{}, p.errorf("number expected")
	}
	body := strings.TrimLeft(lit, "+-")
	isHex := strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X")
	if forceDouble || body == "inf" || body == "nan" || (!isHex && strings.ContainsAny(body, ".eE")) {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			p.pos = start
			return Value{}, p.errorf("invalid number %q", lit)
		}
		return NewDouble(f), nil
	}
	i, err := strconv.ParseInt(lit, 0, 64)
	if err != nil {
		p.pos = start
		return Value{}, p.errorf("invalid number %q", lit)
	}
	return NewInt(i), nil
}

func (p *parser) parseString() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var buf strings.Builder
	for {
		if p.pos >= len(p.src) {
			return "", p.errorf("unterminated string")
		}
		c := p.src[p.pos]
		if c == quote {
			p.pos++
			return buf.String(), nil
		}
		if c != '\\' {
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			if r == utf8.RuneError && size <= 1 {
				return "", p.errorf("invalid UTF-8 in string")
			}
			buf.WriteString(p.src[p.pos : p.pos+size])
			p.pos += size
			continue
		}
		p.pos++
		if p.pos >= len(p.src) {
			return "", p.errorf("unterminated escape")
		}
		e := p.src[p.pos]
		p.pos++
		switch e {
		case '\\', '\'', '"':
			buf.WriteByte(e)
		case 'a':
			buf.WriteByte('\a')
		case 'b':
			buf.WriteByte('\b')
		case 'f':
			buf.WriteByte('\f')
		case 'n':
			buf.WriteByte('\n')
		case 'r':
			buf.WriteByte('\r')
		case 't':
			buf.WriteByte('\t')
		case 'v':
			buf.WriteByte('\v')
		case 'u', 'U':
			n := 4
			if e == 'U' {
				n = 8
			}
			if p.pos+n > len(p.src) {
				return "", p.errorf("truncated \\%c escape", e)
			}
			code, err := strconv.ParseUint(p.src[p.pos:p.pos+n], 16, 32)
			if err != nil || !utf8.ValidRune(rune(code)) {
				return "", p.errorf("invalid \\%c escape", e)
			}
			p.pos += n
			buf.WriteRune(rune(code))
		default:
			p.pos -= 2
			return "", p.errorf("unknown escape \\%c", e)
		}
	}
}

func (p *parser) parseItems(closing byte) ([]Value, error) {
	p.pos++ // opening bracket
	p.skipSpace()
	var items []Value
	if p.peek() == closing {
		p.pos++
		return items, nil
	}
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			p.skipSpace()
			if p.peek() == closing {
				p.pos++
				return items, nil
			}
		case closing:
			p.pos++
			return items, nil
		default:
			return nil, p.errorf("expected ',' or '%c'", closing)
		}
	}
}

func (p *parser) parseArray() (Value, error) {
	start := p.pos
	items, err := p.parseItems(']')
	if err != nil {
		return Value{}, err
	}
	v, err := NewArray(items...)
	if err != nil {
		return Value{}, fmt.Errorf("%w (array at offset %d in %q)", err, start, p.src)
	}
	return v, nil
}

func (p *parser) parseTuple() (Value, error) {
	items, err := p.parseItems(')')
	if err != nil {
		return Value{}, err
	}
	return NewTuple(items...), nil
}
