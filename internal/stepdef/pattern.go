package stepdef

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Segment is one piece of a compiled step pattern. The set of segment types
// is closed: Literal, IntParam, FloatParam and StringParam.
type Segment interface {
	expr() string
	isSegment()
}

// Literal text must match verbatim
type Literal struct {
	Text string
}

// IntParam matches `{name:d}`
type IntParam struct {
	Name string
}

// FloatParam matches `{name:f}`
type FloatParam struct {
	Name string
}

// StringParam matches `{name}`. Quoted params sit between double quotes and
// never span a quote character.
type StringParam struct {
	Name   string
	Quoted bool
}

const (
	intExpr    = `[-+]?\d+`
	floatExpr  = `[-+]?(?:\d+\.\d*|\.\d+|\d+)`
	quotedExpr = `[^"]*`
	stringExpr = `.+?`
)

func (Literal) isSegment()     {}
func (IntParam) isSegment()    {}
func (FloatParam) isSegment()  {}
func (StringParam) isSegment() {}

func (s Literal) expr() string    { return regexp.QuoteMeta(s.Text) }
func (s IntParam) expr() string   { return "(" + intExpr + ")" }
func (s FloatParam) expr() string { return "(" + floatExpr + ")" }
func (s StringParam) expr() string {
	if s.Quoted {
		return "(" + quotedExpr + ")"
	}
	return "(" + stringExpr + ")"
}

// Pattern is a compiled step pattern such as
// `the confidence score should be between {min_val:f} and {max_val:f}`.
type Pattern struct {
	source   string
	segments []Segment
	params   []Segment
	literals int
	re       *regexp.Regexp
}

// Compile parses a pattern into segments and builds its matcher
func Compile(source string) (*Pattern, error) {
	segments, err := parseSegments(source)
	if err != nil {
		return nil, fmt.Errorf("compiling step pattern %q: %w", source, err)
	}

	p := &Pattern{source: source, segments: segments}

	var sb strings.Builder
	sb.WriteString("^")
	for _, seg := range segments {
		sb.WriteString(seg.expr())
		switch s := seg.(type) {
		case Literal:
			p.literals += len(s.Text)
		default:
			p.params = append(p.params, seg)
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("compiling step pattern %q: %w", source, err)
	}
	p.re = re

	return p, nil
}

func MustCompile(source string) *Pattern {
	p, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return p
}

func parseSegments(source string) ([]Segment, error) {
	var segments []Segment
	rest := source

	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, fmt.Errorf("unmatched '}'")
			}
			segments = append(segments, Literal{Text: rest})
			break
		}
		if strings.IndexByte(rest[:open], '}') >= 0 {
			return nil, fmt.Errorf("unmatched '}'")
		}
		if open > 0 {
			segments = append(segments, Literal{Text: rest[:open]})
		}

		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("unterminated placeholder")
		}
		body := rest[open+1 : open+end]
		rest = rest[open+end+1:]

		name, kind, _ := strings.Cut(body, ":")
		if strings.ContainsAny(name, "{ ") {
			return nil, fmt.Errorf("invalid placeholder name %q", name)
		}

		var seg Segment
		switch kind {
		case "":
			quoted := len(segments) > 0 && endsWithQuote(segments[len(segments)-1]) && strings.HasPrefix(rest, `"`)
			seg = StringParam{Name: name, Quoted: quoted}
		case "d":
			seg = IntParam{Name: name}
		case "f":
			seg = FloatParam{Name: name}
		default:
			return nil, fmt.Errorf("unknown placeholder type %q in {%s}", kind, body)
		}

		if len(segments) > 0 && isParam(segments[len(segments)-1]) {
			return nil, fmt.Errorf("placeholders {%s} must be separated by literal text", body)
		}
		segments = append(segments, seg)
	}

	return segments, nil
}

func endsWithQuote(seg Segment) bool {
	lit, ok := seg.(Literal)
	return ok && strings.HasSuffix(lit.Text, `"`)
}

func isParam(seg Segment) bool {
	_, ok := seg.(Literal)
	return !ok
}

func (p *Pattern) String() string { return p.source }

func (p *Pattern) Segments() []Segment { return p.segments }

// Regexp returns the anchored expression with one group per placeholder
func (p *Pattern) Regexp() *regexp.Regexp { return p.re }

// NumParams is the number of placeholders
func (p *Pattern) NumParams() int { return len(p.params) }

// Specificity is the number of literal characters; more wins a tie
func (p *Pattern) Specificity() int { return p.literals }

// Parse matches text and returns typed placeholder values
func (p *Pattern) Parse(text string) (Args, bool) {
	m := p.re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	args, err := p.Convert(m[1:])
	if err != nil {
		return nil, false
	}
	return args, true
}

// Convert turns raw captures into typed values, by position
func (p *Pattern) Convert(raw []string) (Args, error) {
	if len(raw) != len(p.params) {
		return nil, fmt.Errorf("expected %d arguments, got %d", len(p.params), len(raw))
	}

	args := make(Args, len(raw))
	for i, seg := range p.params {
		switch s := seg.(type) {
		case IntParam:
			n, err := strconv.Atoi(raw[i])
			if err != nil {
				return nil, fmt.Errorf("{%s:d}: %w", s.Name, err)
			}
			args[i] = n
		case FloatParam:
			f, err := strconv.ParseFloat(raw[i], 64)
			if err != nil {
				return nil, fmt.Errorf("{%s:f}: %w", s.Name, err)
			}
			args[i] = f
		default:
			args[i] = raw[i]
		}
	}
	return args, nil
}

// Args are typed placeholder values in pattern order. Accessors panic when
// the position holds a different type, which means the handler disagrees
// with its own pattern.
type Args []any

func (a Args) String(i int) string { return a[i].(string) }

func (a Args) Int(i int) int { return a[i].(int) }

func (a Args) Float(i int) float64 { return a[i].(float64) }
