package parse

import (
	"fmt"
	"strings"
	"unicode"
)

// CfgSet is the configuration conditional attributes are evaluated against.
type CfgSet struct {
	features map[string]bool
	flags    map[string]bool
	values   map[string]map[string]bool
}

// NewCfgSet builds a set from enabled features and cfg entries. A cfg entry
// is a bare flag ("unix") or a key/value pair ("target_os=linux").
func NewCfgSet(features, cfg []string) CfgSet {
	c := CfgSet{
		features: make(map[string]bool),
		flags:    make(map[string]bool),
		values:   make(map[string]map[string]bool),
	}
	for _, f := range features {
		c.features[f] = true
	}
	for _, entry := range cfg {
		k, v, ok := strings.Cut(entry, "=")
		k = strings.TrimSpace(k)
		if !ok {
			c.flags[k] = true
			continue
		}
		v = strings.Trim(strings.TrimSpace(v), `"`)
		if c.values[k] == nil {
			c.values[k] = make(map[string]bool)
		}
		c.values[k][v] = true
	}
	return c
}

// Enabled reports whether every cfg(...) attribute in attrs holds. Other
// attributes are ignored. A predicate that does not parse is treated as
// false.
func (c CfgSet) Enabled(attrs []string) bool {
	for _, a := range attrs {
		pred, ok := cfgPredicate(a)
		if !ok {
			continue
		}
		v, err := c.Eval(pred)
		if err != nil || !v {
			return false
		}
	}
	return true
}

// cfgPredicate extracts the predicate from "#[cfg(...)]".
func cfgPredicate(attr string) (string, bool) {
	s := strings.TrimSpace(attr)
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return "", false
	}
	s = strings.TrimSpace(s[1 : len(s)-1])
	if !strings.HasPrefix(s, "cfg") {
		return "", false
	}
	rest := strings.TrimSpace(s[len("cfg"):])
	if !strings.HasPrefix(rest, "(") {
		return "", false
	}
	return strings.TrimSuffix(rest[1:], ")"), true
}

// Eval evaluates one predicate: name, name = "value", all(..), any(..), not(..).
func (c CfgSet) Eval(pred string) (bool, error) {
	p := &cfgParser{toks: tokenizeCfg(pred)}
	v, err := p.expr(c)
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("cfg: trailing input in %q", pred)
	}
	return v, nil
}

func tokenizeCfg(s string) []string {
	var toks []string
	i := 0
	for i < len(s) {
		r := rune(s[i])
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')' || r == ',' || r == '=':
			toks = append(toks, string(r))
			i++
		case r == '"':
			j := i + 1
			for j < len(s) && s[j] != '"' {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				j = len(s) - 1
			}
			toks = append(toks, s[i:j+1])
			i = j + 1
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\n\r(),=\"", rune(s[j])) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}

type cfgParser struct {
	toks []string
	pos  int
}

func (p *cfgParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *cfgParser) next() string {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *cfgParser) expect(tok string) error {
	if got := p.next(); got != tok {
		return fmt.Errorf("cfg: expected %q, got %q", tok, got)
	}
	return nil
}

func (p *cfgParser) expr(c CfgSet) (bool, error) {
	name := p.next()
	if name == "" {
		return false, fmt.Errorf("cfg: empty predicate")
	}
	switch p.peek() {
	case "(":
		p.next()
		var args []bool
		for p.peek() != ")" {
			v, err := p.expr(c)
			if err != nil {
				return false, err
			}
			args = append(args, v)
			if p.peek() == "," {
				p.next()
			}
		}
		if err := p.expect(")"); err != nil {
			return false, err
		}
		return combine(name, args)
	case "=":
		p.next()
		val := p.next()
		if len(val) < 2 || val[0] != '"' {
			return false, fmt.Errorf("cfg: %s needs a string value", name)
		}
		val = val[1 : len(val)-1]
		if name == "feature" {
			return c.features[val], nil
		}
		return c.values[name][val], nil
	default:
		return c.flags[name], nil
	}
}

func combine(op string, args []bool) (bool, error) {
	switch op {
	case "all":
		for _, a := range args {
			if !a {
				return false, nil
			}
		}
		return true, nil
	case "any":
		for _, a := range args {
			if a {
				return true, nil
			}
		}
		return false, nil
	case "not":
		if len(args) != 1 {
			return false, fmt.Errorf("cfg: not() takes one predicate, got %d", len(args))
		}
		return !args[0], nil
	default:
		return false, fmt.Errorf("cfg: unknown operator %q", op)
	}
}
