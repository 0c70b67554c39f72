// Package namematch matches hierarchical names against policy patterns.
//
// Two matchers are provided. Prefix accepts every name under a fixed
// prefix. Regex compiles an NDN name pattern:
//
//	^<TestCommandInterest><Validation>   names starting with the two components
//	^<example><>*$                       /example followed by anything
//	^(<a><b>)+<c>{1,2}$                  groups and bounded repetition
//
// A <...> element matches exactly one component; its body is a Go regular
// expression applied to the whole URI-escaped component, and <> matches any
// component. Elements and (...) groups take the quantifiers * + ? {n} {n,}
// and {n,m}, except that a repeated group may not hold an unbounded
// repetition such as (<>*)+. Without ^ the pattern may start at any
// component; without $ it may stop before the last one.
package namematch

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joncooperworks/ndnsec/ndn"
)

// ErrSyntax is returned for patterns that do not compile.
var ErrSyntax = errors.New("invalid name pattern")

// Matcher reports whether a name satisfies a pattern.
type Matcher interface {
	Match(name ndn.Name) bool
	String() string
}

// Prefix matches names that start with a fixed prefix.
type Prefix struct {
	prefix ndn.Name
}

// NewPrefix returns a matcher for every name under prefix. The empty
// prefix matches all names.
func NewPrefix(prefix ndn.Name) *Prefix {
	return &Prefix{prefix: prefix}
}

func (p *Prefix) Match(name ndn.Name) bool { return p.prefix.IsPrefixOf(name) }

func (p *Prefix) String() string { return p.prefix.String() }

const unbounded = -1

type node struct {
	re       *regexp.Regexp // nil for any-component or group
	group    []node
	isGroup  bool
	min, max int
}

// Regex is a compiled name pattern.
type Regex struct {
	expr        string
	nodes       []node
	anchorStart bool
	anchorEnd   bool
}

// Compile parses an NDN name pattern.
func Compile(expr string) (*Regex, error) {
	p := &parser{src: expr}
	r := &Regex{expr: expr}
	if strings.HasPrefix(p.src, "^") {
		r.anchorStart = true
		p.pos++
	}
	end := len(p.src)
	if strings.HasSuffix(p.src, "$") && end > p.pos {
		r.anchorEnd = true
		end--
	}
	p.src = p.src[:end]

	nodes, err := p.sequence(false)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrSyntax, expr, err)
	}
	r.nodes = nodes
	return r, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(expr string) *Regex {
	r, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Regex) String() string { return r.expr }

// Match reports whether name satisfies the pattern.
func (r *Regex) Match(name ndn.Name) bool {
	last := len(name)
	if r.anchorStart {
		last = 0
	}
	for start := 0; start <= last; start++ {
		if matchSeq(r.nodes, name, start, func(pos int) bool {
			return !r.anchorEnd || pos == len(name)
		}) {
			return true
		}
	}
	return false
}

func matchSeq(nodes []node, name ndn.Name, pos int, k func(int) bool) bool {
	if len(nodes) == 0 {
		return k(pos)
	}
	return matchRepeat(&nodes[0], 0, name, pos, func(p int) bool {
		return matchSeq(nodes[1:], name, p, k)
	})
}

// matchRepeat tries the greediest repetition first and backtracks.
func matchRepeat(n *node, count int, name ndn.Name, pos int, k func(int) bool) bool {
	if n.max == unbounded || count < n.max {
		more := matchOnce(n, name, pos, func(p int) bool {
			if p == pos {
				// an empty iteration cannot make progress
				return false
			}
			return matchRepeat(n, count+1, name, p, k)
		})
		if more {
			return true
		}
	}
	return count >= n.min && k(pos)
}

func matchOnce(n *node, name ndn.Name, pos int, k func(int) bool) bool {
	if n.isGroup {
		return matchSeq(n.group, name, pos, k)
	}
	if pos >= len(name) {
		return false
	}
	if n.re != nil && !n.re.MatchString(name[pos].String()) {
		return false
	}
	return k(pos + 1)
}

type parser struct {
	src string
	pos int
}

func (p *parser) sequence(inGroup bool) ([]node, error) {
	var nodes []node
	for p.pos < len(p.src) {
		var n node
		switch c := p.src[p.pos]; c {
		case '<':
			end := strings.IndexByte(p.src[p.pos:], '>')
			if end < 0 {
				return nil, fmt.Errorf("unterminated component at offset %d", p.pos)
			}
			body := p.src[p.pos+1 : p.pos+end]
			p.pos += end + 1
			if body != "" {
				re, err := regexp.Compile("^(?:" + body + ")$")
				if err != nil {
					return nil, err
				}
				n.re = re
			}
		case '(':
			p.pos++
			group, err := p.sequence(true)
			if err != nil {
				return nil, err
			}
			if p.pos >= len(p.src) || p.src[p.pos] != ')' {
				return nil, errors.New("unbalanced parenthesis")
			}
			p.pos++
			n.isGroup = true
			n.group = group
		case ')':
			if !inGroup {
				return nil, errors.New("unbalanced parenthesis")
			}
			return nodes, nil
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
		}
		if err := p.quantifier(&n); err != nil {
			return nil, err
		}
		if n.isGroup && n.max != 1 && hasUnbounded(n.group) {
			// Backtracking over such a group is exponential in the name length.
			return nil, fmt.Errorf("repeated group contains an unbounded repetition at offset %d", p.pos)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func hasUnbounded(nodes []node) bool {
	for i := range nodes {
		if nodes[i].max == unbounded || hasUnbounded(nodes[i].group) {
			return true
		}
	}
	return false
}

func (p *parser) quantifier(n *node) error {
	n.min, n.max = 1, 1
	if p.pos >= len(p.src) {
		return nil
	}
	switch p.src[p.pos] {
	case '*':
		n.min, n.max = 0, unbounded
	case '+':
		n.min, n.max = 1, unbounded
	case '?':
		n.min, n.max = 0, 1
	case '{':
		end := strings.IndexByte(p.src[p.pos:], '}')
		if end < 0 {
			return errors.New("unterminated repetition")
		}
		body := p.src[p.pos+1 : p.pos+end]
		p.pos += end + 1
		return parseBounds(body, n)
	default:
		return nil
	}
	p.pos++
	return nil
}

func parseBounds(body string, n *node) error {
	lo, hi, ranged := strings.Cut(body, ",")
	lower, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil || lower < 0 {
		return fmt.Errorf("invalid repetition {%s}", body)
	}
	upper := lower
	if ranged {
		upper = unbounded
		if hi = strings.TrimSpace(hi); hi != "" {
			if upper, err = strconv.Atoi(hi); err != nil || upper < lower {
				return fmt.Errorf("invalid repetition {%s}", body)
			}
		}
	}
	n.min, n.max = lower, upper
	return nil
}
