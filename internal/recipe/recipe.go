// Package recipe compiles a compact password-composition grammar into a
// generator and produces randomly permuted passwords from it.
//
// A recipe is a sequence of mixes, each a quantity (or a "min-max" range)
// followed by an ingredient. Ingredients are character classes that can be
// chained ('a' letters, 'n' digits, 's' symbols, case-insensitive) or a
// quoted literal giving the exact pool, e.g.:
//
//	3a         three letters
//	2-4an      two to four characters drawn from letters+digits
//	8ans 2'%*' eight mixed characters plus two of % or *
package recipe

import (
	"context"
	"fmt"

	"github.com/apetrenko/keyfort/internal/cryptox"
	"github.com/apetrenko/keyfort/internal/logging"
)

const (
	letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	figures = "0123456789"
	symbols = "(-_)~#{[|^@]}+=<>,?./!§"
)

// ParseError reports a malformed recipe. Offset is the 1-based character
// position where parsing stopped; 0 means the recipe was empty.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%d: %s", e.Offset, e.Msg)
}

// Ingredient is the pool a mix draws its characters from. It is a closed
// set: Classes (chained character classes) or Literal (a quoted string).
type Ingredient interface {
	ingredient()
}

// Classes is the concatenated pool of one or more character classes.
type Classes struct {
	Pool []rune
}

// Literal is the character pool given verbatim by a quoted string.
type Literal struct {
	Text []rune
}

func (Classes) ingredient() {}
func (Literal) ingredient() {}

// Mix is one parsed recipe element: between Min and Max characters drawn
// from Ingredient. Min equals Max for a fixed quantity.
type Mix struct {
	Min        uint
	Max        uint
	Ingredient Ingredient
}

// Recipe is a parsed, generation-ready recipe.
type Recipe struct {
	Mixes []Mix
}

type scanner struct {
	src []rune
	idx int
}

func (s *scanner) done() bool {
	return s.idx >= len(s.src)
}

func (s *scanner) peek() rune {
	return s.src[s.idx]
}

// fail builds a ParseError at the current position, 1-based.
func (s *scanner) fail(msg string) *ParseError {
	return &ParseError{Offset: s.idx + 1, Msg: msg}
}

func (s *scanner) skipBlanks() {
	for !s.done() {
		switch s.peek() {
		case ' ', '\t', '\r', '\n':
			s.idx++
		default:
			return
		}
	}
}

// quantity reads a decimal number and reports whether any digit was
// consumed. An absent or zero quantity means one.
func (s *scanner) quantity() (uint, bool) {
	var q uint
	seen := false
	for !s.done() {
		c := s.peek()
		if c < '0' || c > '9' {
			break
		}
		q = q*10 + uint(c-'0')
		seen = true
		s.idx++
	}
	if q == 0 {
		q = 1
	}
	return q, seen
}

func classPool(c rune) ([]rune, bool) {
	switch c {
	case 'a', 'A':
		return []rune(letters), true
	case 'n', 'N':
		return []rune(figures), true
	case 's', 'S':
		return []rune(symbols), true
	}
	return nil, false
}

// quoted reads a string delimited by the current character; backslash
// escapes the next character.
func (s *scanner) quoted() (Literal, *ParseError) {
	delim := s.peek()
	s.idx++
	var text []rune
	for {
		if s.done() {
			return Literal{}, s.fail("Unterminated string")
		}
		c := s.peek()
		s.idx++
		switch c {
		case delim:
			return Literal{Text: text}, nil
		case '\\':
			if s.done() {
				return Literal{}, s.fail("Unterminated string")
			}
			text = append(text, s.peek())
			s.idx++
		default:
			text = append(text, c)
		}
	}
}

func (s *scanner) ingredient() (Ingredient, *ParseError) {
	s.skipBlanks()
	if s.done() {
		return nil, s.fail("Expecting ingredient specification")
	}
	c := s.peek()
	if c == '"' || c == '\'' {
		return s.quoted()
	}
	pool, ok := classPool(c)
	if !ok {
		return nil, s.fail("Invalid ingredient specification")
	}
	s.idx++
	for !s.done() {
		more, ok := classPool(s.peek())
		if !ok {
			break
		}
		pool = append(pool, more...)
		s.idx++
	}
	return Classes{Pool: pool}, nil
}

// mix parses one quantity+ingredient element. It reports ok=false with a
// nil error when only trailing whitespace remained.
func (s *scanner) mix() (Mix, bool, *ParseError) {
	s.skipBlanks()
	min, seen := s.quantity()
	if s.done() {
		if !seen {
			return Mix{}, false, nil
		}
		return Mix{}, false, s.fail("Expecting ingredient specification")
	}

	max := min
	if seen && s.peek() == '-' {
		s.idx++
		max, _ = s.quantity()
		if min > max {
			return Mix{}, false, s.fail("Invalid quantity range: min > max")
		}
	}

	ing, perr := s.ingredient()
	if perr != nil {
		return Mix{}, false, perr
	}
	return Mix{Min: min, Max: max, Ingredient: ing}, true, nil
}

// Parse compiles a recipe. On failure it returns a *ParseError carrying the
// 1-based offset of the offending character.
func Parse(recipe string) (*Recipe, error) {
	s := &scanner{src: []rune(recipe)}
	var mixes []Mix
	for !s.done() {
		m, ok, perr := s.mix()
		if perr != nil {
			return nil, perr
		}
		if !ok {
			break
		}
		mixes = append(mixes, m)
	}
	if len(mixes) == 0 {
		return nil, &ParseError{Offset: 0, Msg: "empty recipe"}
	}
	return &Recipe{Mixes: mixes}, nil
}

// Generate produces a password matching the recipe. Each mix draws its
// (possibly range-random) quantity of characters uniformly from its pool;
// every generated character is inserted at a random position among those
// placed so far, so quantities are exact but positions are shuffled.
func (r *Recipe) Generate() string {
	var out []rune
	for _, m := range r.Mixes {
		var pool []rune
		switch ing := m.Ingredient.(type) {
		case Classes:
			pool = ing.Pool
		case Literal:
			pool = ing.Text
		}
		if len(pool) == 0 {
			continue
		}
		count := m.Min + cryptox.IRandom(m.Max-m.Min+1)
		for range count {
			c := pool[cryptox.IRandom(uint(len(pool)))]
			p := int(cryptox.IRandom(uint(len(out) + 1)))
			out = append(out, 0)
			copy(out[p+1:], out[p:])
			out[p] = c
		}
	}
	return string(out)
}

// Generate parses the recipe and produces one password from it.
func Generate(ctx context.Context, log logging.Logger, recipe string) (string, error) {
	r, err := Parse(recipe)
	if err != nil {
		log.Error(ctx, "invalid recipe", "recipe", recipe, "error", err)
		return "", err
	}
	pass := r.Generate()
	log.PII(ctx, "generated password", "length", len(pass), "password", pass)
	return pass, nil
}
