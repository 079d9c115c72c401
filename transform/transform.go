// Package transform provides the stateless text modules of queryz.
//
// Each module reads the current response of a Query, or its text when no
// module has answered yet, and installs its own result as the new response.
// Transforms never finish a query: the status stays Continue so later
// modules, and the post-phase, still run.
package transform

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zoobzio/queryz"
)

// Module names.
const (
	UpperName    queryz.Name = "toupper"
	LowerName    queryz.Name = "tolower"
	DecorateName queryz.Name = "decorate"
	MagicName    queryz.Name = "magic"
)

// Decorate defaults.
const (
	DefaultPrefix = "-= "
	DefaultSuffix = " =-"
)

// input returns what a transform should work on.
func input(q *queryz.Query) string {
	if resp, ok := q.Response(); ok {
		return resp
	}
	return q.Text()
}

// Func adapts a pure string function into a pre-phase module.
type Func struct {
	fn   func(string) string
	name queryz.Name
}

// New wraps fn as a module called name.
func New(name queryz.Name, fn func(string) string) *Func {
	return &Func{name: name, fn: fn}
}

// Name returns the module name.
func (f *Func) Name() queryz.Name {
	return f.name
}

// Process replaces the response with fn applied to the current input.
func (f *Func) Process(_ context.Context, q *queryz.Query) {
	q.Replace(f.name, f.fn(input(q)))
	q.SetStatus(queryz.StatusContinue)
}

// Case maps text to upper or lower case using language-aware rules.
type Case struct {
	tag   language.Tag
	name  queryz.Name
	upper bool
	mu    sync.RWMutex
}

// NewUpper returns the toupper module.
func NewUpper() *Case {
	return &Case{name: UpperName, upper: true, tag: language.Und}
}

// NewLower returns the tolower module.
func NewLower() *Case {
	return &Case{name: LowerName, tag: language.Und}
}

// Name returns the module name.
func (c *Case) Name() queryz.Name {
	return c.name
}

// Process replaces the response with its case-mapped form.
func (c *Case) Process(_ context.Context, q *queryz.Query) {
	c.mu.RLock()
	tag := c.tag
	c.mu.RUnlock()

	// Casers carry state and are built per call.
	var caser cases.Caser
	if c.upper {
		caser = cases.Upper(tag)
	} else {
		caser = cases.Lower(tag)
	}
	q.Replace(c.name, caser.String(input(q)))
	q.SetStatus(queryz.StatusContinue)
}

// LoadConfig reads Language, a BCP 47 tag such as "tr" or "nl".
func (c *Case) LoadConfig(s queryz.Settings) error {
	raw, err := s.String("Language")
	if err != nil {
		return nil
	}
	tag, err := language.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tag = tag
	c.mu.Unlock()
	return nil
}

// Decorate wraps the response in a prefix and a suffix.
type Decorate struct {
	prefix string
	suffix string
	mu     sync.RWMutex
}

// NewDecorate returns the decorate module with default markers.
func NewDecorate() *Decorate {
	return &Decorate{prefix: DefaultPrefix, suffix: DefaultSuffix}
}

// Name returns the module name.
func (*Decorate) Name() queryz.Name {
	return DecorateName
}

// Process replaces the response with its decorated form.
func (d *Decorate) Process(_ context.Context, q *queryz.Query) {
	d.mu.RLock()
	out := d.prefix + input(q) + d.suffix
	d.mu.RUnlock()
	q.Replace(DecorateName, out)
	q.SetStatus(queryz.StatusContinue)
}

// LoadConfig reads Prefix and Suffix. Absent keys keep their defaults.
func (d *Decorate) LoadConfig(s queryz.Settings) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v, err := s.String("Prefix"); err == nil {
		d.prefix = v
	}
	if v, err := s.String("Suffix"); err == nil {
		d.suffix = v
	}
	return nil
}

// NewMagic returns the magic module: the input reversed rune by rune with
// the case of every letter swapped.
func NewMagic() *Func {
	return New(MagicName, Magic)
}

// Magic reverses s and swaps the case of its letters.
func Magic(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			runes[i] = unicode.ToLower(r)
		case unicode.IsLower(r):
			runes[i] = unicode.ToUpper(r)
		}
	}
	return string(runes)
}
