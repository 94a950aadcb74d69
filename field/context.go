// Package field turns raw source fields into the canonical context used by
// the pattern matcher, the suggestion providers and the feedback log.
package field

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// MaxSamples bounds the number of sample values kept per field.
const MaxSamples = 20

// Hint is an optional declared semantic hint such as "identifier" or "date".
type Hint string

// Context is the immutable description of one source field. Build it with
// New; the zero value has no name and no fingerprint.
type Context struct {
	name         string
	normalized   string
	tokens       []string
	typ          Type
	declaredType Type
	samples      []string
	hint         Hint
	fingerprint  string
}

// Option configures New.
type Option func(*Context)

// WithDeclaredType sets the type declared by the source schema. It
// overrides inference.
func WithDeclaredType(t Type) Option {
	return func(c *Context) {
		c.declaredType = t
	}
}

// WithHint sets the declared semantic hint.
func WithHint(h Hint) Option {
	return func(c *Context) {
		c.hint = Hint(strings.ToLower(strings.TrimSpace(string(h))))
	}
}

// New builds a Context. Samples are trimmed, empty values dropped and only
// the first MaxSamples kept, in their original order.
func New(name string, samples []string, opts ...Option) Context {
	c := Context{
		name:       strings.TrimSpace(name),
		normalized: Normalize(name),
		tokens:     Tokens(name),
	}
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		c.samples = append(c.samples, s)
		if len(c.samples) == MaxSamples {
			break
		}
	}
	for _, opt := range opts {
		opt(&c)
	}

	c.typ = c.declaredType
	if c.typ == "" {
		c.typ = InferType(c.samples)
	}
	c.fingerprint = fingerprint(c)
	return c
}

// Name returns the raw field name.
func (c Context) Name() string { return c.name }

// Normalized returns the canonical field name.
func (c Context) Normalized() string { return c.normalized }

// Tokens returns a copy of the name tokens.
func (c Context) Tokens() []string { return append([]string(nil), c.tokens...) }

// Type returns the declared type, or the inferred one.
func (c Context) Type() Type { return c.typ }

// Samples returns a copy of the bounded sample.
func (c Context) Samples() []string { return append([]string(nil), c.samples...) }

// Hint returns the declared semantic hint.
func (c Context) Hint() Hint { return c.hint }

// Fingerprint returns the content hash identifying the context.
func (c Context) Fingerprint() string { return c.fingerprint }

// fingerprint hashes the identifying attributes. Fields are length-prefixed
// so that no two distinct contexts share an encoding.
func fingerprint(c Context) string {
	h := sha256.New()
	write := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	write(c.name)
	write(string(c.typ))
	write(string(c.hint))
	for _, s := range c.samples {
		write(s)
	}
	return hex.EncodeToString(h.Sum(nil))
}
