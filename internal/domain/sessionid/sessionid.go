// Package sessionid builds collision-resistant competition session identifiers
// of the form BIRD-<CAGE>-<unix millis>-<5 char suffix>.
package sessionid

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Prefix opens every session id.
	Prefix = "BIRD"
	// SuffixLen is the length of the random tail.
	SuffixLen = 5

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Largest multiple of len(alphabet) below 256; bytes above it are rejected
	// so every symbol is equally likely.
	acceptBelow = 252
)

var pattern = regexp.MustCompile(`^` + Prefix + `-.+-\d{13,}-[A-Z0-9]{5}$`)

// Entropy yields 16 random bytes.
type Entropy func() ([16]byte, error)

// Generator produces session ids. The zero value is not usable; use New.
type Generator struct {
	entropy Entropy
}

// Option configures a Generator.
type Option func(*Generator)

// WithEntropy overrides the random source.
func WithEntropy(e Entropy) Option {
	return func(g *Generator) {
		if e != nil {
			g.entropy = e
		}
	}
}

// New returns a Generator backed by random UUIDs.
func New(opts ...Option) *Generator {
	g := &Generator{
		entropy: func() ([16]byte, error) {
			u, err := uuid.NewRandom()
			return u, err
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NormalizeCage trims and upper-cases a cage number.
func NormalizeCage(cage string) string {
	return strings.ToUpper(strings.TrimSpace(cage))
}

// Next returns a new id for cage stamped with at, which callers pass as the
// session's creation time. cage must already be validated non-empty.
func (g *Generator) Next(cage string, at time.Time) (string, error) {
	suffix, err := g.suffix()
	if err != nil {
		return "", fmt.Errorf("session id entropy: %w", err)
	}
	ms := at.UnixMilli()
	return fmt.Sprintf("%s-%s-%d-%s", Prefix, NormalizeCage(cage), ms, suffix), nil
}

func (g *Generator) suffix() (string, error) {
	var b strings.Builder
	for b.Len() < SuffixLen {
		raw, err := g.entropy()
		if err != nil {
			return "", err
		}
		for i, c := range raw {
			// bytes 6 and 8 carry UUID version and variant bits
			if i == 6 || i == 8 || c >= acceptBelow {
				continue
			}
			b.WriteByte(alphabet[int(c)%len(alphabet)])
			if b.Len() == SuffixLen {
				break
			}
		}
	}
	return b.String(), nil
}

// Valid reports whether id has the session id shape.
func Valid(id string) bool {
	return pattern.MatchString(id)
}
