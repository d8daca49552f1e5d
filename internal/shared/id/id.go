// Package id mints the identifiers used to address things living inside a page.
//
// Every identifier is a ULID: a 48-bit millisecond timestamp followed by 80 bits of
// randomness, rendered as 26 Crockford base32 characters. That gives the
// "time-based prefix + random suffix" shape instance identifiers need, and the
// alphabet is safe to splice into element ids, class names and JavaScript
// identifiers without escaping.
//
// Two flavours exist:
//   - Instance IDs: one per logical load of a helper payload. Drawn from
//     crypto/rand so independent loaders in the same document cannot collide.
//   - Artifact suffixes: one per injected script. Drawn from a monotonic source so
//     ids minted within the same millisecond still sort and never repeat.
package id

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// InstanceID identifies one logical installation of a payload in a page.
type InstanceID string

// String returns the raw ULID text.
func (i InstanceID) String() string { return string(i) }

// Time returns the millisecond the instance id was minted.
func (i InstanceID) Time() (time.Time, error) {
	return Timestamp(string(i))
}

// Generator produces ULIDs from a guarded entropy source.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
	now       func() time.Time
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
		now:     time.Now,
	}
}

// NewMonotonicGenerator creates a generator whose ids strictly increase, even
// when several are drawn in the same millisecond.
func NewMonotonicGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source and clock.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		entropy: entropy,
		now:     now,
	}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

var artifacts = NewMonotonicGenerator()

// NewInstanceID mints a fresh instance identifier.
func NewInstanceID() InstanceID {
	return InstanceID(Default().GenerateString())
}

// NewArtifactSuffix returns a monotonic, time-stamped token for per-call artifact ids.
func NewArtifactSuffix() string {
	return artifacts.GenerateString()
}

// IsValid reports whether s is a well-formed ULID.
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Timestamp extracts the embedded time from a ULID string.
func Timestamp(s string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
