// Package slug allocates short, collision-checked identifiers for new
// resources.
package slug

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ephemhq/ephem/config"
	"github.com/ephemhq/ephem/models"
)

var (
	// ErrInvalidSlug is returned for custom candidates outside the
	// allowed alphabet or length range.
	ErrInvalidSlug = errors.New("invalid slug")

	// ErrTaken is returned when a custom candidate is already in use.
	// Custom slugs are never silently mutated.
	ErrTaken = errors.New("slug taken")

	// ErrExhausted is returned when every random candidate collided.
	ErrExhausted = errors.New("slug allocation exhausted")
)

const (
	minSlugLength = 3
	maxSlugLength = 32
)

// Checker answers whether a slug is already in use for a kind.
type Checker interface {
	Exists(ctx context.Context, kind models.Kind, slug string) (bool, error)
}

// Allocator generates random slugs and validates custom ones against a
// store. Its existence checks are an optimistic pre-check only: the store's
// unique-constraint create is the authoritative collision signal, so a
// narrow race between check and create is tolerated rather than locked out.
type Allocator struct {
	checker  Checker
	alphabet string
	retries  int
}

// New creates an allocator backed by the given existence checker.
func New(checker Checker) *Allocator {
	return &Allocator{
		checker:  checker,
		alphabet: config.SlugAlphabet,
		retries:  config.SlugAllocateRetries,
	}
}

// Valid reports whether a candidate is syntactically legal: length bounds
// and restricted alphabet.
func (a *Allocator) Valid(candidate string) bool {
	if len(candidate) < minSlugLength || len(candidate) > maxSlugLength {
		return false
	}
	for _, char := range candidate {
		if !strings.ContainsRune(a.alphabet, char) {
			return false
		}
	}
	return true
}

// Allocate returns a free slug for the kind. A non-empty custom candidate
// is validated and checked exactly once; otherwise random candidates of the
// requested length are tried until one is free or the retry budget runs out.
func (a *Allocator) Allocate(ctx context.Context, kind models.Kind, length int, custom string) (string, error) {
	if custom != "" {
		if !a.Valid(custom) {
			return "", ErrInvalidSlug
		}
		exists, err := a.checker.Exists(ctx, kind, custom)
		if err != nil {
			return "", fmt.Errorf("check custom slug: %w", err)
		}
		if exists {
			return "", ErrTaken
		}
		return custom, nil
	}

	if length < minSlugLength || length > maxSlugLength {
		length = config.DefaultSlugLength
	}

	for attempt := 0; attempt < a.retries; attempt++ {
		candidate, err := a.generate(length)
		if err != nil {
			return "", fmt.Errorf("generate slug: %w", err)
		}
		exists, err := a.checker.Exists(ctx, kind, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

// generate produces one random candidate from the alphabet.
func (a *Allocator) generate(length int) (string, error) {
	result := make([]byte, length)
	alphabetLen := big.NewInt(int64(len(a.alphabet)))
	for i := range result {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		result[i] = a.alphabet[n.Int64()]
	}
	return string(result), nil
}
