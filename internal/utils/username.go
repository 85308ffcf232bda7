package utils

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
)

// ErrIdentityAllocationExhausted is returned when every candidate within the
// attempt budget was already taken.
var ErrIdentityAllocationExhausted = errors.New("unable to allocate a unique username")

// DefaultUsernameAttempts is how many candidates AllocateUsername tries.
const DefaultUsernameAttempts = 10

var (
	defaultAdjectives = []string{"Happy", "Calm", "Peaceful", "Hopeful", "Brave", "Strong", "Gentle", "Wise"}
	defaultNouns      = []string{"Soul", "Heart", "Spirit", "Mind", "Dreamer", "Warrior", "Friend", "Traveler"}
)

// UsernameGenerator produces pseudo-usernames of the form
// <Adjective><Noun><0-999>, e.g. "CalmTraveler42".  With the default lists
// the longest name is 19 characters.
type UsernameGenerator struct {
	Adjectives []string
	Nouns      []string
	MaxSuffix  int // suffix is drawn from [0, MaxSuffix)
	Rand       *rand.Rand
}

// NewUsernameGenerator returns a generator over the built-in word lists.
func NewUsernameGenerator() *UsernameGenerator {
	return &UsernameGenerator{
		Adjectives: defaultAdjectives,
		Nouns:      defaultNouns,
		MaxSuffix:  1000,
	}
}

// Generate returns one candidate.  It never touches the store.
func (g *UsernameGenerator) Generate() string {
	adj := g.Adjectives[g.intN(len(g.Adjectives))]
	noun := g.Nouns[g.intN(len(g.Nouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, g.intN(g.MaxSuffix))
}

// Candidates is an endless lazy sequence of Generate results.
func (g *UsernameGenerator) Candidates() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			if !yield(g.Generate()) {
				return
			}
		}
	}
}

func (g *UsernameGenerator) intN(n int) int {
	if g.Rand != nil {
		return g.Rand.IntN(n)
	}
	return rand.IntN(n)
}

// AllocateUsername pulls at most attempts candidates and returns the first
// one for which taken reports false.  A lookup error aborts immediately.
// No lock is held between the check and the caller's insert; the store's
// unique index settles any race.
func AllocateUsername(ctx context.Context, candidates iter.Seq[string], taken func(context.Context, string) (bool, error), attempts int) (string, error) {
	if attempts <= 0 {
		attempts = DefaultUsernameAttempts
	}
	tried := 0
	for name := range candidates {
		if tried == attempts {
			break
		}
		tried++
		if err := ctx.Err(); err != nil {
			return "", err
		}
		inUse, err := taken(ctx, name)
		if err != nil {
			return "", err
		}
		if !inUse {
			return name, nil
		}
	}
	return "", ErrIdentityAllocationExhausted
}
