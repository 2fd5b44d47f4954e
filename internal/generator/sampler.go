package generator

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
)

const (
	uppercaseLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowercaseLetters = "abcdefghijklmnopqrstuvwxyz"
	digits           = "0123456789"
)

// Sampler draws codes for a Composition. A Sampler is not safe for
// concurrent use; every task owns its own.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler returns a Sampler seeded from crypto/rand.
func NewSampler() (*Sampler, error) {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("failed to seed sampler: %w", err)
	}
	return &Sampler{rng: rand.New(rand.NewChaCha8(seed))}, nil
}

// NewSeededSampler returns a deterministic Sampler, used by tests.
func NewSeededSampler(seed uint64) *Sampler {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	return &Sampler{rng: rand.New(rand.NewChaCha8(s))}
}

// LetterAlphabet returns the letters allowed for lc.
func LetterAlphabet(lc domain.LetterCase) string {
	switch lc {
	case domain.LetterCaseLowercase:
		return lowercaseLetters
	case domain.LetterCaseMixed:
		return uppercaseLetters + lowercaseLetters
	default:
		return uppercaseLetters
	}
}

// Sample returns prefix + shuffled random portion + suffix. The random
// portion holds exactly LetterCount letters and DigitCount digits plus free
// slots drawn from letters and digits together.
func (s *Sampler) Sample(c domain.Composition) (string, error) {
	actual := c.ActualLength()
	if actual < 0 || c.LetterCount < 0 || c.DigitCount < 0 || c.LetterCount+c.DigitCount > actual {
		return "", fmt.Errorf("%w: composition %+v", domain.ErrValidation, c)
	}
	if actual == 0 {
		return c.Prefix + c.Suffix, nil
	}

	letters := LetterAlphabet(c.LetterCase)
	union := letters + digits

	body := make([]byte, 0, actual)
	body = s.draw(body, letters, c.LetterCount)
	body = s.draw(body, digits, c.DigitCount)
	body = s.draw(body, union, c.FreeCount())

	s.rng.Shuffle(len(body), func(i, j int) {
		body[i], body[j] = body[j], body[i]
	})

	var b strings.Builder
	b.Grow(len(c.Prefix) + len(body) + len(c.Suffix))
	b.WriteString(c.Prefix)
	b.Write(body)
	b.WriteString(c.Suffix)
	return b.String(), nil
}

func (s *Sampler) draw(dst []byte, alphabet string, n int) []byte {
	for i := 0; i < n; i++ {
		dst = append(dst, alphabet[s.rng.IntN(len(alphabet))])
	}
	return dst
}
