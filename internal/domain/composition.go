package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Request bounds.
const (
	MinCount      = 1
	MaxCount      = 100000
	MinCodeLength = 4
	MaxCodeLength = 20
)

// LetterCase selects the letter alphabet used for the random portion of a code.
type LetterCase string

const (
	LetterCaseUppercase LetterCase = "uppercase"
	LetterCaseLowercase LetterCase = "lowercase"
	LetterCaseMixed     LetterCase = "mixed"
)

func (c LetterCase) String() string { return string(c) }

func (c LetterCase) IsValid() bool {
	switch c {
	case LetterCaseUppercase, LetterCaseLowercase, LetterCaseMixed:
		return true
	}
	return false
}

// NormalizeLetterCase lowercases and trims s without validating it. An empty
// value means uppercase.
func NormalizeLetterCase(s string) LetterCase {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return LetterCaseUppercase
	}
	return LetterCase(normalized)
}

// ParseLetterCase normalizes and validates s.
func ParseLetterCase(s string) (LetterCase, error) {
	lc := NormalizeLetterCase(s)
	if !lc.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLetterCase, s)
	}
	return lc, nil
}

// GenerationRequest is the caller supplied description of a generation run.
// LetterCount and DigitCount of zero mean "allocate automatically".
type GenerationRequest struct {
	Count       int
	CodeLength  int
	LetterCount int
	DigitCount  int
	LetterCase  LetterCase
	Prefix      string
	Suffix      string
}

// Composition is a validated character allocation. Values are only produced
// by Resolve, so LetterCount+DigitCount never exceeds ActualLength.
type Composition struct {
	CodeLength  int        `json:"codeLength"`
	LetterCount int        `json:"letterCount"`
	DigitCount  int        `json:"digitCount"`
	LetterCase  LetterCase `json:"letterCase"`
	Prefix      string     `json:"prefix"`
	Suffix      string     `json:"suffix"`
}

func (c Composition) AffixLength() int {
	return affixLength(c.Prefix, c.Suffix)
}

func (c Composition) ActualLength() int {
	return c.CodeLength - c.AffixLength()
}

// FreeCount is the number of random slots not pinned to letters or digits.
func (c Composition) FreeCount() int {
	free := c.ActualLength() - c.LetterCount - c.DigitCount
	if free < 0 {
		return 0
	}
	return free
}

// Describe renders a human readable template such as
// "PRE-[3 uppercase letters + 2 digits]".
func (c Composition) Describe() string {
	return describe(c.Prefix, c.Suffix, c.ActualLength(), c.LetterCount, c.DigitCount, c.LetterCase)
}

// Resolve validates req and returns its Composition. Checks run in a fixed
// order and the first failure is returned.
func Resolve(req GenerationRequest) (Composition, error) {
	if req.Count < MinCount || req.Count > MaxCount {
		return Composition{}, fmt.Errorf("%w: count must be between %d and %d (got %d)", ErrInvalidCount, MinCount, MaxCount, req.Count)
	}
	if req.CodeLength < MinCodeLength || req.CodeLength > MaxCodeLength {
		return Composition{}, fmt.Errorf("%w: code length must be between %d and %d (got %d)", ErrInvalidLength, MinCodeLength, MaxCodeLength, req.CodeLength)
	}

	affix := affixLength(req.Prefix, req.Suffix)
	actual := req.CodeLength - affix
	switch {
	case actual == 0:
		// ErrNoSpaceForCode wraps ErrAffixTooLong, so both checks match.
		return Composition{}, fmt.Errorf("%w: prefix and suffix (%d) leave no room in code length %d", ErrNoSpaceForCode, affix, req.CodeLength)
	case actual < 0:
		return Composition{}, fmt.Errorf("%w: prefix and suffix length (%d) must be less than code length (%d)", ErrAffixTooLong, affix, req.CodeLength)
	}

	if req.LetterCount < 0 || req.DigitCount < 0 {
		return Composition{}, fmt.Errorf("%w: letter count (%d) and digit count (%d) must not be negative", ErrNegativeComposition, req.LetterCount, req.DigitCount)
	}
	if req.LetterCount+req.DigitCount > actual {
		return Composition{}, fmt.Errorf("%w: letters (%d) + digits (%d) = %d exceeds available length (%d)",
			ErrCompositionOverflow, req.LetterCount, req.DigitCount, req.LetterCount+req.DigitCount, actual)
	}

	letterCase := req.LetterCase
	if letterCase == "" {
		letterCase = LetterCaseUppercase
	}
	if !letterCase.IsValid() {
		return Composition{}, fmt.Errorf("%w: %q", ErrInvalidLetterCase, req.LetterCase)
	}

	return Composition{
		CodeLength:  req.CodeLength,
		LetterCount: req.LetterCount,
		DigitCount:  req.DigitCount,
		LetterCase:  letterCase,
		Prefix:      req.Prefix,
		Suffix:      req.Suffix,
	}, nil
}

// Rebalance rescales letterCount and digitCount proportionally so they fill
// actualLength. Letters round down and digits take the remainder. A zero
// total stays zero (automatic allocation), and so does a negative count.
func Rebalance(letterCount, digitCount, actualLength int) (int, int) {
	if actualLength <= 0 || letterCount < 0 || digitCount < 0 {
		return 0, 0
	}
	total := letterCount + digitCount
	if total <= 0 || total == actualLength {
		return letterCount, digitCount
	}

	newLetters := actualLength * letterCount / total
	return newLetters, actualLength - newLetters
}

// Field names the input that changed during interactive editing.
type Field string

const (
	FieldLength Field = "length"
	FieldAffix  Field = "affix"
	FieldLetter Field = "letter"
	FieldDigit  Field = "digit"
)

func (f Field) IsValid() bool {
	switch f {
	case FieldLength, FieldAffix, FieldLetter, FieldDigit:
		return true
	}
	return false
}

// Draft holds raw, possibly invalid, composition fields while a caller is
// still editing them.
type Draft struct {
	CodeLength  int        `json:"codeLength"`
	LetterCount int        `json:"letterCount"`
	DigitCount  int        `json:"digitCount"`
	LetterCase  LetterCase `json:"letterCase"`
	Prefix      string     `json:"prefix"`
	Suffix      string     `json:"suffix"`
}

// ActualLength is clamped at zero for drafts.
func (d Draft) ActualLength() int {
	actual := d.CodeLength - affixLength(d.Prefix, d.Suffix)
	if actual < 0 {
		return 0
	}
	return actual
}

func (d Draft) Describe() string {
	return describe(d.Prefix, d.Suffix, d.ActualLength(), d.LetterCount, d.DigitCount, d.LetterCase)
}

// Complement fills the counterpart of the edited count so that both add up
// to actualLength. Negative edits are left untouched.
func Complement(changed Field, letterCount, digitCount, actualLength int) (int, int) {
	switch changed {
	case FieldLetter:
		if letterCount >= 0 {
			digitCount = max(0, actualLength-letterCount)
		}
	case FieldDigit:
		if digitCount >= 0 {
			letterCount = max(0, actualLength-digitCount)
		}
	}
	return letterCount, digitCount
}

// Recompute is the stateless re-evaluation run after every edit. Length and
// affix edits rebalance specified counts, count edits fill the other count.
func Recompute(d Draft, changed Field) Draft {
	actual := d.ActualLength()
	switch changed {
	case FieldLength, FieldAffix:
		d.LetterCount, d.DigitCount = Rebalance(d.LetterCount, d.DigitCount, actual)
	case FieldLetter, FieldDigit:
		d.LetterCount, d.DigitCount = Complement(changed, d.LetterCount, d.DigitCount, actual)
	}
	return d
}

func affixLength(prefix, suffix string) int {
	return utf8.RuneCountInString(prefix) + utf8.RuneCountInString(suffix)
}

func describe(prefix, suffix string, actual, letters, digits int, lc LetterCase) string {
	caseLabel := "uppercase"
	switch lc {
	case LetterCaseLowercase:
		caseLabel = "lowercase"
	case LetterCaseMixed:
		caseLabel = "mixed-case"
	}

	var body string
	switch {
	case actual <= 0:
		body = "no space"
	case letters == 0 && digits == 0:
		body = fmt.Sprintf("%d %s alphanumeric", actual, caseLabel)
	default:
		parts := make([]string, 0, 3)
		if letters > 0 {
			parts = append(parts, fmt.Sprintf("%d %s %s", letters, caseLabel, plural(letters, "letter")))
		}
		if digits > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", digits, plural(digits, "digit")))
		}
		if free := actual - letters - digits; free > 0 {
			parts = append(parts, fmt.Sprintf("%d %s alphanumeric", free, caseLabel))
		}
		body = strings.Join(parts, " + ")
	}

	return prefix + "[" + body + "]" + suffix
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
