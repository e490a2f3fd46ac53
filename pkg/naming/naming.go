// Package naming converts identifiers between casing conventions.
//
// Tokens are always lower-cased internally. Acronyms are not recognised: in
// camelCase and PascalCase every upper-case letter starts a new word and every
// word is emitted with only its first letter upper-cased, so "http_url" becomes
// "httpUrl" and "userID" reads as "user_i_d". A run of digits belongs to the word
// before it ("user_id_v2" <-> "userIdV2"); a word that starts with a digit is
// merged into its predecessor. Together these keep every conversion reversible.
package naming

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
)

type Casing string

const (
	SnakeCase    Casing = "snake_case"
	CamelCase    Casing = "camelCase"
	PascalCase   Casing = "PascalCase"
	KebabCase    Casing = "kebab-case"
	ConstantCase Casing = "CONSTANT_CASE"
)

var casingAliases = map[string]Casing{
	"snake_case":    SnakeCase,
	"snake":         SnakeCase,
	"camelcase":     CamelCase,
	"camel":         CamelCase,
	"pascalcase":    PascalCase,
	"pascal":        PascalCase,
	"kebab-case":    KebabCase,
	"kebab":         KebabCase,
	"constant_case": ConstantCase,
	"constant":      ConstantCase,
}

// ParseCasing accepts the canonical style names and their short forms, case-insensitively.
func ParseCasing(s string) (Casing, error) {
	c, ok := casingAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", metaerr.NewValidation("casing", "unknown casing style "+strconv.Quote(s))
	}
	return c, nil
}

func (c Casing) valid() bool {
	switch c {
	case SnakeCase, CamelCase, PascalCase, KebabCase, ConstantCase:
		return true
	default:
		return false
	}
}

// Convert rewrites identifier, written in from, into to.
func Convert(identifier string, from Casing, to Casing) (string, error) {
	if !to.valid() {
		return "", metaerr.NewValidation("to", "unknown casing style "+strconv.Quote(string(to)))
	}
	tokens, err := Tokenize(identifier, from)
	if err != nil {
		return "", err
	}
	return Join(tokens, to), nil
}

// Normalize is the fixed point of Convert for a single style.
func Normalize(identifier string, c Casing) (string, error) {
	return Convert(identifier, c, c)
}

// Tokenize splits identifier according to its declared casing and returns lower-cased tokens.
func Tokenize(identifier string, from Casing) ([]string, error) {
	if !from.valid() {
		return nil, metaerr.NewValidation("from", "unknown casing style "+strconv.Quote(string(from)))
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, metaerr.NewValidation("identifier", "identifier is required")
	}

	var raw []string
	switch from {
	case SnakeCase, ConstantCase:
		if err := checkRunes(identifier, '_'); err != nil {
			return nil, err
		}
		raw = strings.Split(identifier, "_")
	case KebabCase:
		if err := checkRunes(identifier, '-'); err != nil {
			return nil, err
		}
		raw = strings.Split(identifier, "-")
	default:
		if err := checkRunes(identifier, 0); err != nil {
			return nil, err
		}
		raw = splitCamel(identifier)
	}

	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if t == "" {
			continue
		}
		t = strings.ToLower(t)
		if len(tokens) > 0 && startsWithDigit(t) {
			tokens[len(tokens)-1] += t
			continue
		}
		tokens = append(tokens, t)
	}
	if len(tokens) == 0 {
		return nil, metaerr.NewValidation("identifier", "identifier has no words")
	}
	return tokens, nil
}

// Join renders lower-cased tokens in the given casing.
func Join(tokens []string, to Casing) string {
	switch to {
	case SnakeCase:
		return strings.Join(tokens, "_")
	case KebabCase:
		return strings.Join(tokens, "-")
	case ConstantCase:
		return strings.ToUpper(strings.Join(tokens, "_"))
	case CamelCase, PascalCase:
		var b strings.Builder
		for i, t := range tokens {
			if i == 0 && to == CamelCase {
				b.WriteString(t)
				continue
			}
			b.WriteString(upperFirst(t))
		}
		return b.String()
	default:
		return strings.Join(tokens, "_")
	}
}

// FieldKey folds any field spelling (snake, camel, kebab, ...) into snake_case.
// It is used to compare field names coming from different systems.
func FieldKey(name string) string {
	name = strings.TrimSpace(name)
	var from Casing
	switch {
	case strings.Contains(name, "_"):
		from = SnakeCase
	case strings.Contains(name, "-"):
		from = KebabCase
	default:
		from = CamelCase
	}
	out, err := Convert(name, from, SnakeCase)
	if err != nil {
		return strings.ToLower(name)
	}
	return out
}

func splitCamel(s string) []string {
	runes := []rune(s)
	var out []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) {
			out = append(out, string(runes[start:i]))
			start = i
		}
	}
	return append(out, string(runes[start:]))
}

func checkRunes(s string, sep rune) error {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		if sep != 0 && r == sep {
			continue
		}
		return metaerr.NewValidation("identifier", "unexpected character "+strconv.Quote(string(r)))
	}
	return nil
}

func startsWithDigit(s string) bool {
	for _, r := range s {
		return unicode.IsDigit(r)
	}
	return false
}

func upperFirst(s string) string {
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
