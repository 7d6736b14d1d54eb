// Package normalizers provides field canonicalization shared by both record sources.
package normalizers

import (
	"regexp"
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("uppercase", Uppercase)
	Register("trim", Trim)
	Register("digits_only", DigitsOnly)
	Register("ntext", NormalizeText)
	Register("ncep", NormalizeCEP)
	Register("ncnae", NormalizeCNAE)
	Register("naddress", NormalizeAddress)
	Register("nnumber", NormalizeNumber)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Uppercase converts string to uppercase
func Uppercase(s string) string {
	return strings.ToUpper(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

var diacritics = map[rune]rune{
	'Á': 'A', 'À': 'A', 'Â': 'A', 'Ã': 'A', 'Ä': 'A',
	'É': 'E', 'È': 'E', 'Ê': 'E', 'Ë': 'E',
	'Í': 'I', 'Ì': 'I', 'Î': 'I', 'Ï': 'I',
	'Ó': 'O', 'Ò': 'O', 'Ô': 'O', 'Õ': 'O', 'Ö': 'O',
	'Ú': 'U', 'Ù': 'U', 'Û': 'U', 'Ü': 'U',
	'Ç': 'C', 'Ñ': 'N',
	'á': 'A', 'à': 'A', 'â': 'A', 'ã': 'A', 'ä': 'A',
	'é': 'E', 'è': 'E', 'ê': 'E', 'ë': 'E',
	'í': 'I', 'ì': 'I', 'î': 'I', 'ï': 'I',
	'ó': 'O', 'ò': 'O', 'ô': 'O', 'õ': 'O', 'ö': 'O',
	'ú': 'U', 'ù': 'U', 'û': 'U', 'ü': 'U',
	'ç': 'C', 'ñ': 'N',
}

var spaceRe = regexp.MustCompile(`\s+`)

// NormalizeText canonicalizes free text for comparison:
// uppercase, diacritics stripped, punctuation replaced by spaces, whitespace collapsed.
func NormalizeText(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))

	var result strings.Builder
	for _, r := range s {
		if mapped, ok := diacritics[r]; ok {
			r = mapped
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		} else {
			result.WriteRune(' ')
		}
	}

	return strings.TrimSpace(spaceRe.ReplaceAllString(result.String(), " "))
}

// NormalizeCEP reduces a postal code to its first 8 digits.
func NormalizeCEP(s string) string {
	digits := DigitsOnly(s)
	if len(digits) > 8 {
		digits = digits[:8]
	}
	return digits
}

// NormalizeCNAE reduces an activity code to its first 7 digits.
func NormalizeCNAE(s string) string {
	digits := DigitsOnly(s)
	if len(digits) > 7 {
		digits = digits[:7]
	}
	return digits
}

// CNAEClass returns the 5-digit class prefix of a normalized activity code.
func CNAEClass(s string) string {
	digits := NormalizeCNAE(s)
	if len(digits) < 5 {
		return ""
	}
	return digits[:5]
}

// NormalizeNumber canonicalizes a street number for exact comparison.
// "S/N" and its variants come out empty.
func NormalizeNumber(s string) string {
	return DigitsOnly(s)
}

// street-type expansions seen in both record sources
var addressReplacements = map[string]string{
	"R ":   "RUA ",
	"AV ":  "AVENIDA ",
	"TV ":  "TRAVESSA ",
	"AL ":  "ALAMEDA ",
	"ROD ": "RODOVIA ",
	"EST ": "ESTRADA ",
	"PC ":  "PRACA ",
	"PCA ": "PRACA ",
	"LRG ": "LARGO ",
	"VL ":  "VILA ",
	"JD ":  "JARDIM ",
}

// NormalizeAddress normalizes a street line: canonical text with
// abbreviated street types expanded to their full form.
func NormalizeAddress(s string) string {
	s = NormalizeText(s)
	if s == "" {
		return s
	}

	for abbr, full := range addressReplacements {
		if strings.HasPrefix(s+" ", abbr) {
			s = full + strings.TrimPrefix(s+" ", abbr)
			break
		}
	}

	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Tokens splits normalized text into comparison tokens, dropping the short
// connectives that carry no signal (DE, DA, DO, E...).
func Tokens(s string) []string {
	parts := strings.Fields(s)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) > 2 {
			tokens = append(tokens, p)
		}
	}
	return tokens
}
