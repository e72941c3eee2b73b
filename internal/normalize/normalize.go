// Package normalize turns noisy, mixed-language user utterances into the canonical
// English symptom vocabulary shared by the extractor and the knowledge base.
//
// Normalization is a pure function applied in a fixed order:
//  1. Unicode/diacritic/width folding, lowercasing and punctuation collapse
//  2. Hinglish and Devanagari phrase mapping (exact phrase match, then token prefix match)
//  3. Whole-token misspelling correction from a static dictionary
//
// Unknown words always pass through unchanged; there is no fuzzy matching.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Language codes reported on normalized text.
const (
	LanguageEnglish = "en"
	LanguageHindi   = "hi"
)

// Text is the result of normalizing a single utterance.
type Text struct {
	Original string   `json:"original"`
	Text     string   `json:"text"`
	Tokens   []string `json:"tokens"`
	// Language is "hi" when Devanagari script was present in the input, otherwise "en".
	Language string `json:"language"`
}

// Contains reports whether phrase (already normalized, space separated) occurs in the
// text on token boundaries.
func (t Text) Contains(phrase string) bool {
	if phrase == "" || t.Text == "" {
		return false
	}
	return strings.Contains(" "+t.Text+" ", " "+phrase+" ")
}

// Index returns the byte offset of phrase in the normalized text on token boundaries,
// or -1 when absent.
func (t Text) Index(phrase string) int {
	if phrase == "" || t.Text == "" {
		return -1
	}
	i := strings.Index(" "+t.Text+" ", " "+phrase+" ")
	if i < 0 {
		return -1
	}
	return i
}

type prefixRule struct {
	prefix    string
	canonical string
}

var (
	phraseTable     map[string]string
	maxPhraseTokens int
	misspellTable   map[string]string

	// U+0300..U+036F. Devanagari vowel signs are marks too and must survive folding,
	// so only the Latin combining block is stripped.
	latinCombining = &unicode.RangeTable{R16: []unicode.Range16{{Lo: 0x0300, Hi: 0x036f, Stride: 1}}}
	lower          = cases.Lower(language.Und)
)

func init() {
	phraseTable = make(map[string]string, len(hinglishPhrases))
	for k, v := range hinglishPhrases {
		key := Fold(k)
		phraseTable[key] = v
		if n := len(strings.Fields(key)); n > maxPhraseTokens {
			maxPhraseTokens = n
		}
	}
	misspellTable = make(map[string]string, len(misspellings))
	for k, v := range misspellings {
		misspellTable[Fold(k)] = v
	}
}

// Normalize applies the full normalization pipeline. It never fails: input it does not
// understand is returned folded but otherwise unchanged.
func Normalize(s string) Text {
	folded := Fold(s)
	tokens := strings.Fields(folded)
	tokens = mapHinglish(tokens)
	tokens = correctMisspellings(tokens)
	return Text{
		Original: s,
		Text:     strings.Join(tokens, " "),
		Tokens:   tokens,
		Language: detectLanguage(s),
	}
}

// Fold performs only the first normalization step: Unicode decomposition with Latin
// diacritics removed, full-width folding, lowercasing, apostrophe removal ("can't" ->
// "cant"), Devanagari digits mapped to ASCII, and every other non letter/digit run
// collapsed to a single space.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(latinCombining)), width.Fold, norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = lower.String(out)

	var b strings.Builder
	b.Grow(len(out))
	pendingSpace := false
	for _, r := range out {
		switch {
		case r == '\'' || r == '’' || r == '`':
			continue
		case r >= '०' && r <= '९':
			r = '0' + (r - '०')
			fallthrough
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		default:
			pendingSpace = true
		}
	}
	return b.String()
}

// mapHinglish replaces the longest known phrase at each position, then tries the prefix
// rules on single tokens that had no exact match.
func mapHinglish(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		matched := false
		for n := min(maxPhraseTokens, len(tokens)-i); n >= 1; n-- {
			if canonical, ok := phraseTable[strings.Join(tokens[i:i+n], " ")]; ok {
				out = append(out, strings.Fields(canonical)...)
				i += n
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		out = append(out, strings.Fields(prefixMatch(tokens[i]))...)
		i++
	}
	return out
}

func prefixMatch(token string) string {
	for _, rule := range hinglishPrefixes {
		if strings.HasPrefix(token, rule.prefix) {
			return rule.canonical
		}
	}
	return token
}

func correctMisspellings(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if fixed, ok := misspellTable[tok]; ok {
			out = append(out, strings.Fields(fixed)...)
			continue
		}
		out = append(out, tok)
	}
	return out
}

func detectLanguage(s string) string {
	for _, r := range s {
		if unicode.Is(unicode.Devanagari, r) {
			return LanguageHindi
		}
	}
	return LanguageEnglish
}
