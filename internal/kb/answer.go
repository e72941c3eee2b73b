package kb

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/healbee/healbee/internal/normalize"
)

const (
	answerYes = "yes"
	answerNo  = "no"
)

// Answer is a normalized answer interpreted against its question's domain.
// Recognized is false when the text did not fit the domain; the raw text is still kept
// by the caller and rules simply do not fire.
type Answer struct {
	Value      string  `json:"value,omitempty"`
	Days       float64 `json:"days,omitempty"`
	Recognized bool    `json:"recognized"`
}

var (
	yesTokens = map[string]bool{"yes": true, "y": true, "yeah": true, "yep": true, "yup": true, "sure": true, "ok": true, "haan": true}
	noTokens  = map[string]bool{"no": true, "n": true, "nope": true, "not": true, "never": true, "nah": true}
	// Hedges are checked before the yes/no tokens so "not sure" is neither.
	unsurePhrases = []string{"not sure", "unsure", "dont know", "do not know", "no idea", "maybe", "pata no", "पता no"}

	numberWords = map[string]float64{
		"a":      1,
		"an":     1,
		"one":    1,
		"two":    2,
		"three":  3,
		"four":   4,
		"five":   5,
		"six":    6,
		"seven":  7,
		"eight":  8,
		"nine":   9,
		"ten":    10,
		"few":    3,
		"couple": 2,
	}
	unitDays = map[string]float64{
		"hour":   1.0 / 24,
		"hours":  1.0 / 24,
		"hr":     1.0 / 24,
		"hrs":    1.0 / 24,
		"day":    1,
		"days":   1,
		"week":   7,
		"weeks":  7,
		"wk":     7,
		"wks":    7,
		"month":  30,
		"months": 30,
		"year":   365,
		"years":  365,
	}
	durationPattern = regexp.MustCompile(`(?:^|\s)(\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|few|couple)\s*(?:of\s+)?(hours?|hrs?|days?|weeks?|wks?|months?|years?)(?:\s|$)`)
	relativeDays    = map[string]float64{"today": 0.5, "tonight": 0.5, "morning": 0.5, "yesterday": 1}
)

// ParseAnswer interprets normalized answer text for question q. It never fails.
func ParseAnswer(q FollowUpQuestion, text normalize.Text) Answer {
	switch q.Domain {
	case DomainYesNo:
		return parseYesNo(text)
	case DomainChoice:
		return parseChoice(q.Choices, text)
	case DomainDuration:
		return parseDuration(text)
	default:
		if text.Text == "" {
			return Answer{}
		}
		return Answer{Value: text.Text, Recognized: true}
	}
}

func parseYesNo(text normalize.Text) Answer {
	for _, p := range unsurePhrases {
		if text.Contains(p) {
			return Answer{}
		}
	}
	for _, tok := range text.Tokens {
		if yesTokens[tok] {
			return Answer{Value: answerYes, Recognized: true}
		}
		if noTokens[tok] {
			return Answer{Value: answerNo, Recognized: true}
		}
	}
	return Answer{}
}

func parseChoice(choices []string, text normalize.Text) Answer {
	best, bestPos := "", -1
	for _, c := range choices {
		folded := normalize.Fold(c)
		if pos := text.Index(folded); pos >= 0 && (bestPos < 0 || pos < bestPos) {
			best, bestPos = folded, pos
		}
	}
	if bestPos >= 0 {
		return Answer{Value: best, Recognized: true}
	}
	// "2" picks the second choice when the whole answer is a number.
	if len(text.Tokens) == 1 {
		if n, err := strconv.Atoi(text.Tokens[0]); err == nil && n >= 1 && n <= len(choices) {
			return Answer{Value: normalize.Fold(choices[n-1]), Recognized: true}
		}
	}
	return Answer{}
}

func parseDuration(text normalize.Text) Answer {
	if found := FindDurations(text); len(found) > 0 {
		return found[0]
	}
	for _, tok := range text.Tokens {
		if d, ok := relativeDays[tok]; ok {
			return Answer{Value: formatDays(d), Days: d, Recognized: true}
		}
	}
	// A bare number is read as days.
	if len(text.Tokens) == 1 {
		if n, err := strconv.Atoi(text.Tokens[0]); err == nil && n >= 0 {
			return Answer{Value: formatDays(float64(n)), Days: float64(n), Recognized: true}
		}
	}
	return Answer{}
}

// FindDurations returns every "<quantity> <unit>" mention in text, in order.
func FindDurations(text normalize.Text) []Answer {
	var out []Answer
	for _, m := range durationPattern.FindAllStringSubmatch(text.Text, -1) {
		qty, ok := numberWords[m[1]]
		if !ok {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			qty = float64(n)
		}
		days := qty * unitDays[m[2]]
		out = append(out, Answer{Value: formatDays(days), Days: days, Recognized: true})
	}
	return out
}

func formatDays(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64) + " days"
}

// Matches reports whether the rule fires for an answer to a question in domain d.
// Unrecognized answers never match.
func (r WeightRule) Matches(d AnswerDomain, a Answer) bool {
	if !a.Recognized {
		return false
	}
	switch d {
	case DomainDuration:
		return r.MinDays > 0 && a.Days >= r.MinDays
	case DomainFreeText:
		phrase := normalize.Fold(r.Equals)
		return phrase != "" && strings.Contains(" "+a.Value+" ", " "+phrase+" ")
	default:
		return a.Value == normalize.Fold(r.Equals)
	}
}

// Delta returns the total weight delta the question's rules contribute for answer a.
func (q FollowUpQuestion) Delta(a Answer) int {
	total := 0
	for _, r := range q.Rules {
		if r.Matches(q.Domain, a) {
			total += r.Delta
		}
	}
	return total
}
