// Package safety is the deterministic gate every outbound reply passes through.
//
// Rules run in a fixed order and the first override wins:
//
//	emergency_redirect   override   EMERGENCY intent
//	diagnosis_refusal    override   DIAGNOSIS_REQUEST intent, repeating any pending question
//	empty_content        annotate   nothing to say
//	diagnostic_phrasing  annotate   sentences that assert a condition are rewritten
//	dosage_instruction   annotate   sentences that prescribe a dose are rewritten
//	disclaimer           appended to every pass or annotate result
package safety

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/healbee/healbee/internal/nlu"
)

// Outcome of a safety check.
type Outcome string

// Outcome constants.
const (
	OutcomePass     Outcome = "pass"
	OutcomeAnnotate Outcome = "annotate"
	OutcomeOverride Outcome = "override"
)

// Rule names reported on verdicts.
const (
	RuleEmergencyRedirect  = "emergency_redirect"
	RuleDiagnosisRefusal   = "diagnosis_refusal"
	RuleEmptyContent       = "empty_content"
	RuleDiagnosticPhrasing = "diagnostic_phrasing"
	RuleDosageInstruction  = "dosage_instruction"
	RuleDisclaimer         = "disclaimer"
)

// Context is what the gate knows about the reply.
type Context struct {
	Intent   nlu.Intent
	Language string
	// Pending is a follow-up question still awaiting an answer. The diagnosis refusal
	// repeats it so the dialogue can continue.
	Pending string
}

// Verdict is the ephemeral result of a check.
type Verdict struct {
	Outcome Outcome  `json:"outcome"`
	Text    string   `json:"text"`
	Rules   []string `json:"rules"`
}

// Layer is the safety gate. The zero value is ready to use and it holds no state.
type Layer struct{}

// Enforce runs the rules against text.
func (Layer) Enforce(text string, c Context) Verdict {
	return Enforce(text, c)
}

// Enforce runs the rules against text.
func Enforce(text string, c Context) Verdict {
	msgs := messagesFor(c.Language)

	switch c.Intent {
	case nlu.IntentEmergency:
		slog.Info("Safety override", "rule", RuleEmergencyRedirect, "language", c.Language)
		return Verdict{Outcome: OutcomeOverride, Text: msgs.emergency, Rules: []string{RuleEmergencyRedirect}}
	case nlu.IntentDiagnosisRequest:
		slog.Info("Safety override", "rule", RuleDiagnosisRefusal, "language", c.Language)
		text := msgs.noDiagnosis
		if p := strings.TrimSpace(c.Pending); p != "" {
			text += "\n\n" + p
		}
		return Verdict{Outcome: OutcomeOverride, Text: text, Rules: []string{RuleDiagnosisRefusal}}
	}

	v := Verdict{Outcome: OutcomePass}
	body := strings.TrimSpace(text)
	if body == "" {
		v.Outcome = OutcomeAnnotate
		v.Rules = append(v.Rules, RuleEmptyContent)
		body = msgs.consult
	} else {
		var rewritten bool
		if body, rewritten = rewriteSentences(body, isDiagnostic, msgs.rewrite); rewritten {
			v.Outcome = OutcomeAnnotate
			v.Rules = append(v.Rules, RuleDiagnosticPhrasing)
		}
		if body, rewritten = rewriteSentences(body, isDosage, msgs.dosage); rewritten {
			v.Outcome = OutcomeAnnotate
			v.Rules = append(v.Rules, RuleDosageInstruction)
		}
	}

	if !strings.Contains(body, msgs.disclaimer) {
		body += "\n\n" + msgs.disclaimer
		v.Rules = append(v.Rules, RuleDisclaimer)
	}
	v.Text = body
	if v.Outcome == OutcomeAnnotate {
		slog.Info("Safety annotation", "rules", v.Rules, "language", c.Language)
	}
	return v
}

const conditionTerm = `(?:dengue|malaria|typhoid|covid(?: 19|-19)?|flu|influenza|pneumonia|bronchitis|tuberculosis|tb|asthma|diabetes|hypertension|cancer|tumou?r|migraine|jaundice|hepatitis|ana?emia|infection|disease|syndrome|disorder|food poisoning|chikungunya|cholera|measles|chicken ?pox|strep throat|allergy|ulcer|[a-z]+itis|[a-z]+osis)`

const qualifier = `(?:an? |the )?(?:case of )?(?:mild |severe |serious |viral |bacterial |acute |chronic )?`

var (
	diagnosticPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bthis (?:means|suggests|indicates|shows|confirms) (?:that )?you (?:have|are suffering from|may have|might have|probably have|likely have)\b`),
		regexp.MustCompile(`\byou (?:(?:definitely|probably|likely|most likely|clearly|certainly|may|might|could|must) )?(?:have|have got|are suffering from|suffer from|are diagnosed with|have been diagnosed with|have contracted|have caught) ` + qualifier + conditionTerm + `\b`),
		regexp.MustCompile(`\b(?:it|this|that) (?:is|sounds like|looks like|seems like|seems to be|could be|might be|may be|is probably|is likely|is most likely) ` + qualifier + conditionTerm + `\b`),
		regexp.MustCompile(`\b(?:your|the) diagnosis is\b`),
		regexp.MustCompile(`\bi (?:diagnose you|think you have|believe you have|suspect you have)\b`),
		regexp.MustCompile(`आपको (?:डेंगू|मलेरिया|टाइफाइड|कैंसर|टीबी|संक्रमण|बीमारी|निमोनिया) (?:है|हो सकता है|हो सकती है|हुआ है|हुई है)`),
	}
	conditionalPattern = regexp.MustCompile(`\b(?:if|when|whether|unless|in case)\b|अगर|यदि`)

	dosagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:mg|milligrams?|mcg|ml|millilit(?:re|er)s?)\b`),
		regexp.MustCompile(`\b(?:take|taking|give|swallow)\b.*\b(?:\d+|one|two|three|four)\s+(?:tablets?|pills?|capsules?|teaspoons?|tsp|spoons?|drops?)\b`),
		regexp.MustCompile(`\b(?:once|twice|thrice|\d+ times) (?:a day|daily|per day)\b`),
	}

	// Every byte of the input belongs to exactly one match; the final match may be empty.
	// A dot between two digits ("2.5 ml") does not end a sentence.
	sentencePattern = regexp.MustCompile(`(?:\d\.\d|[^.!?।\n])*(?:[.!?।]+|\n|$)[ \t\n]*`)
)

// isDiagnostic reports whether a sentence asserts a condition. Questions are not
// assertions, and neither is a condition named inside a conditional clause ("if you
// have asthma, ..."). The clause ends at the first comma or semicolon after the
// conditional word; a diagnosis in the main clause still counts.
func isDiagnostic(sentence string) bool {
	s := strings.ToLower(strings.TrimSpace(sentence))
	if strings.HasSuffix(s, "?") {
		return false
	}
	conds := conditionalPattern.FindAllStringIndex(s, -1)
	for _, re := range diagnosticPatterns {
		for _, loc := range re.FindAllStringIndex(s, -1) {
			if !withinConditional(s, conds, loc) {
				return true
			}
		}
	}
	return false
}

func withinConditional(s string, conds [][]int, loc []int) bool {
	for _, cond := range conds {
		if cond[0] > loc[0] {
			break
		}
		end := len(s)
		if i := strings.IndexAny(s[cond[1]:], ",;"); i >= 0 {
			end = cond[1] + i
		}
		if loc[1] <= end {
			return true
		}
	}
	return false
}

func isDosage(sentence string) bool {
	s := strings.ToLower(sentence)
	for _, re := range dosagePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// rewriteSentences replaces the first offending sentence with replacement and drops any
// later ones. Everything else is kept verbatim.
func rewriteSentences(text string, offending func(string) bool, replacement string) (string, bool) {
	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		return text, false
	}
	var b strings.Builder
	replaced := false
	for _, s := range sentences {
		if s == "" {
			continue
		}
		if !offending(s) {
			b.WriteString(s)
			continue
		}
		if !replaced {
			b.WriteString(replacement)
			b.WriteString(trailingSpace(s))
			replaced = true
		}
	}
	if !replaced {
		return text, false
	}
	return strings.TrimSpace(b.String()), true
}

func trailingSpace(s string) string {
	trimmed := strings.TrimRight(s, " \t\n")
	if ws := s[len(trimmed):]; ws != "" {
		return ws
	}
	return " "
}
