package nlu

import "regexp"

// emergencyPhrases are matched on token boundaries against normalized text. Hinglish and
// Devanagari variants are mapped onto this vocabulary by the normalizer.
var emergencyPhrases = []string{
	"chest pain",
	"chest tightness",
	"heart attack",
	"cant breathe",
	"cannot breathe",
	"can not breathe",
	"unable to breathe",
	"not breathing",
	"stopped breathing",
	"choking",
	"blue lips",
	"unconscious",
	"passed out",
	"not waking up",
	"unresponsive",
	"severe bleeding",
	"heavy bleeding",
	"bleeding heavily",
	"bleeding wont stop",
	"coughing blood",
	"vomiting blood",
	"seizure",
	"convulsions",
	"stroke",
	"face drooping",
	"slurred speech",
	"paralysis",
	"poisoning",
	"overdose",
	"suicide",
	"kill myself",
	"end my life",
}

// diagnosisPatterns recognize requests for a diagnosis. They run on the normalized text
// padded with a leading and trailing space, so " " marks a token boundary for any script.
var diagnosisPatterns = []*regexp.Regexp{
	regexp.MustCompile(` what (?:disease|illness|condition|infection|sickness) (?:do|might|could|would) i have `),
	regexp.MustCompile(` what do i have $`),
	regexp.MustCompile(` what is wrong with me `),
	regexp.MustCompile(` which (?:disease|illness|infection) `),
	regexp.MustCompile(` am i dying `),
	regexp.MustCompile(` (?:diagnose me|my diagnosis|give me a diagnosis|what is the diagnosis) `),
	regexp.MustCompile(` (?:do|could|might) i have (?:a |an )?(?:cancer|covid|dengue|malaria|typhoid|diabetes|tuberculosis|tb|disease|infection|tumou?r|heart disease) `),
	regexp.MustCompile(` (?:is it|is this) (?:cancer|covid|dengue|malaria|typhoid|a tumou?r|serious) `),
	// "mujhe kya bimari hai" / "मुझे क्या बीमारी है" after normalization.
	regexp.MustCompile(` (?:kya|क्या|kaun si|कौन सी) disease (?:hai|है) `),
}

var bodyParts = map[string]string{
	"head":     "head",
	"forehead": "head",
	"chest":    "chest",
	"stomach":  "stomach",
	"abdomen":  "stomach",
	"belly":    "stomach",
	"tummy":    "stomach",
	"throat":   "throat",
	"back":     "back",
	"neck":     "neck",
	"eye":      "eye",
	"eyes":     "eye",
	"ear":      "ear",
	"ears":     "ear",
	"nose":     "nose",
	"mouth":    "mouth",
	"tooth":    "tooth",
	"teeth":    "tooth",
	"leg":      "leg",
	"legs":     "leg",
	"arm":      "arm",
	"arms":     "arm",
	"hand":     "hand",
	"hands":    "hand",
	"foot":     "foot",
	"feet":     "foot",
	"knee":     "knee",
	"knees":    "knee",
	"joint":    "joint",
	"joints":   "joint",
	"skin":     "skin",
	"heart":    "heart",
	"lung":     "lung",
	"lungs":    "lung",
}

var severityWords = map[string]string{
	"mild":       "mild",
	"slight":     "mild",
	"little":     "mild",
	"moderate":   "moderate",
	"severe":     "severe",
	"extreme":    "severe",
	"unbearable": "severe",
	"terrible":   "severe",
	"intense":    "severe",
}
