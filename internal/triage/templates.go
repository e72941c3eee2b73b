package triage

import (
	"strings"

	"github.com/healbee/healbee/internal/normalize"
)

type bandText struct {
	nextSteps []string
	warnings  []string
}

var bandTemplates = map[string]map[Severity]bandText{
	normalize.LanguageEnglish: {
		SeverityLow: {
			nextSteps: []string{
				"Rest at home and follow the self-care tips above.",
				"Keep track of your symptoms for the next two to three days.",
			},
			warnings: []string{
				"See a doctor if your symptoms get worse or new symptoms appear.",
			},
		},
		SeverityModerate: {
			nextSteps: []string{
				"Book a visit with a doctor or your nearest health centre within the next day or two.",
				"Follow the self-care tips above in the meantime.",
			},
			warnings: []string{
				"Go sooner if the symptoms get worse, or if you cannot eat or drink.",
			},
		},
		SeverityHigh: {
			nextSteps: []string{
				"Please see a doctor today.",
				"Take someone with you if you feel weak or dizzy.",
			},
			warnings: []string{
				"Do not wait for the symptoms to settle on their own.",
				"Go to a hospital immediately if you have chest pain, trouble breathing or confusion.",
			},
		},
		SeverityEmergency: {
			nextSteps: []string{
				"Go to the nearest hospital emergency department now, or call 108 or 112 for an ambulance.",
			},
			warnings: []string{
				"Your answers suggest this may need urgent medical care.",
				"Do not drive yourself if you feel faint or breathless.",
			},
		},
	},
	normalize.LanguageHindi: {
		SeverityLow: {
			nextSteps: []string{
				"घर पर आराम करें और ऊपर दिए गए सुझावों का पालन करें।",
				"अगले दो-तीन दिन अपने लक्षणों पर नज़र रखें।",
			},
			warnings: []string{
				"अगर लक्षण बढ़ें या नए लक्षण दिखें तो डॉक्टर से मिलें।",
			},
		},
		SeverityModerate: {
			nextSteps: []string{
				"एक-दो दिन के अंदर डॉक्टर या नज़दीकी स्वास्थ्य केंद्र पर दिखाएँ।",
				"तब तक ऊपर दिए गए सुझावों का पालन करें।",
			},
			warnings: []string{
				"अगर लक्षण बढ़ें या आप खा-पी न सकें तो जल्दी दिखाएँ।",
			},
		},
		SeverityHigh: {
			nextSteps: []string{
				"कृपया आज ही डॉक्टर से मिलें।",
				"अगर कमजोरी या चक्कर हो तो किसी को साथ ले जाएँ।",
			},
			warnings: []string{
				"लक्षणों के अपने-आप ठीक होने का इंतज़ार न करें।",
				"सीने में दर्द, सांस लेने में तकलीफ या भ्रम हो तो तुरंत अस्पताल जाएँ।",
			},
		},
		SeverityEmergency: {
			nextSteps: []string{
				"तुरंत नज़दीकी अस्पताल के आपातकालीन विभाग में जाएँ, या एम्बुलेंस के लिए 108 या 112 पर कॉल करें।",
			},
			warnings: []string{
				"आपके जवाबों से लगता है कि तुरंत इलाज की ज़रूरत हो सकती है।",
				"अगर बेहोशी या सांस फूलने जैसा लगे तो खुद गाड़ी न चलाएँ।",
			},
		},
	},
}

// templatesFor returns copies so assessments never share backing arrays.
func templatesFor(lang string, sev Severity) (nextSteps, warnings []string) {
	byBand, ok := bandTemplates[lang]
	if !ok {
		byBand = bandTemplates[normalize.LanguageEnglish]
	}
	t := byBand[sev]
	return append([]string(nil), t.nextSteps...), append([]string(nil), t.warnings...)
}

// FallbackSummary is the templated summary built purely from the activated record names.
func FallbackSummary(lang string, names []string) string {
	if lang == normalize.LanguageHindi {
		if len(names) == 0 {
			return "आपने अपने लक्षण बताए, लेकिन वे हमारी सूची के किसी लक्षण से मेल नहीं खाते।"
		}
		return "आपने बताया: " + strings.Join(names, ", ") + "।"
	}
	if len(names) == 0 {
		return "You described your symptoms, but they did not match any symptom in our list."
	}
	return "You reported: " + strings.Join(names, ", ") + "."
}
