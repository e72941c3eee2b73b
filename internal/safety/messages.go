package safety

import "github.com/healbee/healbee/internal/normalize"

type messages struct {
	emergency   string
	noDiagnosis string
	rewrite     string
	dosage      string
	consult     string
	disclaimer  string
}

var catalog = map[string]messages{
	normalize.LanguageEnglish: {
		emergency: "The symptoms you describe may need urgent medical attention. " +
			"Please call 108 or 112 for an ambulance, or go to the nearest hospital emergency department right away. " +
			"I cannot help with medical emergencies.",
		noDiagnosis: "I understand you want to know what is causing this, but I cannot give a medical diagnosis. " +
			"Please consult a qualified doctor, who can examine you and tell you what is going on.",
		rewrite: "Only a doctor can tell you what is causing these symptoms.",
		dosage:  "Please ask a doctor or pharmacist before taking any medicine or deciding on a dose.",
		consult: "I could not put together a helpful answer. Please consult a qualified doctor about your concern.",
		disclaimer: "Note: This is general health information, not a medical diagnosis. " +
			"Please consult a qualified doctor for medical advice.",
	},
	normalize.LanguageHindi: {
		emergency: "आपके बताए लक्षणों के लिए तुरंत इलाज की ज़रूरत हो सकती है। " +
			"कृपया एम्बुलेंस के लिए 108 या 112 पर कॉल करें, या तुरंत नज़दीकी अस्पताल के आपातकालीन विभाग में जाएँ। " +
			"मैं आपातकालीन चिकित्सा में मदद नहीं कर सकता।",
		noDiagnosis: "मैं समझता हूँ कि आप कारण जानना चाहते हैं, लेकिन मैं बीमारी का निदान नहीं कर सकता। " +
			"कृपया किसी योग्य डॉक्टर से सलाह लें, जो जाँच करके सही जानकारी दे सकें।",
		rewrite: "इन लक्षणों का कारण केवल डॉक्टर ही बता सकते हैं।",
		dosage:  "कोई भी दवा लेने या उसकी मात्रा तय करने से पहले डॉक्टर या फार्मासिस्ट से पूछें।",
		consult: "मैं इसका सही जवाब नहीं दे पाया। कृपया अपनी समस्या के लिए किसी योग्य डॉक्टर से सलाह लें।",
		disclaimer: "ध्यान दें: यह सामान्य स्वास्थ्य जानकारी है, चिकित्सा निदान नहीं। " +
			"चिकित्सा सलाह के लिए कृपया किसी योग्य डॉक्टर से मिलें।",
	},
}

func messagesFor(lang string) messages {
	if m, ok := catalog[lang]; ok {
		return m
	}
	return catalog[normalize.LanguageEnglish]
}

// EmergencyMessage is the fixed emergency redirect for lang.
func EmergencyMessage(lang string) string { return messagesFor(lang).emergency }

// DiagnosisRefusal is the fixed cannot-diagnose message for lang.
func DiagnosisRefusal(lang string) string { return messagesFor(lang).noDiagnosis }

// Disclaimer is the standard non-diagnosis disclaimer for lang.
func Disclaimer(lang string) string { return messagesFor(lang).disclaimer }
