package normalize

// ---- Hinglish / Hindi vocabulary ----

// hinglishPhrases maps romanized Hindi, Devanagari and mixed-script phrases onto the
// canonical English vocabulary. Keys may span several tokens; the longest phrase wins.
// Keys are folded at init, so they can be written in any case or Unicode form.
var hinglishPhrases = map[string]string{
	// fever
	"bukhar":     "fever",
	"bukhaar":    "fever",
	"bukar":      "fever",
	"taap":       "fever",
	"jwar":       "fever",
	"बुखार":      "fever",
	"ज्वर":       "fever",
	"tez bukhar": "high fever",
	"तेज बुखार":  "high fever",

	// cough / cold
	"khansi":  "cough",
	"khaansi": "cough",
	"khasi":   "cough",
	"khaasi":  "cough",
	"खांसी":   "cough",
	"खाँसी":   "cough",
	"zukam":   "cold",
	"jukam":   "cold",
	"zukaam":  "cold",
	"jukaam":  "cold",
	"sardi":   "cold",
	"जुकाम":   "cold",
	"ज़ुकाम":  "cold",
	"सर्दी":   "cold",

	"naak beh rahi": "runny nose",
	"naak behna":    "runny nose",

	// head / body pain
	"sir dard":       "headache",
	"sar dard":       "headache",
	"sirdard":        "headache",
	"sardard":        "headache",
	"sir me dard":    "headache",
	"sir mein dard":  "headache",
	"सिर दर्द":       "headache",
	"सिरदर्द":        "headache",
	"सिर में दर्द":   "headache",
	"badan dard":     "body ache",
	"sharir me dard": "body ache",
	"बदन दर्द":       "body ache",
	"kamar dard":     "back pain",
	"कमर दर्द":       "back pain",

	// stomach
	"pet dard":      "stomach pain",
	"pet me dard":   "stomach pain",
	"pet mein dard": "stomach pain",
	"पेट दर्द":      "stomach pain",
	"पेट में दर्द":  "stomach pain",
	"ulti":          "vomiting",
	"ultee":         "vomiting",
	"उल्टी":         "vomiting",
	"dast":          "diarrhea",
	"loose motion":  "diarrhea",
	"loose motions": "diarrhea",
	"दस्त":          "diarrhea",
	"ji michlana":   "nausea",
	"जी मिचलाना":    "nausea",

	// throat
	"gale me dard":   "sore throat",
	"gale mein dard": "sore throat",
	"gala kharab":    "sore throat",
	"गले में दर्द":   "sore throat",
	"गला खराब":       "sore throat",

	// chest / breathing (emergency vocabulary)
	"seene me dard":           "chest pain",
	"seene mein dard":         "chest pain",
	"chhati me dard":          "chest pain",
	"chhati mein dard":        "chest pain",
	"सीने में दर्द":           "chest pain",
	"छाती में दर्द":           "chest pain",
	"saans nahi aa rahi":      "cant breathe",
	"saans nahi le pa raha":   "cant breathe",
	"सांस नहीं आ रही":         "cant breathe",
	"saans lene me takleef":   "difficulty breathing",
	"saans lene mein takleef": "difficulty breathing",
	"सांस लेने में तकलीफ":     "difficulty breathing",
	"behosh":                  "unconscious",
	"बेहोश":                   "unconscious",
	"bahut khoon":             "severe bleeding",
	"khoon beh raha":          "bleeding",
	"बहुत खून":                "severe bleeding",

	// other symptoms
	"chakkar": "dizziness",
	"चक्कर":   "dizziness",
	"thakan":  "fatigue",
	"thakaan": "fatigue",
	"थकान":    "fatigue",
	"kamzori": "weakness",
	"kamjori": "weakness",
	"कमजोरी":  "weakness",
	"khujli":  "itching",
	"खुजली":   "itching",
	"daane":   "rash",
	"दाने":    "rash",

	// diagnosis vocabulary
	"bimari":  "disease",
	"beemari": "disease",
	"rog":     "disease",
	"बीमारी":  "disease",
	"रोग":     "disease",

	// yes / no
	"haan":    "yes",
	"han":     "yes",
	"haa":     "yes",
	"ji haan": "yes",
	"हाँ":     "yes",
	"हां":     "yes",
	"जी हाँ":  "yes",
	"nahi":    "no",
	"nahin":   "no",
	"nai":     "no",
	"नहीं":    "no",
	"ना":      "no",

	// durations and numbers
	"din":       "days",
	"dino":      "days",
	"दिन":       "days",
	"hafta":     "weeks",
	"hafte":     "weeks",
	"hafton":    "weeks",
	"हफ्ते":     "weeks",
	"हफ़्ते":    "weeks",
	"mahina":    "months",
	"mahine":    "months",
	"महीने":     "months",
	"ghanta":    "hours",
	"ghante":    "hours",
	"घंटे":      "hours",
	"ek":        "1",
	"do din":    "2 days",
	"do hafte":  "2 weeks",
	"do ghante": "2 hours",
	"teen":      "3",
	"char":      "4",
	"paanch":    "5",
	"panch":     "5",
	"chhe":      "6",
	"saat":      "7",
	"एक":        "1",
	"दो":        "2",
	"तीन":       "3",
	"चार":       "4",
	"पांच":      "5",

	// intensity
	"halka": "mild",
	"halki": "mild",
	"bahut": "very",
	"tez":   "severe",
	"हल्का": "mild",
	"बहुत":  "very",

	// connectives that matter for follow-ups like "bukhar bhi"
	"aur":   "and",
	"bhi":   "also",
	"mujhe": "i",
	"और":    "and",
	"भी":    "also",
}

// hinglishPrefixes catches inflected or elongated romanized forms ("bukhaaar",
// "khaansee") that the exact table misses. Order matters: first match wins.
// Stems must not start any common English word ("ulti" would swallow "ultimately").
var hinglishPrefixes = []prefixRule{
	{prefix: "bukhaa", canonical: "fever"},
	{prefix: "khaans", canonical: "cough"},
	{prefix: "ultiy", canonical: "vomiting"},
	{prefix: "ultii", canonical: "vomiting"},
	{prefix: "ultee", canonical: "vomiting"},
	{prefix: "chakk", canonical: "dizziness"},
	{prefix: "zukaa", canonical: "cold"},
	{prefix: "jukaa", canonical: "cold"},
	{prefix: "behos", canonical: "unconscious"},
	{prefix: "thakaa", canonical: "fatigue"},
	{prefix: "bimaa", canonical: "disease"},
	{prefix: "beemaa", canonical: "disease"},
}

// ---- Misspellings ----

// misspellings corrects known whole-token misspellings. There is no fuzzy
// fallback: anything not listed passes through unchanged.
var misspellings = map[string]string{
	"feaver":     "fever",
	"fevr":       "fever",
	"fver":       "fever",
	"fevar":      "fever",
	"cogh":       "cough",
	"couf":       "cough",
	"coff":       "cough",
	"caugh":      "cough",
	"headach":    "headache",
	"hedache":    "headache",
	"headake":    "headache",
	"headace":    "headache",
	"hedake":     "headache",
	"headpain":   "headache",
	"stomache":   "stomach",
	"stomch":     "stomach",
	"stomac":     "stomach",
	"vomitting":  "vomiting",
	"vommiting":  "vomiting",
	"vomting":    "vomiting",
	"diarhea":    "diarrhea",
	"diarrhoea":  "diarrhea",
	"diarrea":    "diarrhea",
	"diarhoea":   "diarrhea",
	"dairrhea":   "diarrhea",
	"dizzyness":  "dizziness",
	"diziness":   "dizziness",
	"nausia":     "nausea",
	"throte":     "throat",
	"thraot":     "throat",
	"brething":   "breathing",
	"breating":   "breathing",
	"breth":      "breath",
	"breate":     "breathe",
	"bleding":    "bleeding",
	"bleedin":    "bleeding",
	"unconcious": "unconscious",
	"unconsious": "unconscious",
	"temprature": "temperature",
	"temperture": "temperature",
	"tierd":      "tired",
	"fatique":    "fatigue",
	"chestpain":  "chest pain",
	"sorethroat": "sore throat",
	"bodyache":   "body ache",
	"backpain":   "back pain",
	"cnt":        "cant",
	"dayz":       "days",
	"wks":        "weeks",
}
