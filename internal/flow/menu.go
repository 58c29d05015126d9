package flow

import (
	"strings"

	"github.com/BTreeMap/MedBay/internal/models"
)

// Keywords are matched against the trimmed, lower-cased message.
var (
	exitKeywords     = []string{"end", "exit", "exit session", "end session", "menu", "start"}
	greetingKeywords = []string{"hi", "hello", "hey", "menu", "start"}
)

// IsExitKeyword reports whether text asks to end the session and start over.
func IsExitKeyword(text string) bool {
	return matchKeyword(exitKeywords, text)
}

// IsGreetingKeyword reports whether text is a greeting that (re)opens the menu flow.
func IsGreetingKeyword(text string) bool {
	return matchKeyword(greetingKeywords, text) || IsExitKeyword(text)
}

func matchKeyword(keywords []string, text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, k := range keywords {
		if t == k {
			return true
		}
	}
	return false
}

var languageOptions = map[string]models.Language{
	"1": models.LanguageEnglish,
	"2": models.LanguageHindi,
	"3": models.LanguageOdia,
	"4": models.LanguageTamil,
}

// ParseLanguage maps a "1"-"4" reply to a language.
func ParseLanguage(text string) (models.Language, bool) {
	lang, ok := languageOptions[strings.TrimSpace(text)]
	return lang, ok
}

// menuOrder lists the topics in menu order; option N selects menuOrder[N-1].
var menuOrder = []models.Intent{
	models.IntentGeneralQnA,
	models.IntentSymptomChecker,
	models.IntentHospitalFinder,
	models.IntentVaccinationSchedule,
	models.IntentOutbreakAlerts,
	models.IntentXrayAnalysis,
	models.IntentMythBuster,
	models.IntentDocumentAnalysis,
	models.IntentHealthQuiz,
}

// ParseMenuSelection returns the topic for the first digit 1-9, in menu order, that
// appears anywhere in text. "12" therefore selects option 1.
func ParseMenuSelection(text string) (models.Intent, bool) {
	t := strings.TrimSpace(text)
	for i, intent := range menuOrder {
		if strings.Contains(t, string(rune('1'+i))) {
			return intent, true
		}
	}
	return "", false
}

type localizedText map[models.Language]string

func (l localizedText) get(lang models.Language) string {
	if s, ok := l[lang]; ok {
		return s
	}
	return l[models.LanguageEnglish]
}

const languageChoices = "🔤 Available options:\n1️⃣ English\n2️⃣ हिंदी (Hindi)\n3️⃣ ଓଡ଼ିଆ (Odia)\n4️⃣ தமிழ் (Tamil)"

var welcomeTexts = localizedText{
	models.LanguageEnglish: "Select your language(1-4).\n\n🔤 Available options:\n1️⃣ English\n2️⃣ हिंदी (Hindi)\n3️⃣ ଓଡ଼ିଆ (Odia)\n4️⃣ தமிழ் (Tamil)",
	models.LanguageHindi:   "🏥 MedBay में आपका स्वागत है! 🏥\n\nकृपया अपनी पसंदीदा भाषा चुनें:\n\n1️⃣ English\n2️⃣ हिंदी (Hindi)\n3️⃣ ଓଡ଼ିଆ (Odia)\n4️⃣ தமிழ் (Tamil)\n\n💬 जारी रखने के लिए संख्या (1-4) के साथ उत्तर दें।",
	models.LanguageOdia:    "🏥 MedBay ରେ ଆପଣଙ୍କୁ ସ୍ୱାଗତ! 🏥\n\nଦୟାକରି ଆପଣଙ୍କର ପସନ୍ଦର ଭାଷା ଚୟନ କରନ୍ତୁ:\n\n1️⃣ English\n2️⃣ हिंदी (Hindi)\n3️⃣ ଓଡ଼ିଆ (Odia)\n4️⃣ தமிழ் (Tamil)\n\n💬 ଆଗକୁ ଯିବାକୁ ସଂଖ୍ୟା (1-4) ସହିତ ଉତ୍ତର ଦିଅନ୍ତୁ।",
	models.LanguageTamil:   "🏥 MedBay இல் உங்களை வரவேற்கிறோம்! 🏥\n\nதயவுசெய்து உங்கள் விருப்பமான மொழியைத் தேர்ந்தெடுக்கவும்:\n\n1️⃣ English\n2️⃣ हिंदी (Hindi)\n3️⃣ ଓଡ଼ିଆ (Odia)\n4️⃣ தமிழ் (Tamil)\n\n💬 தொடர எண் (1-4) உடன் பதிலளிக்கவும்।",
}

var menuTexts = localizedText{
	models.LanguageEnglish: "🩺 How can I help you today?\n\n1️⃣ General Health Question\n2️⃣ Symptom Checker\n3️⃣ Find a Hospital\n4️⃣ Vaccination Schedule\n5️⃣ Outbreak Alerts\n6️⃣ X-ray Analysis\n7️⃣ Health Myth Buster\n8️⃣ Analyze Medical Document\n9️⃣ Health Awareness Quiz\n\n💬 Reply with a number (1-9).",
	models.LanguageHindi:   "🩺 आज मैं आपकी कैसे मदद कर सकता हूं?\n\n1️⃣ सामान्य स्वास्थ्य प्रश्न\n2️⃣ लक्षण जांचकर्ता\n3️⃣ अस्पताल खोजें\n4️⃣ टीकाकरण कार्यक्रम\n5️⃣ प्रकोप अलर्ट\n6️⃣ एक्स-रे विश्लेषण\n7️⃣ स्वास्थ्य मिथक बस्टर\n8️⃣ चिकित्सा दस्तावेज़ का विश्लेषण\n9️⃣ स्वास्थ्य जागरूकता प्रश्नोत्तरी\n\n💬 संख्या (1-9) के साथ उत्तर दें।",
	models.LanguageOdia:    "🩺 ଆଜି ମୁଁ ଆପଣଙ୍କୁ କିପରି ସାହାଯ୍ୟ କରିପାରିବି?\n\n1️⃣ ସାଧାରଣ ସ୍ୱାସ୍ଥ୍ୟ ପ୍ରଶ୍ନ\n2️⃣ ଲକ୍ଷଣ ଯାଞ୍ଚକାରୀ\n3️⃣ ଡାକ୍ତରଖାନା ଖୋଜନ୍ତୁ\n4️⃣ ଟୀକାକରଣ ସୂଚୀ\n5️⃣ ପ୍ରାଦୁର୍ଭାବ ଆଲର୍ଟ\n6️⃣ ଏକ୍ସ-ରେ ବିଶ୍ଳେଷଣ\n7️⃣ ସ୍ୱାସ୍ଥ୍ୟ ମିଥ୍ ବଷ୍ଟର\n8️⃣ ଚିକିତ୍ସା ଦଲିଲ ବିଶ୍ଳେଷଣ\n9️⃣ ସ୍ୱାସ୍ଥ୍ୟ ସଚେତନତା କୁଇଜ୍\n\n💬 ସଂଖ୍ୟା (1-9) ସହିତ ଉତ୍ତର ଦିଅନ୍ତୁ।",
	models.LanguageTamil:   "🩺 இன்று நான் உங்களுக்கு எப்படி உதவ முடியும்?\n\n1️⃣ பொது சுகாதார கேள்வி\n2️⃣ அறிகுறி சரிபார்ப்பாளர்\n3️⃣ மருத்துவமனையைக் கண்டறியவும்\n4️⃣ தடுப்பூசி அட்டவணை\n5️⃣ வெடிப்பு எச்சரிக்கைகள்\n6️⃣ எக்ஸ்-ரே பகுப்பாய்வு\n7️⃣ சுகாதார மூடநம்பிக்கை உடைப்பான்\n8️⃣ மருத்துவ ஆவணம் பகுப்பாய்வு\n9️⃣ சுகாதார விழிப்புணர்வு வினாடி வினா\n\n💬 எண் (1-9) உடன் பதிலளிக்கவும்।",
}

var invalidMenuTexts = localizedText{
	models.LanguageEnglish: "❌ Invalid selection. Please reply with a number (1-9) from the menu.",
	models.LanguageHindi:   "❌ गलत चयन। कृपया मेनू से एक संख्या (1-9) के साथ उत्तर दें।",
	models.LanguageOdia:    "❌ ଭୁଲ ଚୟନ। ଦୟାକରି ମେନୁରୁ ଏକ ସଂଖ୍ୟା (1-9) ସହିତ ଉତ୍ତର ଦିଅନ୍ତୁ।",
	models.LanguageTamil:   "❌ தவறான தேர்வு। தயவுசெய்து மெனுவிலிருந்து ஒரு எண் (1-9) உடன் பதிலளிக்கவும்।",
}

// WelcomeText is the language prompt shown when a session starts.
func WelcomeText(lang models.Language) string { return welcomeTexts.get(lang) }

// MenuText is the topic menu.
func MenuText(lang models.Language) string { return menuTexts.get(lang) }

// InvalidMenuText is shown for a menu reply without a 1-9 digit.
func InvalidMenuText(lang models.Language) string { return invalidMenuTexts.get(lang) }

// InvalidLanguageText is shown for a language reply other than 1-4.
func InvalidLanguageText() string {
	return "❌ Invalid selection. Please reply with a number from 1-4 to select your language.\n\n" + languageChoices
}

// LanguageSelectedText confirms the language and shows the menu in it.
func LanguageSelectedText(lang models.Language) string {
	return "✅ Language selected: " + lang.DisplayName() + "\n\n" + MenuText(lang)
}
