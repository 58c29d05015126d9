// Package models defines the core data structures for MedBay.
//
// It includes the conversation intents, supported languages, channel replies and the
// API response envelope, which are shared across modules.
package models

// Intent names the active conversational task of a session.
type Intent string

const (
	// IntentLanguageSelection is the onboarding state waiting for a 1-4 language choice.
	IntentLanguageSelection Intent = "language_selection"
	// IntentGreeting is the post-onboarding menu state waiting for a 1-9 topic choice.
	IntentGreeting Intent = "greeting"

	IntentGeneralQnA          Intent = "general_qna"
	IntentSymptomChecker      Intent = "symptom_checker"
	IntentHospitalFinder      Intent = "hospital_finder"
	IntentVaccinationSchedule Intent = "vaccination_schedule"
	IntentOutbreakAlerts      Intent = "outbreak_alerts"
	IntentXrayAnalysis        Intent = "xray_analysis"
	IntentXrayFollowup        Intent = "xray_followup"
	IntentMythBuster          Intent = "myth_buster"
	IntentDocumentAnalysis    Intent = "document_analysis"
	IntentDocumentFollowup    Intent = "document_followup"
	IntentHealthQuiz          Intent = "health_quiz"
)

// PersonaIntents lists every intent that is backed by a persona prompt.
var PersonaIntents = []Intent{
	IntentGeneralQnA,
	IntentSymptomChecker,
	IntentHospitalFinder,
	IntentVaccinationSchedule,
	IntentOutbreakAlerts,
	IntentMythBuster,
	IntentXrayAnalysis,
	IntentXrayFollowup,
	IntentHealthQuiz,
	IntentDocumentAnalysis,
	IntentDocumentFollowup,
}

// String returns the wire name of the intent.
func (i Intent) String() string { return string(i) }

// IsFollowup reports whether the intent answers questions about an uploaded artifact.
func (i Intent) IsFollowup() bool {
	return i == IntentXrayFollowup || i == IntentDocumentFollowup
}

// Language is a supported conversation language code.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageHindi   Language = "hi"
	LanguageOdia    Language = "od"
	LanguageTamil   Language = "ta"
)

// DefaultLanguage is used when neither the session nor the request names a language.
const DefaultLanguage = LanguageEnglish

// languageNames maps codes to their English display names.
var languageNames = map[Language]string{
	LanguageEnglish: "English",
	LanguageHindi:   "Hindi",
	LanguageOdia:    "Odia",
	LanguageTamil:   "Tamil",
}

// DisplayName returns the English name of the language, or the raw code if unknown.
func (l Language) DisplayName() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return string(l)
}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	_, ok := languageNames[l]
	return ok
}

// Reply is the result of processing one inbound message.
type Reply struct {
	Text   string         `json:"reply"`
	Intent Intent         `json:"current_intent"`
	Data   map[string]any `json:"data,omitempty"`
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
