package flow

import (
	"strings"
	"testing"

	"github.com/BTreeMap/MedBay/internal/models"
)

func TestKeywords(t *testing.T) {
	for _, text := range []string{"exit", " EXIT ", "end session", "Menu", "start"} {
		if !IsExitKeyword(text) {
			t.Errorf("expected %q to be an exit keyword", text)
		}
	}
	for _, text := range []string{"hi", "Hello", "hey", "menu"} {
		if !IsGreetingKeyword(text) {
			t.Errorf("expected %q to be a greeting", text)
		}
	}
	for _, text := range []string{"hello there", "exiting", "hi!"} {
		if IsExitKeyword(text) || IsGreetingKeyword(text) {
			t.Errorf("expected %q to be neither keyword", text)
		}
	}
}

func TestParseLanguage(t *testing.T) {
	tests := map[string]models.Language{"1": models.LanguageEnglish, " 2 ": models.LanguageHindi, "3": models.LanguageOdia, "4": models.LanguageTamil}
	for text, want := range tests {
		if got, ok := ParseLanguage(text); !ok || got != want {
			t.Errorf("ParseLanguage(%q) = %q, %v", text, got, ok)
		}
	}
	for _, text := range []string{"0", "5", "9", "english", "12"} {
		if _, ok := ParseLanguage(text); ok {
			t.Errorf("expected %q to be rejected", text)
		}
	}
}

func TestParseMenuSelection(t *testing.T) {
	tests := []struct {
		text string
		want models.Intent
	}{
		{"1", models.IntentGeneralQnA},
		{"3", models.IntentHospitalFinder},
		{"option 6 please", models.IntentXrayAnalysis},
		{"9", models.IntentHealthQuiz},
		{"12", models.IntentGeneralQnA},
		{"93", models.IntentHospitalFinder},
	}
	for _, tt := range tests {
		if got, ok := ParseMenuSelection(tt.text); !ok || got != tt.want {
			t.Errorf("ParseMenuSelection(%q) = %q, %v; want %q", tt.text, got, ok, tt.want)
		}
	}
	for _, text := range []string{"", "0", "hello", "ten"} {
		if _, ok := ParseMenuSelection(text); ok {
			t.Errorf("expected %q to be rejected", text)
		}
	}
}

func TestLocalizedTexts(t *testing.T) {
	for _, lang := range []models.Language{models.LanguageEnglish, models.LanguageHindi, models.LanguageOdia, models.LanguageTamil} {
		if MenuText(lang) == "" || InvalidMenuText(lang) == "" || WelcomeText(lang) == "" {
			t.Errorf("missing text for %s", lang)
		}
		if !strings.Contains(MenuText(lang), "9️⃣") {
			t.Errorf("menu for %s should list nine options", lang)
		}
	}
	if MenuText(models.LanguageHindi) == MenuText(models.LanguageEnglish) {
		t.Error("Hindi menu should be translated")
	}
	if MenuText("fr") != MenuText(models.LanguageEnglish) {
		t.Error("unknown languages should fall back to English")
	}
	if got := LanguageSelectedText(models.LanguageTamil); !strings.Contains(got, "Tamil") || !strings.HasSuffix(got, MenuText(models.LanguageTamil)) {
		t.Errorf("unexpected confirmation %q", got)
	}
}
