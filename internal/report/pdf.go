// Package report renders X-ray analysis reports as PDF and publishes them to object
// storage.
package report

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/go-pdf/fpdf"
)

// Title is printed at the top of every page.
const Title = "MedBay - AI Chest X-Ray Analysis Report"

// MaxTableFindings is the number of findings listed in the results table.
const MaxTableFindings = 5

const (
	fontFamily      = "Arial"
	resultsTitle    = "Detailed Analysis Results"
	untitledSection = "Medical Report"
)

// sectionTitle matches "**Title**" and "**1. Title**" markers in LLM output.
var sectionTitle = regexp.MustCompile(`\*\*(?:\d\.\s)?.*?\*\*`)

// Section is one titled block of the report text.
type Section struct {
	Title string
	Body  string
}

// SplitSections splits report text on bold title markers. Text before the first marker
// is dropped; text without any marker becomes a single untitled section.
func SplitSections(text string) []Section {
	locs := sectionTitle.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		if body := strings.TrimSpace(text); body != "" {
			return []Section{{Title: untitledSection, Body: body}}
		}
		return nil
	}
	sections := make([]Section, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		sections = append(sections, Section{
			Title: strings.TrimSpace(strings.ReplaceAll(text[loc[0]:loc[1]], "**", "")),
			Body:  strings.TrimSpace(text[loc[1]:end]),
		})
	}
	return sections
}

// Render lays out the report for the image filename with its top findings on A4 pages.
func Render(filename, reportText string, findings []models.Finding) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetHeaderFunc(func() {
		pdf.SetFont(fontFamily, "B", 15)
		pdf.CellFormat(0, 10, Title, "", 1, "C", false, 0, "")
		pdf.Ln(5)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(fontFamily, "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()
	if filename != "" {
		pdf.SetFont(fontFamily, "I", 10)
		pdf.CellFormat(0, 6, tr("Image: "+filename), "", 1, "L", false, 0, "")
		pdf.Ln(2)
	}

	for _, s := range SplitSections(reportText) {
		chapterTitle(pdf, tr(s.Title))
		pdf.SetFont(fontFamily, "", 11)
		pdf.MultiCell(0, 5, tr(s.Body), "", "L", false)
		pdf.Ln(-1)
	}

	chapterTitle(pdf, resultsTitle)
	pdf.SetFont(fontFamily, "B", 11)
	pdf.CellFormat(150, 10, "Condition Detected", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 10, "Probability", "1", 1, "C", false, 0, "")
	pdf.SetFont(fontFamily, "", 11)
	if len(findings) > MaxTableFindings {
		findings = findings[:MaxTableFindings]
	}
	for _, f := range findings {
		pdf.CellFormat(150, 10, tr(f.Label), "1", 0, "", false, 0, "")
		pdf.CellFormat(40, 10, fmt.Sprintf("%.1f%%", f.Probability*100), "1", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func chapterTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont(fontFamily, "B", 12)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)
}
