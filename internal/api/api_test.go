package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/upstream"
	"github.com/BTreeMap/MedBay/internal/xray"
)

func TestRootAndHealth(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})

	rr := ts.do(createJSONRequest(t, http.MethodGet, "/", ""))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "root")
	body := decodeBody(t, rr)
	if body["Project"] != "MedBay" || body["Status"] != "Healthy" {
		t.Errorf("unexpected root body: %v", body)
	}

	rr = ts.do(createJSONRequest(t, http.MethodGet, "/health", ""))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	if decodeBody(t, rr)["status"] != "ok" {
		t.Errorf("unexpected health body: %s", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})
	ts.do(createJSONRequest(t, http.MethodGet, "/health", ""))

	rr := ts.do(createJSONRequest(t, http.MethodGet, "/metrics", ""))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
	for _, name := range []string{"medbay_sessions_reset_total", "medbay_http_requests_total"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, ServerOpts{CORSOrigins: []string{"https://medbay.example"}})
	req := createJSONRequest(t, http.MethodOptions, "/webhook/web", "")
	req.Header.Set("Origin", "https://medbay.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rr := ts.do(req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://medbay.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestWebWebhook(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})
	ts.engine.reply = models.Reply{
		Text:   "Here are some hospitals I found:",
		Intent: models.IntentHospitalFinder,
		Data:   map[string]any{"hospitals": []any{}},
	}

	rr := ts.do(createJSONRequest(t, http.MethodPost, "/webhook/web",
		`{"message":{"user_id":"web-1","text":"hospitals","language":"hi","context":{"document_id":"d1"}}}`))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "web webhook")

	body := decodeBody(t, rr)
	if body["reply"] != "Here are some hospitals I found:" || body["current_intent"] != "hospital_finder" {
		t.Errorf("unexpected body: %v", body)
	}
	if _, ok := body["data"]; !ok {
		t.Error("expected data in reply")
	}
	msg := ts.engine.messages[0]
	if msg.UserID != "web-1" || msg.Language != models.Language("hi") || msg.Context["document_id"] != "d1" {
		t.Errorf("unexpected engine message: %+v", msg)
	}
}

func TestWebWebhookOmitsEmptyData(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})
	rr := ts.do(createJSONRequest(t, http.MethodPost, "/webhook/web", `{"message":{"user_id":"web-1","text":"hi"}}`))
	if _, ok := decodeBody(t, rr)["data"]; ok {
		t.Errorf("data should be omitted: %s", rr.Body.String())
	}
}

func TestWebWebhookErrors(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})

	rr := ts.do(createJSONRequest(t, http.MethodPost, "/webhook/web", `not json`))
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid JSON")

	rr = ts.do(createJSONRequest(t, http.MethodPost, "/webhook/web", `{"message":{"text":"hi"}}`))
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing user id")

	ts.engine.err = errors.New("session store down")
	rr = ts.do(createJSONRequest(t, http.MethodPost, "/webhook/web", `{"message":{"user_id":"u","text":"hi"}}`))
	assertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "engine failure")
	if decodeBody(t, rr)["status"] != "error" {
		t.Errorf("expected error status: %s", rr.Body.String())
	}
}

func TestUsersEndpoints(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})

	rr := ts.do(createJSONRequest(t, http.MethodPost, "/users", `{"phone_number":"+919876543210","full_name":"Asha"}`))
	assertHTTPStatus(t, http.StatusCreated, rr.Code, "create user")
	body := decodeBody(t, rr)
	if body["message"] != "User created successfully" {
		t.Errorf("unexpected message: %v", body["message"])
	}
	user := body["user"].(map[string]interface{})
	if user["language_preference"] != "en" {
		t.Errorf("expected default language, got %v", user["language_preference"])
	}

	rr = ts.do(createJSONRequest(t, http.MethodPost, "/users", `{"phone_number":"+919876543210"}`))
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "duplicate user")

	rr = ts.do(createJSONRequest(t, http.MethodPost, "/users", `{"phone_number":"123"}`))
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "short phone")

	rr = ts.do(createJSONRequest(t, http.MethodPost, "/users", `{"phone_number":"+919876500000","language_preference":"xx"}`))
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "bad language")

	rr = ts.do(createJSONRequest(t, http.MethodGet, "/users/phone/+919876543210", ""))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "get user")
	got := decodeBody(t, rr)["user"].(map[string]interface{})
	if got["full_name"] != "Asha" {
		t.Errorf("unexpected user: %v", got)
	}

	rr = ts.do(createJSONRequest(t, http.MethodGet, "/users/phone/+910000000000", ""))
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing user")
}

func TestVaccinationSchedules(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})
	rr := ts.do(createJSONRequest(t, http.MethodGet, "/vaccination-schedules", ""))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "schedules")

	schedules := decodeBody(t, rr)["schedules"].([]interface{})
	if len(schedules) == 0 {
		t.Fatal("expected seeded schedules")
	}
	prev := -1.0
	for _, raw := range schedules {
		age := raw.(map[string]interface{})["age_due_in_weeks"].(float64)
		if age < prev {
			t.Fatalf("schedules not ascending: %v after %v", age, prev)
		}
		prev = age
	}
}

func TestReverseGeocode(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})

	rr := ts.do(createJSONRequest(t, http.MethodPost, "/api/reverse-geocode", `{"latitude":12.97,"longitude":77.59}`))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "geocode")
	if decodeBody(t, rr)["displayName"] != "Bengaluru, Karnataka" {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}

	rr = ts.do(createJSONRequest(t, http.MethodPost, "/api/reverse-geocode", `{"latitude":12.97}`))
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing longitude")

	ts.geocoder.err = errors.New("quota")
	rr = ts.do(createJSONRequest(t, http.MethodPost, "/api/reverse-geocode", `{"latitude":0,"longitude":0}`))
	assertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "geocoder failure")

	ts.Geocoder = nil
	rr = ts.do(createJSONRequest(t, http.MethodPost, "/api/reverse-geocode", `{"latitude":0,"longitude":0}`))
	assertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "no geocoder")
}

func TestXrayUpload(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})
	ts.analyzer.analysis = xray.Analysis{
		Findings: []models.Finding{{Label: "Effusion", Probability: 0.81}},
		Report:   "**1. Findings**\nEffusion.",
	}

	rr := ts.do(createUploadRequest(t, "/api/xray-upload", nil, "chest.png", "image/png", []byte("png")))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "xray upload")
	body := decodeBody(t, rr)
	if body["status"] != "success" || body["filename"] != "chest.png" {
		t.Errorf("unexpected body: %v", body)
	}
	if body["medical_report"] != "**1. Findings**\nEffusion." || body["pdf_url"] != "https://example.test/report.pdf" {
		t.Errorf("unexpected report fields: %v", body)
	}
	if len(body["analysis_results"].([]interface{})) != 1 {
		t.Errorf("unexpected findings: %v", body["analysis_results"])
	}
}

func TestXrayUploadPDFFailureStillSucceeds(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})
	ts.analyzer.analysis = xray.Analysis{Findings: []models.Finding{{Label: "Mass", Probability: 0.5}}, Report: "r"}
	ts.reports.err = errors.New("bucket missing")

	rr := ts.do(createUploadRequest(t, "/api/xray-upload", nil, "chest.jpg", "image/jpeg", []byte("jpg")))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "xray upload without pdf")
	body := decodeBody(t, rr)
	if v, ok := body["pdf_url"]; !ok || v != nil {
		t.Errorf("pdf_url should be null, got %v (present=%v)", v, ok)
	}
}

func TestXrayUploadNoFindingsUsesReport(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})
	ts.analyzer.analysis = xray.Analysis{Findings: []models.Finding{}}
	ts.analyzer.err = xray.ErrNoFindings

	rr := ts.do(createUploadRequest(t, "/api/xray-upload", nil, "chest.jpg", "image/jpeg", []byte("jpg")))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "no findings")
	if decodeBody(t, rr)["medical_report"] != "fallback report" {
		t.Errorf("unexpected body: %s", rr.Body.String())
	}
}

func TestXrayUploadErrors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		err         error
		want        int
	}{
		{"not an image", "application/pdf", nil, http.StatusBadRequest},
		{"service down", "image/png", upstream.ErrUnavailable, http.StatusServiceUnavailable},
		{"service error", "image/png", &upstream.ServiceError{Service: "vision", StatusCode: 500}, http.StatusBadGateway},
		{"other failure", "image/png", errors.New("decode"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, ServerOpts{})
			ts.analyzer.err = tt.err
			rr := ts.do(createUploadRequest(t, "/api/xray-upload", nil, "f", tt.contentType, []byte("x")))
			assertHTTPStatus(t, tt.want, rr.Code, tt.name)
		})
	}

	ts := newTestServer(t, ServerOpts{})
	rr := ts.do(createUploadRequest(t, "/api/xray-upload", nil, "", "", nil))
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing file")
}

func TestDocumentUpload(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})
	ts.documents.uploadResp = []byte(`{"message":"indexed","document_id":"abc"}`)

	rr := ts.do(createUploadRequest(t, "/api/document/upload/", map[string]string{"user_id": "u1"}, "lab.pdf", "application/pdf", []byte("%PDF-1.4")))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "document upload")
	if decodeBody(t, rr)["document_id"] != "abc" {
		t.Errorf("service JSON not relayed: %s", rr.Body.String())
	}
	if ts.documents.uploads[0] != "u1/lab.pdf" {
		t.Errorf("unexpected upload: %v", ts.documents.uploads)
	}

	rr = ts.do(createUploadRequest(t, "/api/document/upload/", map[string]string{"user_id": "u1"}, "scan.png", "image/png", []byte("png")))
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "non-PDF")

	rr = ts.do(createUploadRequest(t, "/api/document/upload/", nil, "lab.pdf", "application/pdf", []byte("%PDF")))
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing user id")

	ts.documents.err = upstream.ErrUnavailable
	rr = ts.do(createUploadRequest(t, "/api/document/upload/", map[string]string{"user_id": "u1"}, "lab.pdf", "application/pdf", []byte("%PDF")))
	assertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "service down")
}

func TestDocumentQueryBothPaths(t *testing.T) {
	ts := newTestServer(t, ServerOpts{})
	ts.documents.answer.Raw = []byte(`{"answer":"Your haemoglobin is normal."}`)

	for _, path := range []string{"/api/document/query", "/api/document/query/"} {
		rr := ts.do(createFormRequest(t, path, map[string]string{"user_id": "u1", "question": "Is my Hb ok?"}))
		assertHTTPStatus(t, http.StatusOK, rr.Code, path)
		if decodeBody(t, rr)["answer"] != "Your haemoglobin is normal." {
			t.Errorf("%s: unexpected body %s", path, rr.Body.String())
		}
	}

	rr := ts.do(createFormRequest(t, "/api/document/query", map[string]string{"user_id": "u1"}))
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing question")

	ts.documents.err = &upstream.ServiceError{Service: "document", StatusCode: 404}
	rr = ts.do(createFormRequest(t, "/api/document/query", map[string]string{"user_id": "u1", "question": "q"}))
	assertHTTPStatus(t, http.StatusBadGateway, rr.Code, "service error")
}

func TestReportsServedFromLocalDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "xray_reports"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "xray_reports", "r.pdf"), []byte("%PDF-1.3"), 0644); err != nil {
		t.Fatal(err)
	}
	ts := newTestServer(t, ServerOpts{})
	ts.ReportsDir = dir
	ts.handler = ts.Routes()

	rr := ts.do(createJSONRequest(t, http.MethodGet, "/reports/xray_reports/r.pdf", ""))
	assertHTTPStatus(t, http.StatusOK, rr.Code, "report download")
	if !strings.HasPrefix(rr.Body.String(), "%PDF") {
		t.Errorf("unexpected report body: %q", rr.Body.String())
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
