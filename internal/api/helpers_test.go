package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/MedBay/internal/document"
	"github.com/BTreeMap/MedBay/internal/flow"
	"github.com/BTreeMap/MedBay/internal/metrics"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/store"
	"github.com/BTreeMap/MedBay/internal/twiliowhatsapp"
	"github.com/BTreeMap/MedBay/internal/xray"
)

type fakeEngine struct {
	mu       sync.Mutex
	messages []flow.Message
	reply    models.Reply
	err      error
	reports  map[string]string
}

func (e *fakeEngine) ProcessMessage(ctx context.Context, msg flow.Message) (models.Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
	return e.reply, e.err
}

func (e *fakeEngine) RecordXrayReport(ctx context.Context, userID, report string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reports == nil {
		e.reports = make(map[string]string)
	}
	e.reports[userID] = report
	return nil
}

func (e *fakeEngine) report(userID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reports[userID]
}

type fakeAnalyzer struct {
	analysis xray.Analysis
	err      error
	files    []string
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, filename, contentType string, data []byte) (xray.Analysis, error) {
	a.files = append(a.files, filename)
	return a.analysis, a.err
}

func (a *fakeAnalyzer) Report(ctx context.Context, findings []models.Finding) string {
	return "fallback report"
}

type fakeReports struct {
	url string
	err error
}

func (p *fakeReports) Publish(ctx context.Context, filename, reportText string, findings []models.Finding) (string, error) {
	return p.url, p.err
}

type fakeDocuments struct {
	uploadResp json.RawMessage
	answer     document.Answer
	err        error
	uploads    []string
}

func (d *fakeDocuments) Upload(ctx context.Context, userID, filename, contentType string, data []byte) (json.RawMessage, error) {
	d.uploads = append(d.uploads, userID+"/"+filename)
	return d.uploadResp, d.err
}

func (d *fakeDocuments) Query(ctx context.Context, userID, question string) (document.Answer, error) {
	return d.answer, d.err
}

type fakeGeocoder struct {
	name string
	err  error
}

func (g *fakeGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	return g.name, g.err
}

type testServer struct {
	*Server
	engine    *fakeEngine
	analyzer  *fakeAnalyzer
	reports   *fakeReports
	documents *fakeDocuments
	geocoder  *fakeGeocoder
	twilio    *twiliowhatsapp.MockClient
	handler   http.Handler
}

func newTestServer(t *testing.T, opts ServerOpts) *testServer {
	t.Helper()
	ts := &testServer{
		engine:    &fakeEngine{reply: models.Reply{Text: "hello", Intent: models.IntentGreeting}},
		analyzer:  &fakeAnalyzer{},
		reports:   &fakeReports{url: "https://example.test/report.pdf"},
		documents: &fakeDocuments{},
		geocoder:  &fakeGeocoder{name: "Bengaluru, Karnataka"},
		twilio:    twiliowhatsapp.NewMockClient(),
	}
	ts.Server = NewServer(Deps{
		Engine:    ts.engine,
		Store:     store.NewInMemoryStore(),
		Dedup:     store.NewMemoryDedup(),
		Reminders: store.NewMemoryReminders(),
		Analyzer:  ts.analyzer,
		Reports:   ts.reports,
		Documents: ts.documents,
		Geocoder:  ts.geocoder,
		Twilio:    ts.twilio,
		Metrics:   metrics.New(),
	}, opts)
	ts.handler = ts.Routes()
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func createJSONRequest(t *testing.T, method, target, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, target, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func createFormRequest(t *testing.T, target string, form map[string]string) *http.Request {
	t.Helper()
	values := url.Values{}
	for k, v := range form {
		values.Set(k, v)
	}
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func createUploadRequest(t *testing.T, target string, fields map[string]string, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		part.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, target, &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func assertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return out
}
