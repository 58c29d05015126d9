package report

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/google/uuid"
)

// ObjectPrefix is the folder reports are stored under.
const ObjectPrefix = "xray_reports"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Publisher renders reports and stores them.
type Publisher struct {
	storage Storage
	newID   func() string
}

// NewPublisher creates a Publisher writing to storage.
func NewPublisher(storage Storage) *Publisher {
	return &Publisher{storage: storage, newID: uuid.NewString}
}

// Publish renders the report for the image filename and returns its public URL.
func (p *Publisher) Publish(ctx context.Context, filename, reportText string, findings []models.Finding) (string, error) {
	data, err := Render(filename, reportText, findings)
	if err != nil {
		return "", err
	}
	objectPath := ObjectPath(p.newID(), filename)
	u, err := p.storage.Put(ctx, objectPath, "application/pdf", data)
	if err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}
	slog.Info("Publisher.Publish: report stored", "path", objectPath, "bytes", len(data))
	return u, nil
}

// ObjectPath is xray_reports/<id>_<name>.pdf, where name is the image filename without
// directory or extension and with unsafe characters replaced.
func ObjectPath(id, filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.Trim(unsafeChars.ReplaceAllString(base, "_"), "._-")
	if base == "" {
		base = "report"
	}
	return fmt.Sprintf("%s/%s_%s.pdf", ObjectPrefix, id, base)
}
