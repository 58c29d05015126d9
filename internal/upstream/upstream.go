// Package upstream holds the HTTP plumbing shared by the clients of MedBay's sibling
// microservices (X-ray classifier, document Q&A, report storage).
package upstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// MaxErrorBody caps how much of an upstream error body is kept.
const MaxErrorBody = 4096

// ErrUnavailable wraps transport failures: connection refused, DNS, timeouts.
var ErrUnavailable = errors.New("service unavailable")

// ServiceError is a non-2xx reply from an upstream service.
type ServiceError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Do sends req and returns the response body for 2xx replies. Transport failures wrap
// ErrUnavailable; other statuses return *ServiceError.
func Do(client *http.Client, service string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBody))
		return nil, &ServiceError{Service: service, StatusCode: resp.StatusCode, Body: string(body)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrUnavailable, service, err)
	}
	return body, nil
}

// HTTPStatus maps a client error to the status MedBay's API reports: 503 when the
// service is unreachable, 502 when it answered with an error, 500 otherwise.
func HTTPStatus(err error) int {
	var se *ServiceError
	switch {
	case errors.As(err, &se):
		return http.StatusBadGateway
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FilePart is a file attached to a multipart body.
type FilePart struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Multipart encodes fields and one file as multipart/form-data and returns the body
// with its Content-Type header value.
func Multipart(fields map[string]string, file FilePart) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.Field, file.Filename))
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
