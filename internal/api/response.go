package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/twiliowhatsapp"
)

// Pre-marshaled fallback responses to avoid runtime encoding failures
var (
	fallbackErrorResponse []byte
	fallbackTwiML         string
	emptyTwiML            string
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
	fallbackTwiML, err = twiliowhatsapp.TwiMLMessage(criticalErrorText)
	if err != nil {
		panic(fmt.Sprintf("Failed to render fallback TwiML at startup: %v", err))
	}
	emptyTwiML, err = twiliowhatsapp.TwiMLEmpty()
	if err != nil {
		panic(fmt.Sprintf("Failed to render empty TwiML at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors are caught before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeTwiML answers a Twilio messaging webhook with a single message. Twilio expects
// 200 even when processing failed.
func writeTwiML(w http.ResponseWriter, body string) {
	doc, err := twiliowhatsapp.TwiMLMessage(body)
	if err != nil {
		slog.Error("Server.writeTwiML: failed to render TwiML", "error", err)
		doc = fallbackTwiML
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte(doc)); writeErr != nil {
		slog.Error("Server.writeTwiML: failed to write TwiML", "error", writeErr)
	}
}

// writeEmptyTwiML acknowledges a Twilio webhook without sending a reply.
func writeEmptyTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(emptyTwiML)); err != nil {
		slog.Error("Server.writeEmptyTwiML: failed to write TwiML", "error", err)
	}
}
