package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/MedBay/internal/models"
)

const hospitalListHeader = "\n\nHere are some hospitals I found nearby:\n"

// PlainText flattens a reply for text-only channels, listing any hospitals in the
// structured payload after the reply text.
func PlainText(reply models.Reply) string {
	hospitals := hospitalsIn(reply.Data)
	if len(hospitals) == 0 {
		return reply.Text
	}
	var b strings.Builder
	b.WriteString(reply.Text)
	b.WriteString(hospitalListHeader)
	for _, h := range hospitals {
		rating := "N/A"
		if h.Rating > 0 {
			rating = fmt.Sprintf("%.1f", h.Rating)
		}
		fmt.Fprintf(&b, "\n- %s (Rating: %s)\n  Address: %s\n", h.Name, rating, h.Address)
	}
	return b.String()
}

func hospitalsIn(data map[string]any) []models.Hospital {
	raw, ok := data["hospitals"]
	if !ok {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var hospitals []models.Hospital
	if err := json.Unmarshal(encoded, &hospitals); err != nil {
		return nil
	}
	return hospitals
}
