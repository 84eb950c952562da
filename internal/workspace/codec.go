package workspace

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/feichai0017/mutulens/internal/models"
)

// ErrCorrupt is returned when stored data is not a workspace document.
var ErrCorrupt = errors.New("workspace data is corrupt")

const interruptedMessage = "interrupted before completion"

// persistedItem is the stored shape of a WorkItem. Display handles are process-local
// and always written as null.
type persistedItem struct {
	ID                string        `json:"id"`
	EncodedAssetBytes []byte        `json:"encodedAssetBytes"`
	MIMEType          string        `json:"mimeType"`
	Status            models.Status `json:"status"`
	ExtractedText     *string       `json:"extractedText,omitempty"`
	Explanation       *string       `json:"explanation,omitempty"`
	LatencyMs         *int64        `json:"latencyMs,omitempty"`
	ErrorMessage      *string       `json:"errorMessage,omitempty"`
	EditedAssetBytes  []byte        `json:"editedAssetBytes,omitempty"`
	EditedMIMEType    string        `json:"editedMimeType,omitempty"`
	DisplayHandle     *string       `json:"displayHandle"`
}

func encode(items []*models.WorkItem) ([]byte, error) {
	out := make([]persistedItem, 0, len(items))
	for _, it := range items {
		p := persistedItem{
			ID:                it.ID,
			EncodedAssetBytes: it.Source.Data,
			MIMEType:          it.Source.MIMEType,
			Status:            it.Status,
		}
		switch it.Status {
		case models.StatusCompleted:
			text, explanation, latency := it.ExtractedText, it.Explanation, it.LatencyMs
			p.ExtractedText = &text
			if explanation != "" {
				p.Explanation = &explanation
			}
			p.LatencyMs = &latency
		case models.StatusFailed:
			msg := it.ErrorMessage
			p.ErrorMessage = &msg
		}
		if it.Edited != nil && !it.Edited.Empty() {
			p.EditedAssetBytes = it.Edited.Data
			p.EditedMIMEType = it.Edited.MIMEType
		}
		out = append(out, p)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workspace: %w", err)
	}
	return data, nil
}

// decode parses stored data. Entries without an id or with an unknown status are
// returned in skipped rather than failing the whole document.
func decode(data []byte) (items []*models.WorkItem, skipped []string, err error) {
	var stored []persistedItem
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	seen := make(map[string]bool, len(stored))
	items = make([]*models.WorkItem, 0, len(stored))
	for i, p := range stored {
		switch {
		case p.ID == "":
			skipped = append(skipped, fmt.Sprintf("entry %d: missing id", i))
			continue
		case !p.Status.Valid():
			skipped = append(skipped, fmt.Sprintf("entry %d: unknown status %q", i, p.Status))
			continue
		case seen[p.ID]:
			skipped = append(skipped, fmt.Sprintf("entry %d: duplicate id %s", i, p.ID))
			continue
		}
		seen[p.ID] = true

		it := &models.WorkItem{
			ID:     p.ID,
			Source: models.Asset{Data: p.EncodedAssetBytes, MIMEType: p.MIMEType},
			Status: p.Status,
		}
		if len(p.EditedAssetBytes) > 0 {
			it.Edited = &models.Asset{Data: p.EditedAssetBytes, MIMEType: p.EditedMIMEType}
		}

		switch p.Status {
		case models.StatusCompleted:
			it.ExtractedText = deref(p.ExtractedText)
			it.Explanation = deref(p.Explanation)
			if p.LatencyMs != nil {
				it.LatencyMs = *p.LatencyMs
			}
		case models.StatusFailed:
			it.ErrorMessage = deref(p.ErrorMessage)
		case models.StatusProcessing:
			// the process stopped while the call was in flight
			it.Status = models.StatusFailed
			it.ErrorMessage = interruptedMessage
		}
		items = append(items, it)
	}
	return items, skipped, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
