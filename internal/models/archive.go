package models

import (
	"encoding/base64"
	"time"
)

// ArchiveRecord is the durable copy of one completed extraction.
type ArchiveRecord struct {
	ID            string    `json:"id"`
	ImageData     string    `json:"image_data"`
	ExtractedText string    `json:"extracted_text"`
	Latency       int64     `json:"latency"`
	CreatedAt     time.Time `json:"created_at"`
}

// DataURL renders an asset as an embeddable data URL.
func DataURL(a Asset) string {
	mt := a.MIMEType
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// NewArchiveRecord builds the record written through after a completed extraction.
func NewArchiveRecord(item *WorkItem, now time.Time) ArchiveRecord {
	return ArchiveRecord{
		ID:            item.ID,
		ImageData:     DataURL(item.Input()),
		ExtractedText: item.ExtractedText,
		Latency:       item.LatencyMs,
		CreatedAt:     now.UTC(),
	}
}
