package converters

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/mutulens/internal/models"
)

type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
)

// shortIDLen is how much of an item id is shown in bundle headers and file names.
const shortIDLen = 6

// Converter renders the completed items of a batch into an export document.
type Converter interface {
	Convert(items []*models.WorkItem) ([]byte, error)
	ContentType() string
	Format() Format
}

// ExportedItem 导出结构
type ExportedItem struct {
	ID            string `json:"id"`
	ExtractedText string `json:"extractedText"`
	Explanation   string `json:"explanation,omitempty"`
	LatencyMs     int64  `json:"latencyMs"`
}

func NewConverter(format Format) (Converter, error) {
	switch format {
	case FormatText, "":
		return TextConverter{}, nil
	case FormatMarkdown:
		return MarkdownConverter{}, nil
	case FormatJSON:
		return JSONConverter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// ShortID returns the first six characters of id.
func ShortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// BundleFilename names a whole-batch export.
func BundleFilename(format Format, now time.Time) string {
	return fmt.Sprintf("mutulens_bundle_%d.%s", now.UnixMilli(), format)
}

// ItemFilename names a single-item download.
func ItemFilename(id string, format Format) string {
	return fmt.Sprintf("extraction_%s.%s", ShortID(id), format)
}

func completed(items []*models.WorkItem) []*models.WorkItem {
	out := make([]*models.WorkItem, 0, len(items))
	for _, it := range items {
		if it != nil && it.Status == models.StatusCompleted {
			out = append(out, it)
		}
	}
	return out
}

// TextConverter produces the plain-text bundle: one "--- Image <id> ---" section per
// completed item, separated by a blank line.
type TextConverter struct{}

func (TextConverter) Format() Format      { return FormatText }
func (TextConverter) ContentType() string { return "text/plain; charset=utf-8" }

func (TextConverter) Convert(items []*models.WorkItem) ([]byte, error) {
	return []byte(TextBundle(items)), nil
}

// TextBundle is the text used for "copy all". Empty when nothing completed.
func TextBundle(items []*models.WorkItem) string {
	done := completed(items)
	sections := make([]string, len(done))
	for i, it := range done {
		sections[i] = fmt.Sprintf("--- Image %s ---\n%s", ShortID(it.ID), it.ExtractedText)
	}
	return strings.Join(sections, "\n\n")
}

type MarkdownConverter struct{}

func (MarkdownConverter) Format() Format      { return FormatMarkdown }
func (MarkdownConverter) ContentType() string { return "text/markdown; charset=utf-8" }

func (MarkdownConverter) Convert(items []*models.WorkItem) ([]byte, error) {
	done := completed(items)
	sections := make([]string, len(done))
	for i, it := range done {
		sections[i] = Markdown(it)
	}
	return []byte(strings.Join(sections, "\n\n")), nil
}

// Markdown renders one item; the explanation, if any, follows as a blockquote.
func Markdown(item *models.WorkItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Image %s\n\n%s", ShortID(item.ID), item.ExtractedText)
	if exp := strings.TrimSpace(item.Explanation); exp != "" {
		b.WriteString("\n\n")
		for i, line := range strings.Split(exp, "\n") {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("> " + line)
		}
	}
	return b.String()
}

// JSONConverter 实现 JSON 导出
type JSONConverter struct{}

func (JSONConverter) Format() Format      { return FormatJSON }
func (JSONConverter) ContentType() string { return "application/json" }

func (JSONConverter) Convert(items []*models.WorkItem) ([]byte, error) {
	done := completed(items)
	out := make([]ExportedItem, len(done))
	for i, it := range done {
		out[i] = ExportedItem{
			ID:            it.ID,
			ExtractedText: it.ExtractedText,
			Explanation:   it.Explanation,
			LatencyMs:     it.LatencyMs,
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	return data, nil
}
