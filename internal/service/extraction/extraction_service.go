package extraction

import (
	"context"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/internal/pipeline"
	"github.com/feichai0017/mutulens/pkg/converters"
)

// Service is the surface the HTTP handlers, the watch folder and the CLI drive.
type Service interface {
	Submit(ctx context.Context, raws [][]byte) (*SubmitResult, error)
	SetEdited(ctx context.Context, id string, raw []byte) error
	RevertEdited(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context)
	StartDrain(instructions string) error
	Drain(ctx context.Context, instructions string) (pipeline.DrainReport, error)
	Batch() *BatchView
	Item(id string) (*models.WorkItem, error)
	Export(format converters.Format) (*Export, error)
	Subscribe(fn pipeline.Observer) func()
	SetCredential(value string)
	CredentialConfigured() bool

	ListArchive(ctx context.Context) ([]models.ArchiveRecord, error)
	CreateArchive(ctx context.Context, rec models.ArchiveRecord) error
	DeleteArchive(ctx context.Context, id string) error
	PruneArchive(ctx context.Context) (int, error)
}

type SubmitResult struct {
	Accepted  []ItemView `json:"accepted"`
	Discarded int        `json:"discarded"`
}

// ItemView is a work item as shown to clients; image bytes are replaced by the display handle.
type ItemView struct {
	ID            string        `json:"id"`
	Status        models.Status `json:"status"`
	ExtractedText string        `json:"extractedText,omitempty"`
	Explanation   string        `json:"explanation,omitempty"`
	LatencyMs     int64         `json:"latencyMs,omitempty"`
	Error         string        `json:"error,omitempty"`
	Preview       string        `json:"preview,omitempty"`
	Edited        bool          `json:"edited"`
}

type BatchView struct {
	Items              []ItemView        `json:"items"`
	Progress           pipeline.Progress `json:"progress"`
	Capacity           int               `json:"capacity"`
	CredentialRequired bool              `json:"credentialRequired"`
}

type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}
