package models

// Status is the lifecycle state of a WorkItem.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends an item's drain.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Asset is an encoded image kept in memory.
type Asset struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mimeType"`
}

// Empty reports whether the asset carries no bytes.
func (a Asset) Empty() bool { return len(a.Data) == 0 }

// Handle is a session-local display reference. The zero value is the empty (broken) handle.
type Handle string

// WorkItem is one image's processing record.
type WorkItem struct {
	ID     string `json:"id"`
	Source Asset  `json:"source"`
	Edited *Asset `json:"edited,omitempty"`
	Status Status `json:"status"`

	ExtractedText string `json:"extractedText,omitempty"`
	Explanation   string `json:"explanation,omitempty"`
	LatencyMs     int64  `json:"latencyMs,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`

	SourceHandle Handle `json:"sourceHandle"`
	EditedHandle Handle `json:"editedHandle,omitempty"`
}

// Input is the asset used for display and extraction; an edited asset supersedes the source.
func (w *WorkItem) Input() Asset {
	if w.Edited != nil && !w.Edited.Empty() {
		return *w.Edited
	}
	return w.Source
}

// DisplayHandle mirrors Input for the display handles.
func (w *WorkItem) DisplayHandle() Handle {
	if w.Edited != nil && w.EditedHandle != "" {
		return w.EditedHandle
	}
	return w.SourceHandle
}

// Clone returns a copy safe to hand outside the controller. Byte slices are shared
// because assets are never mutated in place.
func (w *WorkItem) Clone() *WorkItem {
	c := *w
	if w.Edited != nil {
		e := *w.Edited
		c.Edited = &e
	}
	return &c
}
