package pipeline

import (
	"sync"

	"github.com/feichai0017/mutulens/internal/models"
)

type EventType string

const (
	EventEnqueued      EventType = "enqueued"
	EventStatusChanged EventType = "status_changed"
	EventEdited        EventType = "edited"
	EventRemoved       EventType = "removed"
	EventCleared       EventType = "cleared"
	EventRestored      EventType = "restored"
	EventDrainStarted  EventType = "drain_started"
	EventDrainFinished EventType = "drain_finished"
)

// Event is delivered to observers after the batch changed.
type Event struct {
	Type     EventType     `json:"type"`
	ItemID   string        `json:"itemId,omitempty"`
	Status   models.Status `json:"status,omitempty"`
	Progress Progress      `json:"progress"`
}

// Observer is called synchronously, outside the controller lock. It must not block.
type Observer func(Event)

// Progress counts items by status. Done only moves when an extraction resolves.
type Progress struct {
	Total      int  `json:"total"`
	Pending    int  `json:"pending"`
	Processing int  `json:"processing"`
	Completed  int  `json:"completed"`
	Failed     int  `json:"failed"`
	Running    bool `json:"running"`
}

func (p Progress) Done() int { return p.Completed + p.Failed }

type observers struct {
	mu   sync.RWMutex
	next int
	fns  map[int]Observer
}

func (o *observers) add(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}
}

func (o *observers) emit(ev Event) {
	o.mu.RLock()
	fns := make([]Observer, 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
