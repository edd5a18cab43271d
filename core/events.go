// core/events.go
package core

// Emitter delivers engine events to whatever shell is attached. Delivery is
// best-effort: the engine never blocks on and never fails because of it.
type Emitter interface {
	Emit(event string, payload interface{})
}

// ProgressEvent is the payload of "progress_update" events.
type ProgressEvent struct {
	ConfigID     string `json:"configId,omitempty"`
	Stage        string `json:"stage,omitempty"`
	Message      string `json:"message"`
	Current      int    `json:"current"`
	Total        int    `json:"total"`
	BytesCurrent int64  `json:"bytesCurrent,omitempty"`
	BytesTotal   int64  `json:"bytesTotal,omitempty"`
}

// Event pairs an event name with its payload for channel delivery.
type Event struct {
	Name    string
	Payload interface{}
}

// ChannelEmitter forwards events onto a buffered channel. Sends are
// non-blocking: if the shell stops draining, events are dropped rather than
// stalling the backup pipeline.
type ChannelEmitter struct {
	ch chan Event
}

func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelEmitter{ch: make(chan Event, buffer)}
}

func (e *ChannelEmitter) Events() <-chan Event {
	return e.ch
}

func (e *ChannelEmitter) Emit(event string, payload interface{}) {
	select {
	case e.ch <- Event{Name: event, Payload: payload}:
	default:
	}
}

func (m *BackupManager) emitLog(message string) {
	if !m.emitEvents || m.emitter == nil {
		return
	}
	defer func() { _ = recover() }()
	m.emitter.Emit("log_message", message)
}

func (m *BackupManager) emitProgress(stage, message string, current, total int) {
	m.emitProgressDetail(stage, message, current, total, 0, 0)
}

func (m *BackupManager) emitProgressDetail(stage, message string, current, total int, bytesCurrent, bytesTotal int64) {
	if !m.emitEvents || m.emitter == nil {
		return
	}
	defer func() { _ = recover() }()
	m.emitter.Emit("progress_update", ProgressEvent{
		ConfigID:     m.configID,
		Stage:        stage,
		Message:      message,
		Current:      current,
		Total:        total,
		BytesCurrent: bytesCurrent,
		BytesTotal:   bytesTotal,
	})
}
