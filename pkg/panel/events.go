package panel

// Event types in the activity log.
const (
	EventParam     = "param"
	EventStream    = "stream"
	EventDetection = "detection"
	EventCapture   = "capture"
	EventError     = "error"
)

// Event is one line of the activity log.
type Event struct {
	Time    string `json:"time"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Events returns the activity log, oldest first.
func (p *Panel) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event{}, p.events...)
}

func (p *Panel) addEvent(eventType, message string) {
	entry := Event{
		Time:    p.clock.Now().Format("15:04:05"),
		Type:    eventType,
		Message: message,
	}

	p.mu.Lock()
	p.events = append(p.events, entry)
	if len(p.events) > p.config.MaxEvents {
		p.events = p.events[1:]
	}
	p.mu.Unlock()

	if p.OnEvent != nil {
		p.OnEvent(entry)
	}
}
