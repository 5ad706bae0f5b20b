package proctoring

import (
	"strings"
	"sync"
	"time"

	"github.com/stemsi/mockdrive-backend/internal/model"
)

// Raw event kinds sent by the exam client.
const (
	EventFullscreenChange       = "fullscreenchange"
	EventWebkitFullscreenChange = "webkitfullscreenchange"
	EventMozFullscreenChange    = "mozfullscreenchange"
	EventMSFullscreenChange     = "MSFullscreenChange"
	EventVisibilityChange       = "visibilitychange"
	EventBlur                   = "blur"
	EventFocus                  = "focus"
	EventCopy                   = "copy"
	EventCut                    = "cut"
	EventPaste                  = "paste"
	EventContextMenu            = "contextmenu"
	EventKeyDown                = "keydown"
)

// RawEvent is one browser notification forwarded by the client. At is the
// client clock in milliseconds since the epoch.
type RawEvent struct {
	Kind       string `json:"kind"`
	At         int64  `json:"at"`
	Fullscreen bool   `json:"fullscreen,omitempty"`
	Hidden     bool   `json:"hidden,omitempty"`
	Key        string `json:"key,omitempty"`
	Ctrl       bool   `json:"ctrl,omitempty"`
	Meta       bool   `json:"meta,omitempty"`
	Alt        bool   `json:"alt,omitempty"`
}

// Decision is the monitor's verdict on one raw event. Suppress tells the
// client to prevent the browser's default behaviour.
type Decision struct {
	Violation *model.Violation
	Suppress  bool
}

// SignalMonitor turns raw client events into violations. It is owned by a
// single proctoring session.
type SignalMonitor struct {
	enabled      bool
	debounce     time.Duration
	dedupeWindow time.Duration
	sink         Sink
	now          func() time.Time

	mu sync.Mutex
	// windowed is true after a fullscreen exit until fullscreen is re-entered.
	windowed bool
	// hiddenAt and blurAt open the two halves of an away episode. They are
	// closed independently so a missing focus or visibility notification
	// never masks later episodes.
	hiddenAt    *int64
	blurAt      *int64
	clipboardAt map[string]int64
}

// NewSignalMonitor creates a monitor that forwards violations to sink.
func NewSignalMonitor(enabled bool, cfg Config, sink Sink) *SignalMonitor {
	return &SignalMonitor{
		enabled:      enabled,
		debounce:     cfg.DebounceFloor,
		dedupeWindow: cfg.ClipboardDedupeWindow,
		sink:         sink,
		now:          time.Now,
		clipboardAt:  make(map[string]int64),
	}
}

// Observe classifies ev and records any resulting violation on the sink.
func (m *SignalMonitor) Observe(ev RawEvent) Decision {
	if !m.enabled {
		return Decision{}
	}
	if ev.At <= 0 {
		ev.At = m.now().UnixMilli()
	}

	m.mu.Lock()
	d := m.classify(ev)
	m.mu.Unlock()

	if d.Violation != nil && m.sink != nil {
		m.sink.Record(*d.Violation)
	}
	return d
}

func (m *SignalMonitor) classify(ev RawEvent) Decision {
	switch ev.Kind {
	case EventFullscreenChange, EventWebkitFullscreenChange, EventMozFullscreenChange, EventMSFullscreenChange:
		return m.onFullscreen(ev)
	case EventVisibilityChange:
		if ev.Hidden {
			if m.hiddenAt == nil {
				m.hiddenAt = &ev.At
			}
			return Decision{}
		}
		return m.onReturn(&m.hiddenAt, ev.At, model.ViolationTabSwitch, "Tab or window was switched")
	case EventBlur:
		if m.blurAt == nil {
			m.blurAt = &ev.At
		}
		return Decision{}
	case EventFocus:
		return m.onReturn(&m.blurAt, ev.At, model.ViolationWindowBlur, "Window lost focus")
	case EventCopy, EventCut, EventPaste:
		return m.onClipboard(ev.Kind, "event", "", ev.At)
	case EventContextMenu:
		return Decision{
			Violation: violation(model.ViolationRightClick, ev.At, map[string]any{
				"reason": "Right click context menu attempted",
			}),
			Suppress: true,
		}
	case EventKeyDown:
		return m.onKeyDown(ev)
	}
	return Decision{}
}

func (m *SignalMonitor) onFullscreen(ev RawEvent) Decision {
	if ev.Fullscreen {
		m.windowed = false
		return Decision{}
	}
	// Browsers may deliver several vendor-prefixed notifications for one exit.
	if m.windowed {
		return Decision{}
	}
	m.windowed = true
	return Decision{Violation: violation(model.ViolationFullscreenExit, ev.At, map[string]any{
		"source": ev.Kind,
		"reason": "User exited fullscreen mode",
	})}
}

// onReturn closes one half of an away episode. A reported return also
// closes the other half, so one Alt+Tab counts once.
func (m *SignalMonitor) onReturn(since **int64, at int64, typ model.ViolationType, reason string) Decision {
	start := *since
	if start == nil {
		return Decision{}
	}
	*since = nil

	duration := at - *start
	if duration <= m.debounce.Milliseconds() {
		return Decision{}
	}
	m.hiddenAt, m.blurAt = nil, nil
	return Decision{Violation: violation(typ, at, map[string]any{
		"duration": duration,
		"reason":   reason,
	})}
}

func (m *SignalMonitor) onKeyDown(ev RawEvent) Decision {
	key := ev.Key
	switch {
	case ev.Alt && key == "Tab":
		return shortcut("Alt+Tab", "Application switching shortcut attempted", ev.At)
	case ev.Ctrl && key == "Tab":
		return shortcut("Ctrl+Tab", "Tab switching shortcut attempted", ev.At)
	case ev.Alt && key == "F4":
		return shortcut("Alt+F4", "Window close shortcut attempted", ev.At)
	}

	if !ev.Ctrl && !ev.Meta {
		return Decision{}
	}
	modifier := "Ctrl"
	if ev.Meta && !ev.Ctrl {
		modifier = "Cmd"
	}
	switch strings.ToLower(key) {
	case "c":
		return m.onClipboard(EventCopy, "shortcut", modifier+"+C", ev.At)
	case "v":
		return m.onClipboard(EventPaste, "shortcut", modifier+"+V", ev.At)
	case "x":
		return m.onClipboard(EventCut, "shortcut", modifier+"+X", ev.At)
	}
	return Decision{}
}

// onClipboard counts a clipboard action once even when both the shortcut
// keydown and the native clipboard event arrive for it.
func (m *SignalMonitor) onClipboard(action, via, keys string, at int64) Decision {
	if last, ok := m.clipboardAt[action]; ok {
		delta := at - last
		if delta < 0 {
			delta = -delta
		}
		if delta <= m.dedupeWindow.Milliseconds() {
			return Decision{Suppress: true}
		}
	}
	m.clipboardAt[action] = at

	md := map[string]any{
		"action": action,
		"via":    via,
		"reason": strings.ToUpper(action[:1]) + action[1:] + " operation attempted",
	}
	if keys != "" {
		md["shortcut"] = keys
	}
	return Decision{Violation: violation(model.ViolationCopyPaste, at, md), Suppress: true}
}

func shortcut(keys, reason string, at int64) Decision {
	return Decision{
		Violation: violation(model.ViolationKeyboardShortcut, at, map[string]any{
			"shortcut": keys,
			"reason":   reason,
		}),
		Suppress: true,
	}
}

func violation(typ model.ViolationType, at int64, md map[string]any) *model.Violation {
	return &model.Violation{Type: typ, Timestamp: at, Metadata: md}
}
