package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/splax/deploywatch/pkg/feed"
	"github.com/splax/deploywatch/pkg/telemetry"
)

const (
	formatAuto = "auto"
	formatText = "text"
	formatJSON = "json"
)

var (
	styleTitle  = lipgloss.NewStyle().Bold(true)
	styleBlue   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FAFFF"))
	styleGreen  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FD7AF"))
	styleFaint  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
	styleDanger = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
)

// renderer writes feed events as styled text lines or as JSON lines.
type renderer struct {
	out    io.Writer
	json   *json.Encoder
	styled bool
}

func newRenderer(out io.Writer, format string) (*renderer, error) {
	switch format {
	case formatAuto, "":
		if isTerminal(out) {
			return &renderer{out: out, styled: true}, nil
		}
		return &renderer{out: out, json: json.NewEncoder(out)}, nil
	case formatText:
		return &renderer{out: out}, nil
	case formatJSON:
		return &renderer{out: out, json: json.NewEncoder(out)}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want auto, text or json)", format)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type jsonLine struct {
	Kind string `json:"kind"`
	At   string `json:"at"`
	Data any    `json:"data,omitempty"`
}

// Render writes one event.
func (r *renderer) Render(e feed.Event) {
	if r.json != nil {
		_ = r.json.Encode(jsonLine{Kind: string(e.Kind()), At: telemetry.FormatTimestamp(e.Timestamp()), Data: eventData(e)})
		return
	}
	fmt.Fprintln(r.out, r.style(styleFaint, e.Timestamp().Format(time.TimeOnly))+" "+r.text(e))
}

func eventData(e feed.Event) any {
	switch ev := e.(type) {
	case feed.Connected:
		return map[string]string{"url": ev.URL}
	case feed.Disconnected:
		return map[string]bool{"intentional": ev.Intentional}
	case feed.Error:
		return map[string]string{"error": ev.Err.Error()}
	case feed.Metrics:
		return map[string]any{"source": ev.Source, "blue": ev.Snapshot.Blue, "green": ev.Snapshot.Green}
	case feed.Log:
		return ev.Entry
	case feed.ServiceGraph:
		return ev.Nodes
	case feed.Status:
		if len(ev.Payload) == 0 {
			return nil
		}
		return ev.Payload
	default:
		return nil
	}
}

func (r *renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

func (r *renderer) text(e feed.Event) string {
	switch ev := e.(type) {
	case feed.Connected:
		return r.style(styleTitle, "connected") + " " + ev.URL
	case feed.Disconnected:
		if ev.Intentional {
			return r.style(styleFaint, "disconnected")
		}
		return r.style(styleWarn, "connection lost, reconnecting")
	case feed.Error:
		return r.style(styleDanger, "error") + " " + ev.Err.Error()
	case feed.Metrics:
		return fmt.Sprintf("%s %s | %s",
			r.style(styleFaint, "["+string(ev.Source)+"]"),
			r.environment(telemetry.Blue, ev.Snapshot.Blue),
			r.environment(telemetry.Green, ev.Snapshot.Green))
	case feed.Log:
		level := ev.Entry.Type
		if level == "" {
			level = "info"
		}
		return r.levelStyle(level) + " " + ev.Entry.Message
	case feed.ServiceGraph:
		parts := make([]string, 0, len(ev.Nodes))
		for _, n := range ev.Nodes {
			parts = append(parts, fmt.Sprintf("%s(%s, %d edges)", n.Name, n.Type, len(n.Edges)))
		}
		return r.style(styleTitle, "service graph") + " " + strings.Join(parts, ", ")
	case feed.Status:
		payload := strings.TrimSpace(string(ev.Payload))
		if payload == "" {
			payload = "null"
		}
		return r.style(styleTitle, string(ev.Type)) + " " + payload
	default:
		return string(e.Kind())
	}
}

func (r *renderer) levelStyle(level string) string {
	switch strings.ToLower(level) {
	case "error":
		return r.style(styleDanger, level)
	case "warning", "warn":
		return r.style(styleWarn, level)
	default:
		return r.style(styleFaint, level)
	}
}

func (r *renderer) environment(env telemetry.Environment, m *telemetry.EnvironmentMetrics) string {
	label := r.style(styleBlue, "blue")
	if env == telemetry.Green {
		label = r.style(styleGreen, "green")
	}
	if m == nil {
		return label + " n/a"
	}
	return fmt.Sprintf("%s cpu %s mem %s rt %s req %s err %s",
		label,
		percent(m.CPU),
		percent(m.Memory),
		millis(m.ResponseTime),
		count(m.RequestCount),
		rate(m.ErrorRate))
}

func percent(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + "%"
}

func millis(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 0, 64) + "ms"
}

func count(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func rate(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v*100, 'f', 2, 64) + "%"
}
