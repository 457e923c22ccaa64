package diag

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/diagd/internal/model"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	levelStyles = map[model.Level]lipgloss.Style{
		model.LevelDebug:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		model.LevelInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		model.LevelWarn:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		model.LevelError:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		model.LevelCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		model.LevelFatal:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Underline(true),
	}
	noticeStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)
)

func renderEvent(ev model.DiagnosticEvent) string {
	var b strings.Builder

	head := fmt.Sprintf("[%s] [%s] %s", ev.Level, ev.Category, ev.Message)
	b.WriteString(dimStyle.Render(ev.Timestamp.Format("15:04:05.000")))
	b.WriteByte(' ')
	b.WriteString(levelStyles[ev.Level].Render(head))
	b.WriteByte('\n')

	if ev.Details != nil {
		b.WriteString(dimStyle.Render("  details: "))
		b.WriteString(compactJSON(ev.Details))
		b.WriteByte('\n')
	}
	if ev.StackTrace != "" {
		b.WriteString(dimStyle.Render("  stack:"))
		b.WriteByte('\n')
		for _, line := range strings.Split(strings.TrimRight(ev.StackTrace, "\n"), "\n") {
			b.WriteString("    ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	if len(ev.Context) > 0 {
		b.WriteString(dimStyle.Render("  context: "))
		b.WriteString(compactJSON(ev.Context))
		b.WriteByte('\n')
	}
	return b.String()
}

func renderThreshold(ev model.DiagnosticEvent, count, threshold int64) string {
	body := strings.Join([]string{
		levelStyles[ev.Level].Render("THRESHOLD EXCEEDED"),
		fmt.Sprintf("Level:    %s", ev.Level),
		fmt.Sprintf("Count:    %d/%d", count, threshold),
		fmt.Sprintf("Category: %s", ev.Category),
		fmt.Sprintf("Message:  %s", ev.Message),
	}, "\n")
	return noticeStyle.Render(body) + "\n"
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<unencodable %T>", v)
	}
	return string(data)
}
