package collector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var criticalBox = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(lipgloss.Color("196")).
	Padding(0, 1)

func renderCritical(ev ReceivedEvent) string {
	lines := []string{
		lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")).Render("CRITICAL CLIENT ERROR"),
		fmt.Sprintf("Level:    %s", ev.Level),
		fmt.Sprintf("Category: %s", ev.Category),
		fmt.Sprintf("Message:  %s", ev.Message),
		fmt.Sprintf("Session:  %s", ev.SessionID),
	}
	if ev.URL != "" {
		lines = append(lines, fmt.Sprintf("URL:      %s", ev.URL))
	}

	var b strings.Builder
	b.WriteString(criticalBox.Render(strings.Join(lines, "\n")))
	b.WriteByte('\n')
	if ev.Details != nil {
		if data, err := json.MarshalIndent(ev.Details, "", "  "); err == nil {
			b.WriteString("Details: ")
			b.Write(data)
			b.WriteByte('\n')
		}
	}
	if ev.StackTrace != "" {
		b.WriteString("Stack: ")
		b.WriteString(ev.StackTrace)
		b.WriteByte('\n')
	}
	return b.String()
}
