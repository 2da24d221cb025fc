package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/nitrogen-io/nitrogen-go/pkg/message"
)

// Define styles using lipgloss
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1).
			Margin(0, 0, 1, 0)

	blockStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Margin(0, 0, 1, 2)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	summaryStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("32")).
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("32")).
			Padding(0, 1).
			Margin(0, 0, 1, 0)

	noDataStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Margin(1, 0)

	msgHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("33"))
)

// formatMessage formats a single message for terminal display.
func formatMessage(m *message.Message) string {
	var content strings.Builder

	header := fmt.Sprintf("%s  %s", m.TS.Local().Format("15:04:05"), m.Type)
	content.WriteString(msgHeaderStyle.Render(header))
	content.WriteString("\n")

	if m.From != "" || m.To != "" {
		content.WriteString(fmt.Sprintf("%s -> %s\n", orDash(m.From), orDash(m.To)))
	}

	if len(m.Body) > 0 {
		body, err := json.Marshal(m.Body)
		if err == nil {
			content.WriteString(string(body))
			content.WriteString("\n")
		}
	}

	meta := "ID: " + orDash(m.ID)
	if len(m.Tags) > 0 {
		meta += " | Tags: " + strings.Join(m.Tags, ", ")
	}
	if len(m.ResponseTo) > 0 {
		meta += " | Response to: " + strings.Join(m.ResponseTo, ", ")
	}
	content.WriteString(metaStyle.Render(meta))

	return blockStyle.Render(content.String())
}

// formatMessageRaw renders a message as single-line JSON, for piping.
func formatMessageRaw(m *message.Message) string {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
