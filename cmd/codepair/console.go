package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/martinemde/codepair/conversation"
)

var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - system notes

	coderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("14")) // Cyan

	criticStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13")) // Magenta

	humanStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10")) // Green

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9")) // Red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow

	doneStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))
)

// maxToolOutputLines bounds how much of a tool result the console shows.
const maxToolOutputLines = 20

// console renders run events for a terminal.
type console struct {
	w io.Writer
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) render(ev conversation.Event) {
	switch ev.Type {
	case conversation.EventSystem:
		fmt.Fprintln(c.w, dimStyle.Render(ev.Payload))
	case conversation.EventAgent:
		fmt.Fprintf(c.w, "\n%s\n%s\n", senderStyle(ev.Sender).Render(ev.Sender+":"), ev.Payload)
	case conversation.EventUser:
		fmt.Fprintf(c.w, "\n%s %s\n", humanStyle.Render(ev.Sender+":"), ev.Payload)
	case conversation.EventToolResult:
		c.renderTool(ev)
	case conversation.EventError:
		fmt.Fprintln(c.w, errorStyle.Render("error: "+ev.Payload))
	case conversation.EventCancelled:
		fmt.Fprintln(c.w, warnStyle.Render(ev.Payload))
	case conversation.EventDone:
		fmt.Fprintf(c.w, "\n%s %s\n", doneStyle.Render(ev.Payload), dimStyle.Render("("+ev.Status+")"))
	default:
		fmt.Fprintf(c.w, "%s: %s\n", ev.Type, ev.Payload)
	}
}

func (c *console) renderTool(ev conversation.Event) {
	header := fmt.Sprintf("[%s ran a program]", ev.Sender)
	if ev.Tool != nil && ev.Tool.Stdin != "" {
		header = fmt.Sprintf("[%s ran a program with input %q]", ev.Sender, ev.Tool.Stdin)
	}
	fmt.Fprintln(c.w, toolStyle.Render(header))
	for _, line := range clipLines(ev.Payload, maxToolOutputLines) {
		fmt.Fprintln(c.w, toolStyle.Render("  "+line))
	}
}

func (c *console) prompt(text string) {
	fmt.Fprintf(c.w, "\n%s ", promptStyle.Render(text))
}

func senderStyle(sender string) lipgloss.Style {
	if sender == conversation.DefaultCriticName {
		return criticStyle
	}
	return coderStyle
}

func clipLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return lines
	}
	omitted := len(lines) - n
	return append(lines[:n:n], fmt.Sprintf("... %d more lines", omitted))
}
