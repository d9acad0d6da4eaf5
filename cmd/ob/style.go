package main

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"opsboard/internal/domain"
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	stylePending = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleSubtle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleBold    = lipgloss.NewStyle().Bold(true)
)

func statusText(s domain.InstanceStatus) string {
	switch s {
	case domain.StatusDone:
		return styleDone.Render(string(s))
	case domain.StatusSkipped:
		return styleSkipped.Render(string(s))
	default:
		return stylePending.Render(string(s))
	}
}

func pointsText(n int) string {
	switch {
	case n > 0:
		return styleDone.Render(signed(n))
	case n < 0:
		return styleSkipped.Render(signed(n))
	default:
		return styleSubtle.Render("0")
	}
}

func signed(n int) string {
	if n > 0 {
		return "+" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
