package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

const (
	padRows = 5  // joystick radius in rows
	padCols = 10 // joystick radius in columns; cells are about twice as tall as wide
)

func (m Model) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		title.Render("ROBOT TELEOP"), "  ",
		m.statusBadge(), "  ",
		label.Render(m.opts.URL),
	)

	if m.fullscreen {
		return lipgloss.JoinVertical(lipgloss.Left,
			header,
			panel.Render(m.cameraView(true)),
			hint.Render("f close camera · q quit"),
		)
	}

	left := panel.Render(lipgloss.JoinVertical(lipgloss.Left,
		title.Render("Joystick"),
		m.padView(),
		m.commandView(),
	))
	right := lipgloss.JoinVertical(lipgloss.Left,
		panel.Render(m.batteryView()),
		panel.Render(m.cameraView(false)),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, left, right),
		panel.Render(m.consoleView()),
		hint.Render("drag or arrows move · space release · g gear · k key · a auto · s stop server · f camera · q quit"),
	)
}

func (m Model) statusBadge() string {
	switch m.status {
	case "connected":
		return statusOK.Render("● connected")
	case "error":
		return statusBad.Render("● error")
	case "disconnected":
		return statusBad.Render("● disconnected")
	default:
		return statusWarn.Render("● " + m.status)
	}
}

// padView draws the joystick rim and knob on a character grid.
func (m Model) padView() string {
	r := float64(m.opts.MaxRadius)
	kx := int(math.Round(m.knobPos.X / r * padCols))
	ky := int(math.Round(m.knobPos.Y / r * padRows))

	var b strings.Builder
	for row := -padRows; row <= padRows; row++ {
		for col := -padCols; col <= padCols; col++ {
			d := math.Hypot(float64(col)/padCols, float64(row)/padRows)
			switch {
			case col == kx && row == ky:
				b.WriteString(knob.Render("●"))
			case row == 0 && col == 0:
				b.WriteString(rim.Render("+"))
			case math.Abs(d-1) < 0.1:
				b.WriteString(rim.Render("·"))
			default:
				b.WriteByte(' ')
			}
		}
		if row < padRows {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (m Model) commandView() string {
	s := m.state
	return strings.Join([]string{
		fmt.Sprintf("%s %s  %s %s",
			label.Render("angle"), value.Render(fmt.Sprintf("%3d°", s.Angle)),
			label.Render("dist"), value.Render(fmt.Sprintf("%3d", s.Distance))),
		fmt.Sprintf("%s %s  %s %s",
			label.Render("x"), value.Render(fmt.Sprintf("%+.3f", s.X)),
			label.Render("y"), value.Render(fmt.Sprintf("%+.3f", s.Y))),
		fmt.Sprintf("%s %s", label.Render("gear"), value.Render(fmt.Sprintf("%d", s.Mode))),
		label.Render(fmt.Sprintf("sent %d · settled %d · offline %d",
			m.stats.Sent, m.stats.Suppressed, m.stats.NotReady)),
	}, "\n")
}

func (m Model) batteryView() string {
	head := title.Render("Battery")
	if !m.hasBattery {
		return head + "\n" + label.Render("waiting for reading")
	}
	line := fmt.Sprintf("%s %s", label.Render("level"), value.Render(fmt.Sprintf("%.0f%%", m.battery)))
	if len(m.batteryHistory) < 2 {
		return head + "\n" + line
	}
	graph := asciigraph.Plot(m.batteryHistory,
		asciigraph.Height(4),
		asciigraph.Width(30),
		asciigraph.Caption("battery %"),
	)
	return head + "\n" + line + "\n" + graph
}

func (m Model) cameraView(full bool) string {
	head := title.Render("Camera")
	if m.autoActive {
		head += " " + statusOK.Render("AUTO")
	}
	var body string
	switch {
	case m.frames == 0:
		body = label.Render("no frames yet")
	case m.fallback != "":
		body = fmt.Sprintf("%s %s", label.Render("no signal, showing"), value.Render(m.fallback))
	default:
		body = fmt.Sprintf("%s %s", label.Render("live jpeg"), value.Render(formatBytes(m.frameBytes)))
	}
	body += "\n" + label.Render(fmt.Sprintf("frames %d", m.frames))
	if full && m.width > 0 {
		return lipgloss.NewStyle().Width(m.width - 4).Render(head + "\n" + body)
	}
	return head + "\n" + body
}

func (m Model) consoleView() string {
	if len(m.console) == 0 {
		return title.Render("Console") + "\n" + label.Render("(empty)")
	}
	return title.Render("Console") + "\n" + strings.Join(m.console, "\n")
}

func formatBytes(b int) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
