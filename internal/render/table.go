package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"

	"github.com/skypro1111/trbscope/internal/trb"
)

var (
	borderColor = lipgloss.AdaptiveColor{Light: "#6C6CFF", Dark: "#6C6CFF"}
	dimColor    = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#9A9A9A"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#8B0000", Dark: "#FF6B6B"}

	baseCell    = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(borderColor)
	dumpStyle   = lipgloss.NewStyle().Foreground(dimColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor)
)

// Renderer turns envelopes into text. A styled renderer draws lipgloss tables
// with colors; a plain one emits aligned text suitable for pipes and logs.
type Renderer struct {
	styled bool
}

// NewRenderer creates a renderer.
func NewRenderer(styled bool) *Renderer {
	return &Renderer{styled: styled}
}

// Render formats env as a title line, the hex dump and one row per field.
func (r *Renderer) Render(env *trb.Envelope) string {
	if r.styled {
		return r.renderStyled(env)
	}
	return r.renderPlain(env)
}

func rows(env *trb.Envelope) [][]string {
	return lo.Map(env.Fields, func(f trb.Field, _ int) []string {
		return []string{Label(f.Name), FormatValue(f), Annotate(env, f)}
	})
}

func (r *Renderer) renderStyled(env *trb.Envelope) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(Title(env)))
	sb.WriteByte('\n')
	sb.WriteString(dumpStyle.Render(HexDump(env.Raw)))
	sb.WriteByte('\n')

	if len(env.Fields) == 0 {
		sb.WriteString(warnStyle.Render("no field layout for this type"))
		sb.WriteByte('\n')
		return sb.String()
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		Headers("Field", "Value", "Meaning").
		Rows(rows(env)...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			s := baseCell
			if col == 1 {
				s = s.Align(lipgloss.Right)
			}
			return s
		})

	sb.WriteString(t.Render())
	sb.WriteByte('\n')
	return sb.String()
}

func (r *Renderer) renderPlain(env *trb.Envelope) string {
	var sb strings.Builder
	sb.WriteString(Title(env))
	sb.WriteByte('\n')
	sb.WriteString(HexDump(env.Raw))
	sb.WriteByte('\n')

	data := rows(env)
	width := lo.Max(lo.Map(data, func(row []string, _ int) int { return len(row[0]) }))
	for _, row := range data {
		line := fmt.Sprintf("  %-*s  %s", width, row[0], row[1])
		if row[2] != "" {
			line += "  " + row[2]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}
