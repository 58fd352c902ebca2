package common

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	detailStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("7"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type CIResult struct {
	OK      bool     `json:"ok"`
	Title   string   `json:"title"`
	Details []string `json:"details"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes one JSON line for pipelines.
func PrintCIResult(ok bool, title string, details []string, err error) {
	WriteCIResult(os.Stdout, ok, title, details, err)
}

func WriteCIResult(w io.Writer, ok bool, title string, details []string, err error) {
	res := CIResult{OK: ok, Title: title, Details: details}
	if res.Details == nil {
		res.Details = []string{}
	}
	if err != nil {
		res.Error = err.Error()
	}
	_ = json.NewEncoder(w).Encode(res)
}

// RenderReport formats a human-readable result box.
func RenderReport(title string, details []string, err error) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	for _, d := range details {
		b.WriteString(detailStyle.Render("• " + d))
		b.WriteString("\n")
	}
	if err != nil {
		b.WriteString(failStyle.Render("FAIL: " + err.Error()))
	} else {
		b.WriteString(okStyle.Render("OK"))
	}
	return boxStyle.Render(b.String())
}

// Report prints either the CI line or the rendered box and passes err through.
func Report(w io.Writer, ci bool, title string, details []string, err error) error {
	if ci {
		WriteCIResult(w, err == nil, title, details, err)
		return err
	}
	_, _ = fmt.Fprintln(w, RenderReport(title, details, err))
	return err
}
