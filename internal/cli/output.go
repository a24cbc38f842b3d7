package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/hairscope-lab/internal/domain"
	"github.com/ericfisherdev/hairscope-lab/internal/storage"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
	formatYML  = "yml"
)

// SessionView is the printable state of one profile's session.
type SessionView struct {
	ProfileID   string     `json:"profile_id" yaml:"profile_id"`
	State       string     `json:"state" yaml:"state"`
	Remaining   string     `json:"remaining" yaml:"remaining"`
	RemainingMs int64      `json:"remaining_ms" yaml:"remaining_ms"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	IsExhausted bool       `json:"is_exhausted" yaml:"is_exhausted"`
	IsValid     bool       `json:"is_valid" yaml:"is_valid"`
}

// RenderSession renders a session in the specified format
func RenderSession(w io.Writer, format string, view SessionView) error {
	switch strings.ToLower(format) {
	case formatJSON:
		return renderJSON(w, view)
	case formatYAML, formatYML:
		return renderYAML(w, view)
	}

	t := newTable(w)
	t.AppendRows([]table.Row{
		{"Profile", view.ProfileID},
		{"State", stateLabel(view.State)},
		{"Remaining", view.Remaining},
		{"Started", formatTime(view.StartedAt)},
		{"Expires", formatTime(view.ExpiresAt)},
		{"Exhausted", view.IsExhausted},
	})
	t.Render()
	return nil
}

// RenderSettings renders configuration settings in the specified format
func RenderSettings(w io.Writer, format string, settings []Setting) error {
	switch strings.ToLower(format) {
	case formatJSON:
		return renderJSON(w, settings)
	case formatYAML, formatYML:
		return renderYAML(w, settings)
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Key", "Value"})
	for _, s := range settings {
		t.AppendRow(table.Row{s.Key, s.Value})
	}
	t.Render()
	return nil
}

// RenderHealth renders a health report in the specified format
func RenderHealth(w io.Writer, format string, report HealthReport) error {
	switch strings.ToLower(format) {
	case formatJSON:
		return renderJSON(w, report)
	case formatYAML, formatYML:
		return renderYAML(w, report)
	}

	fmt.Fprintf(w, "Status: %s (version %s, %s, up %s)\n", report.Status, report.Version, report.Environment, report.Uptime)
	if len(report.Checks) == 0 {
		return nil
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Check", "Status", "Duration", "Message"})
	for _, check := range report.Checks {
		message := check.Message
		if check.Error != "" {
			message = check.Error
		}
		t.AppendRow(table.Row{check.Name, check.Status, check.Duration.String(), message})
	}
	t.Render()
	return nil
}

// RenderChange renders one change notice. Table output is a single line so
// a watch can be followed in the terminal.
func RenderChange(w io.Writer, format string, change storage.Change) error {
	switch strings.ToLower(format) {
	case formatJSON:
		data, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("failed to marshal change: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML, formatYML:
		fmt.Fprintln(w, "---")
		return renderYAML(w, change)
	}

	origin := change.Origin
	if origin == "" {
		origin = "-"
	}
	_, err := fmt.Fprintf(w, "%s  %-9s  origin=%s\n", change.At.Format(time.RFC3339), change.Kind, origin)
	return err
}

// RenderCredentialResult renders the outcome of a credential check.
func RenderCredentialResult(w io.Writer, format, username string, valid bool, message string) error {
	result := struct {
		Username string `json:"username" yaml:"username"`
		Valid    bool   `json:"valid" yaml:"valid"`
		Message  string `json:"message,omitempty" yaml:"message,omitempty"`
	}{username, valid, message}

	switch strings.ToLower(format) {
	case formatJSON:
		return renderJSON(w, result)
	case formatYAML, formatYML:
		return renderYAML(w, result)
	}

	if valid {
		_, err := fmt.Fprintf(w, "✓ Credentials for %s are valid\n", username)
		return err
	}
	_, err := fmt.Fprintf(w, "✗ %s\n", message)
	return err
}

func newSessionView(profileID, state string, status domain.SessionStatus) SessionView {
	return SessionView{
		ProfileID:   profileID,
		State:       state,
		Remaining:   domain.FormatRemaining(status.Remaining()),
		RemainingMs: status.RemainingMs,
		StartedAt:   status.StartedAt,
		ExpiresAt:   status.ExpiresAt,
		IsExhausted: status.IsExhausted,
		IsValid:     status.IsValid,
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}

func renderYAML(w io.Writer, v interface{}) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return encoder.Close()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func stateLabel(state string) string {
	switch state {
	case stateActive:
		return "● active"
	case stateExhausted:
		return "✗ exhausted"
	default:
		return "○ " + state
	}
}
