// Package templates renders the HTML pages as templ components.
package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"
)

// LoadRow is one line of the recent loads table.
type LoadRow struct {
	ID        string
	Source    string
	Total     int
	Loaded    int
	Failed    int
	Persisted int
	Exported  int
	Warning   string
	StartedAt time.Time
	Duration  time.Duration
}

// Status summarises the service for the page header.
type Status struct {
	Persistence bool
	Export      bool
	Codec       string
	ActiveLoads int
	MaxLoads    int
}

func write(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Layout wraps body in the page shell.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`,
			templ.EscapeString(title),
			`</title></head><body><main>`,
		); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		return write(w, `</main></body></html>`)
	})
}

// LoadsPage lists recent loads.
func LoadsPage(status Status, loads []LoadRow) templ.Component {
	return Layout("Patient loads", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<h1>Patient loads</h1><p class="status">codec `, templ.EscapeString(status.Codec),
			` &middot; persistence `, onOff(status.Persistence),
			` &middot; export `, onOff(status.Export),
			` &middot; active loads `, strconv.Itoa(status.ActiveLoads), "/", strconv.Itoa(status.MaxLoads),
			`</p>`,
		); err != nil {
			return err
		}
		if len(loads) == 0 {
			return write(w, `<p class="empty">No loads yet.</p>`)
		}
		if err := write(w, `<table><thead><tr><th>Started</th><th>Source</th><th>Rows</th><th>Loaded</th><th>Failed</th><th>Persisted</th><th>Exported</th><th>Duration</th></tr></thead><tbody>`); err != nil {
			return err
		}
		for _, l := range loads {
			if err := loadRow(l).Render(ctx, w); err != nil {
				return err
			}
		}
		return write(w, `</tbody></table>`)
	}))
}

func loadRow(l LoadRow) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		class := ""
		if l.Failed > 0 || l.Warning != "" {
			class = ` class="has-failures"`
		}
		if err := write(w,
			`<tr id="load-`, templ.EscapeString(l.ID), `"`, class, `>`,
			`<td>`, l.StartedAt.UTC().Format(time.RFC3339), `</td>`,
			`<td>`, templ.EscapeString(l.Source), `</td>`,
			`<td>`, strconv.Itoa(l.Total), `</td>`,
			`<td>`, strconv.Itoa(l.Loaded), `</td>`,
			`<td>`, strconv.Itoa(l.Failed), `</td>`,
			`<td>`, strconv.Itoa(l.Persisted), `</td>`,
			`<td>`, strconv.Itoa(l.Exported), `</td>`,
			`<td>`, fmt.Sprintf("%dms", l.Duration.Milliseconds()), `</td>`,
			`</tr>`,
		); err != nil {
			return err
		}
		if l.Warning == "" {
			return nil
		}
		return write(w, `<tr class="warning"><td colspan="8">`, templ.EscapeString(l.Warning), `</td></tr>`)
	})
}

// ErrorAlert is the HTML form of a user-facing error.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return write(w,
			`<div class="alert alert-error" role="alert"><p>`, templ.EscapeString(message),
			`</p><p class="action">`, templ.EscapeString(action),
			`</p><p class="code">Code: `, templ.EscapeString(code), `</p></div>`,
		)
	})
}
