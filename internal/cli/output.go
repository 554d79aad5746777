package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/kjstillabower/aviation-weather-service/internal/models"
)

// render writes rows in the configured output format.
func render(w io.Writer, s Settings, rows []row) error {
	switch s.Output {
	case OutputJSON:
		return writeJSON(w, rows)
	case OutputRaw:
		return writeRaw(w, rows)
	default:
		return writeTable(w, rows, !s.NoColor)
	}
}

// statusPalette colors the status column; colors are disabled per instance so tests and pipes stay plain.
type statusPalette struct {
	fresh, stale, absent *color.Color
}

func newStatusPalette(enabled bool) statusPalette {
	p := statusPalette{
		fresh:  color.New(color.FgGreen),
		stale:  color.New(color.FgYellow),
		absent: color.New(color.FgRed, color.Bold),
	}
	if !enabled {
		p.fresh.DisableColor()
		p.stale.DisableColor()
		p.absent.DisableColor()
	}
	return p
}

func (p statusPalette) label(res models.Result) string {
	switch res.Outcome {
	case models.OutcomeFresh:
		return p.fresh.Sprint("FRESH")
	case models.OutcomeStale:
		return p.stale.Sprint("STALE " + strconv.Itoa(res.AgeMinutes()) + "m")
	default:
		return p.absent.Sprint("ABSENT " + string(res.Reason))
	}
}

// writeTable renders a human-readable table followed by a one-line summary.
func writeTable(w io.Writer, rows []row, useColor bool) error {
	palette := newStatusPalette(useColor)
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Station", "Kind", "Status", "Fetched", "Report"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	var data [][]string
	for _, r := range rows {
		fetched := "-"
		if r.Result.OK() {
			fetched = r.Result.Report.FetchedAt.UTC().Format(time.RFC3339)
		}
		data = append(data, []string{
			r.Station,
			strings.ToUpper(r.Kind.String()),
			palette.label(r.Result),
			fetched,
			r.Result.Text(),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d reports available\n", len(rows)-countMissing(rows), len(rows))
	return err
}

// writeRaw prints one report per line, annotated when stale; absent reports are skipped.
func writeRaw(w io.Writer, rows []row) error {
	for _, r := range rows {
		if !r.Result.OK() {
			continue
		}
		if _, err := fmt.Fprintln(w, r.Result.Text()); err != nil {
			return err
		}
	}
	return nil
}

type jsonReport struct {
	Station    string     `json:"station"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Report     string     `json:"report,omitempty"`
	Raw        string     `json:"raw,omitempty"`
	FetchedAt  *time.Time `json:"fetchedAt,omitempty"`
	AgeMinutes int        `json:"ageMinutes"`
	Reason     string     `json:"reason,omitempty"`
}

func writeJSON(w io.Writer, rows []row) error {
	out := make([]jsonReport, 0, len(rows))
	for _, r := range rows {
		jr := jsonReport{
			Station:    r.Station,
			Kind:       r.Kind.String(),
			Status:     r.Result.Outcome.String(),
			AgeMinutes: r.Result.AgeMinutes(),
			Reason:     string(r.Result.Reason),
		}
		if r.Result.OK() {
			fetched := r.Result.Report.FetchedAt.UTC()
			jr.Report = r.Result.Text()
			jr.Raw = r.Result.Report.Text
			jr.FetchedAt = &fetched
		}
		out = append(out, jr)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func countMissing(rows []row) int {
	n := 0
	for _, r := range rows {
		if !r.Result.OK() {
			n++
		}
	}
	return n
}
