package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"

	"github.com/lox/gaspvt/internal/api"
	"github.com/lox/gaspvt/internal/grid"
	"github.com/lox/gaspvt/internal/importer"
	"github.com/lox/gaspvt/internal/session"
	"github.com/lox/gaspvt/internal/store"
	"github.com/lox/gaspvt/internal/variant"
	"github.com/lox/gaspvt/internal/well"
)

type ServeCmd struct {
	Port       string `env:"GASPVT_PORT" default:"8080" help:"HTTP server port."`
	RetainDays int    `env:"GASPVT_RETAIN_DAYS" default:"30" help:"Days to keep stored service responses (0 keeps them forever)."`
}

func (c *ServeCmd) Run(app *App) error {
	if app.store != nil && c.RetainDays > 0 {
		go store.NewPruner(app.store, c.RetainDays, store.DefaultPruneInterval).Run(app.ctx)
	}

	mgr := session.NewManager(app.client, app.Ledger(), app.cfg)
	server := api.NewServer(mgr, app.store, c.Port)
	return server.Run(app.ctx)
}

type CalcCmd struct {
	Well    string `required:"" help:"Well number."`
	Variant string `default:"pvt" enum:"pvt,pb" help:"Property set to calculate."`
	Input   string `required:"" help:"CSV file or ftp:// URL whose first column holds the pressures."`
}

func (c *CalcCmd) Run(app *App) error {
	src, err := importer.ParseLocation(c.Input)
	if err != nil {
		return err
	}
	values, err := importer.Load(app.ctx, src)
	if err != nil {
		return err
	}

	cfg := app.cfg
	if len(values) > cfg.Rows {
		cfg.Rows = len(values)
	}
	sess := session.New(app.client, grid.NewMemory(cfg.Rows), app.Ledger(), cfg)
	if _, err := sess.LoadWell(app.ctx, c.Well); err != nil {
		return err
	}
	sess.SetInputs(values)

	out, err := sess.Calculate(app.ctx, c.Variant)
	if err != nil {
		return err
	}
	v, _ := variant.Lookup(c.Variant)

	printGrid(os.Stdout, v.Headers, trimEmpty(sess.Rows()))
	fmt.Printf("\n%d of %d rows calculated (%s)\n", out.Complete, out.Requested, out.Path)
	for _, f := range out.Failures {
		fmt.Printf("row %d: %s failed: %s\n", f.Row+1, f.Stage, f.Message)
	}
	return nil
}

// trimEmpty drops trailing rows without input.
func trimEmpty(rows []grid.Row) []grid.Row {
	n := len(rows)
	for n > 0 && rows[n-1].Input == nil && rows[n-1].IsSentinel() {
		n--
	}
	return rows[:n]
}

func printGrid(w io.Writer, headers [grid.Columns]string, rows []grid.Row) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, h)
	}
	fmt.Fprintln(tw)

	for _, r := range rows {
		for col := 0; col < grid.Columns; col++ {
			if col > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, formatCell(r.Cell(col)))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case float64:
		return strconv.FormatFloat(v, 'g', 6, 64)
	default:
		return fmt.Sprint(v)
	}
}

type WellCmd struct {
	Well string `required:"" help:"Well number."`
}

func (c *WellCmd) Run(app *App) error {
	sess := session.New(app.client, grid.NewMemory(0), nil, app.cfg)
	wc, err := sess.LoadWell(app.ctx, c.Well)
	if err != nil {
		return err
	}
	printWell(os.Stdout, wc)

	if problems := well.Check(wc); len(problems) > 0 {
		fmt.Println()
		for _, p := range problems {
			fmt.Printf("warning: %s\n", p)
		}
	}
	return nil
}

func printWell(w io.Writer, wc well.Context) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "well\t%s\n", wc.WellNo)
	fmt.Fprintf(tw, "mid-depth (m)\t%g\n", wc.MD)
	fmt.Fprintf(tw, "wellhead temperature (K)\t%g\n", wc.TH)
	fmt.Fprintf(tw, "bottom-hole temperature (K)\t%g\n", wc.TB)
	fmt.Fprintf(tw, "relative gravity\t%g\n", wc.RG)
	fmt.Fprintf(tw, "critical pressure (MPa)\t%g\n", wc.PC)
	fmt.Fprintf(tw, "critical temperature (K)\t%g\n", wc.TC)
	fmt.Fprintf(tw, "N2 (%%)\t%g\n", wc.N2)
	fmt.Fprintf(tw, "CO2 (%%)\t%g\n", wc.CO2)
	fmt.Fprintf(tw, "H2S (%%)\t%g\n", wc.H2S)
	tw.Flush()
}

type RunsCmd struct {
	Well  string `help:"Only runs for this well."`
	Limit int    `default:"20" help:"Maximum runs to list."`
}

func (c *RunsCmd) Run(app *App) error {
	if app.store == nil {
		return errors.New("run ledger disabled (--db is empty)")
	}
	runs, err := app.store.RecentRuns(c.Well, c.Limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tWELL\tVARIANT\tPATH\tROWS\tFAILED STAGES\tRESULT")
	for _, r := range runs {
		result := "ok"
		if !r.Success {
			result = r.ErrorKind.String + ": " + r.ErrorMessage.String
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			r.ID, r.StartedAt.Time.Local().Format("2006-01-02 15:04:05"), r.WellNo, r.Variant,
			r.Path.String, r.RowsComplete.Int64, r.RowsRequested.Int64, r.StageFailures.Int64, result)
	}
	return tw.Flush()
}

type PruneCmd struct {
	Days int `default:"30" help:"Keep responses newer than this many days."`
}

func (c *PruneCmd) Run(app *App) error {
	if app.store == nil {
		return errors.New("run ledger disabled (--db is empty)")
	}
	n, err := app.store.CleanupOldRawPayloads(c.Days)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	log.Infof("prune: deleted %d stored responses", n)
	return nil
}
