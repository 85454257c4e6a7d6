package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"

	"github.com/lox/biogasreport/internal/api"
	"github.com/lox/biogasreport/internal/installation"
	"github.com/lox/biogasreport/internal/models"
	"github.com/lox/biogasreport/internal/report"
)

type ReportCmd struct {
	Installation string   `arg:"" help:"Installation id or display name."`
	File         string   `arg:"" type:"existingfile" help:"CSV export to report on."`
	OutDir       string   `short:"o" help:"Write <report name>.json into this directory instead of stdout." type:"path"`
	Sections     []string `help:"Only include these report sections (production, availability, subsystem_availability, energy, slip, h2s, episodes, subsystem_episodes)."`
	NoStore      bool     `help:"Compute only, do not record the run or the report."`
}

func (c *ReportCmd) Run(g *Globals) error {
	sections := make([]report.Section, 0, len(c.Sections))
	for _, name := range c.Sections {
		sec, err := report.ParseSection(name)
		if err != nil {
			return err
		}
		sections = append(sections, sec)
	}

	reg, err := g.registry()
	if err != nil {
		return err
	}
	rec, err := reg.Lookup(c.Installation)
	if err != nil {
		return err
	}
	runner, err := report.NewRunner(rec)
	if err != nil {
		return err
	}
	payload, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}

	var res *report.Result
	if c.NoStore {
		res, err = runner.Run(bytes.NewReader(payload))
	} else {
		st, closeDB, oerr := g.openStore()
		if oerr != nil {
			return oerr
		}
		defer closeDB()
		res, err = report.NewJob(st).Execute(runner, "file", filepath.Base(c.File), payload)
	}
	if err != nil {
		return err
	}
	return c.write(res.Metrics, sections)
}

func (c *ReportCmd) write(m *models.Metrics, sections []report.Section) error {
	view := report.Select(m, sections...)

	var out io.Writer = os.Stdout
	if c.OutDir != "" {
		if err := os.MkdirAll(c.OutDir, 0o755); err != nil {
			return err
		}
		path := filepath.Join(c.OutDir, m.ReportName()+".json")
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
		log.Printf("report: writing %s", path)
	}

	for _, w := range m.Warnings {
		log.Printf("report: warning: %s", w)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

type FetchCmd struct {
	FTPFlags `embed:""`

	Installations []string `arg:"" optional:"" help:"Installations to fetch (default all)."`
}

func (c *FetchCmd) Run(g *Globals) error {
	reg, err := g.registry()
	if err != nil {
		return err
	}
	recipes, err := selectRecipes(reg, c.Installations)
	if err != nil {
		return err
	}
	src, err := c.Source()
	if err != nil {
		return err
	}
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := signalContext()
	defer cancel()

	job := report.NewJob(st)
	var failed int
	for _, rec := range recipes {
		runner, err := report.NewRunner(rec)
		if err != nil {
			return err
		}
		res, err := job.FetchLatest(ctx, src, runner)
		switch {
		case err != nil:
			failed++
			log.Printf("fetch: %s: %v", rec.ID, err)
		case res != nil:
			log.Printf("fetch: %s: stored %s", rec.ID, res.Metrics.ReportName())
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d installations failed", failed, len(recipes))
	}
	return nil
}

type ServeCmd struct {
	FTPFlags `embed:""`

	Port string        `help:"HTTP server port." default:"8080" env:"PORT"`
	Poll time.Duration `help:"Fetch new exports over FTP at this interval (0 disables)." default:"0"`
}

func (c *ServeCmd) Run(g *Globals) error {
	reg, err := g.registry()
	if err != nil {
		return err
	}
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()
	log.Println("database migrated")

	ctx, cancel := signalContext()
	defer cancel()

	if c.Poll > 0 {
		src, err := c.Source()
		if err != nil {
			return err
		}
		go report.NewJob(st).Poll(ctx, src, reg.All(), c.Poll)
	} else {
		log.Println("polling disabled")
	}

	server := api.NewServer(st, reg, c.Port, g.location())
	log.Printf("starting server on :%s", c.Port)
	return server.Run(ctx)
}

type InstallationsCmd struct{}

func (c *InstallationsCmd) Run(g *Globals) error {
	reg, err := g.registry()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSLIP\tAVAILABILITY\tENERGY\tEPISODES")
	for _, rec := range reg.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.Name, slipLabel(rec),
			strings.Join(lo.Map(rec.Availability, func(a installation.AvailabilitySpec, _ int) string { return a.Name }), ","),
			strings.Join(lo.Map(rec.Energy, func(e installation.EnergySpec, _ int) string { return e.Name }), ","),
			strings.Join(lo.Map(rec.Episodes, func(e installation.EpisodeSpec, _ int) string { return e.Name }), ","))
	}
	return tw.Flush()
}

type HistoryCmd struct {
	Installation string `arg:"" optional:"" help:"Only this installation."`
	Runs         int    `help:"Also list this many recent runs." default:"0"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	id := ""
	if c.Installation != "" {
		reg, err := g.registry()
		if err != nil {
			return err
		}
		rec, err := reg.Lookup(c.Installation)
		if err != nil {
			return err
		}
		id = rec.ID
	}
	st, closeDB, err := g.openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	reports, err := st.ListReports(id)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTALLATION\tPERIOD\tGENERATED\tRUN\tFLAGS")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.InstallationID, r.PeriodKey,
			r.GeneratedAt.Format("2006-01-02 15:04"), r.RunID, r.QualityFlags.String)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if c.Runs <= 0 {
		return nil
	}
	runs, err := st.GetRecentRuns(id, c.Runs)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Fprintln(tw, "RUN\tINSTALLATION\tSOURCE\tSTARTED\tSTATUS")
	for _, r := range runs {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.ErrorMessage.String
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.InstallationID, r.Source,
			r.StartedAt.In(g.location()).Format("2006-01-02 15:04"), status)
	}
	return tw.Flush()
}

func selectRecipes(reg *installation.Registry, keys []string) ([]installation.Recipe, error) {
	if len(keys) == 0 {
		return reg.All(), nil
	}
	out := make([]installation.Recipe, 0, len(keys))
	for _, k := range keys {
		rec, err := reg.Lookup(k)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func slipLabel(rec installation.Recipe) string {
	if rec.Slip.Method == "" || rec.Slip.Method == installation.SlipNotApplicable {
		return models.NotApplicableMarker
	}
	return string(rec.Slip.Method)
}
