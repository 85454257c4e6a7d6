package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/biogasreport/internal/ingest"
	"github.com/lox/biogasreport/internal/installation"
	"github.com/lox/biogasreport/internal/store"
)

type Globals struct {
	DB       string `help:"Path to SQLite database." default:"data/biogasreport.db" env:"BIOGAS_DB"`
	Timezone string `help:"Zone history is listed in." default:"Europe/Amsterdam" env:"BIOGAS_TZ"`
	Recipes  string `help:"YAML file with installation recipes that extend or replace the built-in ones." type:"path" env:"BIOGAS_RECIPES"`
}

type FTPFlags struct {
	Addr       string        `name:"ftp-addr" help:"FTP server host:port." env:"BIOGAS_FTP_ADDR"`
	User       string        `name:"ftp-user" help:"FTP user." env:"BIOGAS_FTP_USER"`
	Password   string        `name:"ftp-password" help:"FTP password." env:"BIOGAS_FTP_PASSWORD"`
	Dir        string        `name:"ftp-dir" help:"Directory holding the exports." default:"/" env:"BIOGAS_FTP_DIR"`
	Timeout    time.Duration `name:"ftp-timeout" help:"Dial timeout." default:"30s" env:"BIOGAS_FTP_TIMEOUT"`
	MaxElapsed time.Duration `name:"ftp-max-elapsed" help:"Give up retrying after this long." default:"2m" env:"BIOGAS_FTP_MAX_ELAPSED"`
}

func (f FTPFlags) Source() (*ingest.FTPSource, error) {
	if f.Addr == "" {
		return nil, fmt.Errorf("--ftp-addr or BIOGAS_FTP_ADDR is required")
	}
	return ingest.NewFTPSource(ingest.FTPConfig{
		Addr:       f.Addr,
		User:       f.User,
		Password:   f.Password,
		Dir:        f.Dir,
		Timeout:    f.Timeout,
		MaxElapsed: f.MaxElapsed,
	}), nil
}

type CLI struct {
	Globals

	Report        ReportCmd        `cmd:"" help:"Compute the monthly report of one CSV export."`
	Fetch         FetchCmd         `cmd:"" help:"Fetch the latest exports over FTP and report on them."`
	Serve         ServeCmd         `cmd:"" help:"Serve stored reports over HTTP."`
	Installations InstallationsCmd `cmd:"" help:"List the configured installations."`
	History       HistoryCmd       `cmd:"" help:"List stored reports and recent runs."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("biogasreport"),
		kong.Description("Monthly operations reports for biogas upgrading installations."),
		kong.UsageOnError(),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		log.Fatalf("%s: %v", ctx.Command(), err)
	}
}

func (g *Globals) location() *time.Location {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		log.Printf("Warning: could not load %s timezone, using UTC: %v", g.Timezone, err)
		return time.UTC
	}
	return loc
}

func (g *Globals) registry() (*installation.Registry, error) {
	if g.Recipes == "" {
		return installation.Default()
	}
	return installation.Load(g.Recipes)
}

// openStore opens and migrates the database. The returned func closes it.
func (g *Globals) openStore() (*store.Store, func(), error) {
	if dir := filepath.Dir(g.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, g.location())
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
