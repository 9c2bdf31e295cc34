package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	log "github.com/sirupsen/logrus"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/gaspvt/internal/pvtclient"
	"github.com/lox/gaspvt/internal/session"
	"github.com/lox/gaspvt/internal/store"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file'"`

	ServiceURL  string        `name:"service-url" env:"GASPVT_SERVICE_URL" required:"" help:"Base URL of the calculation service."`
	Username    string        `env:"GASPVT_USERNAME" help:"Log in to the service with this user before working."`
	Password    string        `env:"GASPVT_PASSWORD" help:"Password for --username."`
	DB          string        `name:"db" env:"GASPVT_DB" default:"data/gaspvt.db" help:"SQLite run ledger. Empty disables it."`
	CallTimeout time.Duration `env:"GASPVT_CALL_TIMEOUT" default:"30s" help:"Timeout per remote call, retries included."`
	Mode        string        `env:"GASPVT_MODE" enum:"auto,batch,sequential" default:"auto" help:"Batch endpoint, per-row stages, or batch with fallback."`
	MaxRows     int           `name:"max-rows" env:"GASPVT_MAX_ROWS" default:"0" help:"Rows calculated concurrently on the per-row path (0 = all)."`
	Rows        int           `env:"GASPVT_ROWS" default:"20" help:"Grid rows per session."`
	LogLevel    string        `env:"GASPVT_LOG_LEVEL" enum:"debug,info,warn,error" default:"info" help:"Log level."`

	Serve ServeCmd `cmd:"" help:"Serve the HTTP session API."`
	Calc  CalcCmd  `cmd:"" help:"Calculate a pressure column for a well and print the grid."`
	Well  WellCmd  `cmd:"" help:"Print a well's parameters."`
	Runs  RunsCmd  `cmd:"" help:"List recent calculation runs."`
	Prune PruneCmd `cmd:"" help:"Delete stored service responses older than N days."`
}

// App carries what the commands share.
type App struct {
	ctx    context.Context
	client *pvtclient.Client
	store  *store.Store
	cfg    session.Config
}

// Ledger returns the store as a session ledger, or nil when disabled.
func (a *App) Ledger() session.Ledger {
	if a.store == nil {
		return nil
	}
	return a.store
}

func newApp(ctx context.Context, cli *CLI) (*App, error) {
	mode, err := session.ParseMode(cli.Mode)
	if err != nil {
		return nil, err
	}

	app := &App{
		ctx: ctx,
		cfg: session.Config{Rows: cli.Rows, Mode: mode, MaxConcurrentRows: cli.MaxRows},
	}

	if cli.DB != "" {
		if err := os.MkdirAll(filepath.Dir(cli.DB), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		st, err := store.Open(cli.DB)
		if err != nil {
			return nil, fmt.Errorf("open run ledger: %w", err)
		}
		log.Infof("database migrated")
		app.store = st
	}

	cfg := pvtclient.Config{BaseURL: cli.ServiceURL, CallTimeout: cli.CallTimeout}
	if app.store != nil {
		cfg.Recorder = app.store
	}
	app.client = pvtclient.New(cfg)

	if cli.Username != "" {
		if err := app.client.Login(ctx, cli.Username, cli.Password); err != nil {
			app.Close()
			return nil, fmt.Errorf("login: %w", err)
		}
	}
	return app, nil
}

func (a *App) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("gaspvt"),
		kong.Description("Gas PVT and bottom-hole pressure calculations against a remote service."),
		kong.UsageOnError(),
	)

	level, err := log.ParseLevel(cli.LogLevel)
	if err != nil {
		kctx.Fatalf("log level: %v", err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, &cli)
	kctx.FatalIfErrorf(err)
	defer app.Close()

	kctx.FatalIfErrorf(kctx.Run(app))
}
