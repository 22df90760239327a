package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
	"github.com/henryk/byro/pkg/reconcile"
)

type Globals struct {
	ConfigDir string `help:"Directory holding the .env file." env:"BYRO_CONFIG_DIR_PATH" type:"path"`
}

type Commands struct {
	Globals

	Serve      ServeCmd      `cmd:"" help:"Run the accrual and import workers and serve metrics."`
	Accrue     AccrueCmd     `cmd:"" help:"Accrue membership dues for one member or everyone."`
	Leave      LeaveCmd      `cmd:"" help:"Remove dues falling after a member's last membership ended."`
	Import     ImportCmd     `cmd:"" help:"Import a CSV bank statement as a new import source."`
	Reconcile  ReconcileCmd  `cmd:"" help:"Match the raw transactions of an import source into the ledger."`
	Balance    BalanceCmd    `cmd:"" help:"Show the balance of an account."`
	Unbalanced UnbalancedCmd `cmd:"" help:"List transactions whose debits and credits differ."`
	Export     ExportCmd     `cmd:"" help:"Export the bookings of an account to CSV."`
}

// setup loads the configuration and connects the application to its
// database.
func (g *Globals) setup(ctx context.Context) (*Config, *App, log.Logger, error) {
	conf, err := LoadConfig(g.ConfigDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := log.NewZapLogger(conf.logConf)
	db, err := ConnectToDB(conf.dbConf, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to setup database: %w", err)
	}

	app, err := NewApp(ctx, db, conf.bookkeeping, conf.rules, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return conf, app, logger, nil
}

// memberID resolves a member by membership number.
func (a *App) memberID(ctx context.Context, number string) (uint, error) {
	member, err := a.directory.FindByNumber(ctx, number)
	if err != nil {
		return 0, err
	}
	return member.ID, nil
}

type ServeCmd struct{}

func (cmd *ServeCmd) Run(kctx *kong.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conf, app, logger, err := globals.setup(ctx)
	if err != nil {
		return err
	}

	metrics := NewMetrics()
	accrualWorker := NewAccrualWorker(app.accrual, conf.workers.AccrualInterval, metrics, logger)
	importWorker := NewImportWorker(app.store, app.processor, conf.workers.ImportInterval, metrics, logger)

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){
		accrualWorker.Start,
		importWorker.Start,
		func(ctx context.Context) {
			metrics.RecordMetricsPeriodically(ctx, app.store, conf.metrics.Interval, logger)
		},
	} {
		run := run
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle(conf.metrics.Endpoint, promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    conf.metrics.ListenAddr,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", conf.metrics.ListenAddr, "endpoint", conf.metrics.Endpoint)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}

	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

type AccrueCmd struct {
	Member string `help:"Membership number; all members when omitted." arg:"" optional:""`
}

func (cmd *AccrueCmd) Run(kctx *kong.Context, globals *Globals) error {
	ctx := context.Background()
	_, app, _, err := globals.setup(ctx)
	if err != nil {
		return err
	}

	if cmd.Member == "" {
		res, err := app.accrual.AccrueAll(ctx)
		fmt.Fprintf(kctx.Stdout, "created %d, updated %d, unchanged %d\n", res.Created, res.Updated, res.Unchanged)
		return err
	}

	id, err := app.memberID(ctx, cmd.Member)
	if err != nil {
		return err
	}
	res, err := app.accrual.AccrueLiabilities(ctx, id)
	if err != nil {
		return err
	}
	balance, err := app.accrual.MemberBalance(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(kctx.Stdout, "created %d, updated %d, unchanged %d; balance %s\n", res.Created, res.Updated, res.Unchanged, balance.StringFixed(2))
	return nil
}

type LeaveCmd struct {
	Member string `help:"Membership number." arg:""`
}

func (cmd *LeaveCmd) Run(kctx *kong.Context, globals *Globals) error {
	ctx := context.Background()
	_, app, _, err := globals.setup(ctx)
	if err != nil {
		return err
	}

	id, err := app.memberID(ctx, cmd.Member)
	if err != nil {
		return err
	}
	removed, err := app.accrual.RemoveFutureLiabilitiesOnLeave(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(kctx.Stdout, "removed %d bookings\n", removed)
	return nil
}

type ImportCmd struct {
	File    string `help:"CSV bank statement." arg:"" type:"existingfile"`
	Process bool   `help:"Reconcile the source right after importing it."`
}

func (cmd *ImportCmd) Run(kctx *kong.Context, globals *Globals) error {
	ctx := context.Background()
	_, app, _, err := globals.setup(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(cmd.File)
	if err != nil {
		return err
	}
	defer f.Close()

	source, raws, err := reconcile.ImportStatement(ctx, app.store, filepath.Base(cmd.File), f)
	if err != nil {
		return err
	}
	fmt.Fprintf(kctx.Stdout, "import source #%d: %d raw transactions\n", source.ID, len(raws))

	if !cmd.Process {
		return nil
	}
	return printReport(ctx, kctx, app.processor, source.ID, reconcile.ProcessOptions{})
}

type ReconcileCmd struct {
	Source uint `help:"Import source ID." arg:""`
	Force  bool `help:"Re-run a source that was already processed."`
}

func (cmd *ReconcileCmd) Run(kctx *kong.Context, globals *Globals) error {
	ctx := context.Background()
	_, app, _, err := globals.setup(ctx)
	if err != nil {
		return err
	}
	return printReport(ctx, kctx, app.processor, cmd.Source, reconcile.ProcessOptions{Force: cmd.Force})
}

func printReport(ctx context.Context, kctx *kong.Context, p *reconcile.Processor, sourceID uint, opts reconcile.ProcessOptions) error {
	report, err := p.ProcessSource(ctx, sourceID, opts)
	fmt.Fprintf(kctx.Stdout, "import source #%d: %d matched, %d failed, %d skipped, %d transactions\n",
		report.SourceID, report.Matched, report.Failed, report.Skipped, report.Transactions)
	return err
}

type BalanceCmd struct {
	Category string `help:"Account category." arg:"" enum:"asset,liability,income,expense,equity"`
	Name     string `help:"Account name." arg:""`
	Start    string `help:"First value date to include (YYYY-MM-DD)."`
	End      string `help:"Last value date to include (YYYY-MM-DD). Defaults to now."`
}

func (cmd *BalanceCmd) Run(kctx *kong.Context, globals *Globals) error {
	ctx := context.Background()
	_, app, _, err := globals.setup(ctx)
	if err != nil {
		return err
	}

	window, err := parseWindow(cmd.Start, cmd.End)
	if err != nil {
		return err
	}
	account, err := app.store.FindAccount(ctx, ledger.AccountCategory(cmd.Category), cmd.Name)
	if err != nil {
		return err
	}
	balance, err := app.store.Balance(ctx, account.ID, window)
	if err != nil {
		return err
	}
	fmt.Fprintf(kctx.Stdout, "%s: %s\n", account, balance.StringFixed(2))
	return nil
}

// parseWindow builds a window from optional YYYY-MM-DD bounds. The end date
// covers its whole day; without one the window ends now.
func parseWindow(start, end string) (ledger.Window, error) {
	w := ledger.UntilNow()
	if start != "" {
		t, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return w, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		w.Start = &t
	}
	if end != "" {
		t, err := time.Parse(time.DateOnly, end)
		if err != nil {
			return w, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		t = t.Add(24*time.Hour - time.Nanosecond)
		w.End = &t
	}
	return w, nil
}

type UnbalancedCmd struct {
	Account uint `help:"Only transactions touching this account ID."`
}

func (cmd *UnbalancedCmd) Run(kctx *kong.Context, globals *Globals) error {
	ctx := context.Background()
	_, app, _, err := globals.setup(ctx)
	if err != nil {
		return err
	}

	var txs []ledger.Transaction
	if cmd.Account != 0 {
		txs, err = app.store.AccountUnbalancedTransactions(ctx, cmd.Account)
	} else {
		txs, err = app.store.UnbalancedTransactions(ctx)
	}
	if err != nil {
		return err
	}

	for _, t := range txs {
		fmt.Fprintf(kctx.Stdout, "#%d %s %q open %s\n", t.ID, t.ValueDatetime.UTC().Format(time.DateOnly), t.FindMemo(), t.OpenBalance().StringFixed(2))
	}
	return nil
}

type ExportCmd struct {
	Account uint   `help:"Account ID." arg:""`
	Dir     string `help:"Output directory." default:"." type:"path"`
}

func (cmd *ExportCmd) Run(kctx *kong.Context, globals *Globals) error {
	ctx := context.Background()
	_, app, logger, err := globals.setup(ctx)
	if err != nil {
		return err
	}

	exporter := NewBookingExporter(app.store, logger)
	fileName, err := exporter.ExportToFile(ctx, ExportOptions{AccountID: cmd.Account, OutputDir: cmd.Dir})
	if err != nil {
		return err
	}
	fmt.Fprintln(kctx.Stdout, fileName)
	return nil
}
