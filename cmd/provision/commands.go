package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"crudbooks/config"
	"crudbooks/db"
	"crudbooks/model"
	"crudbooks/mongodb"
	"crudbooks/provision"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultHistory = 20

type app struct {
	configFile  string
	journalPath string
	backup      bool
	maxBackups  int
	logLevel    string
	skipIndexes bool
	limit       int

	cfg    *config.Config
	logger *zap.SugaredLogger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          "provision",
		Short:        "Provision the crudbooks MongoDB database: collections, indexes and the admin user",
		SilenceUsage: true,
		RunE:         a.runApply,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "Path to a config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&a.journalPath, "journal", "", "Path to the SQLite run journal, \"none\" disables it (default from "+config.JournalPathKey+")")
	rootCmd.PersistentFlags().BoolVar(&a.backup, "backup", true, "Whether to back up the journal before writing to it")
	rootCmd.PersistentFlags().IntVar(&a.maxBackups, "max-backups", 0, "Maximum number of journal backups to retain (default from "+config.JournalBackupsKey+")")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error (default from "+config.LogLevelKey+")")
	rootCmd.Flags().BoolVar(&a.skipIndexes, "skip-indexes", false, "Create collections and the admin user only")

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Create every declared collection, index and user that does not exist yet",
		Args:  cobra.NoArgs,
		RunE:  a.runApply,
	}
	applyCmd.Flags().BoolVar(&a.skipIndexes, "skip-indexes", false, "Create collections and the admin user only")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Report declarations missing from the database",
		Args:  cobra.NoArgs,
		RunE:  a.runVerify,
	}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the declarations without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printPlan(cmd.OutOrStdout(), a.plan())
			return nil
		},
	}
	planCmd.Flags().BoolVar(&a.skipIndexes, "skip-indexes", false, "Leave the indexes out")

	historyCmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or the steps of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.runHistory,
	}
	historyCmd.Flags().IntVar(&a.limit, "limit", defaultHistory, "Number of runs to list, 0 for all")

	rootCmd.AddCommand(applyCmd, verifyCmd, planCmd, historyCmd)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(viper.New(), a.configFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("journal") {
		cfg.JournalPath = a.journalPath
	}
	if cfg.JournalPath == "none" {
		cfg.JournalPath = ""
	}
	if cmd.Flags().Changed("max-backups") {
		if a.maxBackups < 0 {
			return fmt.Errorf("--max-backups must not be negative")
		}
		cfg.JournalBackups = a.maxBackups
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger.Sugar()
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func (a *app) plan() model.Plan {
	plan := provision.DefaultPlan()
	if a.skipIndexes {
		plan = provision.WithoutIndexes(plan)
	}
	return plan
}

// openJournal returns nil when the journal is disabled.
func (a *app) openJournal(ctx context.Context, backup bool) (db.Store, error) {
	if a.cfg.JournalPath == "" {
		return nil, nil
	}
	if backup && a.backup {
		backups := db.JournalBackups{Path: a.cfg.JournalPath, Keep: a.cfg.JournalBackups, Logger: a.logger}
		if _, err := backups.Create(time.Now()); err != nil {
			return nil, err
		}
	}
	conn, err := db.OpenSQLite(a.cfg.JournalPath, a.logger)
	if err != nil {
		return nil, err
	}
	store := db.NewSQLStore(conn)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("journal %s: %w", a.cfg.JournalPath, err)
	}
	return store, nil
}

func (a *app) runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := a.openJournal(ctx, true)
	if err != nil {
		return err
	}
	var journal provision.Journal
	if store != nil {
		defer func() { _ = store.Close() }()
		journal = store
	}

	client, err := mongodb.Connect(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	res, err := provision.NewProvisioner(client, journal, a.logger).Apply(ctx, a.plan())
	if res != nil {
		printResult(cmd.OutOrStdout(), res)
	}
	return err
}

func (a *app) runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	client, err := mongodb.Connect(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	plan := a.plan()
	database, err := client.DB(plan.Database)
	if err != nil {
		return err
	}
	rep, err := provision.Verify(ctx, database, plan)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), rep)
	if !rep.OK() {
		return fmt.Errorf("verify: %d declarations missing from %s", len(rep.Missing), plan.Database)
	}
	return nil
}

func (a *app) runHistory(cmd *cobra.Command, args []string) error {
	store, err := a.openJournal(cmd.Context(), false)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("history: the journal is disabled")
	}
	defer func() { _ = store.Close() }()

	if len(args) == 1 {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("history: invalid run id %q", args[0])
		}
		run, err := store.GetRun(uint(id))
		if err != nil {
			return fmt.Errorf("history: run %d: %w", id, err)
		}
		logs, err := store.ListAuditLogs(run.ID)
		if err != nil {
			return fmt.Errorf("history: steps of run %d: %w", id, err)
		}
		printRun(cmd.OutOrStdout(), run, logs)
		return nil
	}

	runs, err := store.ListRuns(a.limit)
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}
