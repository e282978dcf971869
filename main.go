package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
	_ "github.com/haoxai/import-engine/pkg/adapters/datasource/mssql"
	_ "github.com/haoxai/import-engine/pkg/adapters/datasource/postgres"
	"github.com/haoxai/import-engine/pkg/config"
	"github.com/haoxai/import-engine/pkg/logging"
	"github.com/haoxai/import-engine/pkg/models"
	"github.com/haoxai/import-engine/pkg/services"
	"github.com/haoxai/import-engine/pkg/sheets"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "preview":
		runCommand(os.Args[2:], true)
	case "import":
		runCommand(os.Args[2:], false)
	case "version":
		fmt.Println(Version)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  import-engine preview -file <csv file or directory> [-config config.yaml]")
	fmt.Fprintln(os.Stderr, "  import-engine import -file <csv file or directory> [-mode skip|update] [-sheet-table name=table]... [-config config.yaml]")
}

// sheetTableFlags collects repeated -sheet-table name=table overrides.
type sheetTableFlags map[string]string

func (f sheetTableFlags) String() string { return "" }

func (f sheetTableFlags) Set(value string) error {
	name, table, ok := strings.Cut(value, "=")
	if !ok || name == "" || table == "" {
		return fmt.Errorf("expected name=table, got %q", value)
	}
	f[name] = table
	return nil
}

func runCommand(args []string, previewOnly bool) {
	name := "import"
	if previewOnly {
		name = "preview"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	file := fs.String("file", "", "CSV file or directory of CSV files to import")
	configPath := fs.String("config", "config.yaml", "path to config file")
	mode := fs.String("mode", "", "duplicate handling: skip or update")
	forced := sheetTableFlags{}
	if !previewOnly {
		fs.Var(forced, "sheet-table", "force a sheet to a table (name=table, repeatable)")
	}
	_ = fs.Parse(args)

	if *file == "" {
		fs.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *mode == "" {
		*mode = cfg.Import.DefaultMode
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	adapter, err := datasource.Open(ctx, datasource.Config{
		Engine:   cfg.Database.Engine,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		Schema:   cfg.Database.Schema,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("failed to open datasource", zap.String("error", logging.SanitizeError(err)))
	}
	defer adapter.Close()

	sheetList, err := sheets.NewCSVSource(*file).GetSheets(ctx)
	if err != nil {
		logger.Fatal("failed to read sheets", zap.Error(err))
	}

	engine := services.NewOrchestrator(adapter, services.Config{
		ExcludedTables:  cfg.Import.ExcludedTables,
		AutoCreateKinds: cfg.Import.AutoCreateKinds,
		CreatedBy:       cfg.Import.CreatedBy,
	}, logger)

	var overrides *models.Overrides
	if len(forced) > 0 {
		overrides = &models.Overrides{SheetTables: forced}
	}

	var result any
	if previewOnly {
		result, err = engine.Preview(ctx, sheetList, overrides)
	} else {
		result, err = engine.Run(ctx, sheetList, models.ImportMode(*mode), overrides)
	}
	if err != nil {
		logger.Fatal("run failed", zap.String("error", logging.SanitizeError(err)))
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		logger.Fatal("failed to encode report", zap.Error(err))
	}
}

// buildLogger creates a production zap logger at the configured level.
func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	// Reports go to stdout; keep logs on stderr.
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
