// Command toasty-conformance drives the conformance package's spec §8
// scenario suite against a live backend from the command line -- the
// package's own _test.go files exercise the same scenarios in more detail
// against driver/sqlite specifically; this binary is how a CI job or a
// developer runs them against Postgres, MySQL, or DynamoDB instead.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toasty-orm/toasty/conformance"
	"github.com/toasty-orm/toasty/driver"
	"github.com/toasty-orm/toasty/driver/dynamo"
	"github.com/toasty-orm/toasty/driver/mysql"
	"github.com/toasty-orm/toasty/driver/postgres"
	"github.com/toasty-orm/toasty/driver/sqlite"
	"github.com/toasty-orm/toasty/logger"
)

const envPrefix = "TOASTY_CONFORMANCE"

var rootCmd = &cobra.Command{
	Use:   "toasty-conformance",
	Short: "Runs Toasty's spec-level conformance suite against a chosen backend",
	Long: `toasty-conformance runs the driver-independent scenario set from
spec.md §8 (find-by-key, IN-list folding, unique-constraint rollback,
the MySQL last_insert_id_hack, has-many preload, and conditional update)
against one backend at a time, reporting a PASS/FAIL line per scenario.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every conformance scenario against --backend",
	RunE:  runConformance,
}

func init() {
	runCmd.Flags().String("backend", "sqlite", "Backend to run against: sqlite|postgres|mysql|dynamodb")
	runCmd.Flags().String("dsn", ":memory:", "Connection string/DSN for sqlite/postgres/mysql")
	runCmd.Flags().String("log-level", "info", "Logging level: debug|info|warn|error|none")
	runCmd.Flags().String("config", "", "Path to a TOML config file (flags override its values)")
	runCmd.Flags().String("dynamo-region", "", "AWS region (dynamodb backend only)")
	runCmd.Flags().String("dynamo-endpoint", "", "Override endpoint, e.g. a local DynamoDB (dynamodb backend only)")

	_ = viper.BindPFlag("backend", runCmd.Flags().Lookup("backend"))
	_ = viper.BindPFlag("dsn", runCmd.Flags().Lookup("dsn"))
	_ = viper.BindPFlag("log_level", runCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("dynamo.region", runCmd.Flags().Lookup("dynamo-region"))
	_ = viper.BindPFlag("dynamo.endpoint", runCmd.Flags().Lookup("dynamo-endpoint"))

	rootCmd.AddCommand(runCmd)
}

func main() {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runConformance(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	fileCfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config %q: %w", configPath, err)
	}
	if fileCfg.Backend != "" && !cmd.Flags().Changed("backend") {
		viper.Set("backend", fileCfg.Backend)
	}
	if fileCfg.DSN != "" && !cmd.Flags().Changed("dsn") {
		viper.Set("dsn", fileCfg.DSN)
	}
	if fileCfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		viper.Set("log_level", fileCfg.LogLevel)
	}
	if fileCfg.Dynamo.Region != "" && !cmd.Flags().Changed("dynamo-region") {
		viper.Set("dynamo.region", fileCfg.Dynamo.Region)
	}
	if fileCfg.Dynamo.Endpoint != "" && !cmd.Flags().Changed("dynamo-endpoint") {
		viper.Set("dynamo.endpoint", fileCfg.Dynamo.Endpoint)
	}
	if fileCfg.Dynamo.StaticKey != "" {
		viper.Set("dynamo.static_key", fileCfg.Dynamo.StaticKey)
	}
	if fileCfg.Dynamo.StaticSecret != "" {
		viper.Set("dynamo.static_secret", fileCfg.Dynamo.StaticSecret)
	}

	log := logger.NewDefaultLogger("toasty-conformance")
	log.SetLevel(logger.ParseLogLevel(viper.GetString("log_level")))

	ctx := context.Background()
	backend := viper.GetString("backend")

	failures := 0
	for _, sc := range conformance.AllScenarios() {
		s, err := sc.Open()
		if err != nil {
			log.Error("%s: schema setup failed: %v", sc.Name, err)
			failures++
			continue
		}

		d, closeFn, err := openBackend(ctx, backend, log)
		if err != nil {
			return fmt.Errorf("opening backend %q: %w", backend, err)
		}
		if err := d.RegisterSchema(ctx, s.Db); err != nil {
			log.Error("%s: schema registration failed: %v", sc.Name, err)
			failures++
			closeFn()
			continue
		}

		if err := sc.Run(ctx, s, d); err != nil {
			log.Error("FAIL %-35s %v", sc.Name, err)
			failures++
		} else {
			log.Info("PASS %s", sc.Name)
		}
		closeFn()
	}

	if failures > 0 {
		return fmt.Errorf("%d scenario(s) failed", failures)
	}
	fmt.Println("all conformance scenarios passed")
	return nil
}

type closer func()

func openBackend(ctx context.Context, backend string, log logger.Logger) (driver.Driver, closer, error) {
	dsn := viper.GetString("dsn")
	switch backend {
	case "sqlite":
		d, err := sqlite.Open(dsn)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	case "postgres", "postgresql":
		d, err := postgres.Open(dsn)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	case "mysql":
		d, err := mysql.Open(dsn)
		if err != nil {
			return nil, nil, err
		}
		return d, func() { _ = d.Close() }, nil
	case "dynamodb", "dynamo":
		d, err := dynamo.Open(ctx, dynamo.Options{
			Region:       viper.GetString("dynamo.region"),
			Endpoint:     viper.GetString("dynamo.endpoint"),
			StaticKey:    viper.GetString("dynamo.static_key"),
			StaticSecret: viper.GetString("dynamo.static_secret"),
		})
		if err != nil {
			return nil, nil, err
		}
		return d, func() {}, nil
	default:
		log.Error("unknown backend %q", backend)
		return nil, nil, fmt.Errorf("unknown backend %q (want sqlite|postgres|mysql|dynamodb)", backend)
	}
}
