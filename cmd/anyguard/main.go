package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anyproto/any-guard/app"
	"github.com/anyproto/any-guard/app/logger"
	"github.com/anyproto/any-guard/bundle"
	"github.com/anyproto/any-guard/config"
	"github.com/anyproto/any-guard/crank"
	"github.com/anyproto/any-guard/guard"
	"github.com/anyproto/any-guard/guardclient"
	"github.com/anyproto/any-guard/guardrpc"
	"github.com/anyproto/any-guard/ledger"
	"github.com/anyproto/any-guard/metric"
	"github.com/anyproto/any-guard/recordstore"
	"github.com/anyproto/any-guard/storage"
	"github.com/anyproto/any-guard/util/crypto"
)

var log = logger.NewNamed("main")

// logLevelEnv overrides configured log levels, e.g. ANYGUARD_LOG_LEVEL="guard*=DEBUG;WARN"
const logLevelEnv = "ANYGUARD_LOG_LEVEL"

var (
	configFile string
	variant    string
	target     string
	initiator  string
	programId  string
	rpcAddr    string
)

var rootCmd = &cobra.Command{
	Use:          "anyguard",
	Short:        "Balance non-decrease guard for bundles",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the guard node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Print the record location and bump of a target and initiator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return derive(cmd)
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a key for the crank authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateRandomKey()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nkey: %s\n", key.Address(), key.Encode())
		return err
	},
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Ask a running node to close the record of a target and initiator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return closeRecord(cmd)
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Print the number of live guard records of a running node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return pending(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), app.VersionDescription())
	},
}

func init() {
	runCmd.Flags().StringVarP(&configFile, "config", "c", "etc/config.yml", "path to config file")

	deriveCmd.Flags().StringVar(&variant, "variant", guard.VariantNative.String(), "guard variant: native, combined or token")
	deriveCmd.Flags().StringVar(&target, "target", "", "guarded target address")
	deriveCmd.Flags().StringVar(&initiator, "initiator", "", "initiator address")
	deriveCmd.Flags().StringVar(&programId, "program", guard.DefaultProgramId.String(), "guard program id")
	_ = deriveCmd.MarkFlagRequired("target")
	_ = deriveCmd.MarkFlagRequired("initiator")

	closeCmd.Flags().StringVar(&variant, "variant", guard.VariantNative.String(), "guard variant: native, combined or token")
	closeCmd.Flags().StringVar(&target, "target", "", "guarded target address")
	closeCmd.Flags().StringVar(&initiator, "initiator", "", "initiator address")
	_ = closeCmd.MarkFlagRequired("target")
	_ = closeCmd.MarkFlagRequired("initiator")
	for _, c := range []*cobra.Command{closeCmd, pendingCmd} {
		c.Flags().StringVar(&rpcAddr, "addr", "127.0.0.1:8090", "rpc address of the node")
	}

	rootCmd.AddCommand(runCmd, deriveCmd, closeCmd, pendingCmd, keygenCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	conf, err := config.NewFromFile(configFile)
	if err != nil {
		return fmt.Errorf("can't open config file: %w", err)
	}
	applyLogEnv(conf)
	conf.Log.ApplyGlobal()

	ctx := context.Background()
	a := new(app.App)
	a.Register(conf)
	Bootstrap(a)
	if err = a.Start(ctx); err != nil {
		return fmt.Errorf("can't start app: %w", err)
	}
	log.Info("app started", zap.String("version", a.Version()))

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-exit
	log.Info("received exit signal, stop app", zap.String("signal", fmt.Sprint(sig)))

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	return a.Close(ctx)
}

func Bootstrap(a *app.App) {
	a.Register(metric.New()).
		Register(storage.New()).
		Register(ledger.New()).
		Register(recordstore.New()).
		Register(guard.New()).
		Register(bundle.New()).
		Register(crank.New()).
		Register(guardrpc.New())
}

// applyLogEnv puts levels from the environment ahead of the configured ones, the first match wins
func applyLogEnv(conf *config.Config) {
	if env := os.Getenv(logLevelEnv); env != "" {
		conf.Log.Levels = append(logger.LevelsFromStr(env), conf.Log.Levels...)
	}
}

func derive(cmd *cobra.Command) error {
	v, err := guard.ParseVariant(variant)
	if err != nil {
		return err
	}
	program, err := crypto.ParseAddress(programId)
	if err != nil {
		return fmt.Errorf("program: %w", err)
	}
	t, err := crypto.ParseAddress(target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	i, err := crypto.ParseAddress(initiator)
	if err != nil {
		return fmt.Errorf("initiator: %w", err)
	}
	loc, bump, err := guardclient.New(program).FindRecordLocation(v, t, i)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "location: %s\nbump: %d\n", loc, bump)
	return err
}

func closeRecord(cmd *cobra.Command) error {
	v, err := guard.ParseVariant(variant)
	if err != nil {
		return err
	}
	t, err := crypto.ParseAddress(target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	i, err := crypto.ParseAddress(initiator)
	if err != nil {
		return fmt.Errorf("initiator: %w", err)
	}
	client, err := guardrpc.Dial(cmd.Context(), rpcAddr)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err = client.EnqueueClose(cmd.Context(), crank.Request{Variant: v, Target: t, Initiator: i}); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "queued")
	return err
}

func pending(cmd *cobra.Command) error {
	client, err := guardrpc.Dial(cmd.Context(), rpcAddr)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	n, err := client.Pending(cmd.Context())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "pending: %d\n", n)
	return err
}
