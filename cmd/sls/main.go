package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sls-project/sls/pkg/config"
	"github.com/sls-project/sls/pkg/hostproc"
	"github.com/sls-project/sls/pkg/log"
	"github.com/sls-project/sls/pkg/metrics"
	"github.com/sls-project/sls/pkg/orchestrator"
	"github.com/sls-project/sls/pkg/registry"
	"github.com/sls-project/sls/pkg/types"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "sls",
	Short:   "sls - single-level store checkpoint/restore daemon",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("containerd-socket", "/run/containerd/containerd.sock", "containerd socket path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(partAddCmd)
	rootCmd.AddCommand(partDelCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(barrierCmd)

	partAddCmd.Flags().String("target", "file", "backend target kind: file, store, pm")
	partAddCmd.Flags().String("target-path", "", "backend target path")
	partAddCmd.Flags().String("mode", "full", "capture mode: full, delta")
	partAddCmd.Flags().Duration("period", 0, "periodic checkpoint interval; 0 disables periodic mode")
	partAddCmd.Flags().Int("amplification", 0, "writer pool size override; 0 = default")

	restoreCmd.Flags().Bool("rest-stopped", false, "leave the restored process stopped instead of resuming it")
}

// newOrchestrator opens the registry and containerd host shared by every
// subcommand, the way each warren CLI subcommand dials its own client
// rather than keeping a long-lived daemon connection open.
func newOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
		Output:     os.Stderr,
	})

	reg, err := registry.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening partition registry: %w", err)
	}

	socketPath, _ := cmd.Flags().GetString("containerd-socket")
	host, err := hostproc.NewContainerdHost(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd: %w", err)
	}

	o := orchestrator.New(reg, host)
	if err := o.Load(); err != nil {
		return nil, fmt.Errorf("loading partitions: %w", err)
	}
	return o, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sls daemon: load partitions, start periodic tickers, serve metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		declared, err := config.LoadPartitions()
		if err != nil {
			return err
		}
		for oid, pc := range declared {
			if _, statErr := o.Stat(oid); statErr == nil {
				continue // already loaded from the registry
			}
			if _, err := o.PartAdd(pc); err != nil {
				log.WithComponent("sls").Error().Err(err).Msg("failed to bring up declared partition")
			}
		}

		collector := metrics.NewCollector(o)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		log.WithComponent("sls").Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
		return server.ListenAndServe()
	},
}

var partAddCmd = &cobra.Command{
	Use:   "partadd",
	Short: "Create a new partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}

		targetStr, _ := cmd.Flags().GetString("target")
		targetPath, _ := cmd.Flags().GetString("target-path")
		modeStr, _ := cmd.Flags().GetString("mode")
		period, _ := cmd.Flags().GetDuration("period")
		amp, _ := cmd.Flags().GetInt("amplification")

		pc, err := config.PartitionFileConfig{
			Target:        targetStr,
			TargetPath:    targetPath,
			Mode:          modeStr,
			Period:        period,
			Amplification: amp,
		}.ToPartitionConfig()
		if err != nil {
			return err
		}

		oid, err := o.PartAdd(pc)
		if err != nil {
			return err
		}
		fmt.Printf("partition %d created\n", oid)
		return nil
	},
}

var partDelCmd = &cobra.Command{
	Use:   "partdel <oid>",
	Short: "Destroy a partition, waiting for any in-flight commit to finish",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		return o.PartDel(oid)
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <oid> <pid>",
	Short: "Attach a process to a partition",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		pid, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[1], err)
		}
		return o.Attach(oid, pid)
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <oid> <pid>",
	Short: "Take a one-shot checkpoint of pid into oid",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		pid, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[1], err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		epoch, err := o.Checkpoint(ctx, oid, pid)
		if err != nil {
			return err
		}
		fmt.Printf("committed epoch %d\n", epoch)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <oid> <pid>",
	Short: "Restore oid's last snapshot into pid",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		pid, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[1], err)
		}

		socketPath, _ := cmd.Flags().GetString("containerd-socket")
		host, err := hostproc.NewContainerdHost(socketPath)
		if err != nil {
			return fmt.Errorf("connecting to containerd: %w", err)
		}
		target := hostproc.NewContainerdTarget(host)

		restStopped, _ := cmd.Flags().GetBool("rest-stopped")

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if err := o.Restore(ctx, oid, pid, target, restStopped); err != nil {
			return err
		}
		fmt.Printf("partition %d restored into pid %d\n", oid, pid)
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <oid>",
	Short: "Report a partition's state, epoch, and writer pool counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		stats, err := o.Stat(oid)
		if err != nil {
			return err
		}
		fmt.Printf("oid=%d state=%s epoch=%d attached=%v written=%d dropped=%d\n",
			stats.OID, stats.State, stats.Epoch, stats.AttachedPIDs, stats.PagesWritten, stats.PagesDropped)
		return nil
	},
}

var barrierCmd = &cobra.Command{
	Use:   "barrier <oid>",
	Short: "Block until the next epoch boundary past oid's current epoch commits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator(cmd)
		if err != nil {
			return err
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		return o.Barrier(context.Background(), oid)
	},
}

func parseOID(s string) (types.OID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid oid %q: %w", s, err)
	}
	return types.OID(v), nil
}
