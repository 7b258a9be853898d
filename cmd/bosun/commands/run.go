package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/inventory"
	"github.com/bosunhq/bosun/pkg/invoker"
	"github.com/bosunhq/bosun/pkg/playbook"
	"github.com/bosunhq/bosun/pkg/policy"
	"github.com/bosunhq/bosun/pkg/stores"
	"github.com/bosunhq/bosun/pkg/telemetry"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

func newRunCommand() *cobra.Command {
	var (
		deployType    string
		provisioning  string
		seedVars      map[string]string
		environment   string
		policyPaths   []string
		noPolicy      bool
		historyDB     string
		metricsListen string
		sshUser       string
		sshKeyPath    string
		insecureHosts bool
		probeMode     string
		probeAttempts int
		probeDelay    time.Duration
		traceExporter string
		otlpEndpoint  string
	)

	cmd := &cobra.Command{
		Use:   "run <playbook>",
		Short: "Execute a playbook against the inventory",
		Long: `Execute a playbook. Each play binds a task list to one host group; groups
run concurrently and independently, tasks within a group run in order.

A failing task halts its own group and leaves the remaining tasks
unattempted; other groups keep running. The process exits non-zero when
any group fails.`,
		Example: `  # Run a playbook with the default inventory
  bosun run site.yaml

  # Select a topology and seed extra facts
  bosun run site.cue --deploy-type compact --set etcd_size=3

  # Record history and expose Prometheus metrics
  bosun run site.yaml --history-db bosun.db --metrics-listen :9090`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			playbookPath := args[0]

			pb, err := playbook.NewParser().LoadFile(playbookPath)
			if err != nil {
				return err
			}
			inv, err := inventory.Load(inventoryPath)
			if err != nil {
				return err
			}

			registry := invoker.NewDefaultRegistry()
			if err := playbook.NewParser().Check(pb, inv, registry); err != nil {
				return err
			}

			if !noPolicy {
				if err := runPolicyGate(ctx, pb, environment, policyPaths, "run"); err != nil {
					return err
				}
			}

			metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{
				Enabled:       metricsListen != "",
				ListenAddress: metricsListen,
				Path:          "/metrics",
				Namespace:     "bosun",
			})
			if err != nil {
				return err
			}
			if err := metrics.StartMetricsServer(); err != nil {
				return err
			}

			logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
				Level:  "info",
				Format: "console",
				Output: "stderr",
			})
			if err != nil {
				return err
			}

			tracingCfg := telemetry.DefaultConfig().Tracing
			if traceExporter != "" {
				tracingCfg.Enabled = true
				tracingCfg.Exporter = traceExporter
				tracingCfg.Endpoint = otlpEndpoint
			}
			tracer, err := telemetry.NewTracer(tracingCfg, "bosun", cmd.Root().Version, environment)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracer.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("trace shutdown failed")
				}
			}()

			sinks := []engine.EventSink{telemetry.NewLogSink(logger)}
			var store *stores.SQLiteStore
			if historyDB != "" {
				store, err = openHistoryStore(ctx, historyDB)
				if err != nil {
					return err
				}
				defer store.Close()

				async := telemetry.NewAsyncSink(store, 256)
				defer async.Close()
				sinks = append(sinks, async)
			}

			eng := engine.New(engine.Options{
				Expr:    playbook.NewStarlarkEvaluator(0),
				Events:  telemetry.NewFanoutSink(sinks...),
				Metrics: metrics,
			})

			baseCfg := ssh.DefaultConfig("", sshUser)
			baseCfg.PrivateKeyPath = sshKeyPath
			baseCfg.StrictHostKeyChecking = !insecureHosts
			factory := invoker.SSHFactory(baseCfg)

			cliFacts := map[string]engine.Value{}
			if deployType != "" {
				cliFacts["deploy_type"] = engine.String(deployType)
			}
			if provisioning != "" {
				cliFacts["provisioning"] = engine.String(provisioning)
			}
			for k, v := range seedVars {
				cliFacts[k] = engine.String(v)
			}

			board := inventory.NewStatusBoard()
			probeCfg := inventory.ProbeConfig{Attempts: probeAttempts, Delay: probeDelay}

			groups := make([]engine.GroupRun, 0, len(pb.Plays))
			for i := range pb.Plays {
				play := &pb.Plays[i]

				group, err := inv.Resolve(play.Group)
				if err != nil {
					return err
				}
				tasks, err := play.EngineTasks(registry)
				if err != nil {
					return err
				}
				seed, err := group.SeedFacts()
				if err != nil {
					return err
				}
				for k, v := range cliFacts {
					seed[k] = v
				}

				gi := invoker.NewGroupInvoker(group, registry, factory)
				defer gi.Close()

				dialer, err := probeDialer(probeMode, group, factory)
				if err != nil {
					return err
				}

				groups = append(groups, engine.GroupRun{
					Group:     play.Group,
					Tasks:     tasks,
					Invoker:   gi,
					Probe:     inventory.NewProber(group, dialer, board, probeCfg),
					SeedFacts: seed,
				})
			}

			runCtx, span := tracer.StartRunSpan(ctx, "", playbookPath)
			report, err := eng.Run(runCtx, "", groups)
			if err != nil {
				telemetry.RecordError(span, err)
				span.End()
				return err
			}
			span.SetAttributes(telemetry.AttrRunStatus.String(string(report.Status)))
			if report.Status == engine.RunSucceeded {
				telemetry.RecordSuccess(span)
			} else {
				if _, kind, msg := report.FirstError(); kind != engine.ErrKindNone {
					span.SetAttributes(telemetry.AttrErrorKind.String(string(kind)))
					telemetry.RecordError(span, fmt.Errorf("%s", msg))
				}
			}
			span.End()

			metrics.RecordRunCompleted(report.Status, report.Duration)

			if store != nil {
				if err := store.RecordRun(ctx, playbookPath, report); err != nil {
					log.Warn().Err(err).Msg("failed to record run history")
				}
			}

			if err := printRunReport(report); err != nil {
				return err
			}
			if report.Status != engine.RunSucceeded {
				group, kind, msg := report.FirstError()
				if kind != engine.ErrKindNone {
					return fmt.Errorf("run %s: group %s: %s (%s)", report.Status, group, msg, kind)
				}
				return fmt.Errorf("run %s", report.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&deployType, "deploy-type", "", "topology selector seeded as the deploy_type fact")
	cmd.Flags().StringVar(&provisioning, "provisioning", "", "provisioning mode seeded as the provisioning fact")
	cmd.Flags().StringToStringVar(&seedVars, "set", nil, "extra seed facts (key=value)")
	cmd.Flags().StringVar(&environment, "environment", "", "environment name visible to policies")
	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "additional policy files or directories")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy gate")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "SQLite database recording run history")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address")
	cmd.Flags().StringVar(&sshUser, "ssh-user", "root", "default SSH user")
	cmd.Flags().StringVar(&sshKeyPath, "ssh-key", "", "default SSH private key path")
	cmd.Flags().BoolVar(&insecureHosts, "insecure-host-keys", false, "skip host key verification")
	cmd.Flags().StringVar(&probeMode, "probe", "ssh", "reachability probe mode (ssh, tcp)")
	cmd.Flags().IntVar(&probeAttempts, "probe-attempts", 3, "probe attempts per endpoint")
	cmd.Flags().DurationVar(&probeDelay, "probe-delay", 2*time.Second, "delay between probe attempts")
	cmd.Flags().StringVar(&traceExporter, "trace", "", "trace exporter (otlp, stdout)")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "localhost:4317", "OTLP gRPC collector endpoint")

	return cmd
}

// runPolicyGate evaluates the playbook against all policies and blocks on
// error or critical violations.
func runPolicyGate(ctx context.Context, pb *playbook.Playbook, environment string, paths []string, operation string) error {
	gate := policy.NewEngine(log.Logger)
	if len(paths) > 0 {
		if err := gate.LoadPolicies(ctx, paths); err != nil {
			return err
		}
	}

	res, err := gate.EvaluatePlaybook(ctx, pb, policy.Context{
		Environment: environment,
		Operation:   operation,
	})
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		log.Warn().Msg(w)
	}
	for _, v := range res.Violations {
		ev := log.Warn()
		if v.Severity.Blocking() {
			ev = log.Error()
		}
		ev.Str("policy", v.Policy).
			Str("group", v.Group).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}

	if !res.Allowed {
		return fmt.Errorf("playbook blocked by policy")
	}
	return nil
}

// probeDialer builds the reachability dialer for one group.
func probeDialer(mode string, group *inventory.Group, factory invoker.RemoteFactory) (inventory.Dialer, error) {
	switch mode {
	case "tcp":
		return inventory.TCPDialer(5 * time.Second), nil
	case "ssh":
		return &sshProbeDialer{group: group, factory: factory}, nil
	default:
		return nil, fmt.Errorf("unknown probe mode: %s", mode)
	}
}

// sshProbeDialer probes reachability with a full SSH handshake, so auth
// problems surface before the first task instead of mid-run.
type sshProbeDialer struct {
	group   *inventory.Group
	factory invoker.RemoteFactory
}

func (d *sshProbeDialer) Dial(ctx context.Context, address string) error {
	for _, ep := range d.group.Hosts {
		if ep.Address() != address {
			continue
		}
		remote, err := d.factory(ep)
		if err != nil {
			return err
		}
		if err := remote.Connect(ctx); err != nil {
			return err
		}
		return remote.Close()
	}
	return fmt.Errorf("address %s not in group %s", address, d.group.Name)
}

// openHistoryStore opens and migrates the run history database.
func openHistoryStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// printRunReport writes the run outcome to stdout.
func printRunReport(report *engine.RunReport) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("run %s: %s (%s)\n", report.RunID, report.Status, report.Duration.Round(time.Millisecond))
	for _, g := range report.Groups {
		completed, failed, skipped := 0, 0, 0
		for _, t := range g.Tasks {
			switch t.State {
			case engine.TaskCompleted:
				completed++
			case engine.TaskFailed:
				failed++
			case engine.TaskSkipped:
				skipped++
			}
		}
		fmt.Printf("  %-16s %-12s completed=%d failed=%d skipped=%d (%s)\n",
			g.Group, g.Status, completed, failed, skipped, g.Duration.Round(time.Millisecond))
		if g.Error != "" {
			fmt.Printf("    error: %s\n", g.Error)
		}
	}
	return nil
}
