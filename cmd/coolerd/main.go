// coolerd is a closed-loop PC cooling control daemon.
//
// Monitors hwmon, CPU RAPL, discrete GPU, and USB-HID liquidctl-managed
// cooling hardware and drives fan/pump duty cycles from user-configured
// temperature-to-duty profiles.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/config"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/output"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/processor"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/repository"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/repository/cpu"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/repository/customsensors"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/repository/gpu"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/repository/hwmon"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/repository/liquidctl"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/scheduler"
)

// version is the binary's release version; schemaVersion tracks the YAML
// config document shape.
var (
	version       = "0.1.0"
	schemaVersion = "1"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coolerd",
		Short: "Closed-loop PC cooling control daemon",
		Long: `coolerd monitors PC cooling hardware (hwmon, CPU, GPU, USB-HID coolers) and
drives fan/pump duty cycles from configured temperature-to-duty profiles,
custom composed sensors, and safety-latched hysteresis shaping.`,
		Version: version,
	}

	var quiet bool
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress info-level logging")

	var (
		runConfigPath   string
		runPollRate     string
		runDryRun       bool
		runLiquidctlURL string
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Load a config and run the control loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(runConfigPath, runPollRate, runLiquidctlURL, runDryRun, quiet)
		},
	}
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to the engine config YAML (required)")
	runCmd.Flags().StringVar(&runPollRate, "poll-rate", "", "Override the config's poll_rate_seconds (e.g. 1s, 500ms)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Initialize devices and print bindings, then exit without running the scheduler")
	runCmd.Flags().StringVar(&runLiquidctlURL, "liquidctl-url", "http://127.0.0.1:6909", "Base URL of the liquidctl JSON-RPC helper")
	_ = runCmd.MarkFlagRequired("config")

	var listLiquidctlURL string
	listCmd := &cobra.Command{
		Use:   "list-devices",
		Short: "Discover hardware and print devices, channels, and temps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListDevices(listLiquidctlURL, quiet)
		},
	}
	listCmd.Flags().StringVar(&listLiquidctlURL, "liquidctl-url", "http://127.0.0.1:6909", "Base URL of the liquidctl JSON-RPC helper")

	validateCmd := &cobra.Command{
		Use:   "validate-config <path>",
		Short: "Validate a config document without touching hardware",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig(args[0])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build and config schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("coolerd %s (config schema v%s)\n", version, schemaVersion)
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, listCmd, validateCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildRepositories constructs one adapter per device family. Hardware
// root paths come from the environment so tests can substitute a fake
// tree, defaulting to the real /proc and /sys.
func buildRepositories(registry *model.Registry, liquidctlURL string, log *output.Logger) []repository.Repository {
	sysRoot := envOr("COOLERD_SYS_ROOT", "/sys")
	procRoot := envOr("COOLERD_PROC_ROOT", "/proc")
	return []repository.Repository{
		hwmon.New(sysRoot),
		cpu.New(procRoot, sysRoot),
		gpu.New(sysRoot, gpu.NewNVMLBinding()),
		liquidctl.New(liquidctlURL, nil),
		customsensors.New(registry, log.For("customsensors")),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// runDaemon loads configPath, wires every repository and the Processor
// Chain into a Scheduler, binds every configured profile, and runs until
// SIGINT/SIGTERM.
func runDaemon(configPath, pollRateOverride, liquidctlURL string, dryRun, quiet bool) error {
	log := output.NewLogger(quiet)
	cfg, cerr := config.Load(configPath)
	if cerr != nil {
		return cerr
	}

	pollRate := time.Duration(cfg.PollRate * float64(time.Second))
	if pollRateOverride != "" {
		d, err := time.ParseDuration(pollRateOverride)
		if err != nil {
			return fmt.Errorf("invalid --poll-rate: %w", err)
		}
		pollRate = d
	}

	registry := model.NewRegistry()
	repos := buildRepositories(registry, liquidctlURL, log)
	chain := processor.NewChain(registry, log.For("processor"))
	sched := scheduler.New(registry, repos, chain, pollRate, log.For("scheduler"))

	ctx := context.Background()
	if err := sched.InitializeAll(ctx); err != nil {
		return fmt.Errorf("initializing devices: %w", err)
	}

	if err := wireCustomSensors(repos, cfg.CustomSensors); err != nil {
		return err
	}

	disabled := disabledChannelSet(cfg.Devices)
	for _, b := range cfg.Bindings {
		if disabled[b.Channel.DeviceUID+"/"+b.Channel.Name] {
			log.For("scheduler").Infof("channel %s/%s disabled by config, skipping profile %s",
				b.Channel.DeviceUID, b.Channel.Name, b.Profile.UID)
			continue
		}
		if err := sched.Bind(b.Repository, b.Channel, b.Profile); err != nil {
			return fmt.Errorf("binding profile %s: %w", b.Profile.UID, err)
		}
	}

	if dryRun {
		printBindings(cfg)
		return nil
	}

	return sched.Run(ctx)
}

// disabledChannelSet flattens the per-device overrides into a
// "deviceUID/channel" lookup of channels the user told the engine to leave
// untouched.
func disabledChannelSet(devices []config.DeviceOverride) map[string]bool {
	out := make(map[string]bool)
	for _, d := range devices {
		for _, ch := range d.DisabledChannels {
			out[d.UID+"/"+ch] = true
		}
	}
	return out
}

func wireCustomSensors(repos []repository.Repository, sensors []model.CustomSensor) error {
	for _, r := range repos {
		cs, ok := r.(*customsensors.Repository)
		if !ok {
			continue
		}
		for _, s := range sensors {
			if err := cs.AddSensor(s); err != nil {
				return fmt.Errorf("adding custom sensor %s: %w", s.ID, err)
			}
		}
	}
	return nil
}

func printBindings(cfg *config.Config) {
	fmt.Printf("poll_rate: %.3fs\n", cfg.PollRate)
	for _, b := range cfg.Bindings {
		fmt.Printf("%-12s %s/%-10s <- profile %s (temp %s/%s)\n",
			b.Repository, b.Channel.DeviceUID, b.Channel.Name, b.Profile.UID,
			b.Profile.TempSource.DeviceUID, b.Profile.TempSource.TempName)
	}
}

// runListDevices initializes every repository's discovery pass (no
// scheduler, no ticking) and prints what was found. A repository that fails
// to initialize is reported and skipped; the others still print.
func runListDevices(liquidctlURL string, quiet bool) error {
	log := output.NewLogger(quiet)
	registry := model.NewRegistry()
	repos := buildRepositories(registry, liquidctlURL, log)

	ctx := context.Background()
	for _, r := range repos {
		if err := r.InitializeDevices(ctx); err != nil {
			log.For(r.Name()).Errorf("initialize failed: %v", err)
			continue
		}
		for _, d := range r.Devices() {
			fmt.Printf("[%s] %s (%s) uid=%s\n", r.Name(), d.Name, d.Kind(), d.UIDString())
			for ch := range d.Info.Channels {
				fmt.Printf("    channel: %s\n", ch)
			}
			for _, tn := range d.Info.Temps {
				fmt.Printf("    temp:    %s\n", tn)
			}
		}
	}
	return nil
}

// runValidateConfig loads and validates path without touching hardware,
// communicating validity via exit code.
func runValidateConfig(path string) error {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("ok")
	return nil
}
