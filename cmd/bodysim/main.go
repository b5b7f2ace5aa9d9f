// Command bodysim runs one particle simulation step on a compute device and
// prints the bodies before and after.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/gogpu/bodysim"
	"github.com/gogpu/bodysim/internal/config"
)

// stepFlags holds the flag values of the step command. Only flags set on
// the command line override the config file.
type stepFlags struct {
	configFile string
	bodies     int
	width      int
	height     int
	seed       uint64
	budget     int
	kernel     string
	backend    string
	print      int
	workers    int
	maxGroups  uint32
	timeout    time.Duration
	plot       bool
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "bodysim",
		Short:        "one-shot GPU particle simulation step",
		Version:      bodysim.Version,
		SilenceUsage: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.AddCommand(newStepCmd(), newConfigCmd(), newKernelCmd(), newInfoCmd())
	return rootCmd
}

func newStepCmd() *cobra.Command {
	var f stepFlags
	cmd := &cobra.Command{
		Use:   "step",
		Short: "initialize bodies, run one step and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, &f)
			if err != nil {
				return err
			}
			return runStep(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.configFile, "config", "", "config file path (yaml)")
	flags.IntVar(&f.bodies, "bodies", config.DefaultBodies, "number of bodies")
	flags.IntVar(&f.width, "width", config.DefaultWidth, "surface width")
	flags.IntVar(&f.height, "height", config.DefaultHeight, "surface height")
	flags.Uint64Var(&f.seed, "seed", 0, "random seed (0 = time based)")
	flags.IntVar(&f.budget, "budget", config.DefaultBudgetBytes, "buffer size in bytes")
	flags.StringVar(&f.kernel, "kernel", "", "WGSL kernel file (default: bundled kernel)")
	flags.StringVar(&f.backend, "backend", config.DefaultBackend, "device backend: software, vulkan or native")
	flags.IntVar(&f.print, "print", config.DefaultPrint, "number of bodies to print")
	flags.IntVar(&f.workers, "workers", 0, "software device workers (0 = GOMAXPROCS)")
	flags.Uint32Var(&f.maxGroups, "max-workgroups", 0, "cap per grid dimension (0 = device limit)")
	flags.DurationVar(&f.timeout, "timeout", config.DefaultMapTimeout, "readback timeout")
	flags.BoolVar(&f.plot, "plot", false, "chart per-body displacement")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging to stderr")
	return cmd
}

// resolveConfig loads the config file, if any, and applies the flags that
// were set explicitly.
func resolveConfig(cmd *cobra.Command, f *stepFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configFile != "" {
		loaded, err := config.Load(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("bodies") {
		cfg.Bodies = f.bodies
	}
	if changed("width") {
		cfg.Width = f.width
	}
	if changed("height") {
		cfg.Height = f.height
	}
	if changed("seed") {
		cfg.Seed = f.seed
	}
	if changed("budget") {
		cfg.BudgetBytes = f.budget
	}
	if changed("kernel") {
		cfg.KernelFile = f.kernel
	}
	if changed("backend") {
		cfg.Backend = f.backend
	}
	if changed("print") {
		cfg.Print = f.print
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("max-workgroups") {
		cfg.MaxWorkgroupsPerDim = f.maxGroups
	}
	if changed("timeout") {
		cfg.MapTimeout = f.timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runStep(ctx context.Context, stdout, stderr io.Writer, cfg *config.Config, f stepFlags) error {
	if f.verbose {
		bodysim.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		defer bodysim.SetLogger(nil)
	}

	src, err := cfg.KernelSource()
	if err != nil {
		return err
	}

	sceneOpts := []bodysim.SceneOption{bodysim.WithSceneBudget(cfg.BudgetBytes)}
	if cfg.Seed != 0 {
		sceneOpts = append(sceneOpts, bodysim.WithSeed(cfg.Seed))
	}
	bodies, err := bodysim.Initialize(cfg.Bodies, cfg.Width, cfg.Height, sceneOpts...)
	if err != nil {
		return err
	}

	dev, err := openDevice(cfg.Backend, cfg.Workers)
	if err != nil {
		return err
	}
	defer dev.Destroy()

	sim, err := bodysim.New(dev, bodies.Count,
		bodysim.WithBudget(cfg.BudgetBytes),
		bodysim.WithKernelSource(src),
		bodysim.WithMapTimeout(cfg.MapTimeout),
		bodysim.WithMaxWorkgroupsPerDimension(cfg.MaxWorkgroupsPerDim),
	)
	if err != nil {
		return err
	}
	defer sim.Close()

	before := bodies.Bodies()
	start := time.Now()
	after, err := sim.Step(ctx, bodies)
	if err != nil {
		return err
	}

	r := report{
		device:  dev.Name(),
		grid:    sim.Grid(),
		elapsed: time.Since(start),
		before:  before,
		after:   after,
	}
	if err := r.writeSummary(stdout); err != nil {
		return err
	}
	if err := r.writeBodies(stdout, cfg.Print); err != nil {
		return err
	}
	if f.plot {
		return r.writeChart(stdout)
	}
	return nil
}

// openDevice opens the named backend.
func openDevice(backend string, workers int) (bodysim.Device, error) {
	switch backend {
	case config.BackendSoftware:
		return bodysim.SoftwareDevice(bodysim.SoftwareOptions{Workers: workers}), nil
	case config.BackendVulkan:
		return bodysim.OpenVulkan()
	case config.BackendNative:
		return bodysim.OpenNative()
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, backend)
	}
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "manage config files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write the default config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "bodysim.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				} else if !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	configCmd.AddCommand(initCmd)
	return configCmd
}

func newKernelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kernel",
		Short: "print the bundled WGSL kernel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), bodysim.DefaultKernelSource())
			return err
		},
	}
}

func newInfoCmd() *cobra.Command {
	var backend string
	var workers int
	cmd := &cobra.Command{
		Use:   "info",
		Short: "print device name and limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, err := openDevice(backend, workers)
			if err != nil {
				return err
			}
			defer dev.Destroy()
			return writeDeviceInfo(cmd.OutOrStdout(), dev)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", config.DefaultBackend, "device backend: software, vulkan or native")
	cmd.Flags().IntVar(&workers, "workers", 0, "software device workers (0 = GOMAXPROCS)")
	return cmd
}
