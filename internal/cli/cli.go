package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/autodetect"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/config"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/logging"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/logwatch"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/maven"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/report"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/resources"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/server"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/serverconfig"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/watcher"
	"github.com/felixgeelhaar/libertydev/internal/infrastructure/wizard"
	"github.com/felixgeelhaar/libertydev/internal/mcp"
)

type Service interface {
	Dev(ctx context.Context, opts application.DevOptions) error
	Run(ctx context.Context, opts application.RunOptions) error
	Inspect(ctx context.Context, opts application.InspectOptions) (application.InspectResult, error)
	Detect(ctx context.Context, opts application.DetectOptions) (application.DetectResult, error)
}

var initWizard = wizard.Run

var serveMCP = func(ctx context.Context, svc Service, cfg mcp.Config) error {
	mcp.Version = Version
	return mcp.New(svc, cfg).Run(ctx)
}

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// globalOptions are the flags shared by every command.
type globalOptions struct {
	verbose    bool
	configPath string
	projectDir string
	module     string
	defines    []string
}

// Run executes the command line and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer, svc Service) int {
	ctx, cancel := server.ShutdownContext(context.Background())
	defer cancel()

	root := newRootCmd(stdout, stderr, svc)
	if len(args) < 2 {
		fmt.Fprint(stderr, root.UsageString())
		return 2
	}
	root.SetArgs(args[1:])

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		fmt.Fprintln(stderr, exit.err)
		return exit.code
	}
	fmt.Fprintln(stderr, err)
	fmt.Fprintln(stderr, root.UsageString())
	return 2
}

func newRootCmd(stdout, stderr io.Writer, svc Service) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "libertydev",
		Short:         "Liberty dev mode for Maven projects",
		Long:          "libertydev runs a Liberty server for a Maven reactor, recompiles and redeploys on file changes and runs tests on demand.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.SetVerbose(opts.verbose)
			if opts.projectDir != "" {
				if err := os.Chdir(opts.projectDir); err != nil {
					return withCode(2, fmt.Errorf("changing to project directory: %w", err))
				}
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output")
	pf.StringVar(&opts.configPath, "config", config.DefaultPath, "Config file path")
	pf.StringVarP(&opts.projectDir, "project", "C", "", "Run as if started in this directory")
	pf.StringVar(&opts.module, "module", "", "Runnable module (artifactId or groupId:artifactId)")
	pf.StringArrayVarP(&opts.defines, "define", "D", nil, "User property key=value (repeatable)")

	root.AddCommand(
		newDevCmd(opts, svc),
		newRunCmd(opts, svc),
		newInspectCmd(opts, stdout, svc),
		newInitCmd(opts, stdout, svc),
		newMCPCmd(opts, svc),
		newVersionCmd(stdout),
	)
	return root
}

func newDevCmd(opts *globalOptions, svc Service) *cobra.Command {
	var hotTests, debug bool
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run the server in dev mode and rebuild on file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseDefines(opts.defines)
			if err != nil {
				return withCode(2, err)
			}
			devOpts := application.DevOptions{
				ConfigPath:     opts.configPath,
				ProjectDir:     ".",
				Module:         opts.module,
				UserProperties: props,
			}
			if cmd.Flags().Changed("hot-tests") {
				devOpts.HotTests = &hotTests
			}
			if cmd.Flags().Changed("debug") {
				devOpts.Debug = &debug
			}
			return withCode(1, svc.Dev(cmd.Context(), devOpts))
		},
	}
	cmd.Flags().BoolVar(&hotTests, "hot-tests", false, "Run tests after every change")
	cmd.Flags().BoolVar(&debug, "debug", true, "Start the server with the debug port open")
	return cmd
}

func newRunCmd(opts *globalOptions, svc Service) *cobra.Command {
	var skipGoals bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Prepare the server and run it in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseDefines(opts.defines)
			if err != nil {
				return withCode(2, err)
			}
			return withCode(1, svc.Run(cmd.Context(), application.RunOptions{
				ConfigPath:     opts.configPath,
				ProjectDir:     ".",
				Module:         opts.module,
				UserProperties: props,
				SkipGoals:      skipGoals,
			}))
		},
	}
	cmd.Flags().BoolVar(&skipGoals, "skip-goals", false, "Start the existing server without running the Liberty goals first")
	return cmd
}

func newInspectCmd(opts *globalOptions, stdout io.Writer, svc Service) *cobra.Command {
	format := report.FormatText
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the build order, the runnable module and the watch roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseDefines(opts.defines)
			if err != nil {
				return withCode(2, err)
			}
			result, err := svc.Inspect(cmd.Context(), application.InspectOptions{
				ConfigPath:     opts.configPath,
				ProjectDir:     ".",
				Module:         opts.module,
				UserProperties: props,
			})
			if err != nil {
				return withCode(3, err)
			}
			return withCode(3, report.WriteInspect(stdout, result, format))
		},
	}
	cmd.Flags().VarP((*formatValue)(&format), "format", "o", "Output format: text|json")
	return cmd
}

func newInitCmd(opts *globalOptions, stdout io.Writer, svc Service) *cobra.Command {
	var force, noInteractive bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Detect the project layout and write a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			detected, err := svc.Detect(cmd.Context(), application.DetectOptions{ProjectDir: "."})
			if err != nil {
				return withCode(3, err)
			}
			if opts.module != "" {
				detected.Config.Module = opts.module
			}
			cfg := detected.Config
			if !noInteractive {
				var confirmed bool
				cfg, confirmed, err = initWizard(detected, stdout, os.Stdin)
				if err != nil {
					return withCode(5, err)
				}
				if !confirmed {
					fmt.Fprintln(stdout, "Init cancelled; no configuration written.")
					return nil
				}
			}
			if err := writeConfigFile(opts.configPath, cfg, stdout, force); err != nil {
				return withCode(2, err)
			}
			if opts.configPath != "-" {
				fmt.Fprintf(stdout, "Config written to %s\n", opts.configPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&noInteractive, "no-interactive", false, "Skip the interactive init wizard")
	return cmd
}

func newMCPCmd(opts *globalOptions, svc Service) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve project inspection tools over the Model Context Protocol (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCode(1, serveMCP(cmd.Context(), svc, mcp.Config{ConfigPath: opts.configPath, ProjectDir: "."}))
		},
	}
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(stdout, versionString())
		},
	}
}

// parseDefines turns -D arguments into user properties. A key without a value
// is set to the empty string, like -DskipTests.
func parseDefines(defines []string) (map[string]string, error) {
	if len(defines) == 0 {
		return nil, nil
	}
	props := make(map[string]string, len(defines))
	for _, d := range defines {
		key, value, _ := strings.Cut(d, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid property %q: missing name", d)
		}
		props[key] = value
	}
	return props, nil
}

// BuildService wires the Maven, Liberty and file-system adapters into the
// application service. Console output goes to out, logs to errOut.
func BuildService(out, errOut *os.File) *application.Service {
	log := logging.New(errOut, true)
	mvn := maven.NewRunner(".", logging.Component(log, "maven"))
	mvn.Stdout, mvn.Stderr = out, errOut
	loader := maven.NewLoader()

	return &application.Service{
		ConfigLoader: config.Loader{},
		Projects:     loader,
		Layout:       autodetect.Layout{},
		Compiler:     mvn,
		Mirror:       resources.NewMirror(logging.Component(log, "resources")),
		NewFeatures: func(installDir string) application.FeatureInstaller {
			inst := serverconfig.NewInstaller(installDir, logging.Component(log, "features"))
			inst.Stdout, inst.Stderr = out, errOut
			return inst
		},
		Deployer:     mvn,
		Goals:        mvn,
		Resolver:     mvn,
		Parser:       serverconfig.NewParser(),
		TestRunner:   mvn,
		TestReporter: report.NewConsole(out),
		NewWatcher: func(cfg application.Config) (application.FileWatcher, error) {
			return watcher.New(
				watcher.WithDebounce(cfg.Debounce),
				watcher.WithIgnore(cfg.Ignore...),
				watcher.WithLogger(logging.Component(log, "watcher")),
			)
		},
		Server:     server.NewController(logging.Component(log, "server")),
		LogWatcher: logwatch.New(),
		Events:     logging.EventLog{Log: log},
		Log:        log,
		In:         os.Stdin,
	}
}

type formatValue report.Format

func (f *formatValue) String() string { return string(*f) }
func (f *formatValue) Type() string   { return "format" }

func (f *formatValue) Set(value string) error {
	switch value {
	case string(report.FormatText), string(report.FormatJSON):
		*f = formatValue(value)
		return nil
	default:
		return fmt.Errorf("invalid output format: %s", value)
	}
}

func writeConfigFile(path string, cfg application.Config, stdout io.Writer, force bool) error {
	if path == "-" {
		return config.Write(stdout, cfg)
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return config.Write(file, cfg)
}
