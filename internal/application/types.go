package application

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

var (
	ErrConfigNotFound    = errors.New("config not found")
	ErrCompilationFailed = errors.New("compilation failed")
	ErrServerNotReady    = errors.New("server did not become ready")
)

// TestRunIDProperty is the build property carrying the run identifier of a test
// run. Its value changes on every run, so the test runner cannot skip a run
// because nothing changed since the last one.
const TestRunIDProperty = "libertydev.test.run.id"

// Config represents validated, application-ready configuration.
type Config struct {
	Version               int
	ServerName            string
	InstallDirectory      string
	Module                string // explicit runnable module selector
	RecompileDependencies bool
	HotTests              bool
	Skip                  domain.SkipSources            // plugin-level skip configuration
	ModuleSkip            map[string]domain.SkipSources // per-module skip configuration
	Debug                 bool
	DebugPort             int
	AcceptLicense         bool
	Debounce              time.Duration
	ServerStartTimeout    time.Duration
	VerifyTimeout         time.Duration
	Container             bool
	ContainerImage        string
	Ignore                []string
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() Config {
	return Config{
		Version:               1,
		ServerName:            "defaultServer",
		InstallDirectory:      "target/liberty/wlp",
		RecompileDependencies: true,
		Debug:                 true,
		DebugPort:             7777,
		Debounce:              500 * time.Millisecond,
		ServerStartTimeout:    90 * time.Second,
		VerifyTimeout:         30 * time.Second,
		Ignore:                []string{"**/*.swp", "**/*~", "**/.#*", "**/4913"},
	}
}

// ConfigSkip returns the explicit skip configuration for a module: the
// per-module block where set, falling back to the plugin-level values.
func (c Config) ConfigSkip(module string) domain.SkipSources {
	out := c.Skip
	if m, ok := c.ModuleSkip[module]; ok {
		if m.SkipTests != nil {
			out.SkipTests = m.SkipTests
		}
		if m.SkipUTs != nil {
			out.SkipUTs = m.SkipUTs
		}
		if m.SkipITs != nil {
			out.SkipITs = m.SkipITs
		}
	}
	return out
}

type ConfigLoader interface {
	Load(path string) (Config, error)
	Exists(path string) (bool, error)
}

// CompileRequest asks the build tool to compile one source set of one module.
type CompileRequest struct {
	Module    string
	Dir       string
	Set       domain.SourceSet
	Classpath []string
}

// Compiler compiles source sets. A compilation error is reported as an error
// wrapping ErrCompilationFailed.
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) error
}

// FileMirror copies files into output or server directories.
type FileMirror interface {
	Copy(src, dst string) error
	Remove(dst string) error
}

// FeatureInstaller queries and installs server features.
type FeatureInstaller interface {
	InstalledFeatures(ctx context.Context) (domain.FeatureSet, error)
	InstallFeatures(ctx context.Context, features []string, acceptLicense bool) error
}

// Deployer redeploys a module's application into the server.
type Deployer interface {
	Deploy(ctx context.Context, module string) error
}

// GoalRunner runs a named build goal for a module.
type GoalRunner interface {
	RunGoal(ctx context.Context, module, goal string, props map[string]string) error
}

// DependencyResolver resolves the compile classpath of a module.
type DependencyResolver interface {
	ResolveClasspath(ctx context.Context, module string) ([]string, error)
}

// ServerConfigParser reads the server configuration set (server.xml, its
// includes and configDropins) and returns the features it requires.
type ServerConfigParser interface {
	RequiredFeatures(configDir string) (domain.FeatureSet, error)
}

// ProjectLoader reads build descriptors.
type ProjectLoader interface {
	LoadProject(pomPath string) (domain.ProjectModel, error)
	LoadReactor(projectDir string) (*domain.Reactor, map[string]domain.ProjectModel, error)
}

// LayoutDetector derives the watch roots of a module from its directory layout.
type LayoutDetector interface {
	Roots(module *domain.ModuleNode, serverDir string, runnable bool) []domain.WatchRoot
}

// TestRequest asks the build tool to run one phase of tests for one module.
type TestRequest struct {
	Module     string
	Dir        string
	RunID      int64
	Properties map[string]string
}

// TestRunner runs unit and integration tests.
type TestRunner interface {
	RunUnitTests(ctx context.Context, req TestRequest) error
	RunIntegrationTests(ctx context.Context, req TestRequest) error
}

// TestResult is the outcome of one phase for one module.
type TestResult struct {
	Module   string
	Phase    domain.TestPhase
	Duration time.Duration
	Err      error
}

// TestReporter renders the outcome of a test run.
type TestReporter interface {
	ReportTests(run *domain.PendingTestRun, results []TestResult)
}

// TestScheduler accepts test run requests.
type TestScheduler interface {
	Enqueue(trigger domain.TestTrigger) *domain.PendingTestRun
}

// FileWatcher provides debounced, classified file change notifications.
type FileWatcher interface {
	WatchRoots(roots []domain.WatchRoot) error
	Events(ctx context.Context) <-chan []domain.ChangeEvent
	Close() error
}

// ServerOperation is the server script operation used to launch the server.
type ServerOperation string

const (
	OperationRun   ServerOperation = "run"
	OperationDebug ServerOperation = "debug"
)

// StopPolicy selects how a session is shut down.
type StopPolicy string

const (
	// StopGraceful writes the exit token to the process and waits for the
	// shutdown marker.
	StopGraceful StopPolicy = "graceful"
	// StopForced terminates the process directly.
	StopForced StopPolicy = "forced"
)

// ServerParams describes how to launch the server.
type ServerParams struct {
	InstallDir     string
	ServerName     string
	Operation      ServerOperation
	StopPolicy     StopPolicy
	LogFile        string
	DebugPort      int
	Container      bool
	ContainerImage string
	Env            map[string]string
	Command        []string // explicit command, overrides the server script
	StartTimeout   time.Duration
	StopTimeout    time.Duration
}

// ServerDir returns the directory of the server instance.
func (p ServerParams) ServerDir() string {
	return serverDir(p.InstallDir, p.ServerName)
}

func serverDir(installDir, serverName string) string {
	return filepath.Join(installDir, "usr", "servers", serverName)
}

// LogWatcher waits for messages in the server log.
type LogWatcher interface {
	WaitForMessage(m domain.LogMatcher, timeout time.Duration, logFile string) bool
	WaitForOccurrences(m domain.LogMatcher, timeout time.Duration, logFile string, expected int) bool
}

// ServerSession is the single running server of a dev-mode invocation.
type ServerSession interface {
	ID() string
	LogFile() string
	DebugPort() int
	Container() bool
	// Done is closed once the server process has exited.
	Done() <-chan struct{}
}

// ServerController starts and stops the server process.
type ServerController interface {
	Start(ctx context.Context, params ServerParams) (ServerSession, error)
	Stop(ctx context.Context, session ServerSession) error
}

// DevOptions configures a dev-mode invocation.
type DevOptions struct {
	ConfigPath     string
	ProjectDir     string
	Module         string
	UserProperties map[string]string
	HotTests       *bool
	Debug          *bool
}

// RunOptions configures a foreground server run.
type RunOptions struct {
	ConfigPath     string
	ProjectDir     string
	Module         string
	UserProperties map[string]string
	SkipGoals      bool
}

// InspectOptions configures the inspect command.
type InspectOptions struct {
	ConfigPath     string
	ProjectDir     string
	Module         string
	UserProperties map[string]string
}

// DetectOptions configures layout detection for init.
type DetectOptions struct {
	ProjectDir string
}

// DetectResult is the configuration proposed for a project by init.
type DetectResult struct {
	Config     Config
	Candidates []string // runnable modules to choose from when more than one exists
	Modules    []string
}

// ModuleInfo describes one module for inspect output.
type ModuleInfo struct {
	ID         string             `json:"id"`
	Packaging  domain.Packaging   `json:"packaging"`
	Upstream   []string           `json:"upstream,omitempty"`
	Downstream []string           `json:"downstream,omitempty"`
	Runnable   bool               `json:"runnable"`
	Skip       domain.SkipFlags   `json:"skip"`
	Roots      []domain.WatchRoot `json:"roots,omitempty"`
}

// InspectResult describes a project as dev mode sees it.
type InspectResult struct {
	BuildOrder []string     `json:"buildOrder"`
	Modules    []ModuleInfo `json:"modules"`
	Selected   string       `json:"selected,omitempty"`
	Candidates []string     `json:"candidates,omitempty"`
	Error      string       `json:"error,omitempty"`
}
