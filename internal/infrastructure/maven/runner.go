package maven

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// PluginCoordinates is the fully qualified prefix of the Liberty plugin goals.
const PluginCoordinates = libertyPluginGroup + ":" + libertyPluginArtifact

// Runner invokes Maven for a reactor rooted at ProjectDir. It implements the
// compiler, goal runner, deployer, test runner and dependency resolver ports.
type Runner struct {
	ProjectDir string
	// Exec overrides command execution (for testing).
	Exec   func(ctx context.Context, dir string, cmd string, args []string) error
	Stdout io.Writer
	Stderr io.Writer
	Log    zerolog.Logger
	// Offline passes -o to every Maven invocation.
	Offline bool
	// Javac compiles directly with the resolved classpath when set, instead of
	// running the Maven compile phase.
	Javac string
}

// NewRunner creates a Maven runner for the reactor in projectDir.
func NewRunner(projectDir string, log zerolog.Logger) *Runner {
	r := &Runner{ProjectDir: projectDir, Stdout: os.Stdout, Stderr: os.Stderr, Log: log}
	if javac, err := exec.LookPath("javac"); err == nil {
		r.Javac = javac
	}
	return r
}

// Compile compiles one source set of a module.
func (r *Runner) Compile(ctx context.Context, req application.CompileRequest) error {
	var err error
	if r.Javac != "" && len(req.Classpath) > 0 && req.Dir != "" {
		err = r.javac(ctx, req)
	} else {
		phase := "compile"
		if req.Set == domain.SourceTest {
			phase = "test-compile"
		}
		err = r.mvn(ctx, req.Module, []string{phase}, nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %s (%s): %v", application.ErrCompilationFailed, req.Module, req.Set, err)
	}
	return nil
}

func (r *Runner) javac(ctx context.Context, req application.CompileRequest) error {
	srcDir := filepath.Join(req.Dir, "src", "main", "java")
	outDir := filepath.Join(req.Dir, "target", "classes")
	classpath := req.Classpath
	if req.Set == domain.SourceTest {
		srcDir = filepath.Join(req.Dir, "src", "test", "java")
		outDir = filepath.Join(req.Dir, "target", "test-classes")
		classpath = append([]string{filepath.Join(req.Dir, "target", "classes")}, classpath...)
	}

	sources, err := javaSources(srcDir)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return err
	}

	args := []string{"-d", outDir, "-cp", strings.Join(classpath, string(os.PathListSeparator)), "-sourcepath", srcDir}
	args = append(args, sources...)
	r.Log.Debug().Str("module", req.Module).Int("sources", len(sources)).Msg("javac")
	return r.exec(ctx, req.Dir, r.Javac, args)
}

func javaSources(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".java") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// RunGoal runs a Liberty plugin goal for the module.
func (r *Runner) RunGoal(ctx context.Context, module, goal string, props map[string]string) error {
	if err := r.mvn(ctx, module, []string{PluginCoordinates + ":" + goal}, props); err != nil {
		return fmt.Errorf("liberty:%s for %s: %w", goal, module, err)
	}
	return nil
}

// Deploy redeploys the module's application into the server.
func (r *Runner) Deploy(ctx context.Context, module string) error {
	return r.RunGoal(ctx, module, domain.GoalDeploy, nil)
}

// RunUnitTests runs surefire for the module.
func (r *Runner) RunUnitTests(ctx context.Context, req application.TestRequest) error {
	return r.mvn(ctx, req.Module, []string{"surefire:test"}, req.Properties)
}

// RunIntegrationTests runs failsafe for the module.
func (r *Runner) RunIntegrationTests(ctx context.Context, req application.TestRequest) error {
	return r.mvn(ctx, req.Module, []string{"failsafe:integration-test", "failsafe:verify"}, req.Properties)
}

// ResolveClasspath returns the module's resolved dependency classpath.
func (r *Runner) ResolveClasspath(ctx context.Context, module string) ([]string, error) {
	out, err := os.CreateTemp("", "libertydev-classpath-*.txt")
	if err != nil {
		return nil, err
	}
	path := out.Name()
	_ = out.Close()
	defer os.Remove(path)

	props := map[string]string{"mdep.outputFile": path}
	if err := r.mvn(ctx, module, []string{"dependency:build-classpath"}, props); err != nil {
		return nil, fmt.Errorf("resolving classpath of %s: %w", module, err)
	}

	// #nosec G304 -- temporary file created above
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp []string
	for _, entry := range strings.Split(strings.TrimSpace(string(data)), string(os.PathListSeparator)) {
		if entry = strings.TrimSpace(entry); entry != "" {
			cp = append(cp, entry)
		}
	}
	return cp, nil
}

func (r *Runner) mvn(ctx context.Context, module string, goals []string, props map[string]string) error {
	args := r.buildArgs(module, goals, props)
	dir, err := filepath.Abs(r.ProjectDir)
	if err != nil {
		return err
	}
	r.Log.Debug().Str("module", module).Strs("args", args).Msg("mvn")
	return r.exec(ctx, dir, mavenCommand(dir), args)
}

// buildArgs builds the Maven command line: batch mode, the module selection,
// the goals and the properties in key order.
func (r *Runner) buildArgs(module string, goals []string, props map[string]string) []string {
	args := []string{"-B", "-q"}
	if r.Offline {
		args = append(args, "-o")
	}
	if module != "" {
		args = append(args, "-pl", module)
	}
	args = append(args, goals...)

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-D"+k+"="+props[k])
	}
	return args
}

func (r *Runner) exec(ctx context.Context, dir, cmd string, args []string) error {
	if r.Exec != nil {
		return r.Exec(ctx, dir, cmd, args)
	}
	// #nosec G204 -- Maven and javac are invoked with generated arguments
	c := exec.CommandContext(ctx, cmd, args...)
	if dir != "" {
		c.Dir = dir
	}
	c.Stdout = r.Stdout
	c.Stderr = r.Stderr
	return c.Run()
}

// mavenCommand prefers the project's Maven wrapper.
func mavenCommand(dir string) string {
	name := "mvnw"
	if runtime.GOOS == "windows" {
		name = "mvnw.cmd"
	}
	wrapper := filepath.Join(dir, name)
	if _, err := os.Stat(wrapper); err == nil {
		return wrapper
	}
	return "mvn"
}
