package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of the test worker.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Count(s string) int {
	return bytes.Count([]byte(b.String()), []byte(s))
}

func testLogger() (zerolog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return zerolog.New(buf).Level(zerolog.DebugLevel), buf
}

type compileCall struct {
	Module string
	Set    domain.SourceSet
}

type fakeCompiler struct {
	mu    sync.Mutex
	calls []compileCall
	errs  map[string]error
	panic string
}

func (f *fakeCompiler) Compile(ctx context.Context, req CompileRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, compileCall{Module: req.Module, Set: req.Set})
	if f.panic == req.Module {
		panic("compiler crashed")
	}
	if err := f.errs[req.Module+"/"+string(req.Set)]; err != nil {
		return err
	}
	return f.errs[req.Module]
}

func (f *fakeCompiler) setErr(module string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = make(map[string]error)
	}
	if err == nil {
		delete(f.errs, module)
		return
	}
	f.errs[module] = err
}

func (f *fakeCompiler) modules(set domain.SourceSet) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c.Set == set {
			out = append(out, c.Module)
		}
	}
	return out
}

func (f *fakeCompiler) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type fakeMirror struct {
	copies  map[string]string
	removed []string
	err     error
}

func (f *fakeMirror) Copy(src, dst string) error {
	if f.err != nil {
		return f.err
	}
	if f.copies == nil {
		f.copies = make(map[string]string)
	}
	f.copies[dst] = src
	return nil
}

func (f *fakeMirror) Remove(dst string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, dst)
	return nil
}

type fakeFeatures struct {
	installed domain.FeatureSet
	calls     [][]string
	license   bool
	err       error
}

func (f *fakeFeatures) InstalledFeatures(ctx context.Context) (domain.FeatureSet, error) {
	if f.installed == nil {
		return domain.NewFeatureSet(), nil
	}
	return f.installed, nil
}

func (f *fakeFeatures) InstallFeatures(ctx context.Context, features []string, acceptLicense bool) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, features)
	f.license = acceptLicense
	if f.installed == nil {
		f.installed = domain.NewFeatureSet()
	}
	for _, name := range features {
		f.installed.Add(name)
	}
	return nil
}

type fakeDeployer struct{ deployed []string }

func (f *fakeDeployer) Deploy(ctx context.Context, module string) error {
	f.deployed = append(f.deployed, module)
	return nil
}

type fakeGoals struct{ ran []string }

func (f *fakeGoals) RunGoal(ctx context.Context, module, goal string, props map[string]string) error {
	f.ran = append(f.ran, module+":"+goal)
	return nil
}

type fakeDependencyResolver struct {
	classpath []string
	calls     int
}

func (f *fakeDependencyResolver) ResolveClasspath(ctx context.Context, module string) ([]string, error) {
	f.calls++
	return f.classpath, nil
}

type fakeConfigParser struct {
	features domain.FeatureSet
	err      error
	dirs     []string
}

func (f *fakeConfigParser) RequiredFeatures(configDir string) (domain.FeatureSet, error) {
	f.dirs = append(f.dirs, configDir)
	return f.features, f.err
}

type fakeProjectLoader struct {
	models  map[string]domain.ProjectModel // by pom path
	reactor func() (*domain.Reactor, map[string]domain.ProjectModel, error)
}

func (f *fakeProjectLoader) LoadProject(pomPath string) (domain.ProjectModel, error) {
	m, ok := f.models[pomPath]
	if !ok {
		return domain.ProjectModel{}, fmt.Errorf("no project at %s", pomPath)
	}
	return m, nil
}

func (f *fakeProjectLoader) LoadReactor(projectDir string) (*domain.Reactor, map[string]domain.ProjectModel, error) {
	if f.reactor == nil {
		return nil, nil, errors.New("no reactor")
	}
	return f.reactor()
}

type fakeScheduler struct {
	mu       sync.Mutex
	triggers []domain.TestTrigger
}

func (f *fakeScheduler) Enqueue(trigger domain.TestTrigger) *domain.PendingTestRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	return domain.NewPendingTestRun(int64(len(f.triggers)), trigger)
}

type fakeConfigLoader struct {
	exists bool
	cfg    Config
	err    error
}

func (f fakeConfigLoader) Exists(path string) (bool, error) { return f.exists, f.err }
func (f fakeConfigLoader) Load(path string) (Config, error) { return f.cfg, f.err }

type fakeLayout struct{}

func (fakeLayout) Roots(module *domain.ModuleNode, serverDir string, runnable bool) []domain.WatchRoot {
	roots := []domain.WatchRoot{
		{Path: module.Dir + "/src/main/java", Role: domain.RoleSource, Module: module.ID},
		{Path: module.Dir + "/pom.xml", Role: domain.RoleBuildDescriptor, Module: module.ID, File: true},
	}
	if runnable {
		roots = append(roots, domain.WatchRoot{
			Path: module.Dir + "/src/main/liberty/config", Role: domain.RoleConfig, Module: module.ID, Target: serverDir,
		})
	}
	return roots
}

// twoModuleReactor is lib (jar) <- app (war).
func twoModuleReactor(t *testing.T) *domain.Reactor {
	t.Helper()
	r, err := domain.NewReactor([]*domain.ModuleNode{
		{ID: "demo:lib", Dir: "/p/lib", Packaging: domain.PackagingJar},
		{ID: "demo:app", Dir: "/p/app", Packaging: domain.PackagingWar, Upstream: []string{"demo:lib"}},
	})
	if err != nil {
		t.Fatalf("reactor: %v", err)
	}
	return r
}

var testRoots = []domain.WatchRoot{
	{Path: "/p/lib/src/main/java", Role: domain.RoleSource, Module: "demo:lib"},
	{Path: "/p/lib/src/test/java", Role: domain.RoleTestSource, Module: "demo:lib"},
	{Path: "/p/app/src/main/java", Role: domain.RoleSource, Module: "demo:app"},
	{Path: "/p/app/src/test/java", Role: domain.RoleTestSource, Module: "demo:app"},
	{Path: "/p/app/src/main/resources", Role: domain.RoleResource, Module: "demo:app", Target: "/p/app/target/classes"},
	{Path: "/p/app/src/main/liberty/config", Role: domain.RoleConfig, Module: "demo:app", Target: "/wlp/usr/servers/defaultServer"},
	{Path: "/p/app/pom.xml", Role: domain.RoleBuildDescriptor, Module: "demo:app", File: true},
}

func change(path string, kind domain.ChangeKind) domain.ChangeEvent {
	return domain.NewChangeEvent(path, kind, testRoots)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
