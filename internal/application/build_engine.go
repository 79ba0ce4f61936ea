package application

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

// BuildEngine turns classified file changes into build actions: compiles,
// resource and config mirroring, feature installs and goal re-runs.
type BuildEngine struct {
	Reactor   *domain.Reactor
	Projects  map[string]domain.ProjectModel
	Compiler  Compiler
	Mirror    FileMirror
	Features  FeatureInstaller
	Deployer  Deployer
	Goals     GoalRunner
	Resolver  DependencyResolver
	Parser    ServerConfigParser
	Loader    ProjectLoader
	Tests     TestScheduler
	Events    domain.EventPublisher
	Log       zerolog.Logger
	Config    Config
	Runnable  string // ID of the module hosting the server
	ConfigDir string // source config directory of the runnable module

	UserProperties map[string]string
	Now            func() time.Time

	mu         sync.Mutex
	failed     map[string]bool
	testFailed map[string]bool
	classpaths map[string][]string
}

var roleOrder = map[domain.Role]int{
	domain.RoleBuildDescriptor: 0,
	domain.RoleConfig:          1,
	domain.RoleResource:        2,
	domain.RoleSource:          3,
	domain.RoleTestSource:      4,
}

type changeGroup struct {
	module string
	role   domain.Role
	events []domain.ChangeEvent
}

// Handle processes a single change.
func (e *BuildEngine) Handle(ctx context.Context, ev domain.ChangeEvent) domain.ActionResult {
	results := e.HandleBatch(ctx, []domain.ChangeEvent{ev})
	if len(results) == 0 {
		return domain.ActionResult{Module: ev.Module(), Role: ev.Role}
	}
	return results[0]
}

// HandleBatch processes one debounced batch of changes. Changes are grouped by
// module and role; build descriptors are handled first, then configuration,
// resources, main sources and test sources. Each module's main and test source
// sets are compiled at most once per batch. Errors never escape: they are
// logged and reported in the results.
func (e *BuildEngine) HandleBatch(ctx context.Context, events []domain.ChangeEvent) []domain.ActionResult {
	groups := groupChanges(events)
	var results []domain.ActionResult
	var sourceModules, testModules []string

	for _, g := range groups {
		switch g.role {
		case domain.RoleBuildDescriptor:
			results = append(results, e.guard(g, func(res *domain.ActionResult) error {
				return e.handleBuildDescriptor(ctx, g, res)
			}))
		case domain.RoleConfig:
			results = append(results, e.guard(g, func(res *domain.ActionResult) error {
				return e.handleConfig(ctx, g, res)
			}))
		case domain.RoleResource:
			results = append(results, e.guard(g, func(res *domain.ActionResult) error {
				return e.handleResources(g, res)
			}))
		case domain.RoleSource:
			sourceModules = append(sourceModules, g.module)
		case domain.RoleTestSource:
			testModules = append(testModules, g.module)
		}
	}

	var hot []string
	if len(sourceModules) > 0 {
		compiled, res := e.compileSources(ctx, sourceModules)
		results = append(results, res...)
		hot = append(hot, compiled...)
	}
	if len(testModules) > 0 {
		compiled, res := e.compileTests(ctx, testModules)
		results = append(results, res...)
		hot = append(hot, compiled...)
	}
	for _, r := range results {
		if r.Role == domain.RoleResource && r.Err == nil && r.Module != "" {
			hot = append(hot, r.Module)
		}
	}
	if queued := e.enqueueHotTests(hot); queued {
		for i := range results {
			if results[i].Err == nil && containsString(hot, results[i].Module) {
				results[i].TestsQueued = true
			}
		}
	}
	return results
}

func groupChanges(events []domain.ChangeEvent) []*changeGroup {
	index := make(map[string]*changeGroup)
	var groups []*changeGroup
	for _, ev := range events {
		if ev.Role == domain.RoleOther || ev.Role == "" {
			continue
		}
		key := ev.Module() + "\x00" + string(ev.Role)
		g, ok := index[key]
		if !ok {
			g = &changeGroup{module: ev.Module(), role: ev.Role}
			index[key] = g
			groups = append(groups, g)
		}
		g.events = append(g.events, ev)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return roleOrder[groups[i].role] < roleOrder[groups[j].role]
	})
	return groups
}

// guard runs fn for one group and converts errors and panics into the result.
func (e *BuildEngine) guard(g *changeGroup, fn func(res *domain.ActionResult) error) (res domain.ActionResult) {
	res = domain.ActionResult{Module: g.module, Role: g.role}
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("handling %s change in %s: panic: %v", g.role, g.module, r)
			e.Log.Error().Str("module", g.module).Str("role", string(g.role)).Msgf("%v", res.Err)
		}
	}()
	if err := fn(&res); err != nil {
		res.Err = err
		e.Log.Error().Err(err).Str("module", g.module).Str("role", string(g.role)).Msg("change could not be applied")
	}
	return res
}

// CompileAll compiles main then test sources of every module in build order.
// It is used once at startup; failures are recorded and retried on the next
// change like any other compilation error.
func (e *BuildEngine) CompileAll(ctx context.Context) {
	order := e.Reactor.BuildOrder()
	e.compileSources(ctx, order)
	e.compileTests(ctx, order)
}

func (e *BuildEngine) compileSources(ctx context.Context, changed []string) ([]string, []domain.ActionResult) {
	want := make(map[string]bool)
	for _, m := range changed {
		for _, id := range e.Reactor.Propagate(m, e.Config.RecompileDependencies, e.failedSnapshot()) {
			want[id] = true
		}
	}

	var compiled []string
	var results []domain.ActionResult
	broken := make(map[string]bool)
	for _, id := range e.Reactor.BuildOrder() {
		if !want[id] {
			continue
		}
		res := domain.ActionResult{Module: id, Role: domain.RoleSource}
		if up := e.brokenUpstream(id, broken); up != "" {
			broken[id] = true
			e.Log.Warn().Str("module", id).Str("upstream", up).Msg("skipping compilation until upstream module compiles")
			res.Err = fmt.Errorf("upstream module %s has compilation errors", up)
			results = append(results, res)
			continue
		}
		err := e.compile(ctx, id, domain.SourceMain)
		res.Recompiled = err == nil
		res.Err = err
		if err != nil {
			broken[id] = true
		} else {
			compiled = append(compiled, id)
		}
		results = append(results, res)
	}
	return compiled, results
}

func (e *BuildEngine) compileTests(ctx context.Context, modules []string) ([]string, []domain.ActionResult) {
	want := make(map[string]bool, len(modules))
	for _, m := range modules {
		want[m] = true
	}
	var compiled []string
	var results []domain.ActionResult
	for _, id := range e.Reactor.BuildOrder() {
		if !want[id] {
			continue
		}
		res := domain.ActionResult{Module: id, Role: domain.RoleTestSource}
		err := e.compile(ctx, id, domain.SourceTest)
		res.Recompiled = err == nil
		res.Err = err
		if err == nil {
			compiled = append(compiled, id)
		}
		results = append(results, res)
	}
	return compiled, results
}

func (e *BuildEngine) compile(ctx context.Context, module string, set domain.SourceSet) (err error) {
	node, ok := e.Reactor.Module(module)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownModule, module)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrCompilationFailed, module, r)
		}
		e.recordCompile(node, set, err)
	}()
	return e.Compiler.Compile(ctx, CompileRequest{
		Module:    module,
		Dir:       node.Dir,
		Set:       set,
		Classpath: e.classpath(module),
	})
}

func (e *BuildEngine) recordCompile(node *domain.ModuleNode, set domain.SourceSet, err error) {
	e.mu.Lock()
	failed := e.failedMap(set)
	if err != nil {
		failed[node.ID] = true
	} else {
		delete(failed, node.ID)
	}
	e.mu.Unlock()

	if err == nil {
		node.MarkCompiled(set, e.now())
	}
	event := domain.NewCompilationEvent(node.ID, set, err)
	if err != nil {
		e.Log.Error().Err(err).Str("module", node.ID).Msg(event.Message())
	} else {
		e.Log.Info().Str("module", node.ID).Msg(event.Message())
	}
	e.publish(event)
}

func (e *BuildEngine) failedMap(set domain.SourceSet) map[string]bool {
	if set == domain.SourceTest {
		if e.testFailed == nil {
			e.testFailed = make(map[string]bool)
		}
		return e.testFailed
	}
	if e.failed == nil {
		e.failed = make(map[string]bool)
	}
	return e.failed
}

func (e *BuildEngine) failedSnapshot() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(e.failed))
	for k, v := range e.failed {
		out[k] = v
	}
	return out
}

// FailedModules returns the modules whose main sources currently fail to compile.
func (e *BuildEngine) FailedModules() []string {
	var out []string
	for id := range e.failedSnapshot() {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (e *BuildEngine) brokenUpstream(id string, broken map[string]bool) string {
	for _, up := range e.Reactor.AllUpstream(id) {
		if broken[up] {
			return up
		}
	}
	return ""
}

func (e *BuildEngine) handleResources(g *changeGroup, res *domain.ActionResult) error {
	var errs []string
	for _, ev := range g.events {
		if ev.Root.Target == "" {
			continue
		}
		dst := mirrorTarget(ev.Classification)
		var err error
		if ev.Kind == domain.ChangeDelete {
			err = e.Mirror.Remove(dst)
		} else {
			err = e.Mirror.Copy(ev.Path, dst)
		}
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		res.Redeployed = true
		e.Log.Debug().Str("module", g.module).Str("file", ev.RelativePath).Str("change", ev.Kind.String()).Msg("resource updated")
	}
	if len(errs) > 0 {
		return fmt.Errorf("mirroring resources: %s", strings.Join(errs, "; "))
	}
	return nil
}

func mirrorTarget(c domain.Classification) string {
	if c.Root.File {
		return c.Root.Target
	}
	return filepath.Join(c.Root.Target, c.RelativePath)
}

func (e *BuildEngine) handleConfig(ctx context.Context, g *changeGroup, res *domain.ActionResult) error {
	dir := e.ConfigDir
	if dir == "" {
		root := g.events[0].Root
		dir = root.Path
		if root.File {
			dir = filepath.Dir(root.Path)
		}
	}

	var parseErr error
	required, err := e.Parser.RequiredFeatures(dir)
	if err != nil {
		parseErr = fmt.Errorf("reading server configuration: %w", err)
	} else if err := e.installMissing(ctx, g.module, required, res); err != nil {
		return err
	}

	if err := e.handleResources(g, res); err != nil {
		return err
	}
	return parseErr
}

func (e *BuildEngine) installMissing(ctx context.Context, module string, required domain.FeatureSet, res *domain.ActionResult) error {
	installed, err := e.Features.InstalledFeatures(ctx)
	if err != nil {
		return fmt.Errorf("listing installed features: %w", err)
	}
	missing := required.Missing(installed)
	if len(missing) == 0 {
		return nil
	}
	e.Log.Info().Str("module", module).Msgf("%s: %v", domain.MsgFeaturesAdded, missing)
	if err := e.Features.InstallFeatures(ctx, missing, e.Config.AcceptLicense); err != nil {
		return fmt.Errorf("installing features %v: %w", missing, err)
	}
	e.Log.Info().Str("module", module).Msgf("%s: %s", domain.MsgFeaturesGenerated, strings.Join(missing, ", "))
	res.FeaturesInstalled = true
	e.publish(domain.NewFeaturesInstalledEvent(module, missing))
	return nil
}

func (e *BuildEngine) handleBuildDescriptor(ctx context.Context, g *changeGroup, res *domain.ActionResult) error {
	ev := g.events[len(g.events)-1]
	if ev.Kind == domain.ChangeDelete {
		return fmt.Errorf("build descriptor %s was deleted", ev.Path)
	}
	cur, err := e.Loader.LoadProject(ev.Path)
	if err != nil {
		return fmt.Errorf("reloading %s: %w", ev.Path, err)
	}

	e.mu.Lock()
	if e.Projects == nil {
		e.Projects = make(map[string]domain.ProjectModel)
	}
	old := e.Projects[g.module]
	e.Projects[g.module] = cur
	e.mu.Unlock()

	if node, ok := e.Reactor.Module(g.module); ok {
		node.SetSkipFlags(domain.ResolveSkipFlags(
			e.Config.ConfigSkip(g.module),
			domain.SkipSourcesFromProperties(e.UserProperties),
			cur.AmbientSkip()))
	}

	delta := domain.DiffProjects(old, cur)
	if delta.IsNoop() {
		e.Log.Debug().Str("module", g.module).Msg("build descriptor changed without effect on dev mode")
		return nil
	}
	e.Log.Debug().Str("module", g.module).Str("delta", delta.String()).Msg("build descriptor changed")

	if delta.RestartRequired() {
		event := domain.NewRestartRequiredEvent(g.module, delta.RestartReasons)
		e.Log.Warn().Str("module", g.module).Msg(event.Message())
		e.publish(event)
		res.RestartRequired = true
	}

	var errs []string
	goals := append([]string(nil), delta.RerunGoals...)
	if delta.FeatureDepsChanged {
		var added []string
		for _, dep := range domain.AddedFeatureDependencies(old, cur) {
			added = append(added, dep.ArtifactID)
		}
		e.Log.Info().Str("module", g.module).Strs("added", added).Msg("feature dependencies changed, installing features")
		if !containsString(goals, domain.GoalInstallFeature) {
			goals = append(goals, domain.GoalInstallFeature)
		}
	}
	for _, goal := range goals {
		if err := e.Goals.RunGoal(ctx, g.module, goal, e.UserProperties); err != nil {
			errs = append(errs, fmt.Sprintf("running %s: %v", goal, err))
			continue
		}
		switch goal {
		case domain.GoalInstallFeature:
			res.FeaturesInstalled = true
		case domain.GoalDeploy:
			res.Redeployed = true
		}
	}

	if delta.DependenciesChanged {
		cp, err := e.Resolver.ResolveClasspath(ctx, g.module)
		if err != nil {
			errs = append(errs, fmt.Sprintf("resolving classpath: %v", err))
		} else {
			e.mu.Lock()
			if e.classpaths == nil {
				e.classpaths = make(map[string][]string)
			}
			e.classpaths[g.module] = cp
			e.mu.Unlock()
		}
	}

	if delta.CompileDepsChanged && !res.Redeployed {
		target := e.Runnable
		if target == "" {
			target = g.module
		}
		if err := e.Deployer.Deploy(ctx, target); err != nil {
			errs = append(errs, fmt.Sprintf("redeploying %s: %v", target, err))
		} else {
			res.Redeployed = true
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("applying build descriptor change: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (e *BuildEngine) classpath(module string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.classpaths[module]
}

func (e *BuildEngine) enqueueHotTests(modules []string) bool {
	if !e.Config.HotTests || e.Tests == nil || len(modules) == 0 {
		return false
	}
	var targets []string
	for _, id := range e.Reactor.BuildOrder() {
		if containsString(modules, id) {
			targets = append(targets, id)
		}
	}
	run := e.Tests.Enqueue(domain.TestTrigger{Modules: targets, Unit: true, Integration: true})
	return run != nil
}

func (e *BuildEngine) publish(event domain.DomainEvent) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Publish(event); err != nil {
		e.Log.Debug().Err(err).Str("event", event.EventType()).Msg("event not published")
	}
}

func (e *BuildEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
