package domain

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Log messages emitted for dev-mode events. External tooling watches the
// console output for these exact strings.
const (
	MsgSourceCompiled      = "Source compilation was successful."
	MsgSourceCompileFailed = "Source compilation had errors."
	MsgTestsCompiled       = "Tests compilation was successful."
	MsgTestsCompileFailed  = "Tests compilation had errors."
	MsgFeaturesAdded       = "Configuration features have been added"
	MsgFeaturesGenerated   = "Generated features"
	MsgRestartRequired     = "restart dev mode"
	MsgDevModeRunning      = "Liberty is running in dev mode."
	MsgEnterForTests       = "Press the Enter key to run tests on demand. To stop the server and quit dev mode, type 'exit' and press Enter."
	MsgUnitTestsFinished   = "Unit tests for %s finished."
	MsgITsFinished         = "Integration tests for %s finished."
)

// Server log message codes.
const (
	CodeServerReady   = "CWWKF0011I"
	CodeServerStopped = "CWWKE0036I"
	CodeAppStarted    = "CWWKZ0001I"
	CodeAppUpdated    = "CWWKZ0003I"
	CodeAppStopped    = "CWWKZ0009I"
)

// LogMatcher decides whether a server log line contains an awaited message.
type LogMatcher interface {
	Match(line string) bool
	String() string
}

// LogMessage matches log lines containing it literally.
type LogMessage string

func (m LogMessage) Match(line string) bool { return strings.Contains(line, string(m)) }
func (m LogMessage) String() string         { return string(m) }

// LogPattern matches log lines against a regular expression.
type LogPattern struct {
	re *regexp.Regexp
}

// NewLogPattern compiles expr into a matcher.
func NewLogPattern(expr string) (LogPattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return LogPattern{}, err
	}
	return LogPattern{re: re}, nil
}

func (m LogPattern) Match(line string) bool { return m.re != nil && m.re.MatchString(line) }

func (m LogPattern) String() string {
	if m.re == nil {
		return ""
	}
	return m.re.String()
}

// AppMessage matches a message code logged for the named application, such as
// CWWKZ0001I followed by the application name. Without a name any line with
// the code matches.
func AppMessage(code, app string) LogMatcher {
	if app == "" {
		return LogMessage(code)
	}
	return LogPattern{re: regexp.MustCompile(regexp.QuoteMeta(code) + `.*\b` + regexp.QuoteMeta(app) + `\b`)}
}

// DomainEvent represents a significant occurrence in a dev-mode session.
type DomainEvent interface {
	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time
	// EventType returns the type of event.
	EventType() string
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	occurredAt time.Time
}

// OccurredAt returns when the event occurred.
func (e BaseEvent) OccurredAt() time.Time {
	return e.occurredAt
}

// NewBaseEvent creates a new base event with current timestamp.
func NewBaseEvent() BaseEvent {
	return BaseEvent{occurredAt: time.Now()}
}

// CompilationEvent is raised after a source set has been compiled.
type CompilationEvent struct {
	BaseEvent
	Module    string
	SourceSet SourceSet
	Succeeded bool
	Err       error
}

// EventType returns the event type identifier.
func (e CompilationEvent) EventType() string {
	if e.Succeeded {
		return "CompilationSucceeded"
	}
	return "CompilationFailed"
}

// Message returns the console message for the event.
func (e CompilationEvent) Message() string {
	switch {
	case e.SourceSet == SourceTest && e.Succeeded:
		return MsgTestsCompiled
	case e.SourceSet == SourceTest:
		return MsgTestsCompileFailed
	case e.Succeeded:
		return MsgSourceCompiled
	default:
		return MsgSourceCompileFailed
	}
}

// NewCompilationEvent creates a new CompilationEvent.
func NewCompilationEvent(module string, set SourceSet, err error) CompilationEvent {
	return CompilationEvent{
		BaseEvent: NewBaseEvent(),
		Module:    module,
		SourceSet: set,
		Succeeded: err == nil,
		Err:       err,
	}
}

// FeaturesInstalledEvent is raised when configuration changes required new features.
type FeaturesInstalledEvent struct {
	BaseEvent
	Module   string
	Features []string
}

// EventType returns the event type identifier.
func (e FeaturesInstalledEvent) EventType() string {
	return "FeaturesInstalled"
}

// NewFeaturesInstalledEvent creates a new FeaturesInstalledEvent.
func NewFeaturesInstalledEvent(module string, features []string) FeaturesInstalledEvent {
	return FeaturesInstalledEvent{BaseEvent: NewBaseEvent(), Module: module, Features: features}
}

// RestartRequiredEvent is raised when a build descriptor change cannot be hot-applied.
type RestartRequiredEvent struct {
	BaseEvent
	Module  string
	Reasons []string
}

// EventType returns the event type identifier.
func (e RestartRequiredEvent) EventType() string {
	return "RestartRequired"
}

// Message returns the console message for the event.
func (e RestartRequiredEvent) Message() string {
	return "Changes to " + strings.Join(e.Reasons, ", ") + " in " + e.Module +
		" cannot be applied to the running server. Please " + MsgRestartRequired + "."
}

// NewRestartRequiredEvent creates a new RestartRequiredEvent.
func NewRestartRequiredEvent(module string, reasons []string) RestartRequiredEvent {
	return RestartRequiredEvent{BaseEvent: NewBaseEvent(), Module: module, Reasons: reasons}
}

// TestPhase distinguishes unit and integration test runs.
type TestPhase string

const (
	PhaseUnit        TestPhase = "unit"
	PhaseIntegration TestPhase = "integration"
)

// TestsFinishedEvent is raised after one test phase of one module completed.
type TestsFinishedEvent struct {
	BaseEvent
	RunID    int64
	Module   string
	Phase    TestPhase
	Duration time.Duration
	Err      error
}

// EventType returns the event type identifier.
func (e TestsFinishedEvent) EventType() string {
	return "TestsFinished"
}

// NewTestsFinishedEvent creates a new TestsFinishedEvent.
func NewTestsFinishedEvent(runID int64, module string, phase TestPhase, d time.Duration, err error) TestsFinishedEvent {
	return TestsFinishedEvent{
		BaseEvent: NewBaseEvent(),
		RunID:     runID,
		Module:    module,
		Phase:     phase,
		Duration:  d,
		Err:       err,
	}
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(event DomainEvent) error
}

// EventCollector collects domain events for later inspection. It is safe for
// concurrent use.
type EventCollector struct {
	mu     sync.Mutex
	events []DomainEvent
}

// NewEventCollector creates a new event collector.
func NewEventCollector() *EventCollector {
	return &EventCollector{
		events: make([]DomainEvent, 0),
	}
}

// Publish implements EventPublisher by recording the event.
func (c *EventCollector) Publish(event DomainEvent) error {
	c.Record(event)
	return nil
}

// Record adds an event to the collector.
func (c *EventCollector) Record(event DomainEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns all collected events.
func (c *EventCollector) Events() []DomainEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DomainEvent(nil), c.events...)
}

// Clear removes all collected events.
func (c *EventCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = make([]DomainEvent, 0)
}

// HasEvents returns true if there are any collected events.
func (c *EventCollector) HasEvents() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events) > 0
}
