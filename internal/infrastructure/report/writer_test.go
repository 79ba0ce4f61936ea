package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/libertydev/internal/application"
	"github.com/felixgeelhaar/libertydev/internal/domain"
)

func TestConsoleReportTests(t *testing.T) {
	var buf bytes.Buffer
	run := &domain.PendingTestRun{ID: 4}

	NewConsole(&buf).ReportTests(run, []application.TestResult{
		{Module: "demo:lib", Phase: domain.PhaseUnit, Duration: 1500 * time.Millisecond},
		{Module: "demo:app", Phase: domain.PhaseIntegration, Duration: 2 * time.Second, Err: errors.New("1 failure")},
	})

	out := buf.String()
	assert.Contains(t, out, "Test run 4")
	assert.Contains(t, out, "demo:lib")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "1/2 passed")
	assert.NotContains(t, out, "\x1b[", "no colour when not a terminal")
}

func TestConsoleReportNoTests(t *testing.T) {
	var buf bytes.Buffer
	NewConsole(&buf).ReportTests(&domain.PendingTestRun{ID: 1}, nil)
	assert.Contains(t, buf.String(), "No tests were run.")
}

func inspectResult() application.InspectResult {
	return application.InspectResult{
		BuildOrder: []string{"demo:lib", "demo:app"},
		Selected:   "demo:app",
		Modules: []application.ModuleInfo{
			{ID: "demo:lib", Packaging: domain.PackagingJar, Skip: domain.SkipFlags{SkipITs: true}},
			{
				ID: "demo:app", Packaging: domain.PackagingWar, Runnable: true, Upstream: []string{"demo:lib"},
				Roots: []domain.WatchRoot{{Path: "/p/app/src/main/liberty/config", Role: domain.RoleConfig, Target: "/srv"}},
			},
		},
	}
}

func TestWriteInspectText(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteInspect(&buf, inspectResult(), FormatText))

	out := buf.String()
	assert.Contains(t, out, "Build order: demo:lib -> demo:app")
	assert.Contains(t, out, "selected")
	assert.Contains(t, out, "ITs")
	assert.Contains(t, out, "demo:app watch roots:")
	assert.Contains(t, out, "-> /srv")
}

func TestWriteInspectAmbiguity(t *testing.T) {
	var buf bytes.Buffer
	res := application.InspectResult{
		BuildOrder: []string{"demo:a", "demo:b"},
		Candidates: []string{"demo:a", "demo:b"},
		Error:      (&domain.AmbiguousModulesError{Candidates: []string{"demo:a", "demo:b"}}).Error(),
	}

	require.NoError(t, WriteInspect(&buf, res, ""))

	out := buf.String()
	assert.Contains(t, out, "Found multiple independent modules")
	assert.Equal(t, 2, strings.Count(out, "  - demo:"))
}

func TestWriteInspectJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteInspect(&buf, inspectResult(), FormatJSON))

	var decoded application.InspectResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "demo:app", decoded.Selected)
	assert.Len(t, decoded.Modules, 2)
}

func TestWriteInspectUnknownFormat(t *testing.T) {
	assert.Error(t, WriteInspect(&bytes.Buffer{}, application.InspectResult{}, "xml"))
}
