package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/felixgeelhaar/libertydev/internal/domain"
)

func TestNewFiltersDebugUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	verbose := New(&buf, true)
	verbose.Debug().Msg("detail")
	assert.Contains(t, buf.String(), "detail")
}

func TestComponentTagsEvents(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(&buf, false), "engine")

	log.Info().Str("module", "demo:app").Msg("recompiled")

	out := buf.String()
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "module=demo:app")
	assert.NotContains(t, out, "\x1b[", "buffers are not terminals")
}

func TestSetVerbose(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	SetVerbose(false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	SetVerbose(true)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestEventLogPublishesAtDebug(t *testing.T) {
	var buf bytes.Buffer
	events := EventLog{Log: New(&buf, true)}

	err := events.Publish(domain.NewRestartRequiredEvent("demo:app", []string{"bootstrap properties"}))

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "event=RestartRequired")
}
