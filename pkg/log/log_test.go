package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	token := "SWMTKN-1-49nj1cmql0jkz5s954yi3oex3nedyz0fb0xx14ie39trti4wxv-8vxv8rssmk743ojnwacrr2e7c"
	redacted := Redact(token)

	assert.Equal(t, "SWMTKN-1****", redacted)
	assert.NotContains(t, redacted, "8vxv8rssmk")

	// short secrets are hidden entirely
	assert.Equal(t, "****", Redact("psk"))
	assert.Equal(t, "****", Redact(""))
}

func TestInitLevelFiltersOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Debug("debug message")
	Info("info message")
	Warn("warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestChildLoggersCarryFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	meshLogger := WithComponent("vpn-mesh")
	meshLogger.Info().Msg("peer connected")
	hostLogger := WithHost("elrond")
	hostLogger.Info().Msg("joined")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Contains(t, lines[0], `"component":"vpn-mesh"`)
	assert.Contains(t, lines[1], `"host":"elrond"`)
}
