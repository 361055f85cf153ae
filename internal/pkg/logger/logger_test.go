package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(nil)
		SetLevel(INFO)
	})
	return &buf
}

func TestRedactsAddressFields(t *testing.T) {
	buf := capture(t)
	SetLevel(DEBUG)

	Info("sent", "recipient", "jane.doe@example.com", "note", "reply to bob@example.org", "count", 3)

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "sent", entry["msg"])
	assert.Equal(t, "ja***@example.com", entry["recipient"])
	assert.Equal(t, "reply to bo***@example.org", entry["note"])
	assert.Equal(t, "3", entry["count"])
}

func TestLevelFilter(t *testing.T) {
	buf := capture(t)
	SetLevel(WARN)

	Info("dropped")
	Warn("kept")
	assert.Contains(t, buf.String(), `"kept"`)
	assert.NotContains(t, buf.String(), `"dropped"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" WARNING "))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactsAddressLists(t *testing.T) {
	buf := capture(t)

	Info("sent", "recipient", "Jane <jane@example.com>, bo@example.org")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Jane <ja***@example.com>, ***@example.org", entry["recipient"])
}

func TestRedactEmailDisplayName(t *testing.T) {
	assert.Equal(t, "Jane <ja***@example.com>", RedactEmail("Jane <jane@example.com>"))
}

func TestOddFieldKept(t *testing.T) {
	buf := capture(t)
	Warn("odd", "k", "v", "dangling")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "v", entry["k"])
	assert.Equal(t, "dangling", entry["!BADKEY"])
}
