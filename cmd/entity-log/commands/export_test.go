package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JZwlth/iotauth/pkg/log"
)

func TestExportToJSONL(t *testing.T) {
	path := createTestLogFile(t, exchangeCapture())

	var buf bytes.Buffer
	require.NoError(t, RunExport(path, FormatJSONL, log.Filter{}, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "AUTH_ALERT", rec.Type)
	assert.Equal(t, "INVALID_SESSION_KEY_REQ_TARGET", rec.Alert)
	assert.Equal(t, "12ms", rec.Duration)
	assert.Equal(t, "AUTH_CLIENT", rec.Role)
	require.NotNil(t, rec.ClientID)
	assert.Equal(t, uint32(7), *rec.ClientID)
}

func TestExportToYAML(t *testing.T) {
	path := createTestLogFile(t, exchangeCapture())

	var buf bytes.Buffer
	require.NoError(t, RunExport(path, FormatYAML, log.Filter{}, &buf))

	dec := yaml.NewDecoder(&buf)
	var records []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			break
		}
		records = append(records, rec)
	}
	require.Len(t, records, 5)
	assert.Equal(t, "IDLE", records[4].State)
	assert.Equal(t, "RESPOND_TO_CLIENT", records[4].PrevState)
	assert.Equal(t, "20", records[3].Data)
}

func TestExportToCSV(t *testing.T) {
	path := createTestLogFile(t, exchangeCapture())

	layer := log.LayerWire
	var buf bytes.Buffer
	require.NoError(t, RunExport(path, FormatCSV, log.Filter{Layer: &layer}, &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "CLIENT_SESSION_REQUEST", rows[1][7])
	assert.Equal(t, "7", rows[1][6])
	assert.Equal(t, "3", rows[1][8])
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, exchangeCapture())
	err := RunExport(path, "xml", log.Filter{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown format")
}
