package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runctl/internal/wire"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]int{"line": 3}
	require.NoError(t, formatter.Error("E_CONFIG_INVALID", "log_depth out of range", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_CONFIG_INVALID", resp.Error.Code)
	assert.Equal(t, "log_depth out of range", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			require.NoError(t, formatter.Error("E_SCENARIO_FAILED", "1 assertion(s) failed", "record_count"))
			assert.Contains(t, buf.String(), "Error [E_SCENARIO_FAILED]: 1 assertion(s) failed")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details: record_count")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "json",
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   true,
	}

	formatter.VerboseLog("simulating %s", "start_run")
	assert.Empty(t, out.String())
	assert.Equal(t, "simulating start_run\n", errOut.String())

	formatter.Verbose = false
	formatter.VerboseLog("ignored")
	assert.Equal(t, "simulating start_run\n", errOut.String())
}

func TestGetErrWriterFallsBack(t *testing.T) {
	out := &bytes.Buffer{}
	formatter := &OutputFormatter{Writer: out}
	assert.Same(t, out, formatter.GetErrWriter())
}

func TestRecordView(t *testing.T) {
	view := newRecordView(wire.LogRecord{
		ReceiveTS:    10,
		Opcode:       wire.OpRunPrepare,
		Payload:      0x01020304,
		CompletionTS: 17,
	})
	assert.Equal(t, "RunPrepare", view.Opcode)
	assert.Equal(t, uint32(7), view.Latency)
}

func TestWriteTables(t *testing.T) {
	buf := &bytes.Buffer{}
	writeRecordTable(buf, nil)
	writeAckTable(buf, nil)
	assert.Contains(t, buf.String(), "No records.")
	assert.Contains(t, buf.String(), "No acknowledgments.")

	buf.Reset()
	writeRecordTable(buf, recordViews([]wire.LogRecord{{Opcode: wire.OpStartRun, CompletionTS: 3}}))
	assert.Contains(t, buf.String(), "RECEIVE")
	assert.Contains(t, buf.String(), "StartRun")
	assert.Contains(t, buf.String(), "0x00000000")

	buf.Reset()
	writeAckTable(buf, ackViews([]wire.AckBeat{{Tag: 0x4, ID: 0xFD}}))
	assert.Contains(t, buf.String(), "0xfd")
	assert.Contains(t, buf.String(), "0x4fd000000")
}
