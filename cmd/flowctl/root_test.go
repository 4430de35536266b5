package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const creditFlow = `{
  "name": "credit",
  "nodes": [
    {"id": "start", "type": "start", "position": {"x": 0, "y": 0}, "data": {"policyId": "adult", "input": "{\"age\": 20, \"score\": 720}"}},
    {"id": "score", "type": "policy", "position": {"x": 0, "y": 120}, "data": {"policyId": "good_score"}},
    {"id": "approved", "type": "return", "position": {"x": -80, "y": 240}, "data": {"returnValue": true}},
    {"id": "rejected", "type": "return", "position": {"x": 80, "y": 240}, "data": {"returnValue": false}},
    {"id": "manual", "type": "custom", "position": {"x": 160, "y": 120}, "data": {"outcome": "manual review"}}
  ],
  "edges": [
    {"id": "e1", "source": "start", "target": "score", "sourceHandle": "true"},
    {"id": "e2", "source": "start", "target": "rejected", "sourceHandle": "false"},
    {"id": "e3", "source": "score", "target": "approved", "label": "true"},
    {"id": "e4", "source": "score", "target": "manual", "label": "false"}
  ],
  "tests": [
    {"name": "good applicant", "input": {"age": 30, "score": 800}, "expectedOutcome": true},
    {"name": "thin file", "input": {"age": 30, "score": 500}, "expectedOutcome": "manual review"}
  ]
}`

const rules = `rules:
  adult: age >= 18
  good_score: score > 700
`

func writeFixtures(t *testing.T) (flowPath, rulesPath string) {
	t.Helper()
	dir := t.TempDir()
	flowPath = filepath.Join(dir, "credit.json")
	rulesPath = filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(flowPath, []byte(creditFlow), 0o600))
	require.NoError(t, os.WriteFile(rulesPath, []byte(rules), 0o600))
	return flowPath, rulesPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	flowPath, _ := writeFixtures(t)

	out, err := execute(t, "validate", flowPath)
	require.NoError(t, err)

	var report struct {
		IsValid bool `json:"isValid"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.IsValid)
}

func TestValidate_InvalidDOT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.dot")
	require.NoError(t, os.WriteFile(path, []byte(`digraph broken { start [policy="adult"]; yes [type=return, value=true]; start -> yes [label="true"]; }`), 0o600))

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow is invalid")
	assert.Contains(t, out, `"isValid": false`)
}

func TestRun_AllStoredTests(t *testing.T) {
	flowPath, rulesPath := writeFixtures(t)

	out, err := execute(t, "run", flowPath, "--all", "--evaluator", "local", "--rules", rulesPath)
	require.NoError(t, err)

	var summary struct {
		Passed int `json:"passed"`
		Failed int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 0, summary.Failed)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	flowPath, rulesPath := writeFixtures(t)

	_, err := execute(t, "run", flowPath, "--evaluator", "local", "--rules", rulesPath,
		"--input", `{"age": 12, "score": 900}`, "--expect", "TRUE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected true, got false")
}

func TestRun_StoredTestByName(t *testing.T) {
	flowPath, rulesPath := writeFixtures(t)

	out, err := execute(t, "run", flowPath, "--evaluator", "local", "--rules", rulesPath, "--test", "thin file")
	require.NoError(t, err)
	assert.Contains(t, out, `"manual review"`)
	assert.Contains(t, out, `"passed": true`)
}

func TestRun_UnknownStoredTest(t *testing.T) {
	flowPath, rulesPath := writeFixtures(t)

	out, err := execute(t, "run", flowPath, "--evaluator", "local", "--rules", rulesPath, "--test", "no such test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no stored test named "no such test"`)
	assert.Empty(t, out)
}

func TestDOT_Trace(t *testing.T) {
	flowPath, rulesPath := writeFixtures(t)

	plain, err := execute(t, "dot", flowPath)
	require.NoError(t, err)
	assert.Contains(t, plain, "digraph")
	assert.Contains(t, plain, "score")

	traced, err := execute(t, "dot", flowPath, "--trace", "--evaluator", "local", "--rules", rulesPath)
	require.NoError(t, err)
	assert.NotEqual(t, plain, traced)
}

func TestEdit_AppliesCommandsAndWritesFlow(t *testing.T) {
	flowPath, rulesPath := writeFixtures(t)
	dir := t.TempDir()
	cmdsPath := filepath.Join(dir, "commands.json")
	outPath := filepath.Join(dir, "edited.json")
	require.NoError(t, os.WriteFile(cmdsPath, []byte(`[
		{"op": "changeNodeType", "id": "manual", "kind": "return"},
		{"op": "setField", "id": "manual", "field": "returnValue", "value": false}
	]`), 0o600))

	out, err := execute(t, "edit", flowPath, cmdsPath, "--out", outPath)
	require.NoError(t, err)

	var res struct {
		NodeID string `json:"nodeId"`
		Report struct {
			IsValid bool `json:"isValid"`
		} `json:"report"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "manual", res.NodeID)
	assert.True(t, res.Report.IsValid)

	// the thin file test now ends on a return false instead of the custom outcome
	_, err = execute(t, "run", outPath, "--evaluator", "local", "--rules", rulesPath, "--test", "thin file")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected")
}

func TestEdit_RejectedCommand(t *testing.T) {
	flowPath, _ := writeFixtures(t)
	cmdsPath := filepath.Join(t.TempDir(), "commands.json")
	require.NoError(t, os.WriteFile(cmdsPath, []byte(`[{"op": "deleteNode", "id": "start"}]`), 0o600))

	out, err := execute(t, "edit", flowPath, cmdsPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "edit rejected")
	assert.Empty(t, out)

	require.NoError(t, os.WriteFile(cmdsPath, []byte(`[{"op": "rename"}]`), 0o600))
	_, err = execute(t, "edit", flowPath, cmdsPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown edit op")
}
