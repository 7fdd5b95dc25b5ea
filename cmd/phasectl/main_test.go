package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/drblury/phaseflow"
)

const declarations = `
phases:
  inbound: [Security, Dispatch]
  outbound: [Security]
handlers:
  inbound:
    - name: route
      implementation: dispatch.route
      phase: Dispatch
    - name: authN
      implementation: security.authn
      phase: Security
      order:
        first: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "phases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, declarations)

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OK (2 handlers across 4 flows)")
}

func TestValidateReportsUnknownPhase(t *testing.T) {
	path := writeConfig(t, `
phases:
  inbound: [Security]
handlers:
  inbound:
    - name: bogus
      implementation: x
      phase: DoesNotExist
`)

	_, err := execute(t, "validate", "-c", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, phaseflow.ErrUnknownPhase)
	assert.Contains(t, err.Error(), "bogus")
	assert.Contains(t, err.Error(), "DoesNotExist")
}

func TestPlanText(t *testing.T) {
	path := writeConfig(t, declarations)

	out, err := execute(t, "plan", "-c", path, "--flow", "inbound")
	require.NoError(t, err)

	want := strings.Join([]string{
		"inbound:",
		"  PreDispatch",
		"  Security",
		"    - authN (security.authn) [first]",
		"  Dispatch",
		"    - route (dispatch.route)",
		"",
	}, "\n")
	assert.Equal(t, want, out)
}

func TestPlanYAML(t *testing.T) {
	path := writeConfig(t, declarations)

	out, err := execute(t, "chain", "-c", path, "-f", "outbound", "-o", "yaml")
	require.NoError(t, err)

	var plans []phaseflow.Plan
	require.NoError(t, yaml.Unmarshal([]byte(out), &plans))
	require.Len(t, plans, 1)
	assert.Equal(t, "outbound", plans[0].Flow)
	assert.Equal(t, "PreDispatch", plans[0].Phases[len(plans[0].Phases)-1].Name)
}

func TestPlanJSON(t *testing.T) {
	path := writeConfig(t, declarations)

	out, err := execute(t, "plan", "-c", path, "-o", "json")
	require.NoError(t, err)

	plans, err := phaseflow.DecodePlans(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, plans, 4)
	assert.Equal(t, []string{"authN", "route"}, plans[0].HandlerNames())
}

func TestPlanRejectsBadInput(t *testing.T) {
	path := writeConfig(t, declarations)

	_, err := execute(t, "plan", "-c", path, "-f", "sideways")
	assert.ErrorIs(t, err, phaseflow.ErrUnknownFlow)

	_, err = execute(t, "plan", "-c", path, "-o", "xml")
	assert.ErrorContains(t, err, "unsupported output format")

	_, err = execute(t, "plan", "-c", path, "--log-level", "loud")
	assert.ErrorContains(t, err, "invalid log level")
}
