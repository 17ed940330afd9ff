package evaluator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) ExecuteCommand(name string, args []string, env []string) (string, string, error) {
	ret := m.Called(name, args, env)
	return ret.String(0), ret.String(1), ret.Error(2)
}

const evalOutput = `{"attr":"hello","attrPath":["hello"],"drvPath":"/nix/store/aaa-hello-2.12.drv","name":"hello-2.12","outputs":{"out":"/nix/store/bbb-hello-2.12"},"system":"x86_64-linux"}
not json

{"attr":"","attrPath":["python3Packages","requests"],"drvPath":"/nix/store/ccc-requests.drv","name":"requests","outputs":{"out":"/nix/store/ddd-requests","dist":"/nix/store/eee-requests-dist"}}
{"attr":"broken","attrPath":["broken"],"error":"attribute 'broken' is marked as broken"}
{"attr":"meta","attrPath":["meta"]}
`

func TestParseOutput(t *testing.T) {
	result := ParseOutput(evalOutput)
	require.Len(t, result.Derivations, 2)
	assert.Equal(t, "hello", result.Derivations[0].Attr)
	assert.Equal(t, map[string]string{"out": "/nix/store/bbb-hello-2.12"}, result.Derivations[0].Outputs)
	assert.Equal(t, "python3Packages.requests", result.Derivations[1].Attr)
	assert.Equal(t, "/nix/store/ccc-requests.drv", result.Derivations[1].DrvPath)
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "JSON parse error")
	assert.Contains(t, result.Warnings[1], "marked as broken")
}

func TestEvaluate(t *testing.T) {
	args := []string{"--flake", "github:NixOS/nixpkgs#hello", "--force-recurse", "--no-instantiate"}
	tests := []struct {
		name      string
		stdout    string
		stderr    string
		runErr    error
		wantDrvs  int
		wantError bool
	}{
		{name: "success", stdout: evalOutput, wantDrvs: 2},
		{name: "partial failure keeps derivations", stdout: evalOutput, stderr: "warning", runErr: errors.New("exit status 1"), wantDrvs: 2},
		{name: "failure without derivations", stderr: "error: flake not found", runErr: errors.New("exit status 1"), wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := new(mockExecutor)
			exec.On("ExecuteCommand", DefaultBinary, args, []string(nil)).Return(tt.stdout, tt.stderr, tt.runErr)

			e, err := New(exec, "")
			require.NoError(t, err)
			result, err := e.Evaluate("github:NixOS/nixpkgs#hello")
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "flake not found")
				return
			}
			require.NoError(t, err)
			assert.Len(t, result.Derivations, tt.wantDrvs)
			assert.Equal(t, tt.stderr, result.Stderr)
			exec.AssertExpectations(t)
		})
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil, "")
	assert.Error(t, err)

	e, err := New(new(mockExecutor), "/opt/bin/nix-eval-jobs")
	require.NoError(t, err)
	_, err = e.Evaluate("")
	assert.Error(t, err)
}
