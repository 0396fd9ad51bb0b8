package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contradeploy/internal/chains/evm"
	"github.com/pendergraft/contradeploy/internal/config"
	"github.com/pendergraft/contradeploy/internal/deployments/domain"
	"github.com/pendergraft/contradeploy/internal/networks"
	"github.com/pendergraft/contradeploy/internal/toolchain"
	"github.com/pendergraft/contradeploy/pkg/client"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"configuration", configErrorf("bad flag %s", "--network"), ExitConfiguration},
		{"wrapped configuration", errors.Join(errors.New("x"), networks.ErrUnknownNetwork), ExitConfiguration},
		{"failure", errors.New("rpc down"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

// testApp wires the default project against an empty build root, so any
// attempt to resolve a compiler fails with ErrSourceNotFound.
func testApp(t *testing.T, env config.Environment) *app {
	t.Helper()
	project := config.DefaultProject()
	project.Build.Root = t.TempDir()

	tc, err := project.NewToolchain()
	require.NoError(t, err)
	registry, err := networks.NewRegistry(env, networks.DefinitionsFromProject(project)...)
	require.NoError(t, err)

	return &app{
		cfg:       &config.Config{Env: env},
		project:   project,
		networks:  registry,
		toolchain: tc,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestPlanTargets_MissingCredential(t *testing.T) {
	a := testApp(t, config.Environment{})
	steps := []domain.Step{{ID: "factory", Contract: "KmbioFactory", Args: []domain.Arg{domain.Literal("0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061")}}}

	t.Run("deploy stops before resolving", func(t *testing.T) {
		_, err := planTargets(a, []string{"goerli"}, steps, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, networks.ErrMissingCredential)
		assert.NotErrorIs(t, err, toolchain.ErrSourceNotFound)
		assert.Equal(t, ExitConfiguration, ExitCode(err))
	})

	t.Run("validation without credentials resolves", func(t *testing.T) {
		_, err := planTargets(a, []string{"goerli"}, steps, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, toolchain.ErrSourceNotFound)
		assert.NotErrorIs(t, err, networks.ErrMissingCredential)
	})
}

func TestDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid key", fmt.Errorf("%w: invalid length", evm.ErrInvalidKey), ExitConfiguration},
		{"publicly known key", fmt.Errorf("%w: anvil #0 on chain 8453", evm.ErrUnsafeKey), ExitConfiguration},
		{"chain id mismatch", networks.ErrChainIDMismatch, ExitConfiguration},
		{"node down", errors.New("dial tcp 127.0.0.1:8545: connection refused"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dialError("goerli", tt.err)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), "network goerli")
			assert.Equal(t, tt.want, ExitCode(err))
		})
	}
}

func TestLoadSteps(t *testing.T) {
	t.Run("both sources", func(t *testing.T) {
		_, _, err := loadSteps("plan.yaml", []string{"KmbioFactory"})
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("nothing to deploy", func(t *testing.T) {
		_, _, err := loadSteps("", nil)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("step flags", func(t *testing.T) {
		steps, network, err := loadSteps("", []string{
			"factory=KmbioFactory:0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061",
			"KmbioRouter:@factory,0x4200000000000000000000000000000000000006",
		})
		require.NoError(t, err)
		assert.Empty(t, network)
		require.Len(t, steps, 2)
		assert.Equal(t, "factory", steps[0].ID)
		assert.Equal(t, "KmbioRouter", steps[1].Contract)
		assert.Equal(t, domain.Ref("factory"), steps[1].Args[0])
	})

	t.Run("bad step flags are all reported", func(t *testing.T) {
		_, _, err := loadSteps("", []string{"=", "x=:1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("plan file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plan.yaml")
		plan := `network: goerli
steps:
  - id: factory
    contract: KmbioFactory
    args: ["0xE05B36b0e0e070bC5Bc1b90B3435924aa02cC061"]
  - id: router
    contract: KmbioRouter
    args: [{ref: factory}, "0x4200000000000000000000000000000000000006"]
`
		require.NoError(t, os.WriteFile(path, []byte(plan), 0644))

		steps, network, err := loadSteps(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "goerli", network)
		require.Len(t, steps, 2)
		assert.True(t, steps[1].Args[0].IsRef())
	})
}

func TestReadYes(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"  YES  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"yep\n", false},
		{"y", true},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			got, err := readYes(bufio.NewReader(strings.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfirm_NotATerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stdin")
	require.NoError(t, err)
	defer f.Close()

	var out bytes.Buffer
	ok, err := confirm(f, &out, "Deploy?")
	assert.False(t, ok)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "--yes")
	assert.Empty(t, out.String(), "no prompt without a terminal")
}

func TestPrintRunList(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		printRunList(&buf, &client.ListRunsResponse{})
		assert.Equal(t, "No runs found\n", buf.String())
	})

	t.Run("rows and cursor", func(t *testing.T) {
		var buf bytes.Buffer
		printRunList(&buf, &client.ListRunsResponse{
			Data: []client.Run{
				{ID: "run-2", Network: "goerli", ChainID: 8453, Status: "failed", StepCount: 2, StartedAt: started},
				{ID: "run-1", Network: "localhost", ChainID: 31337, Status: "succeeded", StepCount: 3, StartedAt: started},
			},
			Pagination: client.Pagination{Limit: 2, HasMore: true, NextCursor: "run-1"},
		})

		out := buf.String()
		assert.Contains(t, out, "NETWORK")
		assert.Contains(t, out, "run-2")
		assert.Contains(t, out, "❌ failed")
		assert.Contains(t, out, "✅ succeeded")
		assert.Contains(t, out, "--cursor run-1")
	})
}

func TestPrintRunDetail(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(95 * time.Second)

	var buf bytes.Buffer
	printRunDetail(&buf, &client.RunDetail{
		Run: client.Run{
			ID:         "run-1",
			Network:    "goerli",
			ChainID:    8453,
			Deployer:   "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			Status:     "failed",
			Error:      "step router: reverted",
			StartedAt:  started,
			FinishedAt: &finished,
		},
		Steps: []client.Step{
			{Index: 0, StepID: "factory", Contract: "KmbioFactory", State: "confirmed", Address: "0x5FbDB2315678afecb367f032d93F642f64180aa3", TxHash: "0xabc"},
			{Index: 1, StepID: "router", Contract: "KmbioRouter", State: "failed", Error: "execution reverted"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Network:  goerli (chain 8453)")
	assert.Contains(t, out, "(1m35s)")
	assert.Contains(t, out, "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	assert.Contains(t, out, "✗ router: execution reverted")
	assert.NotContains(t, out, "✗ factory")
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "✅", statusIcon("succeeded"))
	assert.Equal(t, "❌", statusIcon("failed"))
	assert.Equal(t, "⚠️", statusIcon("aborted"))
	assert.Equal(t, "⏳", statusIcon("running"))
}

func TestRunConfigInit(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	require.NoError(t, runConfigInit(&buf, dir, false, true))
	assert.Contains(t, buf.String(), "contradeploy.toml")

	project, err := config.LoadProjectFromPath(filepath.Join(dir, "contradeploy.toml"))
	require.NoError(t, err)
	_, ok := project.Unit("KmbioFactory")
	assert.True(t, ok)

	plan, err := domain.LoadPlanFile(filepath.Join(dir, "plan.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "localhost", plan.Network)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, domain.Ref("factory"), plan.Steps[1].Args[0])

	t.Run("refuses to overwrite", func(t *testing.T) {
		err := runConfigInit(&bytes.Buffer{}, dir, false, false)
		assert.ErrorContains(t, err, "already exists")
	})

	t.Run("force overwrites", func(t *testing.T) {
		assert.NoError(t, runConfigInit(&bytes.Buffer{}, dir, true, true))
	})
}

func TestNetworkHelpers(t *testing.T) {
	withKey := networks.Profile{Name: "goerli", RPCURL: "https://rpc", RequiresSigner: true, SigningKey: config.NewSecret("0x01")}
	noKey := networks.Profile{Name: "goerli", RPCURL: "https://rpc", RequiresSigner: true}
	local := networks.Profile{Name: "localhost", RPCURL: "http://127.0.0.1:8545"}

	assert.Equal(t, "local key", signerMode(withKey))
	assert.Equal(t, "key required", signerMode(noKey))
	assert.Equal(t, "node account", signerMode(local))

	assert.Equal(t, "(from node)", chainIDString(0))
	assert.Equal(t, "8453", chainIDString(8453))

	assert.Equal(t, "-", explorerHost(local))
	explorer := local
	explorer.ExplorerAPIURL = "https://api.basescan.org/api"
	assert.Equal(t, "no key", explorerHost(explorer))
	explorer.ExplorerAPIKey = config.NewSecret("KEY")
	assert.Equal(t, "yes", explorerHost(explorer))

	assert.Equal(t, "no", readiness(noKey))
	assert.Equal(t, "yes", readiness(local))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLogLevel("debug").String())
	assert.Equal(t, "WARN", parseLogLevel("warn").String())
	assert.Equal(t, "INFO", parseLogLevel("bogus").String())
}
