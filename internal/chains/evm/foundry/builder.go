// Package foundry builds Solidity source units with Foundry's forge using a
// pinned compiler version per unit.
package foundry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pendergraft/contradeploy/internal/chains"
)

// Errors
var (
	ErrCompilationFailed = errors.New("compilation failed")
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrVersionMismatch   = errors.New("artifact built with a different compiler")
	ErrUnlinked          = errors.New("bytecode has unlinked libraries")
)

// CommandRunner runs an external command in dir
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run implements CommandRunner
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Config locates the project and the forge binary
type Config struct {
	Root  string // project root, where foundry.toml lives
	Out   string // artifact directory relative to Root
	Forge string // forge binary
}

// Builder implements chains.Builder for Foundry projects
type Builder struct {
	cfg    Config
	runner CommandRunner
	logger *slog.Logger

	// forge rewrites its cache and out dir; one build at a time
	mu sync.Mutex
}

// Option configures a Builder
type Option func(*Builder)

// WithRunner replaces the command runner
func WithRunner(r CommandRunner) Option {
	return func(b *Builder) { b.runner = r }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New creates a Foundry builder
func New(cfg Config, opts ...Option) *Builder {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Out == "" {
		cfg.Out = "out"
	}
	if cfg.Forge == "" {
		cfg.Forge = "forge"
	}
	b := &Builder{
		cfg:    cfg,
		runner: ExecRunner{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the builder identifier
func (b *Builder) Name() string {
	return "foundry"
}

// Detect checks if the root is a Foundry project
func (b *Builder) Detect() bool {
	_, err := os.Stat(filepath.Join(b.cfg.Root, "foundry.toml"))
	return err == nil
}

// Build compiles the unit with the given compiler and returns its artifact.
// Each compiler version writes to its own output directory so units built
// with different versions never overwrite each other.
func (b *Builder) Build(ctx context.Context, unit chains.SourceUnit, version string, optimizer chains.OptimizerConfig) (*chains.Artifact, error) {
	if err := unit.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	outDir := filepath.Join(b.cfg.Out, "v"+version)
	args := buildArgs(unit, version, optimizer, outDir)

	b.logger.Debug("running forge",
		slog.String("unit", unit.String()),
		slog.String("args", strings.Join(args, " ")),
	)

	_, stderr, err := b.runner.Run(ctx, b.cfg.Root, b.cfg.Forge, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s with solc %s: %v\n%s", ErrCompilationFailed, unit, version, err, tail(stderr, 40))
	}

	artifactPath := filepath.Join(b.cfg.Root, outDir, unit.FileName(), unit.Contract+".json")
	artifact, err := b.Parse(artifactPath)
	if err != nil {
		return nil, err
	}
	if v := artifact.EVM.Compiler.Version; v != "" && !strings.HasPrefix(v, version+"+") && v != version {
		return nil, fmt.Errorf("%w: %s reports %s, wanted %s", ErrVersionMismatch, unit, v, version)
	}

	stdJSON, err := b.GeneratePerContractStandardJSON(b.cfg.Root, artifactPath)
	if err != nil {
		// Deployment does not need it; verification will be skipped
		b.logger.Warn("no standard JSON input for verification",
			slog.String("unit", unit.String()),
			slog.Any("error", err),
		)
	} else {
		artifact.EVM.StandardJSONInput = stdJSON
	}

	return artifact, nil
}

func buildArgs(unit chains.SourceUnit, version string, optimizer chains.OptimizerConfig, outDir string) []string {
	args := []string{"build", unit.Path, "--use", version, "--out", outDir}
	if optimizer.Enabled {
		args = append(args, "--optimize", "--optimizer-runs", strconv.Itoa(optimizer.Runs))
	}
	return args
}

// tail keeps the last n lines of compiler output
func tail(out []byte, n int) string {
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Parse parses a Foundry artifact file
func (b *Builder) Parse(artifactPath string) (*chains.Artifact, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactPath)
		}
		return nil, fmt.Errorf("reading artifact: %w", err)
	}

	var raw FoundryArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing artifact JSON: %w", err)
	}

	// Interfaces and abstract contracts have no creation code
	if raw.Bytecode.Object == "" || raw.Bytecode.Object == "0x" {
		return nil, fmt.Errorf("contract %s has no bytecode (interface or abstract)", strings.TrimSuffix(filepath.Base(artifactPath), ".json"))
	}

	if libs := raw.Bytecode.libraries(); len(libs) > 0 {
		return nil, fmt.Errorf("%w: %s needs %s", ErrUnlinked, strings.TrimSuffix(filepath.Base(artifactPath), ".json"), strings.Join(libs, ", "))
	}

	var metadata FoundryMetadata
	if raw.RawMetadata != "" {
		_ = json.Unmarshal([]byte(raw.RawMetadata), &metadata) // Non-fatal, continue without metadata
	}

	return &chains.Artifact{
		Name:  strings.TrimSuffix(filepath.Base(artifactPath), ".json"),
		Chain: "evm",
		EVM: &chains.EVMArtifact{
			SourcePath:       metadata.Settings.CompilationTargetPath(),
			License:          metadata.Sources.FirstLicense(),
			ABI:              raw.ABI,
			Bytecode:         raw.Bytecode.Object,
			DeployedBytecode: raw.DeployedBytecode.Object,
			Compiler: chains.EVMCompiler{
				Version:    metadata.Compiler.Version,
				EVMVersion: metadata.Settings.EVMVersion,
				ViaIR:      metadata.Settings.ViaIR,
				Optimizer: chains.OptimizerConfig{
					Enabled: metadata.Settings.Optimizer.Enabled,
					Runs:    metadata.Settings.Optimizer.Runs,
				},
			},
		},
	}, nil
}
