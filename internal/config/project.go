package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/toolchain"
	"github.com/pendergraft/contradeploy/internal/validation"
)

// ProjectConfigFiles are searched in order when no path is given
var ProjectConfigFiles = []string{"contradeploy.toml", "cd.toml"}

// ProjectConfig is the decoded project file
type ProjectConfig struct {
	Solidity  SolidityConfig            `toml:"solidity"`
	Contracts map[string]ContractConfig `toml:"contracts"`
	Networks  map[string]NetworkConfig  `toml:"networks"`
	Build     BuildConfig               `toml:"build"`
}

// SolidityConfig lists the compilers a project builds with
type SolidityConfig struct {
	Optimizer *chains.OptimizerConfig          `toml:"optimizer,omitempty"`
	Compilers []toolchain.Declaration          `toml:"compilers"`
	Overrides map[string]toolchain.Declaration `toml:"overrides,omitempty"`
}

// ContractConfig maps a contract name to its source file
type ContractConfig struct {
	Source   string `toml:"source"`
	Artifact string `toml:"artifact,omitempty"` // defaults to the contract name
}

// NetworkConfig is the static part of a network profile
type NetworkConfig struct {
	URL      string         `toml:"url,omitempty"`
	ChainID  int64          `toml:"chain_id,omitempty"`
	Signer   bool           `toml:"signer"`
	Explorer ExplorerConfig `toml:"explorer,omitempty"`
}

// ExplorerConfig is a verification API and its browser counterpart
type ExplorerConfig struct {
	APIURL     string `toml:"api_url,omitempty"`
	BrowserURL string `toml:"browser_url,omitempty"`
}

// BuildConfig locates the Foundry project
type BuildConfig struct {
	Root  string `toml:"root,omitempty"`
	Out   string `toml:"out,omitempty"`
	Forge string `toml:"forge,omitempty"`
}

// DefaultProject returns the configuration used when no project file
// exists: the compilers, networks and contracts of the Kmbio deployment.
func DefaultProject() *ProjectConfig {
	return &ProjectConfig{
		Solidity: SolidityConfig{
			Optimizer: &chains.OptimizerConfig{Enabled: true, Runs: 200},
			Compilers: []toolchain.Declaration{
				{Version: "0.4.18"},
				{Version: "0.5.16"},
				{Version: "0.6.6", Optimizer: &chains.OptimizerConfig{Enabled: true, Runs: 200}},
				{Version: "0.8.4"},
				{Version: "0.8.14"},
			},
		},
		Contracts: map[string]ContractConfig{
			"KmbioFactory": {Source: "contracts/KmbioFactory.sol"},
			"KmbioRouter":  {Source: "contracts/KmbioRouter.sol"},
			"MasterChef":   {Source: "contracts/MasterChef.sol"},
		},
		Networks: defaultNetworks(),
		Build:    BuildConfig{Root: ".", Out: "out", Forge: "forge"},
	}
}

func defaultNetworks() map[string]NetworkConfig {
	return map[string]NetworkConfig{
		// The "goerli" alias points at Base mainnet and its explorer
		"goerli": {
			URL:     "https://developer-access-mainnet.base.org",
			ChainID: 8453,
			Signer:  true,
			Explorer: ExplorerConfig{
				APIURL:     "https://api.basescan.org/api",
				BrowserURL: "https://basescan.org",
			},
		},
		"localhost": {
			URL: "http://127.0.0.1:8545",
		},
	}
}

// LoadProject loads the project file at p, or the first of
// ProjectConfigFiles when p is empty. Without any file the defaults are
// returned with an empty path.
func LoadProject(p string) (*ProjectConfig, string, error) {
	if p != "" {
		cfg, err := LoadProjectFromPath(p)
		if err != nil {
			return nil, p, err
		}
		return cfg, p, nil
	}

	for _, name := range ProjectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			cfg, err := LoadProjectFromPath(name)
			if err != nil {
				return nil, name, err
			}
			return cfg, name, nil
		}
	}
	return DefaultProject(), "", nil
}

// LoadProjectFromPath decodes one project file and fills in defaults
func LoadProjectFromPath(p string) (*ProjectConfig, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return ParseProject(data)
}

// ParseProject decodes project TOML. Sections the file leaves out fall
// back to the defaults; networks the file does not define are added from
// the defaults.
func ParseProject(data []byte) (*ProjectConfig, error) {
	var cfg ProjectConfig
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys in project file: %s", strings.Join(keys, ", "))
	}

	defaults := DefaultProject()
	if cfg.Solidity.Optimizer == nil {
		cfg.Solidity.Optimizer = defaults.Solidity.Optimizer
	}
	if len(cfg.Solidity.Compilers) == 0 {
		cfg.Solidity.Compilers = defaults.Solidity.Compilers
	}
	if len(cfg.Contracts) == 0 {
		cfg.Contracts = defaults.Contracts
	}
	if cfg.Networks == nil {
		cfg.Networks = make(map[string]NetworkConfig)
	}
	for name, n := range defaults.Networks {
		if _, ok := cfg.Networks[name]; !ok {
			cfg.Networks[name] = n
		}
	}
	if cfg.Build.Root == "" {
		cfg.Build.Root = defaults.Build.Root
	}
	if cfg.Build.Out == "" {
		cfg.Build.Out = defaults.Build.Out
	}
	if cfg.Build.Forge == "" {
		cfg.Build.Forge = defaults.Build.Forge
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks names and paths in the project file
func (p *ProjectConfig) Validate() error {
	var errs []error
	for _, name := range sortedKeys(p.Contracts) {
		c := p.Contracts[name]
		if err := validation.ValidateContractName(name); err != nil {
			errs = append(errs, fmt.Errorf("contracts.%s: %w", name, err))
		}
		if c.Source == "" || path.Ext(c.Source) != ".sol" {
			errs = append(errs, fmt.Errorf("contracts.%s: source must be a .sol path", name))
		}
		if c.Artifact != "" {
			if err := validation.ValidateContractName(c.Artifact); err != nil {
				errs = append(errs, fmt.Errorf("contracts.%s.artifact: %w", name, err))
			}
		}
	}
	for _, name := range sortedKeys(p.Networks) {
		n := p.Networks[name]
		if err := validation.ValidateNetworkName(name); err != nil {
			errs = append(errs, fmt.Errorf("networks.%s: %w", name, err))
		}
		if n.ChainID != 0 {
			if err := validation.ValidateChainID(n.ChainID); err != nil {
				errs = append(errs, fmt.Errorf("networks.%s.chain_id: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Unit returns the source unit for a catalogued contract
func (p *ProjectConfig) Unit(name string) (chains.SourceUnit, bool) {
	c, ok := p.Contracts[name]
	if !ok {
		return chains.SourceUnit{}, false
	}
	contract := c.Artifact
	if contract == "" {
		contract = name
	}
	return chains.SourceUnit{Path: c.Source, Contract: contract}, true
}

// Catalog returns every catalogued contract as a source unit
func (p *ProjectConfig) Catalog() map[string]chains.SourceUnit {
	out := make(map[string]chains.SourceUnit, len(p.Contracts))
	for name := range p.Contracts {
		out[name], _ = p.Unit(name)
	}
	return out
}

// NewToolchain builds a compiler registry from the [solidity] section,
// reading sources below the build root.
func (p *ProjectConfig) NewToolchain() (*toolchain.Registry, error) {
	defaults := toolchain.DefaultOptimizer
	if p.Solidity.Optimizer != nil {
		defaults = *p.Solidity.Optimizer
	}

	reg := toolchain.NewRegistry(os.DirFS(p.Build.Root), defaults)
	if err := reg.RegisterCompilerVersions(p.Solidity.Compilers); err != nil {
		return nil, err
	}
	for _, src := range sortedKeys(p.Solidity.Overrides) {
		if err := reg.SetOverride(src, p.Solidity.Overrides[src]); err != nil {
			return nil, fmt.Errorf("solidity.overrides.%q: %w", src, err)
		}
	}
	return reg, nil
}

// Encode renders the project as TOML
func (p *ProjectConfig) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
