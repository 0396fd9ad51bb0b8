// Package networks composes static network definitions with secrets from
// the environment into the profiles a deployment run targets.
package networks

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/pendergraft/contradeploy/internal/config"
	"github.com/pendergraft/contradeploy/internal/validation"
)

// Errors
var (
	ErrUnknownNetwork    = errors.New("unknown network")
	ErrMissingCredential = errors.New("missing credential")
	ErrMissingEndpoint   = errors.New("missing RPC endpoint")
	ErrChainIDMismatch   = errors.New("chain id mismatch")
)

// Definition is the static, per-network part of a profile. Name, chain id
// and explorer endpoints are independent: an alias may point at any chain.
type Definition struct {
	Name           string
	RPCURL         string
	ChainID        int64 // 0 means infer from the node
	RequiresSigner bool
	ExplorerAPIURL string
	ExplorerUIURL  string
}

// Profile is a definition resolved against the environment
type Profile struct {
	Name           string        `json:"name"`
	RPCURL         string        `json:"rpcUrl"`
	ChainID        int64         `json:"chainId,omitempty"`
	SigningKey     config.Secret `json:"-"`
	RequiresSigner bool          `json:"requiresSigner"`
	ExplorerAPIURL string        `json:"explorerApiUrl,omitempty"`
	ExplorerUIURL  string        `json:"explorerUiUrl,omitempty"`
	ExplorerAPIKey config.Secret `json:"-"`
}

// Validate checks that the profile can be used to submit transactions. It
// is called before anything is built or sent.
func (p Profile) Validate() error {
	if p.RPCURL == "" {
		return fmt.Errorf("%w: network %s has no url and %s is not set", ErrMissingEndpoint, p.Name, config.EnvRPCURL)
	}
	if _, err := url.ParseRequestURI(p.RPCURL); err != nil {
		return fmt.Errorf("%w: network %s: invalid url %q", ErrMissingEndpoint, p.Name, p.RPCURL)
	}
	if p.RequiresSigner {
		if !p.SigningKey.IsSet() {
			return fmt.Errorf("%w: network %s requires %s, which is not set", ErrMissingCredential, p.Name, config.EnvSignerPrivateKey)
		}
		if p.SigningKey.IsEmpty() {
			return fmt.Errorf("%w: network %s requires %s, which is empty", ErrMissingCredential, p.Name, config.EnvSignerPrivateKey)
		}
	}
	return nil
}

// HasSigner reports whether transactions are signed locally. Profiles that
// do not require a signer always deploy from the node's unlocked account.
func (p Profile) HasSigner() bool {
	return p.RequiresSigner && !p.SigningKey.IsEmpty()
}

// ExplorerEnabled reports whether verification can be requested
func (p Profile) ExplorerEnabled() bool {
	return p.ExplorerAPIURL != "" && !p.ExplorerAPIKey.IsEmpty()
}

// AddressURL links to an address on the explorer UI, or "" without one
func (p Profile) AddressURL(address string) string {
	if p.ExplorerUIURL == "" {
		return ""
	}
	u, err := url.JoinPath(p.ExplorerUIURL, "address", address)
	if err != nil {
		return ""
	}
	return u
}

// TxURL links to a transaction on the explorer UI, or "" without one
func (p Profile) TxURL(hash string) string {
	if p.ExplorerUIURL == "" {
		return ""
	}
	u, err := url.JoinPath(p.ExplorerUIURL, "tx", hash)
	if err != nil {
		return ""
	}
	return u
}

// Registry holds one profile per network name
type Registry struct {
	mu       sync.RWMutex
	env      config.Environment
	profiles map[string]Profile
}

// NewRegistry creates a registry from the environment and definitions.
// Duplicate or invalid names are rejected.
func NewRegistry(env config.Environment, defs ...Definition) (*Registry, error) {
	r := &Registry{
		env:      env,
		profiles: make(map[string]Profile, len(defs)),
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a network definition
func (r *Registry) Register(def Definition) error {
	if err := validation.ValidateNetworkName(def.Name); err != nil {
		return fmt.Errorf("network %q: %w", def.Name, err)
	}
	if def.ChainID != 0 {
		if err := validation.ValidateChainID(def.ChainID); err != nil {
			return fmt.Errorf("network %s: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.profiles[def.Name]; exists {
		return fmt.Errorf("network %s registered twice", def.Name)
	}
	r.profiles[def.Name] = r.compose(def)
	return nil
}

// compose fills a profile from a definition. RPC_URL stands in for a
// missing url. The signing key is attached only to profiles that require a
// signer.
func (r *Registry) compose(def Definition) Profile {
	rpcURL := def.RPCURL
	if rpcURL == "" {
		rpcURL = r.env.RPCURL.Value()
	}
	p := Profile{
		Name:           def.Name,
		RPCURL:         rpcURL,
		ChainID:        def.ChainID,
		RequiresSigner: def.RequiresSigner,
		ExplorerAPIURL: def.ExplorerAPIURL,
		ExplorerUIURL:  def.ExplorerUIURL,
		ExplorerAPIKey: r.env.ExplorerAPIKey,
	}
	if def.RequiresSigner {
		p.SigningKey = r.env.SignerPrivateKey
	}
	return p
}

// Get returns the profile for a network name
func (r *Registry) Get(name string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownNetwork, name, r.namesLocked())
	}
	return p, nil
}

// Select returns a validated profile, ready for a run
func (r *Registry) Select(name string) (Profile, error) {
	p, err := r.Get(name)
	if err != nil {
		return Profile{}, err
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Names returns the registered network names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefinitionsFromProject converts the [networks] section of a project file
func DefinitionsFromProject(p *config.ProjectConfig) []Definition {
	defs := make([]Definition, 0, len(p.Networks))
	for name, n := range p.Networks {
		defs = append(defs, Definition{
			Name:           name,
			RPCURL:         n.URL,
			ChainID:        n.ChainID,
			RequiresSigner: n.Signer,
			ExplorerAPIURL: n.Explorer.APIURL,
			ExplorerUIURL:  n.Explorer.BrowserURL,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
