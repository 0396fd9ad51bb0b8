// Package validation provides input validation for contradeploy.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/mod/semver"
)

// Step ids: letters, digits, hyphens and underscores, starting with a letter
var stepIDRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

// Solidity identifiers
var identifierRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Network names as they appear on the command line and in the project file
var networkNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// ValidateStepID validates a plan step identifier
func ValidateStepID(id string) error {
	if id == "" {
		return errors.New("step id cannot be empty")
	}
	if !stepIDRegex.MatchString(id) {
		return errors.New("invalid step id: must start with a letter and contain only letters, digits, '-' or '_' (max 64 chars)")
	}
	return nil
}

// ValidateContractName validates a contract name
func ValidateContractName(name string) error {
	if name == "" {
		return errors.New("contract name cannot be empty")
	}
	if !identifierRegex.MatchString(name) {
		return errors.New("invalid contract name: must be a Solidity identifier")
	}
	return nil
}

// ValidateNetworkName validates a network profile name
func ValidateNetworkName(name string) error {
	if name == "" {
		return errors.New("network name cannot be empty")
	}
	if !networkNameRegex.MatchString(name) {
		return errors.New("invalid network name: must be lowercase alphanumeric with '-' or '_', starting with a letter")
	}
	return nil
}

// ValidateVersion validates a compiler version string. Compiler releases are
// plain X.Y.Z; prereleases and build metadata are rejected.
func ValidateVersion(v string) error {
	normalized := NormalizeVersion(v)
	if normalized == "" {
		return errors.New("version cannot be empty")
	}

	// semver library expects version to start with 'v'
	versionWithV := "v" + normalized
	if !semver.IsValid(versionWithV) {
		return errors.New("invalid version: must be in format X.Y.Z")
	}
	if semver.Prerelease(versionWithV) != "" || semver.Build(versionWithV) != "" {
		return errors.New("invalid version: prerelease and build suffixes are not supported")
	}
	if strings.Count(normalized, ".") != 2 {
		return errors.New("invalid version: must be in format X.Y.Z (major.minor.patch)")
	}

	return nil
}

// NormalizeVersion normalizes a version string (strips leading 'v')
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// CompareVersions compares two versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	n1 := "v" + NormalizeVersion(v1)
	n2 := "v" + NormalizeVersion(v2)
	return semver.Compare(n1, n2)
}

// ResolveLatest finds the latest version from a list
func ResolveLatest(versions []string) string {
	if len(versions) == 0 {
		return ""
	}

	latest := versions[0]
	for _, v := range versions[1:] {
		if CompareVersions(v, latest) > 0 {
			latest = v
		}
	}

	return latest
}

// ValidateAddress validates an Ethereum address. Mixed-case input must
// carry a valid EIP-55 checksum.
func ValidateAddress(addr string) error {
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	if !common.IsHexAddress(addr) {
		return errors.New("invalid address: must be 0x followed by 40 hex characters")
	}
	body := addr[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if common.HexToAddress(addr).Hex() != addr {
			return errors.New("invalid address: checksum mismatch")
		}
	}
	return nil
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID int64) error {
	if chainID <= 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}
