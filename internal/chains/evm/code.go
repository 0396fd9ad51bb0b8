package evm

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/contradeploy/internal/chains"
)

// CBOR metadata marker (Solidity >=0.6.0): map with an "ipfs" key
var metadataMarker = []byte{0xa2, 0x64, 0x69, 0x70, 0x66, 0x73}

// Library placeholder pattern: __$<34 hex chars>$__
var libraryPlaceholder = regexp.MustCompile(`__\$[a-fA-F0-9]{34}\$__`)

// StripMetadata removes the CBOR metadata the compiler appends to runtime
// code. The last two bytes hold the metadata length; when they do not
// describe a metadata block, the last "ipfs" marker is used instead.
func StripMetadata(code []byte) []byte {
	if len(code) >= 2 {
		n := int(binary.BigEndian.Uint16(code[len(code)-2:]))
		start := len(code) - 2 - n
		if n > 0 && start >= 0 && isCBORMap(code[start]) {
			return code[:start]
		}
	}
	if idx := bytes.LastIndex(code, metadataMarker); idx != -1 {
		return code[:idx]
	}
	return code
}

// CBOR map headers with 1 to 7 entries
func isCBORMap(b byte) bool {
	return b >= 0xa1 && b <= 0xa7
}

// LibraryPlaceholder returns the link placeholder the compiler emits for a
// fully qualified library name ("src/Math.sol:Math").
func LibraryPlaceholder(fqn string) string {
	h := crypto.Keccak256([]byte(fqn))
	return "__$" + hex.EncodeToString(h)[:34] + "$__"
}

// LinkLibraries replaces placeholders in hex bytecode with library
// addresses keyed by fully qualified name.
func LinkLibraries(bytecodeHex string, libraries map[string]string) string {
	for fqn, addr := range libraries {
		addr = strings.ToLower(strings.TrimPrefix(common.HexToAddress(addr).Hex(), "0x"))
		bytecodeHex = strings.ReplaceAll(bytecodeHex, LibraryPlaceholder(fqn), addr)
	}
	return bytecodeHex
}

// HasLibraryPlaceholders checks if hex bytecode still needs linking
func HasLibraryPlaceholders(bytecodeHex []byte) bool {
	return libraryPlaceholder.Match(bytecodeHex)
}

// CompareRuntimeCode compares on-chain code with an artifact's deployed
// bytecode (hex). Contracts with immutables never match exactly.
func CompareRuntimeCode(onChain []byte, deployedHex string, libraries map[string]string) *chains.VerifyResult {
	linked := LinkLibraries(strings.TrimPrefix(deployedHex, "0x"), libraries)
	if HasLibraryPlaceholders([]byte(linked)) {
		return &chains.VerifyResult{
			Match:     false,
			MatchType: "none",
			Message:   "Artifact has unlinked libraries",
		}
	}
	expected, err := hex.DecodeString(linked)
	if err != nil {
		return &chains.VerifyResult{
			Match:     false,
			MatchType: "none",
			Message:   "Artifact bytecode is not valid hex",
		}
	}

	if len(onChain) == 0 {
		return &chains.VerifyResult{
			Match:     false,
			MatchType: "none",
			Message:   "No code at address",
		}
	}

	if bytes.Equal(onChain, expected) {
		return &chains.VerifyResult{
			Match:     true,
			MatchType: "full",
			Message:   "Runtime code matches exactly including metadata",
		}
	}

	if bytes.Equal(StripMetadata(onChain), StripMetadata(expected)) {
		return &chains.VerifyResult{
			Match:     true,
			MatchType: "partial",
			Message:   "Executable code matches, metadata differs",
		}
	}

	return &chains.VerifyResult{
		Match:     false,
		MatchType: "none",
		Message:   "Runtime code does not match",
	}
}
