package foundry

import (
	"encoding/json"
	"sort"
)

// FoundryArtifact represents the structure of a Foundry artifact JSON file
type FoundryArtifact struct {
	ABI              json.RawMessage `json:"abi"`
	Bytecode         BytecodeObject  `json:"bytecode"`
	DeployedBytecode BytecodeObject  `json:"deployedBytecode"`
	RawMetadata      string          `json:"rawMetadata"`
}

// BytecodeObject represents bytecode in a Foundry artifact
type BytecodeObject struct {
	Object         string                       `json:"object"`
	LinkReferences map[string]map[string][]Link `json:"linkReferences"`
}

// Link is one placeholder position in the bytecode
type Link struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// libraries lists "path:Name" for every library the bytecode must be
// linked against, sorted
func (b BytecodeObject) libraries() []string {
	var libs []string
	for file, names := range b.LinkReferences {
		for name := range names {
			libs = append(libs, file+":"+name)
		}
	}
	sort.Strings(libs)
	return libs
}

// FoundryMetadata represents the parsed rawMetadata field
type FoundryMetadata struct {
	Compiler CompilerMeta `json:"compiler"`
	Language string       `json:"language"`
	Settings SettingsMeta `json:"settings"`
	Sources  SourcesMeta  `json:"sources"`
}

// CompilerMeta contains compiler information
type CompilerMeta struct {
	Version string `json:"version"` // "0.6.6+commit.6c089d02"
}

// MetadataSettings contains metadata options for standard JSON
type MetadataSettings struct {
	BytecodeHash      string `json:"bytecodeHash,omitempty"`
	UseLiteralContent bool   `json:"useLiteralContent,omitempty"`
	AppendCBOR        *bool  `json:"appendCBOR,omitempty"`
}

// SettingsMeta contains compiler settings
type SettingsMeta struct {
	CompilationTarget map[string]string            `json:"compilationTarget"`
	EVMVersion        string                       `json:"evmVersion"`
	Libraries         map[string]map[string]string `json:"libraries"` // source path -> library name -> address
	Metadata          *MetadataSettings            `json:"metadata,omitempty"`
	Optimizer         OptimizerMeta                `json:"optimizer"`
	Remappings        []string                     `json:"remappings"`
	ViaIR             bool                         `json:"viaIR"`
}

// CompilationTargetPath returns the source path the contract was compiled from
func (s SettingsMeta) CompilationTargetPath() string {
	keys := make([]string, 0, len(s.CompilationTarget))
	for k := range s.CompilationTarget {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0]
}

// OptimizerMeta contains optimizer settings
type OptimizerMeta struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

// SourcesMeta contains source file information
type SourcesMeta map[string]SourceMeta

// SourceMeta contains individual source file info
type SourceMeta struct {
	Keccak256 string   `json:"keccak256"`
	License   string   `json:"license"`
	URLs      []string `json:"urls"`
}

// FirstLicense returns the license of the first source, in path order, that declares one
func (s SourcesMeta) FirstLicense() string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if l := s[p].License; l != "" {
			return l
		}
	}
	return ""
}
