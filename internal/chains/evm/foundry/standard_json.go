package foundry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// standardJSONInput is the per-contract compiler input submitted for verification
type standardJSONInput struct {
	Language string                   `json:"language"`
	Sources  map[string]sourceContent `json:"sources"`
	Settings standardJSONSettings     `json:"settings"`
}

type sourceContent struct {
	Content string `json:"content"`
}

type standardJSONSettings struct {
	Optimizer       optimizerSettings              `json:"optimizer"`
	EVMVersion      string                         `json:"evmVersion,omitempty"`
	ViaIR           bool                           `json:"viaIR,omitempty"`
	Libraries       map[string]map[string]string   `json:"libraries,omitempty"`
	Remappings      []string                       `json:"remappings,omitempty"`
	Metadata        standardJSONMetadataConfig     `json:"metadata,omitempty"`
	OutputSelection map[string]map[string][]string `json:"outputSelection"`
}

type optimizerSettings struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

type standardJSONMetadataConfig struct {
	BytecodeHash      string `json:"bytecodeHash,omitempty"`
	UseLiteralContent bool   `json:"useLiteralContent,omitempty"`
	AppendCBOR        *bool  `json:"appendCBOR,omitempty"`
}

func outputSelectionForVerification() map[string]map[string][]string {
	return map[string]map[string][]string{
		"*": {"*": {"abi", "evm.bytecode", "evm.deployedBytecode", "metadata"}},
	}
}

// GeneratePerContractStandardJSON builds a standard JSON input from the
// artifact's rawMetadata containing only the sources the contract was
// compiled from, so the explorer reproduces the metadata hash in the
// bytecode.
func (b *Builder) GeneratePerContractStandardJSON(dir, artifactPath string) ([]byte, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}

	var raw FoundryArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing artifact: %w", err)
	}
	if raw.RawMetadata == "" {
		return nil, fmt.Errorf("artifact has no rawMetadata")
	}

	var metadata FoundryMetadata
	if err := json.Unmarshal([]byte(raw.RawMetadata), &metadata); err != nil {
		return nil, fmt.Errorf("parsing rawMetadata: %w", err)
	}
	if len(metadata.Sources) == 0 {
		return nil, fmt.Errorf("metadata has no sources")
	}

	sources := make(map[string]sourceContent, len(metadata.Sources))
	for srcPath := range metadata.Sources {
		content, err := os.ReadFile(filepath.Join(dir, srcPath))
		if err != nil {
			return nil, fmt.Errorf("reading source %s: %w", srcPath, err)
		}
		sources[srcPath] = sourceContent{Content: string(content)}
	}

	lang := metadata.Language
	if lang == "" {
		lang = "Solidity"
	}

	opt := optimizerSettings(metadata.Settings.Optimizer)
	// runs=0 is meaningful only when the optimizer is off
	if opt.Enabled && opt.Runs == 0 {
		opt.Runs = 200
	}

	metaOut := standardJSONMetadataConfig{BytecodeHash: "ipfs"}
	if m := metadata.Settings.Metadata; m != nil {
		if m.BytecodeHash != "" {
			metaOut.BytecodeHash = m.BytecodeHash
		}
		metaOut.UseLiteralContent = m.UseLiteralContent
		metaOut.AppendCBOR = m.AppendCBOR
	}

	input := standardJSONInput{
		Language: lang,
		Sources:  sources,
		Settings: standardJSONSettings{
			Optimizer:       opt,
			EVMVersion:      metadata.Settings.EVMVersion,
			ViaIR:           metadata.Settings.ViaIR,
			Libraries:       metadata.Settings.Libraries,
			Remappings:      metadata.Settings.Remappings,
			Metadata:        metaOut,
			OutputSelection: outputSelectionForVerification(),
		},
	}

	return json.Marshal(input)
}
