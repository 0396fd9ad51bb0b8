package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// devAccounts are the deterministic accounts Anvil and Hardhat ship with.
// Their keys are public, so anything sent to them on a real chain is lost.
var devAccounts = map[common.Address]bool{
	common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"): true,
	common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"): true,
	common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"): true,
	common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"): true,
	common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65"): true,
	common.HexToAddress("0x9965507D1a55bcC2695C58ba16FB37d819B0A4dc"): true,
	common.HexToAddress("0x976EA74026E726554dB657fA54763abd0C3a0aa9"): true,
	common.HexToAddress("0x14dC79964da2C08b23698B3D3cc7Ca32193d9955"): true,
	common.HexToAddress("0x23618e81E3f5cdF7f54C3d65f7FBc0aBf5B21E8f"): true,
	common.HexToAddress("0xa0Ee7A142d267C1f36714E4a8F75612F20a79720"): true,
}

// productionChains are networks where dev keys are refused
var productionChains = map[int64]string{
	1:     "Ethereum Mainnet",
	10:    "Optimism",
	56:    "BNB Smart Chain",
	137:   "Polygon",
	8453:  "Base",
	42161: "Arbitrum One",
}

func checkKeySafety(key *ecdsa.PrivateKey, chainID *big.Int) error {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	if !devAccounts[addr] {
		return nil
	}
	if name, ok := productionChains[chainID.Int64()]; ok {
		return fmt.Errorf("%w: %s is a well-known development account and %s (chain_id=%s) is a live network",
			ErrUnsafeKey, addr.Hex(), name, chainID)
	}
	return nil
}
