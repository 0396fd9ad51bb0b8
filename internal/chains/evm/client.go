// Package evm is the blockchain service for Ethereum and compatible chains:
// it submits contract-creation transactions and waits for them to be mined.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/pendergraft/contradeploy/internal/chains"
	"github.com/pendergraft/contradeploy/internal/networks"
)

// Errors
var (
	ErrNoBytecode          = errors.New("artifact has no creation bytecode")
	ErrUnlinkedLibraries   = errors.New("artifact has unlinked library placeholders")
	ErrNoAccounts          = errors.New("node exposes no unlocked accounts")
	ErrInvalidKey          = errors.New("invalid signing key")
	ErrUnsafeKey           = errors.New("publicly known key refused on a production chain")
	ErrReverted            = errors.New("deployment transaction reverted")
	ErrConfirmationTimeout = errors.New("timed out waiting for confirmation")
)

// RPCClient is the part of ethclient.Client the service uses
type RPCClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Close()
}

// NodeWallet submits transactions from accounts the node itself holds, as
// local development nodes do.
type NodeWallet interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	SendTransaction(ctx context.Context, from common.Address, data []byte, gas uint64) (common.Hash, error)
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithPollInterval sets the initial and maximum receipt polling intervals
func WithPollInterval(initial, maxInterval time.Duration) Option {
	return func(c *Client) {
		c.pollInitial = initial
		c.pollMax = maxInterval
	}
}

// Client deploys contracts to one network. Submissions from one Client are
// serialized by the caller; the nonce is read fresh for every deployment.
type Client struct {
	rpc     RPCClient
	wallet  NodeWallet
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	logger  *slog.Logger

	pollInitial time.Duration
	pollMax     time.Duration
}

// Dial connects to the profile's RPC endpoint
func Dial(ctx context.Context, profile networks.Profile, opts ...Option) (*Client, error) {
	rc, err := rpc.DialContext(ctx, profile.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", profile.RPCURL, err)
	}
	c, err := NewClient(ctx, ethclient.NewClient(rc), &rpcWallet{rc: rc}, profile, opts...)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an existing RPC client. The node's chain id is checked
// against the profile; a profile without one adopts the node's.
func NewClient(ctx context.Context, rc RPCClient, wallet NodeWallet, profile networks.Profile, opts ...Option) (*Client, error) {
	c := &Client{
		rpc:         rc,
		wallet:      wallet,
		logger:      slog.Default(),
		pollInitial: 2 * time.Second,
		pollMax:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	chainID, err := rc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if profile.ChainID != 0 && chainID.Int64() != profile.ChainID {
		return nil, fmt.Errorf("%w: network %s is configured for %d but the node reports %s",
			networks.ErrChainIDMismatch, profile.Name, profile.ChainID, chainID)
	}
	c.chainID = chainID

	if profile.HasSigner() {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(profile.SigningKey.Value(), "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		if err := checkKeySafety(key, chainID); err != nil {
			return nil, err
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return c, nil
}

// ChainID returns the node's chain id
func (c *Client) ChainID() int64 {
	return c.chainID.Int64()
}

// From returns the deployer address, or "" when the node signs
func (c *Client) From() string {
	if c.key == nil {
		return ""
	}
	return c.from.Hex()
}

// Close releases the connection
func (c *Client) Close() {
	c.rpc.Close()
}

// Deploy submits a contract-creation transaction for the artifact with the
// given constructor literals and returns its hash without waiting for it to
// be mined. When broadcasting fails after signing, the hash is returned
// alongside the error.
func (c *Client) Deploy(ctx context.Context, artifact *chains.Artifact, args []string) (string, error) {
	if artifact == nil || artifact.EVM == nil {
		return "", fmt.Errorf("%w: %v", ErrNoBytecode, artifact)
	}
	bytecode := strings.TrimPrefix(artifact.EVM.Bytecode, "0x")
	if bytecode == "" {
		return "", fmt.Errorf("%w: %s is abstract or an interface", ErrNoBytecode, artifact.Name)
	}
	if HasLibraryPlaceholders([]byte(bytecode)) {
		return "", fmt.Errorf("%w: %s", ErrUnlinkedLibraries, artifact.Name)
	}

	encoded, err := EncodeConstructorArgs(artifact.EVM.ABI, args)
	if err != nil {
		return "", err
	}
	data := append(common.FromHex(bytecode), encoded...)

	if c.key == nil {
		return c.deployFromNode(ctx, artifact.Name, data)
	}
	return c.deploySigned(ctx, artifact.Name, data)
}

func (c *Client) deploySigned(ctx context.Context, name string, data []byte) (string, error) {
	nonce, err := c.rpc.PendingNonceAt(ctx, c.from)
	if err != nil {
		return "", fmt.Errorf("get nonce: %w", err)
	}

	gasTipCap, err := c.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		// Fall back to legacy gas price
		gasPrice, priceErr := c.rpc.SuggestGasPrice(ctx)
		if priceErr != nil {
			return "", fmt.Errorf("get gas price: %w", priceErr)
		}
		gasTipCap = gasPrice
	}

	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("get block header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	// base fee * 2 + tip
	gasFeeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	gasFeeCap.Add(gasFeeCap, gasTipCap)

	estimatedGas, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		Data:  data,
		Value: big.NewInt(0),
	})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	gas := estimatedGas + estimatedGas/5

	c.logger.Debug("signing deployment",
		slog.String("contract", name),
		slog.String("from", c.from.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
		slog.String("gasTipCap", gasTipCap.String()),
		slog.String("gasFeeCap", gasFeeCap.String()),
	)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gas,
		To:        nil, // contract creation
		Value:     big.NewInt(0),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(c.chainID), c.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return hash, fmt.Errorf("send transaction: %w", err)
	}
	return hash, nil
}

func (c *Client) deployFromNode(ctx context.Context, name string, data []byte) (string, error) {
	if c.wallet == nil {
		return "", ErrNoAccounts
	}
	accounts, err := c.wallet.Accounts(ctx)
	if err != nil {
		return "", fmt.Errorf("list node accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", ErrNoAccounts
	}
	from := accounts[0]

	estimatedGas, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{From: from, Data: data, Value: big.NewInt(0)})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	gas := estimatedGas + estimatedGas/5

	c.logger.Debug("submitting deployment from node account",
		slog.String("contract", name),
		slog.String("from", from.Hex()),
		slog.Uint64("gas", gas),
	)

	hash, err := c.wallet.SendTransaction(ctx, from, data, gas)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return hash.Hex(), nil
}

// AwaitConfirmation polls for the receipt with exponential backoff until it
// is found or ctx ends. A reverted transaction returns its receipt together
// with ErrReverted.
func (c *Client) AwaitConfirmation(ctx context.Context, txHash string) (*chains.Receipt, error) {
	if !isHash(txHash) {
		return nil, fmt.Errorf("invalid transaction hash %q", txHash)
	}
	hash := common.HexToHash(txHash)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.pollInitial
	b.MaxInterval = c.pollMax
	b.MaxElapsedTime = 0 // bounded by ctx

	attempt := 0
	receipt, err := backoff.RetryWithData(func() (*types.Receipt, error) {
		attempt++
		r, err := c.rpc.TransactionReceipt(ctx, hash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				c.logger.Debug("receipt lookup failed", slog.String("tx_hash", txHash), slog.Int("attempt", attempt), slog.Any("error", err))
			}
			return nil, err
		}
		return r, nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfirmationTimeout, txHash, ctx.Err())
		}
		return nil, err
	}

	out := &chains.Receipt{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return out, fmt.Errorf("%w: %s in block %d", ErrReverted, txHash, out.BlockNumber)
	}
	out.ContractAddress = receipt.ContractAddress.Hex()
	return out, nil
}

// GetDeployedBytecode returns the runtime code at an address
func (c *Client) GetDeployedBytecode(ctx context.Context, address string) ([]byte, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	code, err := c.rpc.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("get code: %w", err)
	}
	return code, nil
}

func isHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

// rpcWallet implements NodeWallet over eth_accounts / eth_sendTransaction
type rpcWallet struct {
	rc *rpc.Client
}

func (w *rpcWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.rc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (w *rpcWallet) SendTransaction(ctx context.Context, from common.Address, data []byte, gas uint64) (common.Hash, error) {
	var hash common.Hash
	tx := map[string]any{
		"from": from,
		"data": hexutil.Bytes(data),
		"gas":  hexutil.Uint64(gas),
	}
	if err := w.rc.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}
