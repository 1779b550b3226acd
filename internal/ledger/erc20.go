package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/logger"
)

const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// ERC20 pays out by calling transfer on a token contract from the operator
// wallet.
type ERC20 struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	decimals int32
}

// DialERC20 connects to the RPC endpoint and binds the token contract.
func DialERC20(ctx context.Context, rpcURL, tokenAddress, privateKey string, decimals int32) (*ERC20, error) {
	if !common.IsHexAddress(tokenAddress) {
		return nil, fmt.Errorf("invalid token address %q", tokenAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}

	token := common.HexToAddress(tokenAddress)
	logger.Infof("ERC-20 ledger bound to token %s on chain %s, operator %s",
		token.Hex(), chainID, crypto.PubkeyToAddress(key.PublicKey).Hex())

	return &ERC20{
		client:   client,
		contract: bind.NewBoundContract(token, parsed, client, client, client),
		key:      key,
		chainID:  chainID,
		decimals: decimals,
	}, nil
}

// Decimals returns the token precision the ledger was configured with.
func (e *ERC20) Decimals() int32 {
	return e.decimals
}

// Transfer sends the token transfer and waits for it to be mined.
func (e *ERC20) Transfer(ctx context.Context, to string, amount *big.Int) (*Receipt, error) {
	if !common.IsHexAddress(to) {
		return nil, &Error{Op: "transfer", Err: fmt.Errorf("invalid recipient %q", to)}
	}
	opts, err := bind.NewKeyedTransactorWithChainID(e.key, e.chainID)
	if err != nil {
		return nil, &Error{Op: "transfer", Err: err}
	}
	opts.Context = ctx

	tx, err := e.contract.Transact(opts, "transfer", common.HexToAddress(to), amount)
	if err != nil {
		return nil, &Error{Op: "transfer", Err: err}
	}
	logger.Infof("Transfer transaction sent: %s", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, e.client, tx)
	if err != nil {
		return nil, &Error{Op: "confirm", TxHash: tx.Hash().Hex(), Err: err}
	}
	return checkReceipt(tx.Hash().Hex(), receipt)
}

// Receipt looks up a transfer sent earlier, typically one whose confirmation
// timed out.
func (e *ERC20) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	receipt, err := e.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrPending
	}
	if err != nil {
		return nil, &Error{Op: "lookup", TxHash: txHash, Err: err}
	}
	return checkReceipt(txHash, receipt)
}

// checkReceipt fails for a reverted transaction. The returned error carries
// no hash: a reverted transfer moved no funds.
func checkReceipt(txHash string, receipt *types.Receipt) (*Receipt, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &Error{Op: "confirm", Err: errors.New("transaction " + txHash + " reverted")}
	}
	return &Receipt{TxHash: txHash, BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

// Close releases the RPC connection.
func (e *ERC20) Close() {
	e.client.Close()
}
