// Copyright 2025 Certen Protocol
//
// EVM-side settlement.Transport, grounded on pkg/ethereum/client.go's
// ethclient wiring: submission sends a token transfer (native or ERC-20)
// and AwaitDelivery polls for the receipt, honoring ctx cancellation per
// settlement.Transport's contract.

package transport

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/certen/intent-router/pkg/settlement"
)

// erc20TransferSelector is the 4-byte selector for transfer(address,uint256).
var erc20TransferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// EVMTransport submits cross-chain deliveries that land on an EVM chain.
// denom "native" sends ETH directly; any other denom is treated as an
// ERC-20 contract address and sent via a transfer() call.
type EVMTransport struct {
	client  *ethclient.Client
	chainID *big.Int
	signer  *ecdsa.PrivateKey

	mu       sync.Mutex
	sequence uint64
	pending  map[uint64]common.Hash
}

// NewEVMTransport dials url and returns a Transport signing outgoing
// transactions with privateKeyHex.
func NewEVMTransport(url string, chainID int64, privateKeyHex string) (*EVMTransport, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("transport: dial evm rpc: %w", err)
	}
	signer, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: parse signer key: %w", err)
	}
	return &EVMTransport{
		client:  client,
		chainID: big.NewInt(chainID),
		signer:  signer,
		pending: make(map[uint64]common.Hash),
	}, nil
}

func (t *EVMTransport) Submit(ctx context.Context, fromChain, toChain, denom string, amount decimal.Decimal, sender, receiver string, timeoutSecs uint64) (settlement.TransportHandle, error) {
	to := common.HexToAddress(receiver)
	value := amount.BigInt()

	auth, err := bind.NewKeyedTransactorWithChainID(t.signer, t.chainID)
	if err != nil {
		return settlement.TransportHandle{}, fmt.Errorf("transport: build transactor: %w", err)
	}
	nonce, err := t.client.PendingNonceAt(ctx, crypto.PubkeyToAddress(t.signer.PublicKey))
	if err != nil {
		return settlement.TransportHandle{}, fmt.Errorf("transport: fetch nonce: %w", err)
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return settlement.TransportHandle{}, fmt.Errorf("transport: fetch gas price: %w", err)
	}

	var tx *types.Transaction
	if denom == "native" {
		tx = types.NewTransaction(nonce, to, value, 21000, gasPrice, nil)
	} else {
		contract := common.HexToAddress(denom)
		data := encodeERC20Transfer(to, value)
		tx = types.NewTransaction(nonce, contract, big.NewInt(0), 100000, gasPrice, data)
	}

	signedTx, err := auth.Signer(crypto.PubkeyToAddress(t.signer.PublicKey), tx)
	if err != nil {
		return settlement.TransportHandle{}, fmt.Errorf("transport: sign tx: %w", err)
	}
	if err := t.client.SendTransaction(ctx, signedTx); err != nil {
		return settlement.TransportHandle{}, fmt.Errorf("transport: broadcast tx: %w", err)
	}

	seq := atomic.AddUint64(&t.sequence, 1)
	t.mu.Lock()
	t.pending[seq] = signedTx.Hash()
	t.mu.Unlock()

	return settlement.TransportHandle{Sequence: seq, Detail: signedTx.Hash().Hex()}, nil
}

func (t *EVMTransport) AwaitDelivery(ctx context.Context, handle settlement.TransportHandle) (settlement.DeliveryResult, string, error) {
	t.mu.Lock()
	hash, ok := t.pending[handle.Sequence]
	t.mu.Unlock()
	if !ok {
		hash = common.HexToHash(handle.Detail)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		receipt, err := t.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return settlement.DeliveryDelivered, hash.Hex(), nil
			}
			return settlement.DeliveryError, hash.Hex(), fmt.Errorf("transport: transaction %s reverted", hash.Hex())
		}
		select {
		case <-ctx.Done():
			return settlement.DeliveryTimedOut, hash.Hex(), ctx.Err()
		case <-ticker.C:
		}
	}
}

func encodeERC20Transfer(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 4+32+32)
	copy(data[:4], erc20TransferSelector)
	copy(data[4+12:4+32], to.Bytes())
	amount.FillBytes(data[4+32 : 4+64])
	return data
}
