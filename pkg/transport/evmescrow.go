// Copyright 2025 Certen Protocol
//
// EVM-contract-backed settlement.Escrow/settlement.SolverVault, grounded
// on the same hand-built-calldata pattern as EVMTransport
// (erc20TransferSelector / encodeERC20Transfer): the settlement contract
// is addressed by its own selectors rather than a generated ABI binding,
// since only four narrow calls (lock/release/refund/markComplete) are
// ever made against it.

package transport

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/certen/intent-router/pkg/settlement"
)

var (
	lockSelector         = crypto.Keccak256([]byte("lock(bytes32,address,uint256)"))[:4]
	releaseToSelector    = crypto.Keccak256([]byte("releaseTo(bytes32,address)"))[:4]
	refundSelector       = crypto.Keccak256([]byte("refund(bytes32)"))[:4]
	markCompleteSelector = crypto.Keccak256([]byte("markComplete(bytes32)"))[:4]
)

// evmEscrowVault is the shared dial/signer/contract plumbing behind both
// EVMEscrow and EVMSolverVault. A deployment typically points both at the
// same contract address, since one settlement contract commonly holds
// both the user's input lock and the solver's output bond, keyed by an
// opaque lock ID this implementation generates — but the two capability
// views are constructed independently so a deployment that splits escrow
// and vault across two contracts can do so.
type evmEscrowVault struct {
	client   *ethclient.Client
	chainID  *big.Int
	signer   *ecdsa.PrivateKey
	contract common.Address
}

func dialEscrowVault(url string, chainID int64, privateKeyHex, contractAddr string) (*evmEscrowVault, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	signer, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return &evmEscrowVault{
		client:   client,
		chainID:  big.NewInt(chainID),
		signer:   signer,
		contract: common.HexToAddress(contractAddr),
	}, nil
}

// EVMEscrow is a settlement.Escrow backed by a deployed settlement
// contract.
type EVMEscrow struct{ *evmEscrowVault }

// NewEVMEscrow dials url and returns an Escrow that calls contractAddr,
// signing outgoing transactions with privateKeyHex.
func NewEVMEscrow(url string, chainID int64, privateKeyHex, contractAddr string) (*EVMEscrow, error) {
	ev, err := dialEscrowVault(url, chainID, privateKeyHex, contractAddr)
	if err != nil {
		return nil, fmt.Errorf("escrow: %w", err)
	}
	return &EVMEscrow{ev}, nil
}

func (e *EVMEscrow) Lock(ctx context.Context, user, denom string, amount decimal.Decimal, expiry time.Time) (settlement.EscrowHandle, error) {
	lockID := uuid.New()
	data := encodeLockCall(lockID, common.HexToAddress(user), amount.BigInt())
	if _, err := e.sendCall(ctx, data); err != nil {
		return settlement.EscrowHandle{}, fmt.Errorf("escrow: lock call: %w", err)
	}
	return settlement.EscrowHandle{ID: lockID.String(), Expiry: expiry}, nil
}

func (e *EVMEscrow) ReleaseTo(ctx context.Context, handle settlement.EscrowHandle, recipient string) error {
	lockID, err := uuid.Parse(handle.ID)
	if err != nil {
		return fmt.Errorf("escrow: invalid lock id %q: %w", handle.ID, err)
	}
	data := encodeReleaseToCall(lockID, common.HexToAddress(recipient))
	_, err = e.sendCall(ctx, data)
	return err
}

func (e *EVMEscrow) Refund(ctx context.Context, handle settlement.EscrowHandle) error {
	lockID, err := uuid.Parse(handle.ID)
	if err != nil {
		return fmt.Errorf("escrow: invalid lock id %q: %w", handle.ID, err)
	}
	data := encodeRefundCall(lockID)
	_, err = e.sendCall(ctx, data)
	return err
}

// EVMSolverVault is a settlement.SolverVault backed by a deployed
// settlement contract.
type EVMSolverVault struct{ *evmEscrowVault }

// NewEVMSolverVault dials url and returns a SolverVault that calls
// contractAddr, signing outgoing transactions with privateKeyHex.
func NewEVMSolverVault(url string, chainID int64, privateKeyHex, contractAddr string) (*EVMSolverVault, error) {
	ev, err := dialEscrowVault(url, chainID, privateKeyHex, contractAddr)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	return &EVMSolverVault{ev}, nil
}

func (v *EVMSolverVault) Lock(ctx context.Context, solverID, denom string, amount decimal.Decimal, expiry time.Time) (settlement.VaultHandle, error) {
	lockID := uuid.New()
	solverAddr := common.HexToAddress(solverID)
	data := encodeLockCall(lockID, solverAddr, amount.BigInt())
	if _, err := v.sendCall(ctx, data); err != nil {
		return settlement.VaultHandle{}, fmt.Errorf("vault: lock call: %w", err)
	}
	return settlement.VaultHandle{ID: lockID.String(), SolverID: solverID, Expiry: expiry}, nil
}

func (v *EVMSolverVault) Unlock(ctx context.Context, handle settlement.VaultHandle) error {
	lockID, err := uuid.Parse(handle.ID)
	if err != nil {
		return fmt.Errorf("vault: invalid lock id %q: %w", handle.ID, err)
	}
	data := encodeRefundCall(lockID)
	_, err = v.sendCall(ctx, data)
	return err
}

func (v *EVMSolverVault) MarkComplete(ctx context.Context, handle settlement.VaultHandle) error {
	lockID, err := uuid.Parse(handle.ID)
	if err != nil {
		return fmt.Errorf("vault: invalid lock id %q: %w", handle.ID, err)
	}
	data := encodeMarkCompleteCall(lockID)
	_, err = v.sendCall(ctx, data)
	return err
}

// sendCall signs, broadcasts, and awaits one contract call, since every
// lock/release/refund call here must have committed before the
// settlement state machine advances past it.
func (ev *evmEscrowVault) sendCall(ctx context.Context, data []byte) (common.Hash, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(ev.signer, ev.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("build transactor: %w", err)
	}
	from := crypto.PubkeyToAddress(ev.signer.PublicKey)
	nonce, err := ev.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := ev.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, ev.contract, big.NewInt(0), 150000, gasPrice, data)
	signedTx, err := auth.Signer(from, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := ev.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("broadcast tx: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, ev.client, signedTx)
	if err != nil {
		return signedTx.Hash(), fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return signedTx.Hash(), fmt.Errorf("transaction %s reverted", signedTx.Hash().Hex())
	}
	return signedTx.Hash(), nil
}

func encodeLockCall(lockID uuid.UUID, beneficiary common.Address, amount *big.Int) []byte {
	data := make([]byte, 4+32+32+32)
	copy(data[:4], lockSelector)
	copy(data[4+16:4+32], lockID[:])
	copy(data[4+32+12:4+64], beneficiary.Bytes())
	amount.FillBytes(data[4+64 : 4+96])
	return data
}

func encodeReleaseToCall(lockID uuid.UUID, recipient common.Address) []byte {
	data := make([]byte, 4+32+32)
	copy(data[:4], releaseToSelector)
	copy(data[4+16:4+32], lockID[:])
	copy(data[4+32+12:4+64], recipient.Bytes())
	return data
}

func encodeRefundCall(lockID uuid.UUID) []byte {
	data := make([]byte, 4+32)
	copy(data[:4], refundSelector)
	copy(data[4+16:4+32], lockID[:])
	return data
}

func encodeMarkCompleteCall(lockID uuid.UUID) []byte {
	data := make([]byte, 4+32)
	copy(data[:4], markCompleteSelector)
	copy(data[4+16:4+32], lockID[:])
	return data
}
