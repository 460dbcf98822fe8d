// Copyright 2025 Certen Protocol
//
// Accumulate-side settlement.Transport, built directly against the
// published gitlab.com/accumulatenetwork/accumulate SDK rather than the
// vendored lite client (see DESIGN.md for why), grounded on
// pkg/execution/accumulate_submitter.go's envelope construction and
// ED25519 signing of a protocol.Transaction.

package transport

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	v3 "gitlab.com/accumulatenetwork/accumulate/pkg/api/v3"
	"gitlab.com/accumulatenetwork/accumulate/pkg/api/v3/jsonrpc"
	"gitlab.com/accumulatenetwork/accumulate/pkg/types/messaging"
	"gitlab.com/accumulatenetwork/accumulate/pkg/url"
	"gitlab.com/accumulatenetwork/accumulate/protocol"

	"github.com/certen/intent-router/pkg/settlement"
)

// AccumulateTransport submits cross-chain deliveries as SendTokens
// transactions against an Accumulate token account.
type AccumulateTransport struct {
	client     *jsonrpc.Client
	signingKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	signerURL  string
	keyVersion uint64
}

// NewAccumulateTransport dials the given Accumulate v3 JSON-RPC endpoint
// and returns a Transport signing outgoing SendTokens transactions with
// signingKey from the key page at signerURL.
func NewAccumulateTransport(endpoint string, signingKey ed25519.PrivateKey, signerURL string, keyVersion uint64) (*AccumulateTransport, error) {
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("transport: invalid accumulate signing key size %d", len(signingKey))
	}
	return &AccumulateTransport{
		client:     jsonrpc.NewClient(endpoint),
		signingKey: signingKey,
		publicKey:  signingKey.Public().(ed25519.PublicKey),
		signerURL:  signerURL,
		keyVersion: keyVersion,
	}, nil
}

func (t *AccumulateTransport) Submit(ctx context.Context, fromChain, toChain, denom string, amount decimal.Decimal, sender, receiver string, timeoutSecs uint64) (settlement.TransportHandle, error) {
	principal, err := url.Parse(sender)
	if err != nil {
		return settlement.TransportHandle{}, fmt.Errorf("transport: invalid accumulate sender url: %w", err)
	}
	recipient, err := url.Parse(receiver)
	if err != nil {
		return settlement.TransportHandle{}, fmt.Errorf("transport: invalid accumulate recipient url: %w", err)
	}

	body := &protocol.SendTokens{
		To: []*protocol.TokenRecipient{
			{Url: recipient, Amount: *amount.BigInt()},
		},
	}
	tx := &protocol.Transaction{
		Header: protocol.TransactionHeader{Principal: principal},
		Body:   body,
	}

	sig, err := t.signTransaction(tx)
	if err != nil {
		return settlement.TransportHandle{}, err
	}

	envelope := &messaging.Envelope{
		Transaction: []*protocol.Transaction{tx},
		Signatures:  []protocol.Signature{sig},
	}

	submissions, err := t.client.Submit(ctx, envelope, protocol.SubmitOptions{})
	if err != nil {
		return settlement.TransportHandle{}, fmt.Errorf("transport: submit accumulate envelope: %w", err)
	}
	if len(submissions) == 0 || !submissions[0].Success {
		return settlement.TransportHandle{}, fmt.Errorf("transport: accumulate submission rejected")
	}

	txHash := tx.GetHash()
	return settlement.TransportHandle{
		Sequence: sequenceFromHash(txHash),
		Detail:   fmt.Sprintf("%x", txHash),
	}, nil
}

func (t *AccumulateTransport) AwaitDelivery(ctx context.Context, handle settlement.TransportHandle) (settlement.DeliveryResult, string, error) {
	txURL, err := txIdentifierURL(handle.Detail)
	if err != nil {
		return settlement.DeliveryError, handle.Detail, fmt.Errorf("transport: invalid accumulate tx reference: %w", err)
	}

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		resp, err := t.client.Query(ctx, txURL, &v3.DefaultQuery{})
		if err == nil {
			if rec, ok := resp.(*v3.MessageRecord[messaging.Message]); ok {
				switch {
				case rec.Status.Delivered():
					return settlement.DeliveryDelivered, handle.Detail, nil
				case rec.Status.Failed():
					return settlement.DeliveryError, handle.Detail, fmt.Errorf("transport: accumulate transaction %s failed: %s", handle.Detail, rec.Status.String())
				}
			}
		}
		select {
		case <-ctx.Done():
			return settlement.DeliveryTimedOut, handle.Detail, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *AccumulateTransport) signTransaction(tx *protocol.Transaction) (*protocol.ED25519Signature, error) {
	signerURL, err := url.Parse(t.signerURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid accumulate signer url: %w", err)
	}
	sig := &protocol.ED25519Signature{
		PublicKey:     t.publicKey,
		Signer:        signerURL,
		SignerVersion: t.keyVersion,
		Timestamp:     uint64(time.Now().UnixMicro()),
	}
	initiatorHasher, err := sig.Initiator()
	if err != nil {
		return nil, fmt.Errorf("transport: compute accumulate initiator: %w", err)
	}
	initiatorHash := initiatorHasher.MerkleHash()
	copy(tx.Header.Initiator[:], initiatorHash)

	txHash := tx.GetHash()
	protocol.SignED25519(sig, t.signingKey, nil, txHash)
	sig.TransactionHash = *(*[32]byte)(txHash)
	return sig, nil
}

// txIdentifierURL turns a hex transaction hash (as stored in a
// TransportHandle.Detail) into the acc://<adi>@<txid> form the v3 API
// expects for a transaction query, grounded on how the batch extractor
// resolves a bare hash into a queryable URL.
func txIdentifierURL(txHash string) (*url.URL, error) {
	raw, err := hex.DecodeString(txHash)
	if err != nil || len(raw) != 32 {
		return url.Parse(txHash)
	}
	var txHashArray [32]byte
	copy(txHashArray[:], raw)
	base := url.MustParse("acc://unknown.acme")
	return base.WithTxID(txHashArray).AsUrl(), nil
}

// sequenceFromHash derives a Router-friendly uint64 sequence from an
// Accumulate transaction hash; the hash itself (kept in Detail) is the
// durable identifier AwaitDelivery actually queries with.
func sequenceFromHash(hash []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(hash); i++ {
		v = v<<8 | uint64(hash[i])
	}
	return v
}
