package esplora

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tdex-network/chainscan/pkg/explorer"
)

func (e *esplora) GetTransactionsForAddress(
	ctx context.Context, address string,
) ([]explorer.Transaction, error) {
	url := fmt.Sprintf("%s/address/%s/txs", e.apiURL, address)
	return e.getTransactions(ctx, "address_txs", url)
}

func (e *esplora) GetTransactionsForScriptHash(
	ctx context.Context, scriptHash string,
) ([]explorer.Transaction, error) {
	url := fmt.Sprintf("%s/scripthash/%s/txs", e.apiURL, scriptHash)
	return e.getTransactions(ctx, "scripthash_txs", url)
}

func (e *esplora) GetUnspentsForAddress(
	ctx context.Context, address string,
) ([]explorer.Utxo, error) {
	url := fmt.Sprintf("%s/address/%s/utxo", e.apiURL, address)
	return e.getUnspents(ctx, "address_utxos", url)
}

func (e *esplora) GetUnspentsForScriptHash(
	ctx context.Context, scriptHash string,
) ([]explorer.Utxo, error) {
	url := fmt.Sprintf("%s/scripthash/%s/utxo", e.apiURL, scriptHash)
	return e.getUnspents(ctx, "scripthash_utxos", url)
}

func (e *esplora) GetTransactionHex(ctx context.Context, txid string) (string, error) {
	url := fmt.Sprintf("%s/tx/%s/hex", e.apiURL, txid)
	return e.get(ctx, "tx_hex", url)
}

func (e *esplora) GetTransactionStatus(
	ctx context.Context, txid string,
) (*explorer.TxStatus, error) {
	url := fmt.Sprintf("%s/tx/%s/status", e.apiURL, txid)
	resp, err := e.get(ctx, "tx_status", url)
	if err != nil {
		return nil, err
	}

	status := &explorer.TxStatus{BlockHeight: -1}
	if err := json.Unmarshal([]byte(resp), status); err != nil {
		return nil, newError(explorer.ErrKindPermanent, "tx_status", err)
	}
	return status, nil
}

func (e *esplora) GetTransactionMerkleProof(
	ctx context.Context, txid string,
) (*explorer.MerkleProof, error) {
	url := fmt.Sprintf("%s/tx/%s/merkle-proof", e.apiURL, txid)
	resp, err := e.get(ctx, "tx_merkle_proof", url)
	if err != nil {
		return nil, err
	}

	proof := &explorer.MerkleProof{}
	if err := json.Unmarshal([]byte(resp), proof); err != nil {
		return nil, newError(explorer.ErrKindPermanent, "tx_merkle_proof", err)
	}
	return proof, nil
}

func (e *esplora) GetTransactionOutspend(
	ctx context.Context, txid string, vout int,
) (*explorer.Outspend, error) {
	url := fmt.Sprintf("%s/tx/%s/outspend/%d", e.apiURL, txid, vout)
	resp, err := e.get(ctx, "tx_outspend", url)
	if err != nil {
		return nil, err
	}

	outspend := &explorer.Outspend{}
	if err := json.Unmarshal([]byte(resp), outspend); err != nil {
		return nil, newError(explorer.ErrKindPermanent, "tx_outspend", err)
	}
	return outspend, nil
}

func (e *esplora) GetTransactionOutspends(
	ctx context.Context, txid string,
) ([]explorer.Outspend, error) {
	url := fmt.Sprintf("%s/tx/%s/outspends", e.apiURL, txid)
	resp, err := e.get(ctx, "tx_outspends", url)
	if err != nil {
		return nil, err
	}

	outspends := make([]explorer.Outspend, 0)
	if err := json.Unmarshal([]byte(resp), &outspends); err != nil {
		return nil, newError(explorer.ErrKindPermanent, "tx_outspends", err)
	}
	return outspends, nil
}

func (e *esplora) GetFeeEstimates(ctx context.Context) (map[string]float64, error) {
	url := fmt.Sprintf("%s/fee-estimates", e.apiURL)
	resp, err := e.get(ctx, "fee_estimates", url)
	if err != nil {
		return nil, err
	}

	estimates := map[string]float64{}
	if err := json.Unmarshal([]byte(resp), &estimates); err != nil {
		return nil, newError(explorer.ErrKindPermanent, "fee_estimates", err)
	}
	return estimates, nil
}

func (e *esplora) BroadcastTransaction(ctx context.Context, txHex string) (string, error) {
	url := fmt.Sprintf("%s/tx", e.apiURL)
	headers := map[string]string{
		"Content-Type": "text/plain",
	}
	return e.post(ctx, "broadcast", url, txHex, headers)
}

func (e *esplora) getTransactions(
	ctx context.Context, op, url string,
) ([]explorer.Transaction, error) {
	resp, err := e.get(ctx, op, url)
	if err != nil {
		return nil, err
	}

	txs := make([]explorer.Transaction, 0)
	if err := json.Unmarshal([]byte(resp), &txs); err != nil {
		return nil, newError(explorer.ErrKindPermanent, op, err)
	}
	return txs, nil
}

func (e *esplora) getUnspents(
	ctx context.Context, op, url string,
) ([]explorer.Utxo, error) {
	resp, err := e.get(ctx, op, url)
	if err != nil {
		return nil, err
	}

	unspents := make([]explorer.Utxo, 0)
	if err := json.Unmarshal([]byte(resp), &unspents); err != nil {
		return nil, newError(explorer.ErrKindPermanent, op, err)
	}
	return unspents, nil
}
