package esplora

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tdex-network/chainscan/pkg/explorer"
)

func (e *esplora) GetTipHeight(ctx context.Context) (int, error) {
	url := fmt.Sprintf("%s/blocks/tip/height", e.apiURL)
	resp, err := e.get(ctx, "tip_height", url)
	if err != nil {
		return -1, err
	}

	height, err := strconv.Atoi(resp)
	if err != nil {
		return -1, newError(explorer.ErrKindPermanent, "tip_height", err)
	}
	return height, nil
}

func (e *esplora) GetTipHash(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/blocks/tip/hash", e.apiURL)
	return e.get(ctx, "tip_hash", url)
}

// GetBlockHashForHeight tolerates a short indexing lag, a freshly mined
// block may take a few seconds before being visible to the explorer.
func (e *esplora) GetBlockHashForHeight(ctx context.Context, height int) (string, error) {
	url := fmt.Sprintf("%s/block-height/%d", e.apiURL, height)
	return e.getTolerateLag(ctx, "block_hash_for_height", url)
}

func (e *esplora) GetBlockHeader(ctx context.Context, hash string) (*explorer.BlockHeader, error) {
	url := fmt.Sprintf("%s/block/%s", e.apiURL, hash)
	resp, err := e.getTolerateLag(ctx, "block_header", url)
	if err != nil {
		return nil, err
	}

	header := &explorer.BlockHeader{}
	if err := json.Unmarshal([]byte(resp), header); err != nil {
		return nil, newError(explorer.ErrKindPermanent, "block_header", err)
	}
	return header, nil
}

// GetBlockHeaderHex returns the raw 80-byte header of a block in hex format.
func (e *esplora) GetBlockHeaderHex(ctx context.Context, hash string) (string, error) {
	url := fmt.Sprintf("%s/block/%s/header", e.apiURL, hash)
	return e.getTolerateLag(ctx, "block_header_hex", url)
}

func (e *esplora) GetBlockTxids(ctx context.Context, hash string) ([]string, error) {
	url := fmt.Sprintf("%s/block/%s/txids", e.apiURL, hash)
	resp, err := e.get(ctx, "block_txids", url)
	if err != nil {
		return nil, err
	}

	txids := make([]string, 0)
	if err := json.Unmarshal([]byte(resp), &txids); err != nil {
		return nil, newError(explorer.ErrKindPermanent, "block_txids", err)
	}
	return txids, nil
}

// GetBlockTxs fetches the transactions of a block page by page, incrementing
// the start offset by the fixed page size until a short page is returned,
// and concatenates the pages into the full transaction list.
func (e *esplora) GetBlockTxs(ctx context.Context, hash string) ([]explorer.Transaction, error) {
	txs := make([]explorer.Transaction, 0, txsPerPage)
	for startIndex := 0; ; startIndex += txsPerPage {
		url := fmt.Sprintf("%s/block/%s/txs/%d", e.apiURL, hash, startIndex)
		resp, err := e.get(ctx, "block_txs", url)
		if err != nil {
			return nil, err
		}

		page := make([]explorer.Transaction, 0, txsPerPage)
		if err := json.Unmarshal([]byte(resp), &page); err != nil {
			return nil, newError(explorer.ErrKindPermanent, "block_txs", err)
		}

		txs = append(txs, page...)
		if len(page) < txsPerPage {
			break
		}
	}
	return txs, nil
}
