package explorer

import "context"

// Service is the representation of a block explorer that allows to fetch
// address and block data from the blockchain and to broadcast transactions.
type Service interface {
	// HealthCheck returns whether the explorer is reachable and healthy.
	HealthCheck(ctx context.Context) error
	// GetTipHeight returns the height of the chain tip.
	GetTipHeight(ctx context.Context) (int, error)
	// GetTipHash returns the hash of the chain tip.
	GetTipHash(ctx context.Context) (string, error)
	// GetBlockHashForHeight returns the hash of the block at the given height.
	GetBlockHashForHeight(ctx context.Context, height int) (string, error)
	// GetBlockHeader returns the header of the block identified by its hash.
	GetBlockHeader(ctx context.Context, hash string) (*BlockHeader, error)
	// GetBlockHeaderHex returns the raw header of the block identified by
	// its hash in hex format.
	GetBlockHeaderHex(ctx context.Context, hash string) (string, error)
	// GetBlockTxids returns the ids of all transactions of the block
	// identified by its hash.
	GetBlockTxids(ctx context.Context, hash string) ([]string, error)
	// GetBlockTxs returns the full list of transactions of the block
	// identified by its hash. The list is fetched in pages of fixed size and
	// concatenated before being returned.
	GetBlockTxs(ctx context.Context, hash string) ([]Transaction, error)
	// GetTransactionsForAddress returns the list of all txs relative to the
	// given address.
	GetTransactionsForAddress(ctx context.Context, address string) ([]Transaction, error)
	// GetTransactionsForScriptHash returns the list of all txs relative to
	// the given output script hash.
	GetTransactionsForScriptHash(ctx context.Context, scriptHash string) ([]Transaction, error)
	// GetUnspentsForAddress returns the utxos of the given address.
	GetUnspentsForAddress(ctx context.Context, address string) ([]Utxo, error)
	// GetUnspentsForScriptHash returns the utxos of the given output script
	// hash.
	GetUnspentsForScriptHash(ctx context.Context, scriptHash string) ([]Utxo, error)
	// GetTransactionHex returns the transaction in hex format given its id.
	GetTransactionHex(ctx context.Context, txid string) (string, error)
	// GetTransactionStatus returns the confirmation status of the tx
	// identified by its id.
	GetTransactionStatus(ctx context.Context, txid string) (*TxStatus, error)
	// GetTransactionMerkleProof returns the merkle inclusion proof of a
	// confirmed tx.
	GetTransactionMerkleProof(ctx context.Context, txid string) (*MerkleProof, error)
	// GetTransactionOutspend returns the spending status of a single output
	// of the given tx.
	GetTransactionOutspend(ctx context.Context, txid string, vout int) (*Outspend, error)
	// GetTransactionOutspends returns the spending status of all outputs of
	// the given tx.
	GetTransactionOutspends(ctx context.Context, txid string) ([]Outspend, error)
	// GetFeeEstimates returns the fee rate estimates keyed by confirmation
	// target.
	GetFeeEstimates(ctx context.Context) (map[string]float64, error)
	// BroadcastTransaction attempts to add the given tx in hex format to the
	// mempool and returns its tx id.
	BroadcastTransaction(ctx context.Context, txHex string) (string, error)
}

// TxStatus is the confirmation status of a transaction. For an unconfirmed
// transaction BlockHeight is -1 and BlockHash is empty.
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int    `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

// TxInput is a transaction input as returned by the explorer. The previous
// output is already resolved server-side, no local script parsing is needed.
type TxInput struct {
	Txid       string    `json:"txid"`
	Vout       uint32    `json:"vout"`
	Prevout    *TxOutput `json:"prevout"`
	IsCoinbase bool      `json:"is_coinbase"`
}

// TxOutput is a transaction output as returned by the explorer, with the
// script already decoded to an address whenever possible.
type TxOutput struct {
	Script  string `json:"scriptpubkey"`
	Address string `json:"scriptpubkey_address"`
	Value   uint64 `json:"value"`
}

// Transaction is a transaction as returned by the explorer.
type Transaction struct {
	Txid     string     `json:"txid"`
	Version  int        `json:"version"`
	Locktime int        `json:"locktime"`
	Size     int        `json:"size"`
	Weight   int        `json:"weight"`
	Fee      uint64     `json:"fee"`
	Inputs   []TxInput  `json:"vin"`
	Outputs  []TxOutput `json:"vout"`
	Status   TxStatus   `json:"status"`
}

// Confirmed returns whether the tx has been included in a block.
func (t Transaction) Confirmed() bool {
	return t.Status.Confirmed
}

// BlockHeight returns the height of the block including the tx, or -1 if
// still unconfirmed.
func (t Transaction) BlockHeight() int {
	if !t.Status.Confirmed {
		return -1
	}
	return t.Status.BlockHeight
}

// Utxo is an unspent transaction output as returned by the explorer.
type Utxo struct {
	Txid   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Value  uint64   `json:"value"`
	Status TxStatus `json:"status"`
}

// BlockHeader is the summary of a block as returned by the explorer.
type BlockHeader struct {
	Id                string `json:"id"`
	Height            int    `json:"height"`
	Version           int    `json:"version"`
	Timestamp         int64  `json:"timestamp"`
	TxCount           int    `json:"tx_count"`
	PreviousBlockHash string `json:"previousblockhash"`
	MerkleRoot        string `json:"merkle_root"`
}

// MerkleProof is the merkle inclusion proof of a confirmed transaction.
type MerkleProof struct {
	BlockHeight int      `json:"block_height"`
	Merkle      []string `json:"merkle"`
	Pos         int      `json:"pos"`
}

// Outspend is the spending status of a transaction output.
type Outspend struct {
	Spent  bool      `json:"spent"`
	Txid   string    `json:"txid"`
	Vin    uint32    `json:"vin"`
	Status *TxStatus `json:"status"`
}
