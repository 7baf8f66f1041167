package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tdex-network/chainscan/internal/core/domain"
	"github.com/tdex-network/chainscan/pkg/explorer"
	"github.com/tdex-network/chainscan/pkg/hdwallet"
)

// Explorer

type fakeExplorer struct {
	lock             sync.Mutex
	tipHeight        int
	txsByAddress     map[string][]explorer.Transaction
	errByAddress     map[string]error
	hashByHeight     map[int]string
	errByHeight      map[int]error
	delayByHeight    map[int]time.Duration
	txsByBlockHash   map[string][]explorer.Transaction
	hexByTxid        map[string]string
	queriedAddresses []string
	fetchedHeights   []int
}

func newFakeExplorer() *fakeExplorer {
	return &fakeExplorer{
		txsByAddress:   map[string][]explorer.Transaction{},
		errByAddress:   map[string]error{},
		hashByHeight:   map[int]string{},
		errByHeight:    map[int]error{},
		delayByHeight:  map[int]time.Duration{},
		txsByBlockHash: map[string][]explorer.Transaction{},
		hexByTxid:      map[string]string{},
	}
}

func (f *fakeExplorer) withBlock(height int, txs []explorer.Transaction) *fakeExplorer {
	hash := fmt.Sprintf("hash-%d", height)
	f.hashByHeight[height] = hash
	f.txsByBlockHash[hash] = txs
	if height > f.tipHeight {
		f.tipHeight = height
	}
	return f
}

func (f *fakeExplorer) addressQueryCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.queriedAddresses)
}

func (f *fakeExplorer) blockFetchCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.fetchedHeights)
}

func (f *fakeExplorer) HealthCheck(_ context.Context) error {
	return nil
}

func (f *fakeExplorer) GetTipHeight(_ context.Context) (int, error) {
	return f.tipHeight, nil
}

func (f *fakeExplorer) GetTipHash(_ context.Context) (string, error) {
	return f.hashByHeight[f.tipHeight], nil
}

func (f *fakeExplorer) GetBlockHashForHeight(
	ctx context.Context, height int,
) (string, error) {
	f.lock.Lock()
	delay := f.delayByHeight[height]
	f.lock.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	f.fetchedHeights = append(f.fetchedHeights, height)
	if err, ok := f.errByHeight[height]; ok {
		return "", err
	}
	if hash, ok := f.hashByHeight[height]; ok {
		return hash, nil
	}
	return fmt.Sprintf("hash-%d", height), nil
}

func (f *fakeExplorer) GetBlockTxs(
	_ context.Context, hash string,
) ([]explorer.Transaction, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.txsByBlockHash[hash], nil
}

func (f *fakeExplorer) GetTransactionsForAddress(
	ctx context.Context, address string,
) ([]explorer.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	f.queriedAddresses = append(f.queriedAddresses, address)
	if err, ok := f.errByAddress[address]; ok {
		return nil, err
	}
	return f.txsByAddress[address], nil
}

func (f *fakeExplorer) GetTransactionHex(
	_ context.Context, txid string,
) (string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if txHex, ok := f.hexByTxid[txid]; ok {
		return txHex, nil
	}
	return "", errors.New("tx not found")
}

func (f *fakeExplorer) GetBlockHeader(
	_ context.Context, _ string,
) (*explorer.BlockHeader, error) {
	panic("implement me")
}

func (f *fakeExplorer) GetBlockHeaderHex(_ context.Context, _ string) (string, error) {
	panic("implement me")
}

func (f *fakeExplorer) GetBlockTxids(_ context.Context, _ string) ([]string, error) {
	panic("implement me")
}

func (f *fakeExplorer) GetTransactionsForScriptHash(
	_ context.Context, _ string,
) ([]explorer.Transaction, error) {
	panic("implement me")
}

func (f *fakeExplorer) GetUnspentsForAddress(
	_ context.Context, _ string,
) ([]explorer.Utxo, error) {
	panic("implement me")
}

func (f *fakeExplorer) GetUnspentsForScriptHash(
	_ context.Context, _ string,
) ([]explorer.Utxo, error) {
	panic("implement me")
}

func (f *fakeExplorer) GetTransactionStatus(
	_ context.Context, _ string,
) (*explorer.TxStatus, error) {
	panic("implement me")
}

func (f *fakeExplorer) GetTransactionMerkleProof(
	_ context.Context, _ string,
) (*explorer.MerkleProof, error) {
	panic("implement me")
}

func (f *fakeExplorer) GetTransactionOutspend(
	_ context.Context, _ string, _ int,
) (*explorer.Outspend, error) {
	panic("implement me")
}

func (f *fakeExplorer) GetTransactionOutspends(
	_ context.Context, _ string,
) ([]explorer.Outspend, error) {
	panic("implement me")
}

func (f *fakeExplorer) GetFeeEstimates(_ context.Context) (map[string]float64, error) {
	panic("implement me")
}

func (f *fakeExplorer) BroadcastTransaction(_ context.Context, _ string) (string, error) {
	panic("implement me")
}

// AddressDeriver

type fakeDeriver struct{}

func (d fakeDeriver) DeriveAddress(
	scope hdwallet.KeyScope, chain hdwallet.Chain, index uint32,
) (*hdwallet.AddressInfo, error) {
	return &hdwallet.AddressInfo{
		Scope:   scope,
		Chain:   chain,
		Index:   index,
		Address: fakeAddress(scope, chain, index),
	}, nil
}

func fakeAddress(scope hdwallet.KeyScope, chain hdwallet.Chain, index uint32) string {
	return fmt.Sprintf("%d/%s/%d", scope.Purpose, chain, index)
}

type failingDeriver struct{}

func (d failingDeriver) DeriveAddress(
	_ hdwallet.KeyScope, _ hdwallet.Chain, _ uint32,
) (*hdwallet.AddressInfo, error) {
	return nil, errors.New("derivation failed")
}

// ScanStateRepository

type mockScanStateRepository struct {
	mock.Mock
}

func (m *mockScanStateRepository) GetLastProcessedHeight(
	ctx context.Context,
) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockScanStateRepository) UpdateLastProcessedHeight(
	ctx context.Context, height int,
) error {
	args := m.Called(ctx, height)
	return args.Error(0)
}

func (m *mockScanStateRepository) GetHighestUsedIndex(
	ctx context.Context, branch domain.Branch,
) (int, error) {
	args := m.Called(ctx, branch)
	return args.Int(0), args.Error(1)
}

func (m *mockScanStateRepository) UpdateHighestUsedIndex(
	ctx context.Context, branch domain.Branch, index int,
) error {
	args := m.Called(ctx, branch, index)
	return args.Error(0)
}

func (m *mockScanStateRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}

// helpers

func txidForTest(i int) string {
	return fmt.Sprintf("txid-%02d", i)
}

func confirmedTx(txid string, height int) explorer.Transaction {
	return explorer.Transaction{
		Txid: txid,
		Status: explorer.TxStatus{
			Confirmed:   true,
			BlockHeight: height,
			BlockHash:   fmt.Sprintf("hash-%d", height),
		},
	}
}

func unconfirmedTx(txid string) explorer.Transaction {
	return explorer.Transaction{
		Txid:   txid,
		Status: explorer.TxStatus{Confirmed: false, BlockHeight: -1},
	}
}
