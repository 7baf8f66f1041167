package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tdex-network/chainscan/config"
	"github.com/tdex-network/chainscan/internal/core/application"
	"github.com/tdex-network/chainscan/internal/core/domain"
	dbbadger "github.com/tdex-network/chainscan/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/chainscan/pkg/explorer"
	"github.com/tdex-network/chainscan/pkg/explorer/esplora"
	"github.com/tdex-network/chainscan/pkg/hdwallet"
)

var restore = cli.Command{
	Name:  "restore",
	Usage: "discover the used addresses of a wallet starting from its mnemonic",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "mnemonic",
			Usage:    "space-separated BIP39 mnemonic of the wallet",
			EnvVars:  []string{"CHAINSCAN_MNEMONIC"},
			Required: true,
		},
		&cli.DurationFlag{
			Name:  "deadline",
			Usage: "wall-clock deadline on the whole scan, 0 for none",
		},
	},
	Action: restoreAction,
}

var rescan = cli.Command{
	Name:  "rescan",
	Usage: "re-verify chain state for a wallet with known address history",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "mnemonic",
			Usage:    "space-separated BIP39 mnemonic of the wallet",
			EnvVars:  []string{"CHAINSCAN_MNEMONIC"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "addresses",
			Usage:    "path of the JSON file listing the known used addresses",
			Required: true,
		},
		&cli.DurationFlag{
			Name:  "deadline",
			Usage: "wall-clock deadline on the whole scan, 0 for none",
		},
	},
	Action: rescanAction,
}

var watch = cli.Command{
	Name:   "watch",
	Usage:  "print new blocks as they are seen by the explorer",
	Action: watchAction,
}

func restoreAction(ctx *cli.Context) error {
	req := domain.RecoveryRequest{
		Mode:           domain.RecoveryModeRestore,
		Scopes:         hdwallet.DefaultKeyScopes,
		GapLimit:       config.GetInt(config.GapLimitKey),
		BatchSize:      config.GetInt(config.AddressBatchSizeKey),
		BirthdayHeight: config.GetInt(config.BirthdayHeightKey),
	}
	return runScan(ctx, req)
}

func rescanAction(ctx *cli.Context) error {
	known, err := readKnownAddresses(ctx.String("addresses"))
	if err != nil {
		return err
	}

	req := domain.RecoveryRequest{
		Mode:           domain.RecoveryModeRescan,
		KnownAddresses: known,
		GapLimit:       config.GetInt(config.GapLimitKey),
		BatchSize:      config.GetInt(config.AddressBatchSizeKey),
		BirthdayHeight: config.GetInt(config.BirthdayHeightKey),
	}
	return runScan(ctx, req)
}

func watchAction(_ *cli.Context) error {
	explorerSvc, err := newExplorerService()
	if err != nil {
		return err
	}

	tip, err := explorerSvc.GetTipHeight(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("tip height: %d\n", tip)

	interval := config.GetDuration(config.PollIntervalKey)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			return nil
		case <-time.After(interval):
			height, err := explorerSvc.GetTipHeight(context.Background())
			if err != nil {
				return err
			}
			for h := tip + 1; h <= height; h++ {
				hash, err := explorerSvc.GetBlockHashForHeight(context.Background(), h)
				if err != nil {
					return err
				}
				fmt.Printf("block %d %s\n", h, hash)
			}
			tip = height
		}
	}
}

func runScan(ctx *cli.Context, req domain.RecoveryRequest) error {
	explorerSvc, err := newExplorerService()
	if err != nil {
		return err
	}

	net, err := config.GetNetwork()
	if err != nil {
		return err
	}
	wallet, err := hdwallet.NewWalletFromMnemonic(hdwallet.NewWalletFromMnemonicOpts{
		Mnemonic: strings.Fields(ctx.String("mnemonic")),
		Network:  net,
	})
	if err != nil {
		return err
	}

	repo, err := dbbadger.NewScanStateRepositoryImpl(
		config.GetString(config.DatadirKey),
	)
	if err != nil {
		return err
	}
	defer repo.Close()

	coordinator, err := application.NewScanCoordinator(application.ScanCoordinatorOpts{
		ExplorerSvc:               explorerSvc,
		Deriver:                   wallet,
		Repo:                      repo,
		BlockScanThreshold:        config.GetInt(config.BlockScanThresholdKey),
		MaxConcurrentBlockFetches: config.GetInt(config.MaxConcurrentBlockFetchesKey),
		BruteForceWindow:          config.GetInt(config.BruteForceWindowKey),
		GapLimitEnabled:           config.GetBool(config.EnableGapLimitKey),
	})
	if err != nil {
		return err
	}

	scanCtx := context.Background()
	if deadline := ctx.Duration("deadline"); deadline > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(scanCtx, deadline)
		defer cancel()
	}

	res, err := coordinator.Scan(scanCtx, req)
	if err != nil {
		return err
	}
	return printResult(res)
}

func newExplorerService() (explorer.Service, error) {
	return esplora.NewService(esplora.Opts{
		APIURL:                   config.GetString(config.ExplorerEndpointKey),
		RequestTimeout:           config.GetDuration(config.ExplorerRequestTimeoutKey),
		MaxRetryAttempts:         config.GetInt(config.ExplorerMaxRetryAttemptsKey),
		IndexingLagRetryAttempts: config.GetInt(config.ExplorerIndexingLagRetriesKey),
		MaxConcurrentRequests:    config.GetInt(config.ExplorerMaxConcurrentRequestsKey),
		RequestsPerSecond:        config.GetInt(config.ExplorerRequestRateKey),
		RequestsBurst:            config.GetInt(config.ExplorerRequestBurstKey),
	})
}

type knownAddress struct {
	Purpose uint32 `json:"purpose"`
	Chain   uint32 `json:"chain"`
	Index   uint32 `json:"index"`
	Address string `json:"address"`
}

func readKnownAddresses(path string) ([]hdwallet.AddressInfo, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	list := make([]knownAddress, 0)
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("invalid addresses file: %w", err)
	}

	known := make([]hdwallet.AddressInfo, 0, len(list))
	for _, a := range list {
		known = append(known, hdwallet.AddressInfo{
			Scope:   hdwallet.KeyScope{Purpose: a.Purpose},
			Chain:   hdwallet.Chain(a.Chain),
			Index:   a.Index,
			Address: a.Address,
		})
	}
	return known, nil
}

func printResult(res *domain.ScanResult) error {
	type branchIndex struct {
		Branch           string `json:"branch"`
		HighestUsedIndex int    `json:"highest_used_index"`
	}
	out := struct {
		HighestUsedIndexes []branchIndex          `json:"highest_used_indexes"`
		NewlyUsedAddresses []hdwallet.AddressInfo `json:"newly_used_addresses"`
		Matches            []domain.TxMatch       `json:"matches"`
	}{
		HighestUsedIndexes: make([]branchIndex, 0, len(res.HighestUsedIndexes)),
		NewlyUsedAddresses: res.NewlyUsedAddresses,
		Matches:            res.Matches,
	}
	for branch, index := range res.HighestUsedIndexes {
		out.HighestUsedIndexes = append(out.HighestUsedIndexes, branchIndex{
			Branch:           branch.String(),
			HighestUsedIndex: index,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
