// evmcore runs the EVM block finalization engine as a standalone regtest
// node that seals blocks on a timer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/metachain-labs/evmcore/core"
	"github.com/metachain-labs/evmcore/miner"
)

const evmCategory = "EVM"

var (
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: evmCategory,
	}
	networkFlag = &cli.StringFlag{
		Name:     "network",
		Usage:    "Chain to run: mainnet, testnet, devnet or regtest",
		Value:    core.DefaultConfig.Network,
		Category: evmCategory,
	}
	dataDirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "Data directory for the databases, empty for in-memory",
		Category: evmCategory,
	}
	dbEngineFlag = &cli.StringFlag{
		Name:     "db.engine",
		Usage:    "Backing database implementation to use ('pebble' or 'leveldb')",
		Value:    core.DefaultConfig.DatabaseEngine,
		Category: evmCategory,
	}
	cacheFlag = &cli.IntFlag{
		Name:     "cache",
		Usage:    "Megabytes of memory allocated to the database",
		Value:    core.DefaultConfig.DatabaseCache,
		Category: evmCategory,
	}
	genesisFlag = &cli.StringFlag{
		Name:     "genesis",
		Usage:    "Genesis JSON file (regtest only)",
		Category: evmCategory,
	}
	filterTimeoutFlag = &cli.Uint64Flag{
		Name:     "filter.timeout",
		Usage:    "Seconds an unpolled filter is kept",
		Value:    core.DefaultConfig.FilterTimeout,
		Category: evmCategory,
	}
	coinbaseFlag = &cli.StringFlag{
		Name:     "miner.coinbase",
		Usage:    "Beneficiary of the priority fees of sealed blocks",
		Category: "MINER",
	}
	intervalFlag = &cli.DurationFlag{
		Name:     "miner.interval",
		Usage:    "Time between two sealed blocks",
		Value:    miner.DefaultConfig.Interval,
		Category: "MINER",
	}
	maxBlocksFlag = &cli.Uint64Flag{
		Name:     "miner.blocks",
		Usage:    "Stop after sealing this many blocks (0 = unlimited)",
		Category: "MINER",
	}
)

var nodeFlags = []cli.Flag{
	configFileFlag,
	networkFlag,
	dataDirFlag,
	dbEngineFlag,
	cacheFlag,
	genesisFlag,
	filterTimeoutFlag,
	coinbaseFlag,
	intervalFlag,
	maxBlocksFlag,
}

func newApp() *cli.App {
	app := &cli.App{
		Name:   "evmcore",
		Usage:  "EVM block finalization engine",
		Flags:  append(append([]cli.Flag{}, nodeFlags...), loggingFlags...),
		Before: setupLogging,
		After: func(*cli.Context) error {
			closeLogging()
			return nil
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:      "dumpconfig",
				Usage:     "Export configuration values in a TOML format",
				ArgsUsage: "<dumpfile (optional)>",
				Action:    dumpConfig,
			},
			{
				Name:   "status",
				Usage:  "Print the chain head",
				Action: status,
			},
			{
				Name:      "validate",
				Usage:     "Check a raw transaction against the latest state and estimate its gas",
				ArgsUsage: "<hex tx>",
				Action:    validate,
			},
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openServices(ctx *cli.Context) (*core.EVMServices, evmcoreConfig, error) {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return nil, cfg, err
	}
	services, err := core.New(cfg.EVM)
	return services, cfg, err
}

// run seals blocks until interrupted.
func run(ctx *cli.Context) error {
	services, cfg, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer services.Close()

	sigctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := miner.New(cfg.Miner, services, services.Queues)
	if err := m.Run(sigctx); err != nil {
		return err
	}
	log.Info("Block production stopped", "sealed", m.Mined())
	return nil
}

func status(ctx *cli.Context) error {
	services, _, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer services.Close()

	hash, number, ok := services.Block.GetLatestBlockHashAndNumber()
	if !ok {
		fmt.Println("No blocks")
		return nil
	}
	baseFee, err := services.Block.CalculateNextBlockBaseFee()
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.AppendBulk([][]string{
		{"Chain ID", services.ChainConfig().ChainID.String()},
		{"Head number", fmt.Sprint(number)},
		{"Head hash", hash.Hex()},
		{"State root", services.Block.GetLatestStateRoot().Hex()},
		{"Next base fee", baseFee.Dec()},
	})
	table.Render()
	return nil
}

func validate(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected one raw transaction, got %d arguments", ctx.NArg())
	}
	services, _, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer services.Close()

	raw := ctx.Args().First()
	if err := services.VerifyTxFees(raw, true); err != nil {
		return err
	}
	info, err := services.ValidateRawTx(raw)
	if err != nil {
		return err
	}
	fmt.Printf("Hash:     %s\n", info.SignedTx.Hash())
	fmt.Printf("Sender:   %s\n", info.SignedTx.Sender)
	fmt.Printf("Nonce:    %d\n", info.SignedTx.Nonce())
	fmt.Printf("Gas used: %d\n", info.UsedGas)
	fmt.Printf("Prepay:   %s\n", info.PrepayFee)
	return nil
}
