package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/metachain-labs/evmcore/core"
	"github.com/metachain-labs/evmcore/miner"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type evmcoreConfig struct {
	EVM   core.Config
	Miner miner.Config
}

func defaultConfig() evmcoreConfig {
	return evmcoreConfig{
		EVM:   core.DefaultConfig,
		Miner: miner.DefaultConfig,
	}
}

func loadConfig(file string, cfg *evmcoreConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	var lineErr *toml.LineError
	if errors.As(err, &lineErr) {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the defaults, then the config file, then the flags.
func makeConfig(ctx *cli.Context) (evmcoreConfig, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	applyFlags(ctx, &cfg)
	return cfg, nil
}

func applyFlags(ctx *cli.Context, cfg *evmcoreConfig) {
	if ctx.IsSet(networkFlag.Name) {
		cfg.EVM.Network = ctx.String(networkFlag.Name)
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.EVM.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(dbEngineFlag.Name) {
		cfg.EVM.DatabaseEngine = ctx.String(dbEngineFlag.Name)
	}
	if ctx.IsSet(cacheFlag.Name) {
		cfg.EVM.DatabaseCache = ctx.Int(cacheFlag.Name)
	}
	if ctx.IsSet(genesisFlag.Name) {
		cfg.EVM.GenesisFile = ctx.String(genesisFlag.Name)
	}
	if ctx.IsSet(filterTimeoutFlag.Name) {
		cfg.EVM.FilterTimeout = ctx.Uint64(filterTimeoutFlag.Name)
	}
	if ctx.IsSet(coinbaseFlag.Name) {
		cfg.Miner.Coinbase = common.HexToAddress(ctx.String(coinbaseFlag.Name))
	}
	if ctx.IsSet(intervalFlag.Name) {
		cfg.Miner.Interval = ctx.Duration(intervalFlag.Name)
	}
	if ctx.IsSet(maxBlocksFlag.Name) {
		cfg.Miner.MaxBlocks = ctx.Uint64(maxBlocksFlag.Name)
	}
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.Write(out)
	return nil
}
