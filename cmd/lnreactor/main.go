package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightninglabs/lnreactor/wallet"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultEsploraURL        = "https://blockstream.info/api"
	defaultTestnetEsploraURL = "https://blockstream.info/testnet/api"
	defaultSignetEsploraURL  = "https://mempool.space/signet/api"
	defaultRegtestEsploraURL = "http://localhost:3004"

	// version is the current version of the tool. It is set during build.
	version = "0.1.0"

	// envPrefix is the prefix of environment variables that override
	// flags, for example LNREACTOR_BITCOIND_HOST for --bitcoind.host.
	envPrefix = "LNREACTOR"

	Commit = ""
)

var (
	Testnet bool
	Regtest bool
	Signet  bool

	log         = btclog.Disabled
	chainParams = &chaincfg.MainNetParams

	// defaultDataDir is the default directory of the node database and
	// the log files.
	defaultDataDir = btcutil.AppDataDir("lnreactor", false)
)

var rootCmd = &cobra.Command{
	Use:   "lnreactor",
	Short: "Lnreactor inspects the on-chain side of a Lightning node",
	Long: `This tool opens the wallet, signer and payment ledger of a node
and offers commands to query them against a bitcoind or esplora chain backend.`,
	Version: fmt.Sprintf("v%s, commit %s", version, Commit),
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		switch {
		case Testnet:
			chainParams = &chaincfg.TestNet3Params

		case Regtest:
			chainParams = &chaincfg.RegressionNetParams

		case Signet:
			chainParams = &chaincfg.SigNetParams

		default:
			chainParams = &chaincfg.MainNetParams
		}

		if err := loadConfigFile(); err != nil {
			return err
		}

		if err := setupLogging(); err != nil {
			return err
		}

		log.Infof("lnreactor version v%s commit %s on %s", version,
			Commit, chainParams.Name)

		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		closeLogging()
	},
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(
		&Testnet, "testnet", "t", false, "Indicates if testnet "+
			"parameters should be used",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&Regtest, "regtest", "r", false, "Indicates if regtest "+
			"parameters should be used",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&Signet, "signet", "s", false, "Indicates if the public "+
			"signet parameters should be used",
	)
	rootCmd.PersistentFlags().String("config", "", "Optional config "+
		"file (yaml, toml or json) with the same keys as the flags",
	)

	// Chain backend settings.
	rootCmd.PersistentFlags().String("chain.backend", "bitcoind", "The "+
		"chain backend to use (bitcoind/esplora)",
	)
	rootCmd.PersistentFlags().String("bitcoind.host", "localhost:8332",
		"Host and port of the bitcoind JSON-RPC interface",
	)
	rootCmd.PersistentFlags().String("bitcoind.user", "", "bitcoind "+
		"RPC user name",
	)
	rootCmd.PersistentFlags().String("bitcoind.pass", "", "bitcoind "+
		"RPC password",
	)
	rootCmd.PersistentFlags().String("esplora.url", defaultEsploraURL,
		"Base URL of the esplora compatible API",
	)

	// Node settings.
	rootCmd.PersistentFlags().String("db.path", defaultDataDir, "Data "+
		"directory of the node database",
	)
	rootCmd.PersistentFlags().String("rootkey", "", "BIP32 HD root key "+
		"(xprv/tprv) of the node",
	)
	rootCmd.PersistentFlags().String("seed", "", "hex encoded 32 byte "+
		"seed to derive the root key from instead of --rootkey",
	)
	rootCmd.PersistentFlags().Duration("wallet.syncinterval",
		wallet.DefaultSyncInterval, "How often the wallet syncs with "+
			"the chain backend",
	)

	// Logging settings.
	rootCmd.PersistentFlags().String("debuglevel", "info", "Logging "+
		"level for all subsystems (trace/debug/info/warn/error/"+
		"critical/off), optionally followed by <subsystem>=<level> "+
		"pairs, for example info,WLLT=debug",
	)
	rootCmd.PersistentFlags().String("logdir", defaultDataDir, "Directory "+
		"of the rotated log file",
	)
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second,
		"Timeout of a single command against the chain backend",
	)

	// Bind flags to viper and allow environment overrides.
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error binding flags: %v\n", err)
		os.Exit(1)
	}
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newBalanceCommand(),
		newDescriptorsCommand(),
		newDocCommand(),
		newFeeRateCommand(),
		newNewAddressCommand(),
		newPaymentsCommand(),
		newSyncCommand(),
		newWithdrawCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfigFile merges the optional config file into viper.
func loadConfigFile() error {
	cfgFile := viper.GetString("config")
	if cfgFile == "" {
		return nil
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("unable to read config file %s: %w", cfgFile,
			err)
	}

	return nil
}
