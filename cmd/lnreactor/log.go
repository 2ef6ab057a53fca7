package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog/v2"
	"github.com/lightninglabs/lnreactor/chain"
	"github.com/lightninglabs/lnreactor/dispatch"
	"github.com/lightninglabs/lnreactor/funding"
	"github.com/lightninglabs/lnreactor/keys"
	"github.com/lightninglabs/lnreactor/ledger"
	"github.com/lightninglabs/lnreactor/node"
	"github.com/lightninglabs/lnreactor/wallet"
	"github.com/lightningnetwork/lnd/build"
	"github.com/spf13/viper"
)

const (
	logFileName = "lnreactor.log"

	// maxLogFileSizeMB is the size a log file can grow to before it is
	// rotated.
	maxLogFileSizeMB = 10

	// maxLogFiles is the number of rotated log files that are kept.
	maxLogFiles = 3
)

var logWriter *build.RotatingLogWriter

// subLoggers maps every subsystem to the function that installs its logger.
var subLoggers = map[string]func(btclog.Logger){
	chain.Subsystem:    chain.UseLogger,
	dispatch.Subsystem: dispatch.UseLogger,
	funding.Subsystem:  funding.UseLogger,
	keys.Subsystem:     keys.UseLogger,
	ledger.Subsystem:   ledger.UseLogger,
	node.Subsystem:     node.UseLogger,
	wallet.Subsystem:   wallet.UseLogger,
}

// setupLogging writes the logs of all subsystems to stderr and to a rotated
// log file in the log directory. The debug level accepts the lnd syntax, for
// example "info,WLLT=debug".
func setupLogging() error {
	logWriter = build.NewRotatingLogWriter()

	logCfg := build.DefaultLogConfig()
	logCfg.File.MaxLogFiles = maxLogFiles
	logCfg.File.MaxLogFileSize = maxLogFileSizeMB

	logFile := filepath.Join(viper.GetString("logdir"), logFileName)
	if err := logWriter.InitLogRotator(logCfg.File, logFile); err != nil {
		return fmt.Errorf("unable to create log rotator: %w", err)
	}

	logMgr := build.NewSubLoggerManager(
		btclog.NewDefaultHandler(os.Stderr),
		btclog.NewDefaultHandler(logWriter),
	)

	log = build.NewSubLogger("LNRC", genSubLogger(logMgr))
	for subsystem, useLogger := range subLoggers {
		useLogger(build.NewSubLogger(subsystem, genSubLogger(logMgr)))
	}

	err := build.ParseAndSetDebugLevels(
		viper.GetString("debuglevel"), logMgr,
	)
	if err != nil {
		closeLogging()
		return err
	}

	return nil
}

// genSubLogger creates a sub logger with an empty shutdown function.
func genSubLogger(logMgr *build.SubLoggerManager) func(string) btclog.Logger {
	return func(s string) btclog.Logger {
		return logMgr.GenSubLogger(s, func() {})
	}
}

// closeLogging flushes and closes the log file.
func closeLogging() {
	if logWriter == nil {
		return
	}

	_ = logWriter.Close()
	logWriter = nil
}
