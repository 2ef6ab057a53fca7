package node

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// DBFileName is the name of the node database inside the data
	// directory.
	DBFileName = "lnreactor.db"

	dbFilePermission = 0600
	dbDirPermission  = 0700

	// dbOpenTimeout is how long we wait for the file lock of a database
	// that is still opened by another process.
	dbOpenTimeout = 10 * time.Second
)

// openDB opens or creates the node database in dataDir.
func openDB(dataDir string) (*bbolt.DB, error) {
	if err := os.MkdirAll(dataDir, dbDirPermission); err != nil {
		return nil, fmt.Errorf("unable to create data dir: %w", err)
	}

	// Specify bbolt freelist options to reduce heap pressure in case the
	// freelist grows to be very large.
	options := &bbolt.Options{
		NoFreelistSync: true,
		FreelistType:   bbolt.FreelistMapType,
		Timeout:        dbOpenTimeout,
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := bbolt.Open(dbPath, dbFilePermission, options)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", dbPath, err)
	}

	return db, nil
}
