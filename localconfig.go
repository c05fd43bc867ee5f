package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataFilename returns the pool database path: STAKEPOOL_DATA when set, otherwise a
// per network file in the user config dir.
func DataFilename(network string) (string, error) {
	dataPath := os.Getenv("STAKEPOOL_DATA")
	if dataPath == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		dataPath = filepath.Join(cfgDir, "stakepool", network, "pool.db")
	}
	err := os.MkdirAll(filepath.Dir(dataPath), 0775) // user+group RWX, others RX
	if err != nil {
		return "", fmt.Errorf("error making directory:%s, error:%w", filepath.Dir(dataPath), err)
	}
	return dataPath, nil
}
