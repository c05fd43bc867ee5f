/*
 * Copyright (c) 2022. TxnLab Inc.
 * All Rights reserved.
 */
package misc

import (
	"os"
	"strings"
	"sync"
)

var (
	secretsLock sync.RWMutex
	secretsMap  = map[string]string{}
)

// SetSecret registers a secret that isn't present in the environment (from a mounted secret file for eg).
func SetSecret(key, value string) {
	secretsLock.Lock()
	defer secretsLock.Unlock()
	secretsMap[key] = value
}

// LoadSecretsDir registers every file within dir as a secret named after the file, the way
// kubernetes mounts secrets. Missing directories are ignored.
func LoadSecretsDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(dir + string(os.PathSeparator) + entry.Name())
		if err != nil {
			return err
		}
		SetSecret(entry.Name(), strings.TrimSpace(string(data)))
	}
	return nil
}

func GetSecret(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	secretsLock.RLock()
	defer secretsLock.RUnlock()
	return secretsMap[key]
}
