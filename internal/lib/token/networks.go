package token

import (
	"fmt"
	"os"

	"github.com/TxnLab/stakepool/internal/lib/misc"
)

// NetworkConfig locates the token service for a network. An empty TokenServiceURL
// means an in-process token ledger is used instead.
type NetworkConfig struct {
	TokenID     string
	PoolAccount string

	TokenServiceURL   string
	TokenServiceToken string
	// TokenServiceKey is the address whose key signs deposit and settlement callbacks
	TokenServiceKey string
}

func (n NetworkConfig) String() string {
	return fmt.Sprintf("TokenID: %s, PoolAccount: %s, TokenServiceURL: %s, TokenServiceToken: (length:%d), TokenServiceKey: %s",
		n.TokenID, n.PoolAccount, n.TokenServiceURL, len(n.TokenServiceToken), n.TokenServiceKey)
}

func (n NetworkConfig) IsLocal() bool {
	return n.TokenServiceURL == ""
}

func GetNetworkConfig(network string) NetworkConfig {
	cfg := getDefaults(network)

	if tokenID := os.Getenv("STAKEPOOL_TOKEN_ID"); tokenID != "" {
		cfg.TokenID = tokenID
	}
	if account := os.Getenv("STAKEPOOL_ACCOUNT"); account != "" {
		cfg.PoolAccount = account
	}
	if url := misc.GetSecret("TOKEN_SERVICE_URL"); url != "" {
		cfg.TokenServiceURL = url
	}
	if token := misc.GetSecret("TOKEN_SERVICE_TOKEN"); token != "" {
		cfg.TokenServiceToken = token
	}
	if key := misc.GetSecret("TOKEN_SERVICE_PUBKEY"); key != "" {
		cfg.TokenServiceKey = key
	}
	return cfg
}

func getDefaults(network string) NetworkConfig {
	cfg := NetworkConfig{
		TokenID:     "token.stakepool",
		PoolAccount: "pool.stakepool",
	}
	switch network {
	case "sandbox":
		// in-process ledger
	case "localnet":
		cfg.TokenServiceURL = "http://localhost:3030"
	}
	return cfg
}
