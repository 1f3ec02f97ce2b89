package exchange

import "fmt"

// AuthMethod selects how requests to the venue are signed.
type AuthMethod string

const (
	AuthNone     AuthMethod = "none"
	AuthAPIKey   AuthMethod = "api_key"
	AuthEVM      AuthMethod = "evm_wallet"
	AuthStarknet AuthMethod = "starknet_wallet"
)

// AuthConfig holds the credentials for one venue. Only the fields required
// by the selected method need to be set.
type AuthConfig struct {
	Method AuthMethod `mapstructure:"method" yaml:"method"`

	// api_key
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`

	// evm_wallet
	PrivateKey    string `mapstructure:"private_key" yaml:"private_key"`
	WalletAddress string `mapstructure:"wallet_address" yaml:"wallet_address"`

	// starknet_wallet
	AccountAddress string `mapstructure:"account_address" yaml:"account_address"`
	PublicKey      string `mapstructure:"public_key" yaml:"public_key"`
}

// Validate checks the fields required by the selected method are present.
// An empty method defaults to none, which backtests and public market data
// use.
func (a AuthConfig) Validate() error {
	switch a.Method {
	case AuthNone, "":
		return nil
	case AuthAPIKey:
		if a.APIKey == "" || a.APISecret == "" {
			return fmt.Errorf("api_key auth requires api_key and api_secret")
		}
	case AuthEVM:
		if a.PrivateKey == "" {
			return fmt.Errorf("evm_wallet auth requires private_key")
		}
	case AuthStarknet:
		if a.PrivateKey == "" || a.AccountAddress == "" {
			return fmt.Errorf("starknet_wallet auth requires private_key and account_address")
		}
	default:
		return fmt.Errorf("unknown auth method %q", a.Method)
	}
	return nil
}

// Authenticated reports whether the config can sign private endpoints.
func (a AuthConfig) Authenticated() bool {
	return a.Method != AuthNone && a.Method != ""
}
