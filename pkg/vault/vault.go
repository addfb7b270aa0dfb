package vault

import (
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// VaultClient fetches courier's Mattermost credentials from Vault, so
// the bot token never has to live in the config file.
type VaultClient struct {
	*vault.Client
}

// AuthMethod authenticates a Vault client.
type AuthMethod interface {
	Authenticate(*vault.Client) error
}

// TokenAuth authenticates with a pre-issued Vault token.
type TokenAuth struct {
	Token string
}

// AppRoleAuth authenticates via the AppRole login endpoint.
type AppRoleAuth struct {
	RoleID   string
	SecretID string
}

func (t TokenAuth) Authenticate(client *vault.Client) error {
	client.SetToken(t.Token)
	return nil
}

func (a AppRoleAuth) Authenticate(client *vault.Client) error {
	data := map[string]interface{}{
		"role_id":   a.RoleID,
		"secret_id": a.SecretID,
	}
	secret, err := client.Logical().Write("auth/approle/login", data)
	if err != nil {
		return fmt.Errorf("failed to authenticate with AppRole: %w", err)
	}
	client.SetToken(secret.Auth.ClientToken)
	return nil
}

// NewVaultClient creates an authenticated Vault client.
func NewVaultClient(address string, authMethod AuthMethod) (*VaultClient, error) {
	config := vault.DefaultConfig()
	config.Address = address

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if err := authMethod.Authenticate(client); err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	// For TokenAuth, validate the token up front.
	if _, ok := authMethod.(TokenAuth); ok {
		_, err = client.Auth().Token().LookupSelf()
		if err != nil {
			return nil, fmt.Errorf("failed to validate token: %w", err)
		}
	}

	return &VaultClient{client}, nil
}

// BotToken reads the Mattermost bot token from the secret at path. It
// understands both KV v1 payloads and the nested "data" map KV v2
// returns; the token lives under the "token" key.
func (vc *VaultClient) BotToken(path string) (string, error) {
	secret, err := vc.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == nil {
		return "", fmt.Errorf("secret not found: %s", path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	token, ok := data["token"].(string)
	if !ok || token == "" {
		return "", fmt.Errorf("secret %s has no token field", path)
	}
	return token, nil
}
