/*
Copyright © 2024 Juliano Martinez

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ncode/mattermost-courier/pkg/notify"
	"github.com/ncode/mattermost-courier/pkg/relay"
	"github.com/ncode/mattermost-courier/pkg/resolver"
	"github.com/ncode/mattermost-courier/pkg/rules"
	"github.com/ncode/mattermost-courier/pkg/transport"
	"github.com/ncode/mattermost-courier/pkg/vault"
)

var logger *slog.Logger

func init() {
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Relay notifications into Mattermost channels",
	Long: `Courier posts text, attachments, and file uploads into Mattermost
channels, resolving channel names to channel IDs along the way.

It can deliver a single notification from the command line (courier send),
verify server connectivity and credentials (courier check), or run as a
small socket listener that relays JSON-encoded requests (courier serve).`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.courier.yaml)")
	rootCmd.PersistentFlags().String("mattermost.url", "", "Mattermost server URL (scheme optional)")
	rootCmd.PersistentFlags().String("mattermost.token", "", "Mattermost bot token")
	rootCmd.PersistentFlags().String("mattermost.default_channel", "", "Channel used when a request names no targets")
	rootCmd.PersistentFlags().Bool("mattermost.insecure_skip_verify", false, "Disable TLS certificate verification")
	rootCmd.PersistentFlags().String("mattermost.author_name", "Courier", "Default attachment author name")
	rootCmd.PersistentFlags().String("mattermost.author_icon", "", "Default attachment author icon URL")
	rootCmd.PersistentFlags().StringSlice("files.allowed_paths", nil, "Directories local file attachments may be read from")
	rootCmd.PersistentFlags().StringSlice("files.allowed_urls", nil, "URL prefixes remote file attachments may be fetched from")
	rootCmd.PersistentFlags().String("log.file", "", "Log file path (stdout when empty)")
	rootCmd.PersistentFlags().Int("log.max_size", 10, "Log file rotation size in megabytes")
	rootCmd.PersistentFlags().Int("log.max_backups", 3, "Rotated log files to keep")
	rootCmd.PersistentFlags().Int("log.max_age", 7, "Days to keep rotated log files")
	rootCmd.PersistentFlags().String("vault.address", "", "Vault address for fetching the bot token")
	rootCmd.PersistentFlags().String("vault.token", "", "Vault token")
	rootCmd.PersistentFlags().String("vault.role_id", "", "Vault AppRole role ID")
	rootCmd.PersistentFlags().String("vault.secret_id", "", "Vault AppRole secret ID")
	rootCmd.PersistentFlags().String("vault.secret_path", "", "Vault secret path holding the bot token")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".courier" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".courier")
	}

	for _, key := range []string{
		"mattermost.url",
		"mattermost.token",
		"mattermost.default_channel",
		"mattermost.insecure_skip_verify",
		"mattermost.author_name",
		"mattermost.author_icon",
		"files.allowed_paths",
		"files.allowed_urls",
		"log.file",
		"log.max_size",
		"log.max_backups",
		"log.max_age",
		"vault.address",
		"vault.token",
		"vault.role_id",
		"vault.secret_id",
		"vault.secret_path",
	} {
		viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	var logOutput io.Writer = os.Stdout
	if logFile := viper.GetString("log.file"); logFile != "" {
		logOutput = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    viper.GetInt("log.max_size"),
			MaxBackups: viper.GetInt("log.max_backups"),
			MaxAge:     viper.GetInt("log.max_age"),
		}
	}
	logger = slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// botToken returns the configured Mattermost token, fetching it from
// Vault when a vault secret path is configured.
func botToken() (string, error) {
	if viper.GetString("vault.address") != "" && viper.GetString("vault.secret_path") != "" {
		var auth vault.AuthMethod
		if viper.GetString("vault.role_id") != "" {
			auth = vault.AppRoleAuth{
				RoleID:   viper.GetString("vault.role_id"),
				SecretID: viper.GetString("vault.secret_id"),
			}
		} else {
			auth = vault.TokenAuth{Token: viper.GetString("vault.token")}
		}

		client, err := vault.NewVaultClient(viper.GetString("vault.address"), auth)
		if err != nil {
			return "", err
		}
		return client.BotToken(viper.GetString("vault.secret_path"))
	}

	token := viper.GetString("mattermost.token")
	if token == "" {
		return "", fmt.Errorf("mattermost.token is required")
	}
	return token, nil
}

// buildRelay wires the transport client, resolver, dispatcher, and mute
// rules from the active configuration.
func buildRelay() (*relay.Relay, error) {
	serverURL := viper.GetString("mattermost.url")
	if serverURL == "" {
		return nil, fmt.Errorf("mattermost.url is required")
	}

	token, err := botToken()
	if err != nil {
		return nil, err
	}

	insecure := viper.GetBool("mattermost.insecure_skip_verify")
	if insecure {
		logger.Warn("TLS certificate verification is disabled")
	}

	client := transport.NewAPIClient(serverURL, token, transport.Options{InsecureSkipVerify: insecure})
	channelResolver := resolver.New(client, logger)
	dispatcher := notify.New(client, channelResolver, notify.Config{
		DefaultChannel: viper.GetString("mattermost.default_channel"),
		AllowedPaths:   viper.GetStringSlice("files.allowed_paths"),
		AllowedURLs:    viper.GetStringSlice("files.allowed_urls"),
		AuthorName:     viper.GetString("mattermost.author_name"),
		AuthorIcon:     viper.GetString("mattermost.author_icon"),
	}, logger)
	muter := rules.New(viper.GetStringSlice("rules"), logger)

	return relay.New(client, channelResolver, dispatcher, muter, viper.GetString("mattermost.default_channel"), logger), nil
}
