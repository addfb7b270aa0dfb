/*
Copyright © 2024 Juliano Martinez <juliano@martinez.io>

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
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ncode/mattermost-courier/pkg/listener"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification ingest listener",
	Long: `Serve validates the Mattermost connection and then listens on a UDP
or TCP socket for JSON-encoded notification requests, relaying each one
to its target channels.`,
	Run: func(cmd *cobra.Command, args []string) {
		r, err := buildRelay()
		if err != nil {
			logger.Error("serve", "error", err.Error())
			os.Exit(1)
		}
		if err := r.Activate(); err != nil {
			logger.Error("serve: relay not ready", "error", err.Error())
			os.Exit(1)
		}
		defer r.Deactivate()

		l := listener.New(r, viper.GetString("listen.network"), viper.GetString("listen.address"), logger)
		if err := l.ListenAndServe(); err != nil {
			logger.Error("serve", "error", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen.network", "udp", "Listener network (udp or tcp)")
	serveCmd.Flags().String("listen.address", "127.0.0.1:1270", "Listener address")
	viper.BindPFlag("listen.network", serveCmd.Flags().Lookup("listen.network"))
	viper.BindPFlag("listen.address", serveCmd.Flags().Lookup("listen.address"))
}
