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
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify Mattermost connectivity and credentials",
	Long: `Check probes the configured Mattermost server and validates the bot
token, the same sequence the serve command runs at startup.`,
	Run: func(cmd *cobra.Command, args []string) {
		r, err := buildRelay()
		if err != nil {
			logger.Error("check", "error", err.Error())
			os.Exit(1)
		}
		if err := r.Activate(); err != nil {
			logger.Error("check failed", "error", err.Error())
			os.Exit(1)
		}
		r.Deactivate()
		logger.Info("check passed")
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
