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
	"strings"

	"github.com/spf13/cobra"

	"github.com/ncode/mattermost-courier/pkg/forwarder"
	"github.com/ncode/mattermost-courier/pkg/notify"
)

var (
	sendMessage      string
	sendTitle        string
	sendChannels     []string
	sendFilePath     string
	sendFileURL      string
	sendFileUsername string
	sendFilePassword string
	sendVia          string
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one notification",
	Long: `Send delivers a single notification to one or more channels. With
--via, the request is forwarded to a running courier serve listener
instead of being delivered directly.`,
	Run: func(cmd *cobra.Command, args []string) {
		req := notify.Request{
			Message: sendMessage,
			Title:   sendTitle,
			Targets: sendChannels,
		}
		if sendFilePath != "" {
			req.File = &notify.FileRef{Path: sendFilePath}
		} else if sendFileURL != "" {
			req.File = &notify.FileRef{
				URL:      sendFileURL,
				Username: sendFileUsername,
				Password: sendFilePassword,
			}
		}

		if sendVia != "" {
			network, address := "udp", sendVia
			if parts := strings.SplitN(sendVia, "://", 2); len(parts) == 2 {
				network, address = parts[0], parts[1]
			}
			f, err := forwarder.NewSocketForwarder(network, address)
			if err != nil {
				logger.Error("send", "error", err.Error())
				os.Exit(1)
			}
			if err := f.Forward(req); err != nil {
				logger.Error("forward failed", "error", err.Error())
				os.Exit(1)
			}
			return
		}

		r, err := buildRelay()
		if err != nil {
			logger.Error("send", "error", err.Error())
			os.Exit(1)
		}
		if err := r.Send(req); err != nil {
			logger.Error("send failed", "error", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendMessage, "message", "m", "", "Message body")
	sendCmd.Flags().StringVarP(&sendTitle, "title", "t", "", "Message title")
	sendCmd.Flags().StringSliceVarP(&sendChannels, "channel", "c", nil, "Target channel (repeatable; default channel when omitted)")
	sendCmd.Flags().StringVar(&sendFilePath, "file-path", "", "Local file to upload")
	sendCmd.Flags().StringVar(&sendFileURL, "file-url", "", "Remote file to fetch and upload")
	sendCmd.Flags().StringVar(&sendFileUsername, "file-username", "", "Basic-auth username for the remote file")
	sendCmd.Flags().StringVar(&sendFilePassword, "file-password", "", "Basic-auth password for the remote file")
	sendCmd.Flags().StringVar(&sendVia, "via", "", "Forward to a running listener, e.g. udp://127.0.0.1:1270")
}
