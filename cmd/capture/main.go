// Command capture pulls PCM audio from a UDP microphone, cuts it into
// fixed-duration segments and stores each one as a WAV file, optionally
// alongside its transcript.
//
// Usage:
//
//	capture [--config configs/config.yaml]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "mic-capture-service"
	serviceVersion    = "1.0.0"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture and segment audio from a UDP microphone",
	Long: `capture - UDP microphone capture and segmentation service.

The service sends a "hello" handshake to the microphone, buffers the
16-bit PCM datagrams it streams back and writes every segment as
audio_input_<n>.wav to a local directory or an S3 bucket. When
transcription is enabled each segment is also posted to the
transcription API and the text is stored as text_output_<n>.txt.`,
	Version:       serviceVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), configPath)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
