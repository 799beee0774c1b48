package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/capture"
)

func newCaptureCmd() *cobra.Command {
	var targetURL string
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Captures a full-page screenshot of a listing page",
		Long: `Navigates to the target URL in headless Chrome, waits for the configured
readiness selector, dismisses a cookie banner when one is configured, takes a
full-page screenshot and stores it in the configured blob store. Prints the
stored object URI as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCaptureCommand(cmd, targetURL)
		},
	}
	cmd.Flags().StringVar(&targetURL, "url", "", "page to capture (defaults to capture.url from config)")
	return cmd
}

func runCaptureCommand(cmd *cobra.Command, targetURL string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	cfg := appInstance.GetConfig()

	if targetURL == "" {
		targetURL = cfg.Capture.URL
	}
	if targetURL == "" {
		return errors.New("no target URL: pass --url or set capture.url")
	}

	capturer, err := capture.New(capture.Config{
		ReadySelector:   cfg.Capture.ReadySelector,
		ConsentSelector: cfg.Capture.ConsentSelector,
		NavTimeout:      cfg.CaptureNavTimeout(),
		MaxParallel:     cfg.Capture.MaxParallel,
		HostQPS:         cfg.Capture.HostQPS,
		UserAgent:       cfg.Capture.UserAgent,
		FullPage:        cfg.Capture.FullPage,
		Prefix:          cfg.Blob.Prefix,
	}, appInstance.GetBlobStore(), logger)
	if err != nil {
		return fmt.Errorf("init capturer: %w", err)
	}
	defer func() {
		if cerr := capturer.Close(); cerr != nil {
			logger.Warn("close capturer", zap.Error(cerr))
		}
	}()

	result, err := capturer.Capture(cmd.Context(), targetURL)
	if err != nil {
		return fmt.Errorf("capture %s: %w", targetURL, err)
	}

	logger.Info("screenshot stored",
		zap.String("url", result.URL),
		zap.String("uri", result.URI),
		zap.Int("bytes", result.Bytes),
		zap.Duration("dur", result.Dur))

	out := map[string]any{
		"url":         result.URL,
		"final_url":   result.FinalURL,
		"status_code": result.StatusCode,
		"uri":         result.URI,
		"bytes":       result.Bytes,
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
