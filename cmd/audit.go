package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/audit"
	"github.com/pulsemetrics/localpulse/internal/capture"
	"github.com/pulsemetrics/localpulse/internal/clock/system"
)

func newAuditCmd() *cobra.Command {
	var targetURL string
	var noRender bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audits a business website's listing content",
		Long: `Fetches the target page (static HTTP first, escalating to headless Chrome
when the page looks script-rendered) and prints a JSON report: title, headings,
visible text length and per-image metadata including missing alt text.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuditCommand(cmd, targetURL, noRender)
		},
	}
	cmd.Flags().StringVar(&targetURL, "url", "", "page to audit (defaults to audit.url from config)")
	cmd.Flags().BoolVar(&noRender, "no-render", false, "never escalate to headless rendering")
	return cmd
}

func runAuditCommand(cmd *cobra.Command, targetURL string, noRender bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	cfg := appInstance.GetConfig()

	if targetURL == "" {
		targetURL = cfg.Audit.URL
	}
	if targetURL == "" {
		return errors.New("no target URL: pass --url or set audit.url")
	}

	fetcher := audit.NewStaticFetcher(cfg.Audit.UserAgent, cfg.AuditTimeout())
	detector := audit.NewDetector(cfg.Audit.MinHTMLBytes, cfg.Audit.RenderKeywords)

	var renderer audit.Renderer
	if !noRender {
		capturer, err := capture.New(capture.Config{
			ReadySelector: cfg.Capture.ReadySelector,
			NavTimeout:    cfg.CaptureNavTimeout(),
			MaxParallel:   cfg.Capture.MaxParallel,
			HostQPS:       cfg.Capture.HostQPS,
			UserAgent:     cfg.Audit.UserAgent,
		}, appInstance.GetBlobStore(), logger)
		if err != nil {
			return fmt.Errorf("init renderer: %w", err)
		}
		defer func() {
			if cerr := capturer.Close(); cerr != nil {
				logger.Warn("close renderer", zap.Error(cerr))
			}
		}()
		renderer = capturer
	}

	auditor := audit.NewAuditor(fetcher, detector, renderer, system.New(), logger)
	report, err := auditor.Run(cmd.Context(), targetURL)
	if err != nil {
		return fmt.Errorf("audit %s: %w", targetURL, err)
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}
