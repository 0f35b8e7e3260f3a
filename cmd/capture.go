package cmd

import (
	"fmt"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/capture"
)

// newCaptureCmd creates and configures the 'capture' subcommand.
func newCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Fetch URLs and store their HTTP exchanges as one WARC archive",
		Long: heredoc.Doc(`
			Fetches every URL in order and writes one WARC record set per URL into a
			single archive container. Failed URLs are recorded and logged; only
			storage failures stop the run.

			--input_urls is a path to a file with one URL per line, or a
			comma-separated list when no such file exists.

			--output_location is file://<dir>, s3://<bucket>[/<prefix>] or
			gs://<bucket>[/<prefix>].
		`),
		Example: heredoc.Doc(`
			webarchiver capture --input_urls urls.txt --output_location file://./archives
			webarchiver capture --input_urls https://example.com,https://example.org \
			  --output_location s3://my-bucket/crawls --compress=false
		`),
		Args: cobra.NoArgs,
		RunE: runCaptureCommand,
	}

	flags := cmd.Flags()
	flags.String("input_urls", "", "path to a URL list file, or comma-separated URLs")
	flags.String("output_location", "", "file://<dir>, s3://<bucket>[/<prefix>] or gs://<bucket>[/<prefix>]")
	flags.String("archive_version", "1.1", "WARC version to write (1.0 or 1.1)")
	flags.Bool("compress", true, "gzip each WARC record")
	flags.String("output_name", "", "archive file or object name (default crawled_urls.warc[.gz])")
	flags.Duration("timeout", 30*time.Second, "per-request timeout")
	return cmd
}

func runCaptureCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	if err := cfg.ValidateCapture(); err != nil {
		return err
	}

	capturer, err := appInstance.Capturer(cmd.Context())
	if err != nil {
		return fmt.Errorf("init capture pipeline: %w", err)
	}
	appInstance.MarkReady()

	src := capture.ResolveSource(cfg.Capture.InputURLs)
	summary, err := capturer.RunFrom(cmd.Context(), src, cfg.Capture.OutputLocation)
	if summary.URI != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d records\t%d bytes\n", summary.URI, summary.Records, summary.Bytes)
	}
	if err != nil {
		return fmt.Errorf("run capture: %w", err)
	}

	appInstance.Logger().Info("capture command finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("http_errors", summary.HTTPErrors),
		zap.Int("transport_errors", summary.TransportErrors),
	)
	return nil
}
