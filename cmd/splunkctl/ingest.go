package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"splunkdesk/internal/splunk"
)

// DefaultDatasetURL is the Mordor AWS S3 exfiltration sample.
const DefaultDatasetURL = "https://github.com/UraSecTeam/mordor/raw/master/datasets/small/aws/collection/ec2_proxy_s3_exfiltration.zip"

type ingestOptions struct {
	datasetURL string
	file       string
	hecURL     string
	hecToken   string
}

func newIngestCmd() *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest <index>",
		Short: "Download a dataset zip and send its events to Splunk over HEC",
		Long: `Downloads a zip archive of newline-delimited JSON files and posts each
.json member to the HTTP Event Collector as one batch into <index>.
The index must already exist in Splunk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.datasetURL, "url", DefaultDatasetURL, "Dataset zip URL")
	cmd.Flags().StringVar(&opts.file, "file", "", "Read the dataset zip from a local file instead of --url")
	cmd.Flags().StringVar(&opts.hecURL, "hec-url", os.Getenv("SPLUNK_HEC_URL"), "HEC endpoint")
	cmd.Flags().StringVar(&opts.hecToken, "hec-token", os.Getenv("SPLUNK_HEC_TOKEN"), "HEC token")
	return cmd
}

func runIngest(ctx context.Context, out io.Writer, index string, opts *ingestOptions) error {
	if err := splunk.ValidateIndexName(index); err != nil {
		return err
	}
	hec, err := splunk.NewHEC(opts.hecURL, opts.hecToken, splunk.ConfigFromEnv().InsecureTLS)
	if err != nil {
		return err
	}

	var data []byte
	if opts.file != "" {
		fmt.Fprintf(out, "[*] Reading dataset from %s...\n", opts.file)
		data, err = os.ReadFile(opts.file)
	} else {
		fmt.Fprintf(out, "[*] Downloading dataset from %s...\n", opts.datasetURL)
		data, err = download(ctx, opts.datasetURL)
	}
	if err != nil {
		return err
	}

	members, err := splunk.ExtractZipEvents(data)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return fmt.Errorf("no .json files in dataset")
	}

	total := 0
	for _, m := range members {
		fmt.Fprintf(out, "[*] Processing %s...\n", m.Name)
		fmt.Fprintf(out, "[*] Sending %d events to Splunk...\n", len(m.Events))
		if err := hec.Ingest(ctx, index, m.Events); err != nil {
			return fmt.Errorf("ingest %s: %w", m.Name, err)
		}
		fmt.Fprintf(out, "[+] Success! %d events ingested into index='%s'.\n", len(m.Events), index)
		total += len(m.Events)
	}
	fmt.Fprintf(out, "[+] Done: %d events from %d files.\n", total, len(members))
	return nil
}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download dataset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download dataset: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
