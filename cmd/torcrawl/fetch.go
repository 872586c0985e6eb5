package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/nao1215/torcrawl/internal/config"
	"github.com/nao1215/torcrawl/internal/reactor"
	"github.com/nao1215/torcrawl/internal/tasklist"
	"github.com/nao1215/torcrawl/internal/tor"
	"github.com/spf13/cobra"
)

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch one URL through an existing SOCKS5 proxy",
		Long: `Fetch downloads a single URL through a Tor SOCKS5 proxy that is already
running, such as the Tor Browser (127.0.0.1:9150) or a system tor
(127.0.0.1:9050). No backend is launched.

The proxy is verified with a SOCKS5 handshake first. The body is written to
stdout, or appended to --output like the files of a crawl.

Examples:
  torcrawl fetch http://example.com/
  torcrawl fetch --proxy 127.0.0.1:9150 -o page.html https://example.org/`,
		Args: cobra.ExactArgs(1),
		RunE: runFetchCmd,
	}

	cmd.Flags().StringP("proxy", "p", "127.0.0.1:9050",
		"SOCKS5 proxy address (host:port)")
	cmd.Flags().StringP("output", "o", "",
		"Append the body to this file instead of writing to stdout")
	cmd.Flags().Duration("connect-timeout", config.DefaultConnectTimeout,
		"Timeout for connecting through the proxy")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTransferTimeout,
		"Timeout for the whole transfer, redirects included")
	cmd.Flags().Int("max-redirects", config.DefaultMaxRedirects,
		"Redirects followed before the fetch fails")
	cmd.Flags().Bool("insecure", false,
		"Skip TLS certificate verification for https URLs")

	return cmd
}

// runFetchCmd executes the fetch command.
func runFetchCmd(cmd *cobra.Command, args []string) error {
	target := args[0]
	if err := tasklist.Validate(target); err != nil {
		return err
	}

	flags := cmd.Flags()
	proxyAddr, err := flags.GetString("proxy")
	if err != nil {
		return err
	}
	outputPath, err := flags.GetString("output")
	if err != nil {
		return err
	}
	connectTimeout, err := flags.GetDuration("connect-timeout")
	if err != nil {
		return err
	}
	timeout, err := flags.GetDuration("timeout")
	if err != nil {
		return err
	}
	maxRedirects, err := flags.GetInt("max-redirects")
	if err != nil {
		return err
	}
	insecure, err := flags.GetBool("insecure")
	if err != nil {
		return err
	}

	client, err := tor.NewClient(proxyAddr,
		tor.WithConnectTimeout(connectTimeout),
		tor.WithTimeout(timeout),
		tor.WithMaxRedirects(maxRedirects),
		tor.WithInsecureTLS(insecure),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor client: %w", err)
	}
	defer client.CloseIdleConnections()

	ctx := cmd.Context()
	if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
		return fmt.Errorf("proxy check failed: %s (make sure Tor is running at %s)", status, proxyAddr)
	}

	resp, err := client.Get(ctx, target)
	if err != nil {
		if errors.Is(err, tor.ErrRedirectLimitExceeded) {
			return fmt.Errorf("fetch %s: more than %d redirects", target, maxRedirects)
		}
		return fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	out := cmd.OutOrStdout()
	if outputPath != "" {
		f, err := reactor.OpenOutput(outputPath)
		if err != nil {
			return fmt.Errorf("failed to open output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", target, err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s (%d bytes)\n", resp.Status, resp.Request.URL, n)
	return nil
}
