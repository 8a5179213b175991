package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lanrelay/lanrelay/internal/config"
	"github.com/lanrelay/lanrelay/internal/scanner"
	"github.com/lanrelay/lanrelay/internal/views/servers"
)

var (
	scanHost     string
	scanPort     int
	scanWatch    bool
	scanInterval time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List relays on the local network",
	Long: `Probe every address of a /24 network for a relay's info endpoint.
Without --host every private IPv4 network of this machine is scanned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if scanPort > 0 {
			cfg.Scanner.Port = scanPort
		}
		if scanInterval > 0 {
			cfg.Scanner.Interval = scanInterval
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sc := newScanner(cfg.Scanner, log)
		if scanWatch {
			return watch(ctx, sc, cfg.Scanner, cmd.OutOrStdout())
		}

		var found []scanner.DiscoveredServer
		if scanHost == "" {
			found, err = sc.ScanLocal(ctx, cfg.Scanner.Port)
		} else {
			found, err = sc.Scan(ctx, scanHost, cfg.Scanner.Port)
		}
		if err != nil {
			return err
		}
		printServers(cmd.OutOrStdout(), found)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().StringVar(&scanHost, "host", "", "Any address on the network to scan, e.g. 192.168.1.10")
	scanCmd.Flags().IntVar(&scanPort, "port", 0, "Override relay port")
	scanCmd.Flags().BoolVar(&scanWatch, "watch", false, "Keep scanning and print every round")
	scanCmd.Flags().DurationVar(&scanInterval, "interval", 0, "Override pause between watch rounds")
}

func newScanner(sc config.ScannerConfig, log *zap.Logger) *scanner.Scanner {
	return scanner.New(
		scanner.WithTimeout(sc.Timeout),
		scanner.WithConcurrency(sc.Concurrency),
		scanner.WithLogger(log),
	)
}

// scanTarget picks the host to scan: --host, else the first local network.
func scanTarget(ctx context.Context) (string, error) {
	if scanHost != "" {
		return scanHost, nil
	}
	prefixes, err := scanner.LocalPrefixes(ctx)
	if err != nil {
		return "", err
	}
	if len(prefixes) == 0 {
		return "", fmt.Errorf("no private IPv4 network found; pass --host")
	}
	return prefixes[0], nil
}

func watch(ctx context.Context, sc *scanner.Scanner, cfg config.ScannerConfig, w io.Writer) error {
	host, err := scanTarget(ctx)
	if err != nil {
		return err
	}
	rounds, err := sc.Watch(ctx, host, cfg.Port, cfg.Interval)
	if err != nil {
		return err
	}
	for found := range rounds {
		fmt.Fprintf(w, "-- %s\n", time.Now().Format(time.TimeOnly))
		printServers(w, found)
	}
	return nil
}

func printServers(w io.Writer, found []scanner.DiscoveredServer) {
	if len(found) == 0 {
		fmt.Fprintln(w, "no relays found")
		return
	}
	for _, s := range found {
		fmt.Fprintln(w, servers.Label(s))
	}
}
