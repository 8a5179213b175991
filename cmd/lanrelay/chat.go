package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lanrelay/lanrelay/internal/app"
	"github.com/lanrelay/lanrelay/internal/config"
	"github.com/lanrelay/lanrelay/internal/scanner"
	"github.com/lanrelay/lanrelay/internal/session"
)

var (
	chatURL     string
	chatDetails []string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Browse relays and chat in the terminal",
	Long: `Open the terminal client. It keeps scanning the local network and lists
every relay it finds; pick one to chat. With --url it connects straight away.

The terminal is taken over, so logs go to log.file (or a file in the
system temp directory).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if chatURL != "" {
			cfg.Client.URL = chatURL
		}
		details, err := parseDetails(chatDetails)
		if err != nil {
			return err
		}
		cfg.Client.Details = mergeDetails(cfg.Client.Details, details)
		if cfg.Log.File == "" {
			cfg.Log.File = filepath.Join(os.TempDir(), "lanrelay-chat.log")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		policy, err := cfg.Client.Reconnect.Policy()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		opts := app.Options{
			URL:       cfg.Client.URL,
			NewClient: clientFactory(cfg.Client, policy, log),
		}

		host, err := scanTarget(ctx)
		if err != nil {
			log.Warn("browser disabled", zap.Error(err))
		} else {
			rounds, err := newScanner(cfg.Scanner, log).Watch(ctx, host, cfg.Scanner.Port, cfg.Scanner.Interval)
			if err != nil {
				return err
			}
			prefix, _ := scanner.Prefix(host)
			opts.Rounds = rounds
			opts.Target = fmt.Sprintf("%s.0/24:%d", prefix, cfg.Scanner.Port)
		}

		p := tea.NewProgram(app.New(opts), tea.WithAltScreen(), tea.WithContext(ctx))
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatURL, "url", "", "Relay to open immediately, e.g. ws://192.168.1.10:8080/ws")
	chatCmd.Flags().StringArrayVar(&chatDetails, "detail", nil, "Detail sent to the relay as key=value (repeatable)")
	chatCmd.Flags().StringVar(&scanHost, "host", "", "Any address on the network to browse, e.g. 192.168.1.10")
}

func clientFactory(cc config.ClientConfig, policy session.ReconnectPolicy, log *zap.Logger) func() *session.Client {
	return func() *session.Client {
		opts := []session.Option{session.WithLogger(log.Named("client"))}
		if policy != nil {
			opts = append(opts, session.WithReconnect(policy))
		}
		return session.NewClient(cc.Details, opts...)
	}
}
