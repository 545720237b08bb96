package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/p2pchat/p2pchat/internal/chaterr"
	"github.com/p2pchat/p2pchat/internal/config"
	"github.com/p2pchat/p2pchat/internal/fingerprint"
	"github.com/p2pchat/p2pchat/internal/session"
)

// Exit codes from spec.md §6: 0 success, 2 configuration/argument error, 3
// unrecoverable connection failure, 4 encryption required but not
// negotiated.
const (
	exitOK             = 0
	exitConfigError    = 2
	exitConnectionFail = 3
	exitEncryptionFail = 4
)

var (
	flagPort         uint16
	flagConnect      string
	flagNickname     string
	flagDebug        bool
	flagNoEncryption bool
)

var rootCmd = &cobra.Command{
	Use:   "p2pchat",
	Short: "a two-party encrypted peer-to-peer chat session",
	Long:  "p2pchat races a listen and a dial against one peer, negotiates an encrypted session, and drops you into a chat prompt.",
	Run:   runRoot,
}

func Execute() {
	rootCmd.AddCommand(configCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfigError)
	}
}

func init() {
	rootCmd.Flags().Uint16Var(&flagPort, "port", 0, "listen port (0 uses the configured default)")
	rootCmd.Flags().StringVar(&flagConnect, "connect", "", "peer address to dial, host:port")
	rootCmd.Flags().StringVar(&flagNickname, "nickname", "", "display nickname")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&flagNoEncryption, "no-encryption", false, "disable the session handshake's encryption negotiation")
}

func runRoot(cmd *cobra.Command, args []string) {
	cfg, err := loadConfigWithOverrides()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(exitConfigError)
	}

	ep, err := session.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "could not initialize session:", err)
		os.Exit(exitConfigError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go renderEvents(ctx, ep)

	startErr := make(chan error, 1)
	go func() { startErr <- ep.Start(ctx, flagConnect) }()

	fmt.Printf("p2pchat | nick=%q | port=%d\n", cfg.Nickname, cfg.ListenPort)
	fmt.Println("Racing a listen and a dial against your peer...")

	select {
	case err := <-startErr:
		if err != nil {
			exitForStartError(err)
		}
	case <-ctx.Done():
		ep.Shutdown()
		<-ep.Done()
		os.Exit(exitOK)
	}

	peer := ep.Peer()
	fmt.Printf("connected: %s\n", peer.RemoteAddress)
	if peer.PublicKeyFingerprint != nil {
		fingerprint.Render(os.Stdout, *peer.PublicKeyFingerprint)
	} else {
		fmt.Println("session is unencrypted (peer declined or local policy disabled it)")
	}

	runREPL(ctx, ep, cfg.MaxFileBytes)

	ep.Shutdown()
	select {
	case <-ep.Done():
	case <-time.After(2 * time.Second):
	}
	os.Exit(exitOK)
}

func loadConfigWithOverrides() (config.Config, error) {
	cfg := config.Default()
	if path, err := config.DefaultPath(); err == nil {
		if loaded, err := config.Load(path); err == nil {
			cfg = loaded
		}
	}

	if flagPort != 0 {
		cfg.ListenPort = flagPort
	}
	if flagNickname != "" {
		cfg.Nickname = flagNickname
	}
	if flagNoEncryption {
		cfg.EncryptionEnabled = false
	}
	if flagDebug {
		cfg.LogLevel = "debug"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, &chaterr.ConfigInvalid{Field: "LOG_LEVEL", Reason: err.Error()}
	}
	cfg.Logger.SetLevel(level)
	return cfg, nil
}

// exitForStartError maps a session.Endpoint.Start failure to one of
// spec.md §6's exit codes and terminates the process.
func exitForStartError(err error) {
	fmt.Fprintln(os.Stderr, "connection failed:", err)

	var encReq *chaterr.EncryptionRequired
	if errors.As(err, &encReq) {
		os.Exit(exitEncryptionFail)
	}
	os.Exit(exitConnectionFail)
}
