package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"flyingcarpet/internal/ble"
	"flyingcarpet/internal/config"
	"flyingcarpet/internal/consent"
	"flyingcarpet/internal/network"
	"flyingcarpet/internal/peer"
	"flyingcarpet/internal/session"
	"flyingcarpet/internal/stream"
	"flyingcarpet/internal/ui"
)

// transferFlags are shared by send and receive.
type transferFlags struct {
	peerOS      string
	password    string
	bluetooth   bool
	network     string
	iface       string
	peerAddress string
	transport   string
	port        int
}

var sendFlags, receiveFlags transferFlags

var sendCmd = &cobra.Command{
	Use:   "send --peer <os> <file or folder>...",
	Short: "Send files to a receiving device",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd, &sendFlags, peer.SendMode(args...))
	},
}

var receiveCmd = &cobra.Command{
	Use:   "receive --peer <os> <folder>",
	Short: "Receive files from a sending device into folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransfer(cmd, &receiveFlags, peer.ReceiveMode(args[0]))
	},
}

// apply lays flags the user set over the loaded configuration.
func (f *transferFlags) apply(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("network") {
		c.Network.Provider = f.network
	}
	if flags.Changed("interface") {
		c.Network.Interface = f.iface
	}
	if flags.Changed("peer-address") {
		c.Network.PeerAddress = f.peerAddress
	}
	if flags.Changed("transport") {
		c.Transfer.Transport = f.transport
	}
	if flags.Changed("port") {
		c.Transfer.Port = f.port
	}
	return c.FixupAndValidate()
}

// options turns the flags into session options. The password is prompted
// for when neither the flag nor Bluetooth supplies one. Bluetooth negotiates
// its own password, so a typed one is refused.
func (f *transferFlags) options(c *config.Config, mode peer.Mode, prompt func() (string, error)) (session.Options, error) {
	localOS, err := c.OS()
	if err != nil {
		return session.Options{}, err
	}
	opts := session.Options{
		Mode:         mode,
		LocalOS:      localOS,
		Password:     f.password,
		UseBluetooth: f.bluetooth,
		Interface:    c.Network.Interface,
		Port:         c.Transfer.Port,
	}
	if f.bluetooth {
		if f.password != "" {
			return session.Options{}, errors.New("--password cannot be combined with --bluetooth")
		}
		return opts, nil
	}

	if f.peerOS == "" {
		return session.Options{}, errors.New("--peer is required unless --bluetooth is set")
	}
	if opts.PeerOS, err = peer.ParseOS(f.peerOS); err != nil {
		return session.Options{}, err
	}
	if opts.Password == "" {
		if opts.Password, err = prompt(); err != nil {
			return session.Options{}, err
		}
	}
	return opts, nil
}

func providerFor(c *config.Config, sink ui.UI, log *logrus.Entry) network.Provider {
	switch c.Network.Provider {
	case "direct":
		return network.Direct{PeerAddress: c.Network.PeerAddress, ListenAddress: c.Network.ListenAddress}
	case "lan":
		return network.NewLAN(c.Transfer.Port, sink, log)
	default:
		return network.NewNMCLI(sink, log)
	}
}

func promptPassword(in *os.File, out io.Writer) func() (string, error) {
	return func() (string, error) {
		if !term.IsTerminal(int(in.Fd())) {
			return "", errors.New("no password given and stdin is not a terminal, use --password")
		}
		fmt.Fprint(out, "Password from the other device: ")
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
}

func runTransfer(cmd *cobra.Command, f *transferFlags, mode peer.Mode) error {
	if err := f.apply(cmd, cfg); err != nil {
		return err
	}
	opts, err := f.options(cfg, mode, promptPassword(os.Stdin, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	// Without a terminal there is no bar to draw; report through the log.
	var sink ui.UI = newTerminalUI(cmd.OutOrStdout())
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		sink = ui.Log{Entry: log}
	}
	transport, err := stream.ForName(cfg.Transfer.Transport, log)
	if err != nil {
		return err
	}
	deps := session.Deps{
		Provider:  providerFor(cfg, sink, log),
		Transport: transport,
		UI:        sink,
		Log:       log,
	}
	if opts.UseBluetooth {
		// Platform radios plug in as PeripheralTransport and
		// CentralTransport; none is linked into this build.
		deps.Bluetooth = &ble.Negotiator{
			LocalOS:  opts.LocalOS,
			Approver: consent.NewConsentService(os.Stdin, cmd.OutOrStdout(), log),
			UI:       sink,
			Log:      log,
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := session.New(opts, deps)
	if err := s.Start(ctx); err != nil {
		return err
	}
	err = s.Wait()
	if ctx.Err() != nil {
		sink.Output("Transfer canceled, cleaning up...")
		if cErr := s.Cancel(); cErr != nil {
			log.WithError(cErr).Warn("cleanup after cancel failed")
		}
		return context.Canceled
	}
	return err
}

func addTransferFlags(cmd *cobra.Command, f *transferFlags) {
	cmd.Flags().StringVar(&f.peerOS, "peer", "", "peer OS: android, ios, linux, mac or windows")
	cmd.Flags().StringVar(&f.password, "password", "", "password shown on the other device (prompted when omitted)")
	cmd.Flags().BoolVar(&f.bluetooth, "bluetooth", false, "exchange peer OS and password over Bluetooth")
	cmd.Flags().StringVar(&f.network, "network", "", "network provider: nmcli, lan or direct")
	cmd.Flags().StringVar(&f.iface, "interface", "", "WiFi interface to use")
	cmd.Flags().StringVar(&f.peerAddress, "peer-address", "", "peer address for the direct provider")
	cmd.Flags().StringVar(&f.transport, "transport", "", "stream transport: tcp or quic")
	cmd.Flags().IntVar(&f.port, "port", 0, "transfer port")
}

func init() {
	addTransferFlags(sendCmd, &sendFlags)
	addTransferFlags(receiveCmd, &receiveFlags)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(receiveCmd)
}
