// Command ndnsec manages NDN identities, keys and certificates, and signs
// and verifies packets with them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joncooperworks/ndnsec/crypto/keystore"
	"github.com/joncooperworks/ndnsec/keychain"
	"github.com/joncooperworks/ndnsec/pib"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	pib     string
	tpm     string
	verbose bool
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	cmd := &cobra.Command{
		Use:   "ndnsec",
		Short: "NDN security toolkit",
		Args:  cobra.NoArgs,
		// Errors are printed by main.
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.pib, "pib", defaultPIBPath(),
		"Path of the sqlite key-info store")
	cmd.PersistentFlags().StringVar(&flags.tpm, "tpm", keystore.DefaultLocator(),
		fmt.Sprintf("Private key storage locator, one of %v followed by ':location'",
			keystore.ListRegisteredSchemes()))
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Verbose logging")

	cmd.AddCommand(
		newKeyGenCmd(&flags),
		newListCmd(&flags),
		newDeleteCmd(&flags),
		newCertDumpCmd(&flags),
		newCertInstallCmd(&flags),
		newSignCmd(&flags),
		newVerifyCmd(&flags),
	)
	return cmd
}

func defaultPIBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pib.db"
	}
	return filepath.Join(home, ".ndn", "pib.db")
}

func (f *globalFlags) logger() (*zap.Logger, error) {
	if f.verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// session is an opened key chain plus everything that must be released
// with it.
type session struct {
	kc     *keychain.KeyChain
	store  *pib.Sqlite
	logger *zap.Logger
}

func (f *globalFlags) open(opts ...keychain.Option) (*session, error) {
	logger, err := f.logger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.pib), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create pib directory: %w", err)
	}
	store, err := pib.NewSqlite(f.pib)
	if err != nil {
		return nil, err
	}
	tpm, err := keystore.NewKeystore(f.tpm)
	if err != nil {
		store.Close()
		return nil, err
	}
	kc, err := keychain.New(store, tpm, append(opts, keychain.WithLogger(logger.Named("keychain")))...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &session{kc: kc, store: store, logger: logger}, nil
}

func (s *session) Close() {
	s.store.Close()
	_ = s.logger.Sync()
}
