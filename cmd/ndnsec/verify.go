package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joncooperworks/ndnsec/config"
	"github.com/joncooperworks/ndnsec/ndn"
)

func newVerifyCmd(g *globalFlags) *cobra.Command {
	var flags struct {
		config  string
		command bool
		timeout time.Duration
	}
	cmd := &cobra.Command{
		Use:   "verify <packet file>",
		Short: "Validate a signed packet against a trust policy",
		Long: `'verify' validates a base64 packet ('-' for standard input) with the rules
and trust anchors of a TOML trust policy. Missing certificates are looked
up in the policy's validator.cert_dir.

With --command the packet is checked as a command interest instead.`,
		Example: `  ndnsec verify --config trust.toml greeting.pkt`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			p, err := decodePacket(raw)
			if err != nil {
				return err
			}
			cfg, err := config.Load(flags.config)
			if err != nil {
				return err
			}
			logger, err := g.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			trust, err := cfg.Build(config.BuildOptions{Logger: logger})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()
			done := make(chan error, 1)
			onValidated := func(ndn.Packet) { done <- nil }
			onFailed := func(_ ndn.Packet, err error) { done <- err }
			if flags.command {
				trust.Command.Validate(ctx, p, onValidated, onFailed)
			} else {
				trust.Validator.Validate(ctx, p, onValidated, onFailed)
			}

			select {
			case err = <-done:
			case <-ctx.Done():
				err = ctx.Err()
			}
			if err != nil {
				return fmt.Errorf("%s: validation failed: %w", p.Name(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully validated %s\n", p.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.config, "config", "", "Trust policy file (required)")
	cmd.Flags().BoolVar(&flags.command, "command", false, "Validate a command interest")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "Give up after this long")
	cmd.MarkFlagRequired("config")
	cmd.PreRunE = func(*cobra.Command, []string) error {
		if flags.timeout <= 0 {
			return errors.New("--timeout must be positive")
		}
		return nil
	}
	return cmd
}
