package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/ndn"
)

func newCertDumpCmd(g *globalFlags) *cobra.Command {
	var flags struct {
		identity bool
		key      bool
		file     bool
		pretty   bool
	}
	cmd := &cobra.Command{
		Use:   "cert-dump <name>",
		Short: "Print a certificate",
		Long: `'cert-dump' prints a certificate from the key-info store as base64, or as
YAML with --pretty.

The name is a certificate name unless --identity or --key selects the
default certificate of an identity or key. With --file the argument is a
certificate file, '-' for standard input.`,
		Example: `  ndnsec cert-dump -i /example/alice
  ndnsec cert-dump -p -f alice.cert`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selectors := 0
			for _, set := range []bool{flags.identity, flags.key, flags.file} {
				if set {
					selectors++
				}
			}
			if selectors > 1 {
				return errors.New("--identity, --key and --file are mutually exclusive")
			}
			cmd.SilenceUsage = true

			var cert *certificate.Certificate
			if flags.file {
				c, err := readCertificate(cmd, args[0])
				if err != nil {
					return err
				}
				cert = c
			} else {
				name, err := ndn.ParseName(args[0])
				if err != nil {
					return err
				}
				s, err := g.open()
				if err != nil {
					return err
				}
				defer s.Close()
				ctx := cmd.Context()
				switch {
				case flags.identity:
					name, err = s.kc.GetDefaultCertificateNameForIdentity(ctx, name)
				case flags.key:
					name, err = s.kc.GetDefaultCertificateNameForKey(ctx, name)
				}
				if err != nil {
					return err
				}
				if cert, err = s.kc.GetCertificate(ctx, name); err != nil {
					return err
				}
			}

			if flags.pretty {
				return cert.Print(cmd.OutOrStdout())
			}
			_, err := io.WriteString(cmd.OutOrStdout(), cert.EncodeBase64())
			return err
		},
	}
	cmd.Flags().BoolVarP(&flags.identity, "identity", "i", false, "The name is an identity")
	cmd.Flags().BoolVarP(&flags.key, "key", "k", false, "The name is a key name")
	cmd.Flags().BoolVarP(&flags.file, "file", "f", false, "The argument is a certificate file")
	cmd.Flags().BoolVarP(&flags.pretty, "pretty", "p", false, "Print the decoded fields as YAML")
	return cmd
}

func newCertInstallCmd(g *globalFlags) *cobra.Command {
	var flags struct {
		notDefault bool
	}
	cmd := &cobra.Command{
		Use:   "cert-install <file>",
		Short: "Install a certificate for an existing key",
		Long: `'cert-install' stores a base64 certificate file ('-' for standard input) in
the key-info store. The certified key must already be present, and the
certificate becomes its default unless --not-default is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cert, err := readCertificate(cmd, args[0])
			if err != nil {
				return err
			}
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()

			if err := s.kc.AddCertificate(ctx, cert); err != nil {
				return err
			}
			if !flags.notDefault {
				if err := s.kc.SetDefaultCertificateForKey(ctx, cert.KeyName(), cert.Name()); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %s\n", cert.Name())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&flags.notDefault, "not-default", "n", false,
		"Do not make the certificate the default of its key")
	return cmd
}

func readCertificate(cmd *cobra.Command, path string) (*certificate.Certificate, error) {
	if path != "-" {
		return certificate.Load(path)
	}
	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("failed to read standard input: %w", err)
	}
	return certificate.DecodeBase64(string(raw))
}

func writeOutput(cmd *cobra.Command, path string, s string) error {
	if path == "" || path == "-" {
		_, err := io.WriteString(cmd.OutOrStdout(), s)
		return err
	}
	if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
