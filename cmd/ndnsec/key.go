package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/joncooperworks/ndnsec/crypto"
	"github.com/joncooperworks/ndnsec/keychain"
	"github.com/joncooperworks/ndnsec/ndn"
	"github.com/joncooperworks/ndnsec/pib"
)

func newKeyGenCmd(g *globalFlags) *cobra.Command {
	var flags struct {
		keyType    string
		dsk        bool
		notDefault bool
	}
	cmd := &cobra.Command{
		Use:   "key-gen <identity>",
		Short: "Generate a key pair and a self-signed certificate",
		Long: `'key-gen' generates a key pair for the identity, self-signs a certificate
for it and prints the certificate as base64.

Unless --not-default is given, the new key becomes the default key of the
identity and the identity becomes the default identity.`,
		Example: `  ndnsec key-gen /example/alice
  ndnsec key-gen --type ec --not-default /example/alice > alice.cert`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := ndn.ParseName(args[0])
			if err != nil {
				return err
			}
			kt, err := crypto.ParseKeyType(flags.keyType)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			s, err := g.open(keychain.WithKeyType(kt))
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()

			keyName, err := s.kc.GenerateKeyPair(ctx, identity, !flags.dsk)
			if err != nil {
				return err
			}
			cert, err := s.kc.SelfSign(ctx, keyName)
			if err != nil {
				return err
			}
			if err := s.kc.AddCertificate(ctx, cert); err != nil {
				return err
			}
			if !flags.notDefault {
				if err := s.kc.SetDefaultKeyForIdentity(ctx, identity, keyName); err != nil {
					return err
				}
				if err := s.kc.SetDefaultCertificateForKey(ctx, keyName, cert.Name()); err != nil {
					return err
				}
				if err := s.kc.SetDefaultIdentity(ctx, identity); err != nil {
					return err
				}
			}
			_, err = io.WriteString(cmd.OutOrStdout(), cert.EncodeBase64())
			return err
		},
	}
	cmd.Flags().StringVarP(&flags.keyType, "type", "t", crypto.KeyTypeEd25519.String(),
		"Key type: ed25519, ec or rsa")
	cmd.Flags().BoolVar(&flags.dsk, "dsk", false, "Generate a data-signing key (dsk-) instead of a ksk-")
	cmd.Flags().BoolVarP(&flags.notDefault, "not-default", "n", false, "Do not change any defaults")
	return cmd
}

func newListCmd(g *globalFlags) *cobra.Command {
	var flags struct {
		keys  bool
		certs bool
	}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List identities, keys and certificates",
		Long: `'list' prints every identity in the key-info store. Defaults are marked
with '*'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			return list(cmd, s.kc, flags.keys || flags.certs, flags.certs)
		},
	}
	cmd.Flags().BoolVarP(&flags.keys, "keys", "k", false, "Also list keys")
	cmd.Flags().BoolVarP(&flags.certs, "certs", "c", false, "Also list keys and certificates")
	return cmd
}

func list(cmd *cobra.Command, kc *keychain.KeyChain, keys, certs bool) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	defID, err := kc.DefaultIdentity(ctx)
	if err != nil && !errors.Is(err, pib.ErrNotFound) {
		return err
	}
	ids, err := kc.Identities(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintf(w, "%s %s\n", mark(id.Equal(defID)), id)
		if !keys {
			continue
		}
		defKey, err := kc.GetDefaultKeyNameForIdentity(ctx, id)
		if err != nil && !errors.Is(err, pib.ErrNotFound) {
			return err
		}
		keyNames, err := kc.Keys(ctx, id)
		if err != nil {
			return err
		}
		for _, k := range keyNames {
			fmt.Fprintf(w, "  +->%s %s\n", mark(k.Equal(defKey)), k)
			if !certs {
				continue
			}
			defCert, err := kc.GetDefaultCertificateNameForKey(ctx, k)
			if err != nil && !errors.Is(err, pib.ErrNotFound) {
				return err
			}
			certNames, err := kc.Certificates(ctx, k)
			if err != nil {
				return err
			}
			for _, c := range certNames {
				fmt.Fprintf(w, "       +->%s %s\n", mark(c.Equal(defCert)), c)
			}
		}
	}
	return nil
}

func mark(isDefault bool) string {
	if isDefault {
		return "*"
	}
	return " "
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	var flags struct {
		key  bool
		cert bool
	}
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an identity, key or certificate",
		Long: `'delete' removes an identity with all of its keys and certificates. With
--key the name is a key name, with --cert a certificate name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.key && flags.cert {
				return errors.New("--key and --cert are mutually exclusive")
			}
			name, err := ndn.ParseName(args[0])
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()
			switch {
			case flags.key:
				err = s.kc.DeleteKey(ctx, name)
			case flags.cert:
				err = s.kc.DeleteCertificate(ctx, name)
			default:
				err = s.kc.DeleteIdentity(ctx, name)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&flags.key, "key", "k", false, "The name is a key name")
	cmd.Flags().BoolVarP(&flags.cert, "cert", "c", false, "The name is a certificate name")
	return cmd
}
