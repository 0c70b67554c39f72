package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joncooperworks/ndnsec/command"
	"github.com/joncooperworks/ndnsec/ndn"
)

func newSignCmd(g *globalFlags) *cobra.Command {
	var flags struct {
		identity string
		cert     string
		content  string
		command  bool
		out      string
	}
	cmd := &cobra.Command{
		Use:   "sign <name>",
		Short: "Sign a Data packet or a command interest",
		Long: `'sign' creates a Data packet named <name> carrying the --content file and
signs it, or with --command creates a signed command interest for the
<name> prefix. The packet is written as base64.

The signer is the default certificate of --identity, an explicit --cert,
or the default identity when neither is given.`,
		Example: `  echo hello | ndnsec sign --content - /example/alice/greeting
  ndnsec sign --command -i /example/operator /localhost/nfd/faces/create`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.identity != "" && flags.cert != "" {
				return errors.New("--identity and --cert are mutually exclusive")
			}
			if flags.command && flags.content != "" {
				return errors.New("command interests carry no content")
			}
			name, err := ndn.ParseName(args[0])
			if err != nil {
				return err
			}
			var identity, certName ndn.Name
			if flags.identity != "" {
				if identity, err = ndn.ParseName(flags.identity); err != nil {
					return err
				}
			}
			if flags.cert != "" {
				if certName, err = ndn.ParseName(flags.cert); err != nil {
					return err
				}
			}
			cmd.SilenceUsage = true

			s, err := g.open()
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()

			var wire []byte
			if flags.command {
				gen := command.NewGenerator(s.kc)
				var req *ndn.Interest
				if certName != nil {
					req, err = gen.GenerateWithCertificate(ctx, name, certName)
				} else {
					req, err = gen.Generate(ctx, name, identity)
				}
				if err != nil {
					return err
				}
				if wire, err = req.Encode(); err != nil {
					return err
				}
			} else {
				data := ndn.NewData(name)
				if flags.content != "" {
					content, err := readInput(cmd, flags.content)
					if err != nil {
						return err
					}
					data.SetContent(content)
				}
				if certName != nil {
					err = s.kc.SignByCertificate(ctx, data, certName)
				} else {
					err = s.kc.SignByIdentity(ctx, data, identity)
				}
				if err != nil {
					return err
				}
				wire = data.Encode()
			}
			return writeOutput(cmd, flags.out, base64.StdEncoding.EncodeToString(wire)+"\n")
		},
	}
	cmd.Flags().StringVarP(&flags.identity, "identity", "i", "", "Sign with the default certificate of this identity")
	cmd.Flags().StringVarP(&flags.cert, "cert", "c", "", "Sign with this certificate")
	cmd.Flags().StringVar(&flags.content, "content", "", "File holding the Data content, '-' for standard input")
	cmd.Flags().BoolVar(&flags.command, "command", false, "Create a command interest instead of a Data packet")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "Output file (default standard output)")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read standard input: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return b, nil
}

// decodePacket parses a base64 Data or Interest.
func decodePacket(raw []byte) (ndn.Packet, error) {
	wire, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(string(raw)), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 packet: %w", err)
	}
	if len(wire) == 0 {
		return nil, errors.New("empty packet")
	}
	if uint64(wire[0]) == ndn.TypeInterest {
		return ndn.DecodeInterest(wire)
	}
	return ndn.DecodeData(wire)
}
