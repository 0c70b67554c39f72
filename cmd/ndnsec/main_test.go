package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/crypto/keystore"
)

type cli struct {
	t   *testing.T
	dir string
}

func newCLI(t *testing.T) *cli {
	t.Setenv(keystore.PasswordEnv, "test-password")
	return &cli{t: t, dir: t.TempDir()}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{
		"--pib", filepath.Join(c.dir, "pib.db"),
		"--tpm", "tpm-file:" + filepath.Join(c.dir, "tpm"),
	}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run("", args...)
	require.NoError(c.t, err, "ndnsec %s", strings.Join(args, " "))
	return out
}

func (c *cli) path(name string) string { return filepath.Join(c.dir, name) }

func TestSignAndVerify(t *testing.T) {
	c := newCLI(t)

	rootB64 := c.mustRun("key-gen", "/example")
	root, err := certificate.DecodeBase64(rootB64)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(root.Name().String(), "/example/ksk-"))
	require.NoError(t, os.WriteFile(c.path("root.cert"), []byte(rootB64), 0o600))

	policy := `
[[trust_anchor]]
file = "root.cert"

[[command.rule]]
name = "^<example>"
certificate = "root.cert"

[[rule]]
id = "example"
prefix = "/example"
`
	require.NoError(t, os.WriteFile(c.path("trust.toml"), []byte(policy), 0o600))

	out, err := c.run("hello", "sign", "--content", "-", "-o", c.path("greeting.pkt"), "/example/greeting")
	require.NoError(t, err)
	assert.Empty(t, out)
	out = c.mustRun("verify", "--config", c.path("trust.toml"), c.path("greeting.pkt"))
	assert.Contains(t, out, "Successfully validated /example/greeting")

	cmdPkt := c.mustRun("sign", "--command", "-i", "/example", "/example/reboot")
	out, err = c.run(cmdPkt, "verify", "--command", "--config", c.path("trust.toml"), "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully validated /example/reboot")

	_, err = c.run(cmdPkt, "verify", "--config", c.path("trust.toml"), "-")
	assert.ErrorContains(t, err, "validation failed", "no data rule covers interests")

	_, err = c.run("", "verify", c.path("greeting.pkt"))
	assert.Error(t, err, "--config is required")
}

func TestVerifyRejectsUntrustedSigner(t *testing.T) {
	c := newCLI(t)
	rootB64 := c.mustRun("key-gen", "/example")
	require.NoError(t, os.WriteFile(c.path("root.cert"), []byte(rootB64), 0o600))
	require.NoError(t, os.WriteFile(c.path("trust.toml"), []byte(
		"[validator]\nmax_depth = 1\n[[trust_anchor]]\nfile = \"root.cert\"\n[[rule]]\nid = \"r\"\nprefix = \"/\"\n"), 0o600))

	c.mustRun("key-gen", "-n", "/mallory")
	pkt := c.mustRun("sign", "-i", "/mallory", "/example/forged")
	_, err := c.run(pkt, "verify", "--config", c.path("trust.toml"), "-")
	assert.ErrorContains(t, err, "validation failed")
}

func TestListAndDelete(t *testing.T) {
	c := newCLI(t)
	c.mustRun("key-gen", "/alice")
	c.mustRun("key-gen", "--type", "ec", "--dsk", "-n", "/bob")

	out := c.mustRun("list")
	assert.Contains(t, out, "* /alice\n")
	assert.Contains(t, out, "  /bob\n")

	out = c.mustRun("list", "-c")
	assert.Contains(t, out, "+->* /alice/ksk-")
	assert.Contains(t, out, "+->* /bob/dsk-", "the first key of an identity is its default")
	assert.Contains(t, out, "/ID-CERT/")

	c.mustRun("delete", "/bob")
	out = c.mustRun("list")
	assert.NotContains(t, out, "/bob")

	_, err := c.run("", "delete", "-k", "-c", "/alice")
	assert.Error(t, err)
	_, err = c.run("", "key-gen", "--type", "dsa", "/carol")
	assert.Error(t, err)
}

func TestCertDumpAndInstall(t *testing.T) {
	c := newCLI(t)
	certB64 := c.mustRun("key-gen", "/alice")
	cert, err := certificate.DecodeBase64(certB64)
	require.NoError(t, err)

	assert.Equal(t, certB64, c.mustRun("cert-dump", "-i", "/alice"))
	assert.Equal(t, certB64, c.mustRun("cert-dump", "-k", cert.KeyName().String()))
	assert.Equal(t, certB64, c.mustRun("cert-dump", cert.Name().String()))

	require.NoError(t, os.WriteFile(c.path("alice.cert"), []byte(certB64), 0o600))
	pretty := c.mustRun("cert-dump", "-p", "-f", c.path("alice.cert"))
	assert.Contains(t, pretty, "name: "+cert.Name().String())
	assert.Contains(t, pretty, "type: ed25519")

	c.mustRun("delete", "-c", cert.Name().String())
	_, err = c.run("", "cert-dump", "-i", "/alice")
	assert.Error(t, err)

	out, err := c.run(certB64, "cert-install", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Installed "+cert.Name().String())
	assert.Equal(t, certB64, c.mustRun("cert-dump", "-i", "/alice"))

	other := newCLI(t)
	foreign := other.mustRun("key-gen", "/eve")
	_, err = c.run(foreign, "cert-install", "-")
	assert.Error(t, err, "the key of the certificate is not in this pib")
}
