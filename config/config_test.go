package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand(t *testing.T, register func(*cobra.Command), args ...string) *cobra.Command {
	t.Helper()
	root := &cobra.Command{Use: "pst-to-mime"}
	RegisterGlobalFlags(root)
	cmd := &cobra.Command{Use: "sub"}
	register(cmd)
	root.AddCommand(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pst-to-mime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadExtract_Defaults(t *testing.T) {
	cmd := newCommand(t, RegisterExtractFlags)
	require.NoError(t, Apply(cmd))

	cfg, err := LoadExtract(cmd, " acct ", "/data/a.pst", "/out")
	require.NoError(t, err)

	assert.Equal(t, "acct", cfg.AccountName)
	assert.Equal(t, "/data/a.pst", cfg.PSTPath)
	assert.Equal(t, "/out", cfg.OutputRoot)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "prefixed", cfg.LogFormat)
	assert.False(t, cfg.Force)
	assert.Empty(t, cfg.ExcludeFolders)
}

func TestLoadExtract_RequiresArguments(t *testing.T) {
	cmd := newCommand(t, RegisterExtractFlags)

	_, err := LoadExtract(cmd, "", "/data/a.pst", "/out")
	assert.Error(t, err)
	_, err = LoadExtract(cmd, "acct", "", "/out")
	assert.Error(t, err)
	_, err = LoadExtract(cmd, "acct", "/data/a.pst", "")
	assert.Error(t, err)
}

func TestLoadTomes(t *testing.T) {
	cmd := newCommand(t, RegisterTomesFlags)

	cfg, err := LoadTomes(cmd, "mailbox.pst", "acct")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(DefaultInputRoot, "mailbox.pst"), cfg.PSTPath)
	assert.Equal(t, DefaultOutputRoot, cfg.OutputRoot)

	cmd = newCommand(t, RegisterTomesFlags, "--input-root", "/in", "--output-root", "/out")
	cfg, err = LoadTomes(cmd, "mailbox.pst", "acct")
	require.NoError(t, err)
	assert.Equal(t, "/in/mailbox.pst", cfg.PSTPath)
	assert.Equal(t, "/out", cfg.OutputRoot)

	_, err = LoadTomes(cmd, "../mailbox.pst", "acct")
	assert.Error(t, err)
}

func TestApply_Layering(t *testing.T) {
	path := writeConfig(t, `
log-level: debug
log-format: json
exclude-folder:
  - (?i)junk
  - (?i)spam
force: true
unknown-key: ignored
`)

	cmd := newCommand(t, RegisterExtractFlags, "--config", path, "--log-format", "text")
	require.NoError(t, Apply(cmd))

	cfg, err := LoadExtract(cmd, "acct", "/a.pst", "/out")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat, "flags win over the file")
	assert.Equal(t, []string{"(?i)junk", "(?i)spam"}, cfg.ExcludeFolders)
	assert.True(t, cfg.Force)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestApply_EnvironmentBeatsFile(t *testing.T) {
	path := writeConfig(t, "log-level: error\n")
	t.Setenv("PST_TO_MIME_LOG_LEVEL", "WARNING")

	cmd := newCommand(t, RegisterExtractFlags, "--config", path)
	require.NoError(t, Apply(cmd))

	g, err := LoadGlobal(cmd)
	require.NoError(t, err)
	assert.Equal(t, "warn", g.LogLevel)
}

func TestApply_BadFile(t *testing.T) {
	cmd := newCommand(t, RegisterExtractFlags, "--config", writeConfig(t, "log-level: [unterminated"))
	assert.Error(t, Apply(cmd))

	cmd = newCommand(t, RegisterExtractFlags, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, Apply(cmd))

	cmd = newCommand(t, RegisterExtractFlags, "--config", writeConfig(t, "force: maybe\n"))
	assert.Error(t, Apply(cmd))
}

func TestLoadGlobal_Validation(t *testing.T) {
	cmd := newCommand(t, RegisterExtractFlags, "--log-level", "verbose")
	_, err := LoadGlobal(cmd)
	assert.Error(t, err)

	cmd = newCommand(t, RegisterExtractFlags, "--log-format", "xml")
	_, err = LoadGlobal(cmd)
	assert.Error(t, err)
}

func registerPush(t *testing.T) func(*cobra.Command) {
	return func(cmd *cobra.Command) {
		require.NoError(t, RegisterPushFlags(cmd))
	}
}

func TestLoadPush(t *testing.T) {
	t.Setenv("IMAP_PASS", "secret")
	cmd := newCommand(t, registerPush(t), "--imap-host", "mail.example.org", "--imap-user", "archivist", "--target-prefix", "/Archive/gov/", "--state-dir", "/tmp/state/")
	require.NoError(t, Apply(cmd))

	cfg, err := LoadPush(cmd, "/out/acct/")
	require.NoError(t, err)
	assert.Equal(t, "/out/acct", cfg.AccountRoot)
	assert.Equal(t, "secret", cfg.IMAPPass)
	assert.Equal(t, 993, cfg.IMAPPort)
	assert.Equal(t, "Archive/gov", cfg.TargetPrefix)
	assert.Equal(t, "/tmp/state", cfg.StateDir)
}

func TestLoadPush_Validation(t *testing.T) {
	t.Setenv("IMAP_PASS", "")

	cmd := newCommand(t, registerPush(t), "--imap-user", "archivist")
	_, err := LoadPush(cmd, "/out/acct")
	assert.ErrorContains(t, err, "--imap-host")

	cmd = newCommand(t, registerPush(t), "--imap-host", "h", "--imap-user", "u")
	_, err = LoadPush(cmd, "/out/acct")
	assert.ErrorContains(t, err, "IMAP password")

	cmd = newCommand(t, registerPush(t), "--imap-host", "h", "--imap-user", "u", "--imap-pass", "p", "--imap-port", "0")
	_, err = LoadPush(cmd, "/out/acct")
	assert.ErrorContains(t, err, "--imap-port")

	cmd = newCommand(t, registerPush(t), "--dry-run")
	_, err = LoadPush(cmd, "/out/acct")
	assert.NoError(t, err, "dry runs need no server")
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in      string
		bucket  string
		prefix  string
		wantErr bool
	}{
		{in: "s3://archive/pst/2017/", bucket: "archive", prefix: "pst/2017"},
		{in: "s3://archive", bucket: "archive"},
		{in: "s3:///nobucket", wantErr: true},
		{in: "https://archive", wantErr: true},
	}

	for _, tt := range tests {
		bucket, prefix, err := ParseS3URL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.bucket, bucket, tt.in)
		assert.Equal(t, tt.prefix, prefix, tt.in)
	}
}

func TestLoadPublish(t *testing.T) {
	cmd := newCommand(t, RegisterPublishFlags, "--concurrency", "8")

	cfg, err := LoadPublish(cmd, "/out/acct", "s3://bucket/prefix")
	require.NoError(t, err)
	assert.Equal(t, "bucket", cfg.Bucket)
	assert.Equal(t, "prefix", cfg.Prefix)
	assert.Equal(t, 8, cfg.Concurrency)

	cmd = newCommand(t, RegisterPublishFlags, "--concurrency", "0")
	_, err = LoadPublish(cmd, "/out/acct", "s3://bucket")
	assert.Error(t, err)
}
