package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Default roots of the fixed-layout (TOMES) variant of the extract command.
const (
	DefaultInputRoot  = "/home/tomes/data/pst"
	DefaultOutputRoot = "/home/tomes/data/mime_emails"
)

// envFlags maps environment variables onto the flags they configure.
var envFlags = map[string]string{
	"IMAP_PASS":             "imap-pass",
	"PST_TO_MIME_LOG_LEVEL": "log-level",
}

// Global captures the options shared by every command.
type Global struct {
	ConfigFile string
	LogLevel   string
	LogFormat  string
	LogDir     string
}

// Extract captures the options of the extract and tomes commands.
type Extract struct {
	Global
	AccountName    string
	PSTPath        string
	OutputRoot     string
	Force          bool
	IncludeFolders []string
	ExcludeFolders []string
	MetricsFile    string
	Progress       bool
}

// Push captures the options required to upload an extracted tree over IMAP.
type Push struct {
	Global
	AccountRoot        string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetPrefix       string
	StateDir           string
	DryRun             bool
}

// Publish captures the options required to copy an extracted tree to S3.
type Publish struct {
	Global
	AccountRoot string
	Bucket      string
	Prefix      string
	Region      string
	Concurrency int
}

// RegisterGlobalFlags attaches the flags shared by all sub-commands.
func RegisterGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "YAML file with default flag values")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error (falls back to PST_TO_MIME_LOG_LEVEL env var)")
	flags.String("log-format", "prefixed", "Log line format: prefixed, text, json")
	flags.String("log-dir", "", "Directory for an additional log file")
}

// RegisterExtractFlags attaches the flags of the extract and tomes commands.
func RegisterExtractFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("force", false, "Write into an existing account output directory")
	flags.StringArray("include-folder", nil, "Regex allow-list applied to raw folder names")
	flags.StringArray("exclude-folder", nil, "Regex block-list applied to raw folder names, in addition to (?i)delete")
	flags.String("metrics-file", "", "Write Prometheus textfile metrics to this path when done")
	flags.Bool("progress", false, "Show a progress bar instead of per-message log lines")
}

// RegisterTomesFlags attaches the extract flags plus the fixed layout roots.
func RegisterTomesFlags(cmd *cobra.Command) {
	RegisterExtractFlags(cmd)
	flags := cmd.Flags()
	flags.String("input-root", DefaultInputRoot, "Directory holding the PST files")
	flags.String("output-root", DefaultOutputRoot, "Directory receiving the account trees")
}

// RegisterPushFlags attaches the IMAP upload flags.
func RegisterPushFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("target-prefix", "Archive", "Parent IMAP mailbox for the extracted folders")
	flags.String("state-dir", defaultStateDir, "Directory for incremental upload state files")
	flags.Bool("dry-run", false, "Simulate the upload and emit stats without connecting")
	return nil
}

// RegisterPublishFlags attaches the S3 upload flags.
func RegisterPublishFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("region", "", "AWS region (defaults to the SDK configuration)")
	flags.Int("concurrency", 4, "Parallel uploads")
}

// Apply layers environment variables and the --config file beneath the flags
// given on the command line: defaults < file < environment < flags.
func Apply(cmd *cobra.Command) error {
	flags := cmd.Flags()

	for _, env := range sortedKeys(envFlags) {
		name := envFlags[env]
		value, ok := os.LookupEnv(env)
		if !ok || value == "" || flags.Lookup(name) == nil || flags.Changed(name) {
			continue
		}
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
	}

	path, err := flags.GetString("config")
	if err != nil || path == "" {
		return nil
	}
	values, err := readFile(path)
	if err != nil {
		return err
	}
	return applyValues(flags, values)
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return values, nil
}

// applyValues sets every flag named in values that was not set explicitly.
// Keys for flags the command does not have are ignored so one file can serve
// all commands.
func applyValues(flags *pflag.FlagSet, values map[string]any) error {
	for _, name := range sortedKeys(values) {
		if flags.Lookup(name) == nil || flags.Changed(name) {
			continue
		}
		var items []any
		switch v := values[name].(type) {
		case nil:
			continue
		case []any:
			items = v
		default:
			items = []any{v}
		}
		for _, item := range items {
			if err := flags.Set(name, fmt.Sprint(item)); err != nil {
				return fmt.Errorf("config file key %q: %w", name, err)
			}
		}
	}
	return nil
}

// LoadGlobal reads the shared flags.
func LoadGlobal(cmd *cobra.Command) (Global, error) {
	flags := cmd.Flags()

	configFile, err := flags.GetString("config")
	if err != nil {
		return Global{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Global{}, err
	}
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return Global{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Global{}, err
	}

	logLevel = strings.ToLower(strings.TrimSpace(logLevel))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	g := Global{
		ConfigFile: configFile,
		LogLevel:   logLevel,
		LogFormat:  strings.ToLower(strings.TrimSpace(logFormat)),
		LogDir:     logDir,
	}
	if err := validateGlobal(g); err != nil {
		return Global{}, err
	}
	return g, nil
}

// LoadExtract converts the parsed flags of the extract command into an
// Extract config. The positional arguments are accountName, pstPath and
// outputRoot.
func LoadExtract(cmd *cobra.Command, accountName, pstPath, outputRoot string) (Extract, error) {
	global, err := LoadGlobal(cmd)
	if err != nil {
		return Extract{}, err
	}
	cfg, err := loadExtractFlags(cmd.Flags())
	if err != nil {
		return Extract{}, err
	}

	cfg.Global = global
	cfg.AccountName = strings.TrimSpace(accountName)
	cfg.PSTPath = pstPath
	cfg.OutputRoot = outputRoot

	if err := validateExtract(cfg); err != nil {
		return Extract{}, err
	}
	return cfg, nil
}

// LoadTomes resolves pstFileName below --input-root and the account output
// below --output-root.
func LoadTomes(cmd *cobra.Command, pstFileName, accountName string) (Extract, error) {
	flags := cmd.Flags()

	inputRoot, err := flags.GetString("input-root")
	if err != nil {
		return Extract{}, err
	}
	outputRoot, err := flags.GetString("output-root")
	if err != nil {
		return Extract{}, err
	}
	if filepath.Base(pstFileName) != pstFileName {
		return Extract{}, fmt.Errorf("PST file name %q must not contain a directory", pstFileName)
	}

	return LoadExtract(cmd, accountName, filepath.Join(inputRoot, pstFileName), outputRoot)
}

func loadExtractFlags(flags *pflag.FlagSet) (Extract, error) {
	force, err := flags.GetBool("force")
	if err != nil {
		return Extract{}, err
	}
	includeFolders, err := flags.GetStringArray("include-folder")
	if err != nil {
		return Extract{}, err
	}
	excludeFolders, err := flags.GetStringArray("exclude-folder")
	if err != nil {
		return Extract{}, err
	}
	metricsFile, err := flags.GetString("metrics-file")
	if err != nil {
		return Extract{}, err
	}
	progress, err := flags.GetBool("progress")
	if err != nil {
		return Extract{}, err
	}

	return Extract{
		Force:          force,
		IncludeFolders: includeFolders,
		ExcludeFolders: excludeFolders,
		MetricsFile:    metricsFile,
		Progress:       progress,
	}, nil
}

// LoadPush converts the parsed push flags into a Push config.
func LoadPush(cmd *cobra.Command, accountRoot string) (Push, error) {
	global, err := LoadGlobal(cmd)
	if err != nil {
		return Push{}, err
	}
	flags := cmd.Flags()

	imapHost, err := flags.GetString("imap-host")
	if err != nil {
		return Push{}, err
	}
	imapPort, err := flags.GetInt("imap-port")
	if err != nil {
		return Push{}, err
	}
	imapUser, err := flags.GetString("imap-user")
	if err != nil {
		return Push{}, err
	}
	imapPass, err := flags.GetString("imap-pass")
	if err != nil {
		return Push{}, err
	}
	useTLS, err := flags.GetBool("use-tls")
	if err != nil {
		return Push{}, err
	}
	insecureSkipVerify, err := flags.GetBool("insecure-skip-verify")
	if err != nil {
		return Push{}, err
	}
	targetPrefix, err := flags.GetString("target-prefix")
	if err != nil {
		return Push{}, err
	}
	stateDir, err := flags.GetString("state-dir")
	if err != nil {
		return Push{}, err
	}
	dryRun, err := flags.GetBool("dry-run")
	if err != nil {
		return Push{}, err
	}

	if imapPass == "" {
		imapPass = os.Getenv("IMAP_PASS")
	}
	if stateDir == "" {
		stateDir, err = defaultStateDir()
		if err != nil {
			return Push{}, err
		}
	}

	cfg := Push{
		Global:             global,
		AccountRoot:        filepath.Clean(accountRoot),
		IMAPHost:           imapHost,
		IMAPPort:           imapPort,
		IMAPUser:           imapUser,
		IMAPPass:           imapPass,
		UseTLS:             useTLS,
		InsecureSkipVerify: insecureSkipVerify,
		TargetPrefix:       strings.Trim(targetPrefix, "/"),
		StateDir:           filepath.Clean(stateDir),
		DryRun:             dryRun,
	}

	if err := validatePush(cfg); err != nil {
		return Push{}, err
	}
	return cfg, nil
}

// LoadPublish converts the publish flags and the s3://bucket/prefix target
// into a Publish config.
func LoadPublish(cmd *cobra.Command, accountRoot, target string) (Publish, error) {
	global, err := LoadGlobal(cmd)
	if err != nil {
		return Publish{}, err
	}
	flags := cmd.Flags()

	region, err := flags.GetString("region")
	if err != nil {
		return Publish{}, err
	}
	concurrency, err := flags.GetInt("concurrency")
	if err != nil {
		return Publish{}, err
	}
	bucket, prefix, err := ParseS3URL(target)
	if err != nil {
		return Publish{}, err
	}
	if concurrency <= 0 {
		return Publish{}, fmt.Errorf("--concurrency must be positive")
	}

	return Publish{
		Global:      global,
		AccountRoot: filepath.Clean(accountRoot),
		Bucket:      bucket,
		Prefix:      prefix,
		Region:      region,
		Concurrency: concurrency,
	}, nil
}

// ParseS3URL splits s3://bucket/prefix into its bucket and key prefix.
func ParseS3URL(target string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(target, "s3://")
	if !ok {
		return "", "", fmt.Errorf("publish target %q must start with s3://", target)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("publish target %q has no bucket", target)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

func validateGlobal(g Global) error {
	switch g.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", g.LogLevel)
	}
	switch g.LogFormat {
	case "prefixed", "text", "json":
	default:
		return fmt.Errorf("invalid --log-format: %s", g.LogFormat)
	}
	return nil
}

func validateExtract(cfg Extract) error {
	if cfg.AccountName == "" {
		return errors.New("account name is required")
	}
	if cfg.PSTPath == "" {
		return errors.New("PST file path is required")
	}
	if cfg.OutputRoot == "" {
		return errors.New("output path is required")
	}
	return nil
}

func validatePush(cfg Push) error {
	if cfg.AccountRoot == "" || cfg.AccountRoot == "." {
		return errors.New("account root is required")
	}
	if cfg.DryRun {
		return nil
	}
	if cfg.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if cfg.IMAPUser == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if cfg.IMAPPass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	return nil
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pst-to-mime", "state"), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
