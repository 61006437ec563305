package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "hoa-pr"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage hoa-pr configuration.

Running bare 'hoa-pr config' is the same as 'hoa-pr config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# hoa-pr configuration
# See: hoa-pr config show (for effective values and sources)
# Every key can also be set through the environment, e.g. HOAPR_PRSERVER_API_KEY.

# SQLite database for the course catalog, submission log and local PR ledger
# db_path: {{ .DBPath }}

# Directory of <repo>/readme.toml checkouts, used when prserver.base_url is empty
courses_dir: "{{ .CoursesDir }}"

# PR service
prserver:
  # Base URL; leave empty to record PRs in the local ledger instead
  base_url: "{{ .PRServerURL }}"
  api_key: ""
  timeout: {{ .PRServerTimeout }}

# Compliance review before submission
moderation:
  # "anthropic" (policy + model review) or "none" (policy only)
  provider: "{{ .ModerationProvider }}"
  timeout: {{ .ModerationTimeout }}
  # Optional rego file replacing the built-in policy
  policy_file: ""

anthropic:
  api_key: ""
  model: "{{ .AnthropicModel }}"

session:
  # Idle sessions expire after this long
  ttl: {{ .SessionTTL }}

render:
  # Maximum characters per outbound message
  segment_budget: {{ .SegmentBudget }}

locator:
  threshold: {{ .LocatorThreshold }}
  max_candidates: {{ .LocatorMaxCandidates }}

# Users allowed to start a session; empty allows everyone
allowed_users: []

serve:
  port: {{ .ServePort }}
`

type configTemplateData struct {
	DBPath               string
	CoursesDir           string
	PRServerURL          string
	PRServerTimeout      time.Duration
	ModerationProvider   string
	ModerationTimeout    time.Duration
	AnthropicModel       string
	SessionTTL           time.Duration
	SegmentBudget        int
	LocatorThreshold     float64
	LocatorMaxCandidates int
	ServePort            int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DBPath:               viper.GetString("db_path"),
		CoursesDir:           viper.GetString("courses_dir"),
		PRServerURL:          viper.GetString("prserver.base_url"),
		PRServerTimeout:      viper.GetDuration("prserver.timeout"),
		ModerationProvider:   viper.GetString("moderation.provider"),
		ModerationTimeout:    viper.GetDuration("moderation.timeout"),
		AnthropicModel:       viper.GetString("anthropic.model"),
		SessionTTL:           viper.GetDuration("session.ttl"),
		SegmentBudget:        viper.GetInt("render.segment_budget"),
		LocatorThreshold:     viper.GetFloat64("locator.threshold"),
		LocatorMaxCandidates: viper.GetInt("locator.max_candidates"),
		ServePort:            viper.GetInt("serve.port"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "HOAPR_DB_PATH"},
	{Key: "courses_dir", EnvVar: "HOAPR_COURSES_DIR"},
	{Key: "prserver.base_url", EnvVar: "HOAPR_PRSERVER_BASE_URL"},
	{Key: "prserver.api_key", EnvVar: "HOAPR_PRSERVER_API_KEY", Secret: true},
	{Key: "prserver.timeout", EnvVar: "HOAPR_PRSERVER_TIMEOUT"},
	{Key: "moderation.provider", EnvVar: "HOAPR_MODERATION_PROVIDER"},
	{Key: "moderation.timeout", EnvVar: "HOAPR_MODERATION_TIMEOUT"},
	{Key: "moderation.policy_file", EnvVar: "HOAPR_MODERATION_POLICY_FILE"},
	{Key: "anthropic.api_key", EnvVar: "HOAPR_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "HOAPR_ANTHROPIC_MODEL"},
	{Key: "session.ttl", EnvVar: "HOAPR_SESSION_TTL"},
	{Key: "render.segment_budget", EnvVar: "HOAPR_RENDER_SEGMENT_BUDGET"},
	{Key: "locator.threshold", EnvVar: "HOAPR_LOCATOR_THRESHOLD"},
	{Key: "locator.max_candidates", EnvVar: "HOAPR_LOCATOR_MAX_CANDIDATES"},
	{Key: "allowed_users", EnvVar: "HOAPR_ALLOWED_USERS"},
	{Key: "serve.port", EnvVar: "HOAPR_SERVE_PORT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret keeps the last four characters of a credential.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'hoa-pr config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
