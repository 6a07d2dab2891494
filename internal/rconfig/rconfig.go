// Package rconfig implements configuration loading (spec §9 ambient
// concern): flags merged over environment variables merged over a YAML
// config file, the same viper/cobra/godotenv stack and precedence the
// teacher's cmd/falcon/main.go uses (PersistentFlags + viper.AutomaticEnv +
// a .falcon/config.yaml project file), generalized to falcon-runner's own
// settings instead of the teacher's web-UI/TUI toggles. Covers both the
// scheduler-level knobs (parallel, concurrency, rate, fail-fast, retry
// policy) and the engine-level knobs spec §1.2 names explicitly
// (engine.timeout, call.max_depth, scenario.max_depth, and the
// orchestrator's bind address/port).
package rconfig

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the resolved run configuration (spec §4.9 scheduler policy,
// §1.2's engine/call/scenario knobs, and CLI-level concerns).
type Config struct {
	ProjectDir  string
	Environment string
	Parallel    bool
	Concurrency int64
	RatePerSec  float64
	FailFast    bool
	Debug       bool
	BindAddress string
	WebPort     int
	OutputPath  string
	OutputDir   string

	// EngineTimeout bounds one full run (spec §1.2 engine.timeout); 0 means
	// no deadline beyond ctrl-c/SIGTERM.
	EngineTimeout time.Duration
	// CallMaxDepth overrides callsvc.Service.MaxDepth (spec §1.2 call.max_depth).
	CallMaxDepth int
	// ScenarioMaxDepth overrides rscenario.MaxDepth (spec §1.2 scenario.max_depth).
	ScenarioMaxDepth int
	// RetryMaxAttempts and RetryDelayMS feed scheduler.Policy (spec §4.9
	// suite-level retry/backoff, spec §1.2 retry.max_attempts/retry.delay_ms).
	RetryMaxAttempts int
	RetryDelayMS     int64
}

// RegisterFlags binds Config's CLI surface onto cmd, matching the
// teacher's PersistentFlags-on-rootCmd style (cfgFile, env, framework,
// no-index in cmd/falcon/main.go).
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("project", ".", "project directory containing suite YAML files")
	flags.StringP("env", "e", "dev", "environment name for variable substitution")
	flags.Bool("parallel", false, "run independent suites within a wave concurrently")
	flags.Int64("concurrency", 4, "max suites running at once when --parallel is set")
	flags.Float64("rate", 0, "suite launches per second pacing limit (0 disables pacing)")
	flags.Bool("fail-fast", false, "stop launching further waves after any suite fails")
	flags.Bool("debug", false, "enable debug-level logging")
	flags.String("bind", "127.0.0.1", "bind address for the orchestrator HTTP API")
	flags.Int("port", 0, "HTTP port for the orchestrator (0 = OS-assigned)")
	flags.String("output", "", "write the aggregated JSON report to this path instead of stdout")
	flags.String("output-dir", "reports", "directory to write latest.json and a timestamped report sibling into")
	flags.Duration("engine-timeout", 0, "deadline for one full run (0 disables the deadline)")
	flags.Int("call-max-depth", 10, "max depth of nested `call` invocations (spec call.max_depth)")
	flags.Int("scenario-max-depth", 5, "max depth of nested scenarios (spec scenario.max_depth)")
	flags.Int("retry-max-attempts", 1, "run-level suite retries on failure (1 = no retry)")
	flags.Int64("retry-delay-ms", 0, "backoff between suite-level retry attempts, in milliseconds")

	_ = viper.BindPFlag("project", flags.Lookup("project"))
	_ = viper.BindPFlag("env", flags.Lookup("env"))
	_ = viper.BindPFlag("parallel", flags.Lookup("parallel"))
	_ = viper.BindPFlag("concurrency", flags.Lookup("concurrency"))
	_ = viper.BindPFlag("rate", flags.Lookup("rate"))
	_ = viper.BindPFlag("fail_fast", flags.Lookup("fail-fast"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("bind", flags.Lookup("bind"))
	_ = viper.BindPFlag("port", flags.Lookup("port"))
	_ = viper.BindPFlag("output", flags.Lookup("output"))
	_ = viper.BindPFlag("output_dir", flags.Lookup("output-dir"))
	_ = viper.BindPFlag("engine_timeout", flags.Lookup("engine-timeout"))
	_ = viper.BindPFlag("call_max_depth", flags.Lookup("call-max-depth"))
	_ = viper.BindPFlag("scenario_max_depth", flags.Lookup("scenario-max-depth"))
	_ = viper.BindPFlag("retry_max_attempts", flags.Lookup("retry-max-attempts"))
	_ = viper.BindPFlag("retry_delay_ms", flags.Lookup("retry-delay-ms"))
}

// Init mirrors the teacher's cobra.OnInitialize(initConfig): load an
// optional .env file, then an optional .falcon-runner/config.yaml, falling
// back silently when neither exists.
func Init(cfgFile string) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".falcon-runner")
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}
	viper.SetEnvPrefix("FALCON_RUNNER")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// Load reads the merged flag/config-file/env state into a Config.
func Load() Config {
	return Config{
		ProjectDir:       viper.GetString("project"),
		Environment:      viper.GetString("env"),
		Parallel:         viper.GetBool("parallel"),
		Concurrency:      viper.GetInt64("concurrency"),
		RatePerSec:       viper.GetFloat64("rate"),
		FailFast:         viper.GetBool("fail_fast"),
		Debug:            viper.GetBool("debug"),
		BindAddress:      viper.GetString("bind"),
		WebPort:          viper.GetInt("port"),
		OutputPath:       viper.GetString("output"),
		OutputDir:        viper.GetString("output_dir"),
		EngineTimeout:    viper.GetDuration("engine_timeout"),
		CallMaxDepth:     viper.GetInt("call_max_depth"),
		ScenarioMaxDepth: viper.GetInt("scenario_max_depth"),
		RetryMaxAttempts: viper.GetInt("retry_max_attempts"),
		RetryDelayMS:     viper.GetInt64("retry_delay_ms"),
	}
}
