package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// RunnerConfig holds the reference runner's configuration: where to reach
// the coordinator, how to identify itself at registration, and which
// executor backend to run claimed runs through.
type RunnerConfig struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Identity    RunnerIdentity    `mapstructure:"identity"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CoordinatorConfig is the HTTP base URL of the coordinator this runner
// registers against and polls.
type CoordinatorConfig struct {
	BaseURL      string `mapstructure:"baseUrl"`
	PollInterval int    `mapstructure:"pollIntervalSeconds"`
}

// RunnerIdentity is what this process declares at POST /runner/register.
type RunnerIdentity struct {
	Hostname            string   `mapstructure:"hostname"`
	ProjectDir          string   `mapstructure:"projectDir"`
	Tags                []string `mapstructure:"tags"`
	RequireMatchingTags bool     `mapstructure:"requireMatchingTags"`
	DeclaredAgents      []string `mapstructure:"declaredAgents"`
}

// ExecutorConfig selects and configures the backend runs are executed
// through.
type ExecutorConfig struct {
	Profile string       `mapstructure:"profile"` // "noop" or "docker"
	Docker  DockerConfig `mapstructure:"docker"`
}

// DockerConfig configures the Docker SDK client used by the docker
// executor profile.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
	Image      string `mapstructure:"image"`
}

// LoadRunnerConfig reads runner configuration from environment variables
// (prefixed RUNNER_), an optional config file, and defaults.
func LoadRunnerConfig(configPath string) (*RunnerConfig, error) {
	v := viper.New()

	v.SetDefault("coordinator.baseUrl", "http://localhost:8080")
	v.SetDefault("coordinator.pollIntervalSeconds", 2)
	v.SetDefault("identity.requireMatchingTags", false)
	v.SetDefault("executor.profile", "noop")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetEnvPrefix("RUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("runner")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading runner config file: %w", err)
		}
	}

	var cfg RunnerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling runner config: %w", err)
	}
	return &cfg, nil
}
