// Package config provides configuration management for staticpack using
// Viper for loading from files, environment variables, and command-line
// flags.
//
// The configuration covers the dev server, the build (bundle graph location,
// output directory, fetch concurrency), the two resolver condition sets, the
// sandbox import allowlist and development options such as hot reload.
// Environment variables use the STATICPACK_ prefix, for example
// STATICPACK_BUILD_CONCURRENCY=16.
package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// DefaultConcurrency is the fetch cap used when build.concurrency is unset.
const DefaultConcurrency = 32

type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Build       BuildConfig       `mapstructure:"build" yaml:"build"`
	Resolver    ResolverConfig    `mapstructure:"resolver" yaml:"resolver"`
	Sandbox     SandboxConfig     `mapstructure:"sandbox" yaml:"sandbox"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	Environment    string   `mapstructure:"environment" yaml:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type BuildConfig struct {
	ProjectRoot string   `mapstructure:"project_root" yaml:"project_root"`
	GraphFile   string   `mapstructure:"graph_file" yaml:"graph_file"`
	DistDir     string   `mapstructure:"dist_dir" yaml:"dist_dir"`
	PublicURL   string   `mapstructure:"public_url" yaml:"public_url"`
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency"`
	PackageName string   `mapstructure:"package_name" yaml:"package_name"`
	Watch       []string `mapstructure:"watch" yaml:"watch"`
	Ignore      []string `mapstructure:"ignore" yaml:"ignore"`
}

type ResolverConfig struct {
	Extensions       []string `mapstructure:"extensions" yaml:"extensions"`
	MainFields       []string `mapstructure:"main_fields" yaml:"main_fields"`
	ClientConditions []string `mapstructure:"client_conditions" yaml:"client_conditions"`
	ServerConditions []string `mapstructure:"server_conditions" yaml:"server_conditions"`
}

type SandboxConfig struct {
	AllowedPackages []string `mapstructure:"allowed_packages" yaml:"allowed_packages"`
}

type DevelopmentConfig struct {
	HotReload bool          `mapstructure:"hot_reload" yaml:"hot_reload"`
	Debounce  time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, viper.New())
	return cfg
}

// Load reads the global viper instance into a validated Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads v into a validated Config.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config, v)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config, v *viper.Viper) {
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if !v.IsSet("server.port") && config.Server.Port == 0 {
		config.Server.Port = 1234
	}
	if config.Server.Environment == "" {
		config.Server.Environment = "development"
	}

	if config.Build.ProjectRoot == "" {
		config.Build.ProjectRoot = "."
	}
	if config.Build.GraphFile == "" {
		config.Build.GraphFile = filepath.Join(".staticpack", "graph.yml")
	}
	if config.Build.DistDir == "" {
		config.Build.DistDir = "dist"
	}
	if config.Build.PublicURL == "" {
		config.Build.PublicURL = "/"
	}
	if config.Build.Concurrency == 0 {
		config.Build.Concurrency = DefaultConcurrency
	}
	if len(config.Build.Watch) == 0 {
		config.Build.Watch = []string{"**/*.go", "**/*.yml", "**/*.json"}
	}
	if len(config.Build.Ignore) == 0 {
		config.Build.Ignore = []string{"node_modules/**", ".git/**", "dist/**"}
	}

	if len(config.Resolver.Extensions) == 0 {
		config.Resolver.Extensions = []string{".go", ".json"}
	}
	if len(config.Resolver.MainFields) == 0 {
		config.Resolver.MainFields = []string{"main"}
	}
	if len(config.Resolver.ClientConditions) == 0 {
		config.Resolver.ClientConditions = []string{"browser", "require", "default"}
	}
	if len(config.Resolver.ServerConditions) == 0 {
		config.Resolver.ServerConditions = []string{"react-server", "node", "require", "default"}
	}

	if len(config.Sandbox.AllowedPackages) == 0 {
		config.Sandbox.AllowedPackages = []string{
			"bytes", "errors", "fmt", "math", "path", "sort",
			"strconv", "strings", "time", "unicode/utf8", "encoding/json",
		}
	}

	// Handle development settings set via viper (workaround for viper bool handling)
	if v.IsSet("development.hot_reload") {
		config.Development.HotReload = v.GetBool("development.hot_reload")
	} else {
		config.Development.HotReload = true
	}
	if config.Development.Debounce == 0 {
		config.Development.Debounce = 300 * time.Millisecond
	}
}

// PackageName returns build.package_name, falling back to the "name" field
// of the project's package.json. An absent manifest yields "".
func (c *Config) PackageName(fs afero.Fs) string {
	if c.Build.PackageName != "" {
		return c.Build.PackageName
	}

	data, err := afero.ReadFile(fs, filepath.Join(c.Build.ProjectRoot, "package.json"))
	if err != nil {
		return ""
	}
	var pkg struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return ""
	}

	return pkg.Name
}

// Addr returns the host:port the dev server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GraphPath returns the bundle graph manifest path, resolved against the
// project root when relative.
func (c *Config) GraphPath() string {
	return c.resolve(c.Build.GraphFile)
}

// DistPath returns the output directory, resolved against the project root
// when relative.
func (c *Config) DistPath() string {
	return c.resolve(c.Build.DistDir)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Build.ProjectRoot, path)
}
