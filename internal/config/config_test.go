package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(v *viper.Viper)
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name:  "defaults",
			setup: func(v *viper.Viper) {},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultConcurrency, cfg.Build.Concurrency)
				assert.Equal(t, "dist", cfg.Build.DistDir)
				assert.Equal(t, "/", cfg.Build.PublicURL)
				assert.Equal(t, 1234, cfg.Server.Port)
				assert.Contains(t, cfg.Resolver.ServerConditions, "react-server")
				assert.NotContains(t, cfg.Resolver.ClientConditions, "react-server")
				assert.True(t, cfg.Development.HotReload)
				assert.Equal(t, 300*time.Millisecond, cfg.Development.Debounce)
				assert.Contains(t, cfg.Sandbox.AllowedPackages, "strings")
			},
		},
		{
			name: "overrides",
			setup: func(v *viper.Viper) {
				v.Set("build.concurrency", 8)
				v.Set("build.dist_dir", "out")
				v.Set("server.port", 0)
				v.Set("development.hot_reload", false)
				v.Set("resolver.server_conditions", []string{"edge"})
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.Build.Concurrency)
				assert.Equal(t, "out", cfg.Build.DistDir)
				assert.Equal(t, 0, cfg.Server.Port)
				assert.False(t, cfg.Development.HotReload)
				assert.Equal(t, []string{"edge"}, cfg.Resolver.ServerConditions)
			},
		},
		{
			name:        "concurrency out of range",
			setup:       func(v *viper.Viper) { v.Set("build.concurrency", 5000) },
			expectError: true,
		},
		{
			name:        "dist dir traversal",
			setup:       func(v *viper.Viper) { v.Set("build.dist_dir", "../escape") },
			expectError: true,
		},
		{
			name:        "relative public url",
			setup:       func(v *viper.Viper) { v.Set("build.public_url", "assets") },
			expectError: true,
		},
		{
			name:  "absolute public url",
			setup: func(v *viper.Viper) { v.Set("build.public_url", "https://cdn.example.com/") },
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://cdn.example.com/", cfg.Build.PublicURL)
			},
		},
		{
			name:        "invalid port type",
			setup:       func(v *viper.Viper) { v.Set("server.port", "invalid_port") },
			expectError: true,
		},
		{
			name:        "dangerous host",
			setup:       func(v *viper.Viper) { v.Set("server.host", "localhost;rm") },
			expectError: true,
		},
		{
			name:        "bad extension",
			setup:       func(v *viper.Viper) { v.Set("resolver.extensions", []string{"go"}) },
			expectError: true,
		},
		{
			name:        "bad glob",
			setup:       func(v *viper.Viper) { v.Set("build.watch", []string{"[unclosed"}) },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setup(v)

			cfg, err := LoadFrom(v)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestPackageName(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/proj/package.json", []byte(`{"name":"my-site"}`), 0o644))

	cfg := Default()
	cfg.Build.ProjectRoot = "/proj"
	assert.Equal(t, "my-site", cfg.PackageName(fs))

	cfg.Build.PackageName = "explicit"
	assert.Equal(t, "explicit", cfg.PackageName(fs))

	empty := Default()
	empty.Build.ProjectRoot = "/missing"
	assert.Equal(t, "", empty.PackageName(fs))
}

func TestAddr(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.Build.ProjectRoot = "/site"
	assert.Equal(t, "/site/.staticpack/graph.yml", cfg.GraphPath())
	assert.Equal(t, "/site/dist", cfg.DistPath())

	cfg.Build.DistDir = "/tmp/out"
	assert.Equal(t, "/tmp/out", cfg.DistPath())
}
