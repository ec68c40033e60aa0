package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortVersion(t *testing.T) {
	tests := []struct {
		version string
		commit  string
		want    string
	}{
		{"v1.2.0", "0123456789abcdef", "v1.2.0 (0123456)"},
		{"dev", "0123456789abcdef", "dev-0123456"},
		{"v1.2.0", "unknown", "v1.2.0"},
		{"dev", "abc", "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, shortVersion(tt.version, tt.commit))
		})
	}
}

func TestGetBuildInfo_LdflagsWin(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })

	Version, GitCommit = "v0.3.0", "fedcba9876543210"
	info := GetBuildInfo()
	assert.Equal(t, "v0.3.0", info.Version)
	assert.Equal(t, "fedcba9876543210", info.GitCommit)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, "v0.3.0 (fedcba9)", GetShortVersion())
}
