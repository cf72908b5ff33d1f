package version

import (
	"fmt"
	"runtime"
)

const core = "0.1.0"

// Provisioned by ldflags
var commit string

// Short returns the bare version.
func Short() string {
	return core
}

// Full returns the version with commit hash, runtime os and arch.
func Full() string {
	if commit != "" {
		return fmt.Sprintf("v%s %s %s/%s", core, commit, runtime.GOOS, runtime.GOARCH)
	}

	return fmt.Sprintf("v%s %s/%s", core, runtime.GOOS, runtime.GOARCH)
}
