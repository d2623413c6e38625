package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dagger/attend/internal/dagger"
)

// Build returns a directory of attend binaries per linux platform. go-sqlite3
// needs cgo, so each platform builds natively in its own container.
func (a *Attend) Build(
	ctx context.Context,

	// Linker flags for go build
	// +optional
	// +default="-s -w"
	ldflags string,
) *dagger.Directory {
	platforms := []dagger.Platform{"linux/amd64", "linux/arm64"}

	outputs := dag.Directory()
	for _, platform := range platforms {
		path := string(platform) + "/"

		build := a.goContainer(platform).
			WithExec([]string{"go", "build", "-ldflags", ldflags, "-o", path, "./cli/attend"})

		outputs = outputs.WithDirectory(path, build.Directory(path))
	}

	return outputs
}

// BuildRelease compiles versioned release binaries with embedded version info
func (a *Attend) BuildRelease(
	ctx context.Context,

	// Version string of build
	version string,

	// Git commit SHA of build
	commit string,
) *dagger.Directory {
	ldflags := []string{
		"-s",
		"-w",
		fmt.Sprintf("-X 'github.com/papercomputeco/attend/pkg/utils.Version=%s'", version),
		fmt.Sprintf("-X 'github.com/papercomputeco/attend/pkg/utils.Sha=%s'", commit),
		fmt.Sprintf("-X 'github.com/papercomputeco/attend/pkg/utils.Buildtime=%s'", time.Now().UTC().Format(time.RFC3339)),
	}

	return a.Build(ctx, strings.Join(ldflags, " "))
}
