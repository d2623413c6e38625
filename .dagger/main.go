// Attend CI/CD
//
// Package main provides reproducible builds and tests locally and in GitHub actions.
package main

import (
	"context"

	"dagger/attend/internal/dagger"
)

// Attend is the main module for the attend CI/CD pipeline
type Attend struct {
	// Project source directory
	//
	// +private
	Source *dagger.Directory
}

// New creates a new Attend CI/CD module instance
func New(
	// Project source directory.
	//
	// +defaultPath="/"
	// +ignore=[".git", ".attend", "build", "tmp", "_examples"]
	source *dagger.Directory,
) *Attend {
	return &Attend{
		Source: source,
	}
}

// goContainer returns a Debian Bookworm-based Go container with gcc and
// CGO enabled for go-sqlite3, and the project source mounted.
func (a *Attend) goContainer(platform dagger.Platform) *dagger.Container {
	return dag.Container(dagger.ContainerOpts{Platform: platform}).
		From("golang:1.25-bookworm").
		WithExec([]string{"apt-get", "update"}).
		WithExec([]string{"apt-get", "install", "-y", "gcc", "libsqlite3-dev"}).
		WithEnvVariable("CGO_ENABLED", "1").
		WithEnvVariable("PATH", "/go/bin:$PATH", dagger.ContainerWithEnvVariableOpts{Expand: true}).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build-"+string(platform))).
		WithWorkdir("/src").
		WithDirectory("/src", a.Source)
}

// Test runs the unit tests via "go test". Postgres conformance tests are
// skipped unless ATTEND_TEST_POSTGRES_DSN is set.
func (a *Attend) Test(ctx context.Context) (string, error) {
	return a.goContainer("").
		WithExec([]string{"go", "test", "-race", "./..."}).
		Stdout(ctx)
}
