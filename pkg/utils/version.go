// Package utils holds small helpers shared by attend commands that are
// too small to be packages of their own.
package utils

// Build information, set with -ldflags -X at release time.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)
