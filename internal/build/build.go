// Package build carries values stamped in at link time, e.g.
//
//	go build -ldflags "-X github.com/drummonds/pdfpages/internal/build.Version=v0.3.0"
package build

// Version of the running binary, "dev" for untagged builds
var Version = "dev"
