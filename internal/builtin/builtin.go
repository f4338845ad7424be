// File: internal/builtin/builtin.go
// Brief: Registration of the package types compiled into dpl.

// Package builtin ships the package types available out of the box:
// a generic long-running command (example_app), an LD_PRELOAD injector
// (example_interceptor), and the IOR benchmark (ior). Importing the package
// registers the types; the CLI does so for its side effect, the way
// database/sql drivers are wired.
package builtin

import "github.com/example/dpl/internal/pipeline"

func init() {
	pipeline.Register("builtin.example_app", func() pipeline.Pkg { return &ExampleApp{} })
	pipeline.Register("builtin.example_interceptor", func() pipeline.Pkg { return &ExampleInterceptor{} })
	pipeline.Register("builtin.ior", func() pipeline.Pkg { return &Ior{} })
}
