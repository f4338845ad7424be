// File: internal/builtin/example_interceptor.go
// Brief: Interceptor injecting a shared library via LD_PRELOAD.

package builtin

import (
	"fmt"
	"os"
	"strings"

	"github.com/example/dpl/internal/pipeline"
)

// ExampleInterceptor injects a shared library into its target's private
// execution environment. The library is named logically ("tracer" resolves
// libtracer.so on the library path) or by explicit path; extra VAR=value
// pairs land in the target's ModEnv alongside it.
type ExampleInterceptor struct {
	pipeline.Base
}

func (i *ExampleInterceptor) ConfigureMenu() pipeline.Menu {
	return pipeline.Menu{
		{Name: "lib", Msg: "Library to preload: logical name or path", Type: pipeline.TypeString},
		{Name: "vars", Msg: "Extra VAR=value pairs for the target", Type: pipeline.TypeList, Default: []string{}},
	}
}

func (i *ExampleInterceptor) ModifyEnv(mod pipeline.Env) error {
	name := i.ConfigString("lib")
	path := name
	if strings.Contains(name, "/") {
		if _, err := os.Stat(name); err != nil {
			return fmt.Errorf("preload library %s: %w", name, err)
		}
	} else {
		path = i.FindLibrary(name)
		if path == "" {
			return fmt.Errorf("preload library %q not found on the library path", name)
		}
	}
	i.PrependEnv("LD_PRELOAD", path)
	for _, kv := range i.ConfigStringSlice("vars") {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid var %q (expected VAR=value)", kv)
		}
		mod[key] = val
	}
	return nil
}
