// Package queryz runs text queries through an ordered chain of named modules.
//
// # Overview
//
// Each input line becomes a Query. The Executor hands the Query to a list of
// pre-modules in configured order and then, only if no pre-module finished or
// failed the query, to a list of post-modules. Modules communicate through the
// Query: they install a response and move its status along the state machine
// Continue → Done | Error.
//
// # Modules
//
// A module is anything with a Name. What the Executor and Registry do with it
// depends on which of the capability interfaces it implements:
//
//   - Processor: Process(ctx, *Query), called during the pre-phase
//   - PostProcessor: PostProcess(ctx, *Query), called during the post-phase
//   - Configurable: LoadConfig(Settings) error, called once at startup
//   - Cleaner: Cleanup(), called once at shutdown
//
// Capabilities(m) reports the set as bit flags, so dispatch never depends on
// probing for missing methods at call time.
//
// # Status state machine
//
// After every module call the Executor inspects the Query status:
//
//	Continue → next module
//	Done     → stop the phase, skip the post-phase
//	Error    → stop the phase, skip the post-phase
//
// A run that leaves both phases still in Continue never reached a verdict and
// is reported as VerdictUnknown. Callers must treat it as an anomaly.
//
// # Response ownership
//
// Query.Replace releases the previous response before installing a new one,
// so exactly one module owns the response at any time. The Executor never
// touches the response itself; Executor.Run copies the final response into
// the Outcome and then releases the Query.
//
// # Cache
//
// CacheModule is the stateful module of the system. Placed first in the
// pre-phase it short-circuits warm queries with a stored response; placed in
// the post-phase it stores the response computed by the transform modules.
// Entries live in a hash-bucketed Store and expire lazily.
//
// Example:
//
//	cache := queryz.NewCache()
//	upper := transform.NewUpper()
//
//	exec := queryz.NewExecutor("main",
//	    []queryz.Module{cache, upper},
//	    []queryz.Module{cache},
//	)
//	defer exec.Close()
//
//	out := exec.Run(ctx, "hello")
//	fmt.Println(out.Response, out.Verdict) // HELLO UNKNOWN
//	out = exec.Run(ctx, "hello")
//	fmt.Println(out.Response, out.Verdict) // HELLO DONE
package queryz

import "context"

// Name is a type alias for module names.
// Names are unique within a Registry and bind a module to its
// configuration section (module::<name>).
type Name = string

// Module is the common identity of every pipeline unit.
type Module interface {
	Name() Name
}

// Processor is implemented by modules that take part in the pre-phase.
type Processor interface {
	Module
	Process(context.Context, *Query)
}

// PostProcessor is implemented by modules that take part in the post-phase.
type PostProcessor interface {
	Module
	PostProcess(context.Context, *Query)
}

// Configurable is implemented by modules that read their own config section.
type Configurable interface {
	Module
	LoadConfig(Settings) error
}

// Cleaner is implemented by modules that hold resources until shutdown.
type Cleaner interface {
	Module
	Cleanup()
}

// Settings is a typed view of one configuration section.
// Lookups return an error when the key is absent or has the wrong type.
type Settings interface {
	String(key string) (string, error)
	Int(key string) (int, error)
	Bool(key string) (bool, error)
}

// Capability is a bit set of the interfaces a module implements.
type Capability uint8

// Capability flags.
const (
	CapProcess Capability = 1 << iota
	CapPostProcess
	CapLoadConfig
	CapCleanup
)

// Has reports whether every flag in c is set.
func (c Capability) Has(flag Capability) bool {
	return c&flag == flag
}

// String renders the set as a comma-separated list.
func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var out []byte
	for _, f := range []struct {
		flag Capability
		name string
	}{
		{CapProcess, "process"},
		{CapPostProcess, "postprocess"},
		{CapLoadConfig, "loadconfig"},
		{CapCleanup, "cleanup"},
	} {
		if c.Has(f.flag) {
			if len(out) > 0 {
				out = append(out, ',')
			}
			out = append(out, f.name...)
		}
	}
	return string(out)
}

// Capabilities returns the capability set of m.
func Capabilities(m Module) Capability {
	var c Capability
	if _, ok := m.(Processor); ok {
		c |= CapProcess
	}
	if _, ok := m.(PostProcessor); ok {
		c |= CapPostProcess
	}
	if _, ok := m.(Configurable); ok {
		c |= CapLoadConfig
	}
	if _, ok := m.(Cleaner); ok {
		c |= CapCleanup
	}
	return c
}
