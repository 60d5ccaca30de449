// Package policy evaluates consumer-supplied admission scripts against
// announced provider metadata.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/strobelight/beacon/errs"
	"github.com/strobelight/beacon/internal/schema"
)

const admitFunction = "admit"

// Policy decides whether an announced provider may enter the registry.
type Policy interface {
	Admit(info schema.ProviderInfo) bool
}

// AdmitAll is the default policy: every valid announcement is admitted.
type AdmitAll struct{}

// Admit always reports true.
func (AdmitAll) Admit(schema.ProviderInfo) bool { return true }

// Script is a JavaScript admission predicate. The source must define
// `function admit(info) { ... }` returning a truthy value to admit the
// provider; info carries uuid, name, icon and rdns string properties.
//
// Evaluation errors count as rejection: the discovery protocol has no
// error channel back to the announcer, so a failing script degrades to
// "provider not admitted" rather than a thrown failure.
type Script struct {
	mu sync.Mutex
	rt *goja.Runtime
	fn goja.Callable
}

// CompileScript parses and runs the admission script, resolving the admit
// function it must export.
func CompileScript(source string) (*Script, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return nil, errs.New("policy/compile", errs.CodeInvalid, errs.WithMessage("script source required"))
	}

	program, err := goja.Compile("admission.js", trimmed, true)
	if err != nil {
		return nil, errs.New("policy/compile", errs.CodeInvalid,
			errs.WithMessage("compile admission script"), errs.WithCause(err))
	}

	rt := goja.New()
	if _, err := rt.RunProgram(program); err != nil {
		return nil, errs.New("policy/compile", errs.CodeInvalid,
			errs.WithMessage("execute admission script"), errs.WithCause(err))
	}

	fn, ok := goja.AssertFunction(rt.Get(admitFunction))
	if !ok {
		return nil, errs.New("policy/compile", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("script must define function %s(info)", admitFunction)))
	}

	return &Script{rt: rt, fn: fn}, nil
}

// Admit evaluates the predicate against the provider info. The runtime is
// single-threaded, so calls serialize on a mutex.
func (s *Script) Admit(info schema.ProviderInfo) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	arg := s.rt.NewObject()
	_ = arg.Set("uuid", info.UUID)
	_ = arg.Set("name", info.Name)
	_ = arg.Set("icon", info.Icon)
	_ = arg.Set("rdns", info.RDNS)

	verdict, err := func() (v goja.Value, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("admission script panic: %v", rec)
			}
		}()
		return s.fn(goja.Undefined(), arg)
	}()
	if err != nil {
		return false
	}
	return verdict.ToBoolean()
}
