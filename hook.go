package crashpipe

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// hooks is the process wide chain of installed hooks. Installing a hook
// appends to it, so earlier installations keep working.
var hooks struct {
	sync.Mutex
	chain []*Hook
}

// Hook is a Reporter's registration on the process wide panic chain.
type Hook struct {
	reporter *Reporter
}

// Install registers r so that panics recovered by Recover are reported
// through it. Hooks installed earlier, possibly by other Reporters, stay
// installed and run as well.
func (r *Reporter) Install() *Hook {
	h := &Hook{reporter: r}
	hooks.Lock()
	defer hooks.Unlock()
	hooks.chain = append(hooks.chain, h)
	return h
}

// Uninstall removes this hook, and only this hook, from the chain. It is safe
// to call more than once.
func (h *Hook) Uninstall() {
	hooks.Lock()
	defer hooks.Unlock()
	for i, c := range hooks.chain {
		if c == h {
			hooks.chain = append(hooks.chain[:i:i], hooks.chain[i+1:]...)
			return
		}
	}
}

// Handle reports the value p recovered from a panic. The report is made on a
// separate goroutine and waited for at most Configuration.ShutdownTimeout, so
// a hung endpoint can't keep a crashing process alive.
func (h *Hook) Handle(p interface{}) Outcome {
	return h.handle(panicError(p, debug.Stack()))
}

func (h *Hook) handle(err error) Outcome {
	r := h.reporter
	done := make(chan Outcome, 1)
	go func() {
		done <- r.ReportCrash(context.Background(), err)
	}()

	timer := time.NewTimer(r.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case o := <-done:
		return o
	case <-timer.C:
		r.cfg.Logger.Warn("gave up waiting for crash report to be delivered")
		return OutcomeDropped
	}
}

// Recover reports a panic through every installed hook and then panics again
// with the same value so that the program crashes exactly as it would have
// without it.
// It must be deferred directly, typically as the first statement of main:
//	defer crashpipe.Recover()
func Recover() {
	p := recover()
	if p == nil {
		return
	}
	HandlePanic(p, debug.Stack())
	panic(p)
}

// HandlePanic reports the recovered value p, with the stack captured where
// it was recovered, through every installed hook. The hooks report
// concurrently, so HandlePanic returns within the longest ShutdownTimeout of
// the installed Reporters however many hooks there are.
func HandlePanic(p interface{}, stack []byte) {
	hooks.Lock()
	chain := make([]*Hook, len(hooks.chain))
	copy(chain, hooks.chain)
	hooks.Unlock()

	err := panicError(p, stack)
	var wg sync.WaitGroup
	for _, h := range chain {
		wg.Add(1)
		go func(h *Hook) {
			defer wg.Done()
			h.handle(err)
		}(h)
	}
	wg.Wait()
}

func panicError(p interface{}, stack []byte) *Error {
	err, ok := p.(error)
	if !ok {
		err = fmt.Errorf("%v", p)
	}
	return &Error{
		Err:        err,
		Panic:      true,
		panicStack: string(stack),
		msg:        "panic: " + err.Error(),
	}
}
