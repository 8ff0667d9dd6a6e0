package crashpipe

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// Error wraps another error and remembers where it was wrapped, so that the
// report built from it carries a stack trace even when it is reported far
// away from where it happened.
// Setting Panic to true indicates that the error was recovered from a panic.
type Error struct {
	Err   error
	Panic bool

	ctx        context.Context
	stacktrace []*Stackframe
	panicStack string
	msg        string
}

// Stackframe is a single frame of a captured stack trace.
type Stackframe struct {
	File       string `json:"file"`
	LineNumber int    `json:"lineNumber"`
	Method     string `json:"method"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.msg == "" {
		return e.Err.Error()
	}
	return e.msg
}

// Unwrap is the conventional method for getting the underlying error of a
// crashpipe.Error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap attaches ctx data and wraps the given error with message, and
// associates a stacktrace to the error based on the frame at which Wrap was
// called.
// Any context attached to ctx with WithUserID or WithContext is preserved
// should you return the returned error further up the stack.
func Wrap(ctx context.Context, err error, msgAndFmtArgs ...interface{}) *Error {
	if err == nil {
		return nil
	}
	berr := &Error{
		Err:        err,
		stacktrace: makeStacktrace(3),
		ctx:        ctx,
	}
	if len(msgAndFmtArgs) >= 1 {
		msg, ok := msgAndFmtArgs[0].(string)
		if ok {
			msg = fmt.Sprintf(msg, msgAndFmtArgs[1:]...)
			berr.msg = fmt.Sprintf("%s: %s", msg, err.Error())
		}
	}
	return berr
}

// makeStacktrace captures the calling goroutine's stack, skipping the given
// number of frames (runtime.Callers itself counting as one).
func makeStacktrace(skip int) []*Stackframe {
	ptrs := [50]uintptr{}
	pcs := ptrs[0:runtime.Callers(skip, ptrs[:])]

	stacktrace := make([]*Stackframe, 0, len(pcs))
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		stacktrace = append(stacktrace, &Stackframe{File: frame.File, LineNumber: frame.Line, Method: frame.Function})
		if !more {
			break
		}
	}
	return stacktrace
}

func formatStacktrace(frames []*Stackframe) string {
	var sb strings.Builder
	for _, f := range frames {
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", f.Method, f.File, f.LineNumber)
	}
	return sb.String()
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// stackTraceOf returns the most specific stack trace carried by err: a panic
// stack, then the innermost Wrap call, then the innermost github.com/pkg/errors
// stack. Returns "" when err carries no stack at all.
func stackTraceOf(err error) string {
	var (
		lowest *Error
		traced stackTracer
	)
	for e := err; e != nil; e = errors.Unwrap(e) {
		if b, ok := e.(*Error); ok {
			lowest = b
		}
		if st, ok := e.(stackTracer); ok {
			traced = st
		}
	}
	switch {
	case lowest != nil && lowest.panicStack != "":
		return lowest.panicStack
	case lowest != nil && len(lowest.stacktrace) > 0:
		return formatStacktrace(lowest.stacktrace)
	case traced != nil:
		return strings.TrimPrefix(fmt.Sprintf("%+v", traced.StackTrace()), "\n")
	}
	return ""
}
