// Copyright 2023 QuarkDB
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qerr

import (
	"context"
	"fmt"
)

// Error codes of the execution engine. A nil error means OK; there is no
// Ok *Error instance, same as there is no nil-but-typed error in Go.
const (
	// 0 - 99 is the OK band. These are not failures, they signal special
	// success conditions and are tested by identity, never allocated.
	Ok            uint16 = 0
	OkExpectedEOF uint16 = 1 // source drained, not an error

	OkMax uint16 = 99

	// Group 1: internal errors
	ErrStart     uint16 = 20100
	ErrInternal  uint16 = 20101
	ErrNYI       uint16 = 20102
	ErrOOM       uint16 = 20103
	ErrPanic     uint16 = 20104
	ErrBadConfig uint16 = 20105

	// Group 2: fragment lifecycle
	ErrQueryCancelled     uint16 = 20200
	ErrQueryTimedOut      uint16 = 20201
	ErrFragmentPrepare    uint16 = 20202
	ErrFragmentNotFound   uint16 = 20203
	ErrDriverPoolClosed   uint16 = 20204
	ErrInvalidState       uint16 = 20205
	ErrDuplicateFragment  uint16 = 20206
	ErrRuntimeFilterState uint16 = 20207

	// Group 3: execution
	ErrExecution     uint16 = 20300
	ErrScanRange     uint16 = 20301
	ErrExchangeClose uint16 = 20302

	// Group End: max value of quark error code
	ErrEnd uint16 = 65535
)

type item struct {
	format string
}

var errorMsgRefer = map[uint16]item{
	ErrInternal:  {"internal error: %s"},
	ErrNYI:       {"%s is not yet implemented"},
	ErrOOM:       {"out of memory"},
	ErrPanic:     {"panic: %v"},
	ErrBadConfig: {"invalid configuration: %s"},

	ErrQueryCancelled:     {"query cancelled"},
	ErrQueryTimedOut:      {"query timed out: %s"},
	ErrFragmentPrepare:    {"fragment prepare failed: %s"},
	ErrFragmentNotFound:   {"fragment instance %s not found"},
	ErrDriverPoolClosed:   {"driver execution pool is closed"},
	ErrInvalidState:       {"invalid state: %s"},
	ErrDuplicateFragment:  {"fragment instance %s already populated"},
	ErrRuntimeFilterState: {"runtime filter %d: %s"},

	ErrExecution:     {"execution error: %s"},
	ErrScanRange:     {"invalid scan range [%d, %d)"},
	ErrExchangeClose: {"local exchange closed"},
}

func newError(ctx context.Context, code uint16, args ...any) *Error {
	it, has := errorMsgRefer[code]
	if !has {
		panic(fmt.Sprintf("unknown quark error code: %d", code))
	}
	var err *Error
	if len(args) == 0 {
		err = &Error{code: code, message: it.format}
	} else {
		err = &Error{code: code, message: fmt.Sprintf(it.format, args...)}
	}
	return err
}

// Error is the only error type the engine records and reports. It is
// immutable after construction; a *Error published through an atomic
// pointer is safe to read from any goroutine.
type Error struct {
	code    uint16
	message string
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) ErrorCode() uint16 {
	return e.code
}

func (e *Error) Succeeded() bool {
	return e.code < OkMax
}

// IsQErrCode reports whether e carries the given code. nil matches Ok.
func IsQErrCode(e error, rc uint16) bool {
	if e == nil {
		return rc == Ok
	}
	qe, ok := e.(*Error)
	if !ok {
		return false
	}
	return qe.code == rc
}

// IsCancelled reports whether e is a cancellation, from either an explicit
// cancel request or a deadline.
func IsCancelled(e error) bool {
	return IsQErrCode(e, ErrQueryCancelled) || IsQErrCode(e, ErrQueryTimedOut)
}

func DowncastError(e error) *Error {
	if err, ok := e.(*Error); ok {
		return err
	}
	return newError(Context(), ErrInternal, fmt.Sprintf("downcast error failed: %v", e))
}

// ConvertPanicError converts a recovered panic value to an engine error.
func ConvertPanicError(ctx context.Context, v any) *Error {
	if e, ok := v.(*Error); ok {
		return e
	}
	return newError(ctx, ErrPanic, v)
}

// ConvertGoError converts a plain go error into an engine error. Note we
// must return error here: a nil *Error is not a nil error.
func ConvertGoError(ctx context.Context, err error) error {
	if err == nil {
		return err
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	return NewInternalError(ctx, "%v", err)
}

// Context returns the ambient context used when the caller has none.
func Context() context.Context {
	return context.Background()
}

var errOkExpectedEOF = Error{OkExpectedEOF, "ExpectedEOF"}

// GetOkExpectedEOF returns the shared end-of-source signal. It is used in
// tight scan loops, so it is never allocated.
func GetOkExpectedEOF() *Error {
	return &errOkExpectedEOF
}

func NewInternalError(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrInternal, fmt.Sprintf(msg, args...))
}

func NewNYI(ctx context.Context, what string) *Error {
	return newError(ctx, ErrNYI, what)
}

func NewOOM(ctx context.Context) *Error {
	return newError(ctx, ErrOOM)
}

func NewBadConfig(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrBadConfig, fmt.Sprintf(msg, args...))
}

func NewQueryCancelled(ctx context.Context) *Error {
	return newError(ctx, ErrQueryCancelled)
}

func NewQueryTimedOut(ctx context.Context, msg string) *Error {
	return newError(ctx, ErrQueryTimedOut, msg)
}

func NewFragmentPrepare(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrFragmentPrepare, fmt.Sprintf(msg, args...))
}

func NewFragmentNotFound(ctx context.Context, id string) *Error {
	return newError(ctx, ErrFragmentNotFound, id)
}

func NewDriverPoolClosed(ctx context.Context) *Error {
	return newError(ctx, ErrDriverPoolClosed)
}

func NewInvalidState(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrInvalidState, fmt.Sprintf(msg, args...))
}

func NewDuplicateFragment(ctx context.Context, id string) *Error {
	return newError(ctx, ErrDuplicateFragment, id)
}

func NewRuntimeFilterState(ctx context.Context, filterID int32, msg string) *Error {
	return newError(ctx, ErrRuntimeFilterState, filterID, msg)
}

func NewExecution(ctx context.Context, msg string, args ...any) *Error {
	return newError(ctx, ErrExecution, fmt.Sprintf(msg, args...))
}

func NewScanRange(ctx context.Context, begin, end int64) *Error {
	return newError(ctx, ErrScanRange, begin, end)
}

func NewExchangeClose(ctx context.Context) *Error {
	return newError(ctx, ErrExchangeClose)
}
