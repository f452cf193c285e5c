package rpcerr

import (
	"errors"
	"fmt"

	"storj.io/drpc/drpcerr"
)

var (
	Unexpected = RegisterErr(errors.New("unexpected"), 1)
)

var (
	errsMap = make(map[uint64]error)
)

// RegisterErr attaches a numeric code to err and remembers it for Err/Unwrap lookups.
// Codes are global, registering the same code twice panics.
func RegisterErr(err error, code uint64) error {
	if e, ok := errsMap[code]; ok {
		panic(fmt.Errorf("attempt to register error with existing code: %d; registered error: %v", code, e))
	}
	errWithCode := drpcerr.WithCode(err, code)
	errsMap[code] = errWithCode
	return errWithCode
}

// Code returns the code of err or of the first error in its tree carrying one
func Code(err error) uint64 {
	var coded interface{ Code() uint64 }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return 0
}

// Coded lifts the code found anywhere in the tree of err to the top, so it survives the drpc wire
func Coded(err error) error {
	return drpcerr.WithCode(err, Code(err))
}

func Err(code uint64) error {
	err, ok := errsMap[code]
	if !ok {
		return drpcerr.WithCode(fmt.Errorf("unexpected error, code: %d", code), code)
	}
	return err
}

// Unwrap maps an error received by code back to the registered sentinel
func Unwrap(e error) error {
	code := Code(e)
	if code == 0 {
		return e
	}
	err, ok := errsMap[code]
	if !ok {
		return drpcerr.WithCode(fmt.Errorf("unexpected error: %w; code: %d", e, code), code)
	}
	return err
}

type ErrGroup int64

func (g ErrGroup) Register(err error, code uint64) error {
	return RegisterErr(err, uint64(g)+code)
}
