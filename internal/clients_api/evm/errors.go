package evm

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrAllEndpointsFailed = errors.New("all RPC endpoints failed")
	// ErrEmptyResult is returned when a call yields "0x" (no contract code, reverted view).
	ErrEmptyResult    = errors.New("empty RPC result")
	ErrInvalidAddress = errors.New("invalid address")
	ErrNoLiquidity    = errors.New("pair has no liquidity")
)

// AllEndpointsFailedError describes one exhausted failover walk.
type AllEndpointsFailedError struct {
	Network  string
	Attempts int
	Last     error
}

func (e *AllEndpointsFailedError) Error() string {
	return fmt.Sprintf("all RPC endpoints failed for %s after %d attempts: %v", e.Network, e.Attempts, e.Last)
}

func (e *AllEndpointsFailedError) Is(target error) bool {
	return target == ErrAllEndpointsFailed
}

func (e *AllEndpointsFailedError) Unwrap() error {
	return e.Last
}

// RPCError is a JSON-RPC level error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}
