package mr

import "errors"

var (
	// ErrInvalidArgument indicates a malformed size, alignment or stream.
	ErrInvalidArgument = errors.New("mr: invalid argument")

	// ErrOutOfMemory indicates that no resource in the chain could satisfy the
	// request, or that a configured ceiling would be exceeded.
	ErrOutOfMemory = errors.New("mr: out_of_memory")

	// ErrLogic indicates misuse, such as a missing required configuration.
	ErrLogic = errors.New("mr: logic error")

	// ErrRuntime indicates a device failure unrelated to memory exhaustion.
	ErrRuntime = errors.New("mr: runtime error")
)
