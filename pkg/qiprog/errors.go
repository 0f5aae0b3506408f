package qiprog

import "errors"

// Error taxonomy. Callers match with errors.Is; everything past the kind is
// diagnostic text only. None of these are retried automatically — the caller
// restarts an operation by naming the exact chip range it wants.
var (
	// ErrArgument reports an illegal argument: nil device, missing driver,
	// impossible size, or an over-length control body.
	ErrArgument = errors.New("qiprog: invalid argument")

	// ErrAlloc reports an allocation failure during registry growth or
	// device creation.
	ErrAlloc = errors.New("qiprog: allocation failed")

	// ErrTimeout reports a wire operation that exceeded its deadline.
	ErrTimeout = errors.New("qiprog: operation timed out")

	// ErrChipTimeout reports that the attached flash chip did not respond
	// in time.
	ErrChipTimeout = errors.New("qiprog: flash chip timed out")

	// ErrNoResponse reports that the flash chip produced no identifiable
	// data.
	ErrNoResponse = errors.New("qiprog: flash chip did not respond")

	// ErrDevice is the generic failure: transport error, protocol STALL,
	// short transfer, or any other unrecovered condition.
	ErrDevice = errors.New("qiprog: device error")
)
