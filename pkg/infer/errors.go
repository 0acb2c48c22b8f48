package infer

// inferError is a simple error type for the infer package
type inferError string

func (e inferError) Error() string { return string(e) }

// Errors for inference operations
const (
	ErrNoOutputs          = inferError("engine returned no outputs")
	ErrSessionClosed      = inferError("session is closed")
	ErrEngineClosed       = inferError("engine is closed")
	ErrInvalidInput       = inferError("invalid input data")
	ErrInputSizeMismatch  = inferError("input size mismatch")
	ErrInferenceTimeout   = inferError("inference timed out")
	ErrInvalidTensor      = inferError("invalid tensor")
	ErrUnsupportedLayout  = inferError("unsupported tensor layout")
	ErrUnsupportedType    = inferError("unsupported tensor data type")
	ErrBufferSizeMismatch = inferError("buffer size mismatch")
)
