package wire

import "fmt"

// InvokeStatus is the application status of an Invoke response.
type InvokeStatus int8

const (
	InvokeOK                    InvokeStatus = 0
	InvokeOKButNotFound         InvokeStatus = 1  // nothing existed and nothing was created
	InvokeBadProcessorName      InvokeStatus = -1 // no processor registered under the name
	InvokeBadConstructor        InvokeStatus = -2 // registered without a constructor
	InvokeConstructorDenied     InvokeStatus = -3 // constructor refused to build in this context
	InvokeConstructorNil        InvokeStatus = -4 // constructor returned no processor
	InvokeConstructorArgument   InvokeStatus = -6 // constructor rejected its configuration
	InvokeConstructorFailed     InvokeStatus = -7 // constructor failed or panicked
	InvokeProcessorFailed       InvokeStatus = -8 // processor declared a failure
	InvokeProcessorRuntimeError InvokeStatus = -9 // processor failed unexpectedly
)

func (s InvokeStatus) String() string {
	switch s {
	case InvokeOK:
		return "OK"
	case InvokeOKButNotFound:
		return "OK_BUT_NOT_FOUND"
	case InvokeBadProcessorName:
		return "BAD_PROCESSOR_NAME"
	case InvokeBadConstructor:
		return "BAD_CONSTRUCTOR"
	case InvokeConstructorDenied:
		return "CONSTRUCTOR_DENIED"
	case InvokeConstructorNil:
		return "CONSTRUCTOR_NIL"
	case InvokeConstructorArgument:
		return "CONSTRUCTOR_ARGUMENT"
	case InvokeConstructorFailed:
		return "CONSTRUCTOR_FAILED"
	case InvokeProcessorFailed:
		return "PROCESSOR_FAILED"
	case InvokeProcessorRuntimeError:
		return "PROCESSOR_RUNTIME_ERROR"
	default:
		return fmt.Sprintf("INVOKE_STATUS(%d)", int8(s))
	}
}

func (s InvokeStatus) OK() bool { return s == InvokeOK || s == InvokeOKButNotFound }

// IsConfigError reports a failure to resolve or build the processor.
func (s InvokeStatus) IsConfigError() bool { return s >= InvokeConstructorFailed && s <= InvokeBadProcessorName }

// IsProcessorError reports a failure raised while the processor ran.
func (s InvokeStatus) IsProcessorError() bool {
	return s == InvokeProcessorFailed || s == InvokeProcessorRuntimeError
}
