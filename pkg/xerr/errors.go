package xerr

import (
	"errors"
	"fmt"
)

// Error codes. HTTP-flavoured numbers are kept so callers that translate to a
// chat reply or a status line can share one table.
const (
	OK                    = 200
	Validation            = 400
	NotFound              = 404
	InsufficientLiquidity = 409
	PriceMoved            = 412
	DataIntegrity         = 422
	MustClaim             = 423
	RateLimited           = 429
	TaskFailed            = 500
	Timeout               = 504
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	// cause is logged, never shown to users
	cause error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.cause }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap attaches code and a user-facing msg to err. A nil err stays nil.
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, cause: err}
}

// Code returns the code of the first CodeError in err's chain, or 0.
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func Is(err error, code int) bool {
	return err != nil && Code(err) == code
}

// UserMessage is the text safe to show an end user for err.
func UserMessage(err error) string {
	var ce *CodeError
	if errors.As(err, &ce) && ce.Msg != "" {
		return ce.Msg
	}
	return MapErrMsg(TaskFailed)
}

func MapErrMsg(code int) string {
	switch code {
	case Validation:
		return "That request isn't valid."
	case NotFound:
		return "That item or order couldn't be found."
	case InsufficientLiquidity:
		return "There aren't enough orders to fill that request."
	case PriceMoved:
		return "The price changed before your order went through."
	case DataIntegrity:
		return "This item is misconfigured and can't be used right now."
	case MustClaim:
		return "Claim your filled items before cancelling this order."
	case RateLimited:
		return "You're doing that too fast."
	case Timeout:
		return "That took too long. Please try again."
	case TaskFailed:
		return "Something went wrong while processing that."
	default:
		return "Unknown error."
	}
}
