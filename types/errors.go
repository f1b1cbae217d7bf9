package types

import (
	"errors"
	"fmt"
)

// OneBot v12 返回码
const (
	CodeOK                int64 = 0
	CodeBadRequest        int64 = 10001
	CodeUnsupportedAction int64 = 10002
	CodeBadParam          int64 = 10003
	CodeUnsupportedParam  int64 = 10004
	CodeUnsupportedSeg    int64 = 10005
	CodeWhoAmI            int64 = 10101
	CodeUnknownSelf       int64 = 10102
	CodeInternalHandler   int64 = 20002
	CodeFileOpen          int64 = 31001
	CodeFileRead          int64 = 31002
	CodeFileCreate        int64 = 31003
	CodeFileWrite         int64 = 31004
	CodeNetwork           int64 = 32001
	CodePlatform          int64 = 33001
	CodePermissionDenied  int64 = 34001
	CodeRiskControlled    int64 = 34002
	CodeMessageNotExist   int64 = 35001
	CodeImageNotExist     int64 = 35002
	CodeImageUnuploaded   int64 = 35003
	CodeImageURL          int64 = 35004
	CodeImagePath         int64 = 35005
	CodeImageData         int64 = 35006
	CodeFriendNotExist    int64 = 35007
	CodeGroupNotExist     int64 = 35008
	CodeRequestNotExist   int64 = 35009
	CodeFragmentNotExist  int64 = 35010
)

// RespError 动作执行失败，携带返回码
type RespError struct {
	Code    int64
	Message string
	Err     error
}

func (e *RespError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *RespError) Unwrap() error { return e.Err }

// Is 同返回码的 RespError 视为相同
func (e *RespError) Is(target error) bool {
	var t *RespError
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Message == ""
	}
	return false
}

func newErr(code int64, format string, a ...any) *RespError {
	return &RespError{Code: code, Message: fmt.Sprintf(format, a...)}
}

// Wrap 附加底层错误
func (e *RespError) Wrap(err error) *RespError {
	e.Err = err
	return e
}

// 用于 errors.Is 比较的哨兵
var (
	ErrBadParam          = &RespError{Code: CodeBadParam}
	ErrUnsupportedAction = &RespError{Code: CodeUnsupportedAction}
	ErrUnknownSelf       = &RespError{Code: CodeUnknownSelf}
	ErrPermission        = &RespError{Code: CodePermissionDenied}
	ErrRiskControlled    = &RespError{Code: CodeRiskControlled}
	ErrMessageNotExist   = &RespError{Code: CodeMessageNotExist}
	ErrImageUnuploaded   = &RespError{Code: CodeImageUnuploaded}
	ErrFragmentNotExist  = &RespError{Code: CodeFragmentNotExist}
)

func BadRequest(format string, a ...any) *RespError { return newErr(CodeBadRequest, format, a...) }
func UnsupportedAction(action string) *RespError {
	return newErr(CodeUnsupportedAction, "unsupported action: %s", action)
}
func BadParam(format string, a ...any) *RespError { return newErr(CodeBadParam, format, a...) }
func UnsupportedParam(format string, a ...any) *RespError {
	return newErr(CodeUnsupportedParam, format, a...)
}
func UnsupportedSegment(typ string) *RespError {
	return newErr(CodeUnsupportedSeg, "unsupported segment: %s", typ)
}
func UnknownSelf(selfID string) *RespError { return newErr(CodeUnknownSelf, "unknown self: %s", selfID) }
func InternalHandler(format string, a ...any) *RespError {
	return newErr(CodeInternalHandler, format, a...)
}
func FileOpen(err error) *RespError  { return newErr(CodeFileOpen, "file open failed").Wrap(err) }
func FileRead(err error) *RespError  { return newErr(CodeFileRead, "file read failed").Wrap(err) }
func FileCreate(err error) *RespError { return newErr(CodeFileCreate, "file create failed").Wrap(err) }
func FileWrite(err error) *RespError { return newErr(CodeFileWrite, "file write failed").Wrap(err) }
func Network(err error) *RespError   { return newErr(CodeNetwork, "network error").Wrap(err) }

// PlatformError 平台调用失败，保留平台返回的信息
func PlatformError(err error) *RespError {
	return &RespError{Code: CodePlatform, Message: err.Error(), Err: err}
}
func PermissionDenied(format string, a ...any) *RespError {
	return newErr(CodePermissionDenied, format, a...)
}
func RiskControlled() *RespError { return newErr(CodeRiskControlled, "message blocked by risk control") }
func MessageNotExist(id string) *RespError {
	return newErr(CodeMessageNotExist, "message not exist: %s", id)
}
func ImageNotExist(id string) *RespError { return newErr(CodeImageNotExist, "file not exist: %s", id) }
func ImageUnuploaded(format string, a ...any) *RespError {
	return newErr(CodeImageUnuploaded, format, a...)
}
func ImageURL(id string) *RespError  { return newErr(CodeImageURL, "file %s has no url", id) }
func ImagePath(id string) *RespError { return newErr(CodeImagePath, "file %s has no local path", id) }
func ImageData(id string) *RespError { return newErr(CodeImageData, "file %s has no data", id) }
func FriendNotExist(id int64) *RespError {
	return newErr(CodeFriendNotExist, "friend not exist: %d", id)
}
func GroupNotExist(id int64) *RespError { return newErr(CodeGroupNotExist, "group not exist: %d", id) }
func RequestNotExist(id string) *RespError {
	return newErr(CodeRequestNotExist, "request not exist: %s", id)
}
func FragmentNotExist(id string) *RespError {
	return newErr(CodeFragmentNotExist, "fragmented upload not exist: %s", id)
}

// AsRespError 将任意错误归一为 RespError，未知错误视为 InternalHandler
func AsRespError(err error) *RespError {
	var re *RespError
	if errors.As(err, &re) {
		return re
	}
	return InternalHandler("%v", err).Wrap(err)
}
