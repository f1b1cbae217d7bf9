package types

import "encoding/json"

// Resp OneBot v12 动作响应
type Resp struct {
	Status  string          `json:"status"`
	Retcode int64           `json:"retcode"`
	Data    any             `json:"data"`
	Message string          `json:"message"`
	Echo    json.RawMessage `json:"echo,omitempty"`
}

func OK(data any) *Resp {
	return &Resp{Status: "ok", Retcode: CodeOK, Data: data}
}

// Failed 由错误构造失败响应
func Failed(err error) *Resp {
	re := AsRespError(err)
	msg := re.Message
	if msg == "" && re.Err != nil {
		msg = re.Err.Error()
	}
	return &Resp{Status: "failed", Retcode: re.Code, Message: msg}
}

func (r *Resp) WithEcho(echo json.RawMessage) *Resp {
	r.Echo = echo
	return r
}

func (r *Resp) IsOK() bool { return r.Status == "ok" }
