package types

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
)

// Action OneBot v12 动作请求
type Action struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
	Echo   json.RawMessage `json:"echo,omitempty"`
	Self   *Self           `json:"self,omitempty"`
}

// NewAction 构造动作，params 会被序列化为 JSON
func NewAction(name string, params any) *Action {
	raw, err := json.Marshal(params)
	if err != nil || params == nil {
		raw = []byte("{}")
	}
	return &Action{Action: name, Params: raw}
}

// WithSelf 指定处理该动作的账号
func (a *Action) WithSelf(userID string) *Action {
	a.Self = &Self{Platform: PlatformName, UserID: userID}
	return a
}

func (a *Action) Param() Params {
	return Params{r: gjson.ParseBytes(a.Params)}
}

// Params 动作参数访问，缺失或类型错误时返回 BadParam
type Params struct {
	r gjson.Result
}

func (p Params) Has(key string) bool {
	v := p.r.Get(key)
	return v.Exists() && v.Type != gjson.Null
}

func (p Params) Raw(key string) gjson.Result { return p.r.Get(key) }

func (p Params) String(key string) (string, error) {
	v := p.r.Get(key)
	switch v.Type {
	case gjson.String:
		return v.Str, nil
	case gjson.Number:
		return v.Raw, nil
	}
	return "", BadParam("param %s must be a string", key)
}

func (p Params) OptString(key, def string) (string, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.String(key)
}

// Int64 接受数字或十进制字符串
func (p Params) Int64(key string) (int64, error) {
	v := p.r.Get(key)
	switch v.Type {
	case gjson.Number:
		n, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			return 0, BadParam("param %s must be an integer", key)
		}
		return n, nil
	case gjson.String:
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return 0, BadParam("param %s must be an integer", key)
		}
		return n, nil
	}
	return 0, BadParam("param %s required", key)
}

func (p Params) OptInt64(key string, def int64) (int64, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.Int64(key)
}

func (p Params) Bool(key string) (bool, error) {
	v := p.r.Get(key)
	switch v.Type {
	case gjson.True:
		return true, nil
	case gjson.False:
		return false, nil
	}
	return false, BadParam("param %s must be a bool", key)
}

func (p Params) OptBool(key string, def bool) (bool, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.Bool(key)
}

// OptFloat 用于秒级超时等参数
func (p Params) OptFloat(key string, def float64) (float64, error) {
	if !p.Has(key) {
		return def, nil
	}
	v := p.r.Get(key)
	if v.Type != gjson.Number {
		return 0, BadParam("param %s must be a number", key)
	}
	return v.Num, nil
}

func (p Params) Segments(key string) (Segments, error) {
	v := p.r.Get(key)
	if !v.Exists() {
		return nil, BadParam("param %s required", key)
	}
	return ParseSegments(v)
}

// Bytes 读取 base64 编码的数据
func (p Params) Bytes(key string) ([]byte, error) {
	s, err := p.String(key)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, BadParam("param %s is not valid base64", key)
	}
	return data, nil
}
