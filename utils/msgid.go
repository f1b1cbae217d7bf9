package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// ErrMalformedMessageID 消息ID格式错误
var ErrMalformedMessageID = errors.New("malformed message id")

const (
	fieldSep = " "
	listSep  = "-"
)

// MessageID 可逆的消息ID，由目标、序号、随机数与可选时间组成
//
// 编码格式: "<target> <seq-seq...> <rand-rand...>[ <time>]"
// 列表项为负数时保留符号，因此分隔符后紧跟的 '-' 视为下一个数的符号：
// "1--5" 表示 [1, -5]，"-5-3" 表示 [-5, 3]。
type MessageID struct {
	Target int64
	Seqs   []int32
	Rands  []int32
	Time   *int32
}

// String 等价于 EncodeMessageID
func (id MessageID) String() string {
	return EncodeMessageID(id.Target, id.Seqs, id.Rands, id.Time)
}

// EncodeMessageID 编码消息ID
func EncodeMessageID(target int64, seqs, rands []int32, t *int32) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(target, 10))
	b.WriteString(fieldSep)
	writeList(&b, seqs)
	b.WriteString(fieldSep)
	writeList(&b, rands)
	if t != nil {
		b.WriteString(fieldSep)
		b.WriteString(strconv.FormatInt(int64(*t), 10))
	}
	return b.String()
}

func writeList(b *strings.Builder, items []int32) {
	for i, v := range items {
		if i > 0 {
			b.WriteString(listSep)
		}
		b.WriteString(strconv.FormatInt(int64(v), 10))
	}
}

// DecodeMessageID 解析消息ID，任何格式问题都返回包装了 ErrMalformedMessageID 的错误
func DecodeMessageID(s string) (MessageID, error) {
	var id MessageID
	fields := strings.Split(s, fieldSep)
	if len(fields) != 3 && len(fields) != 4 {
		return id, fmt.Errorf("%w: expect 3 or 4 fields, got %d", ErrMalformedMessageID, len(fields))
	}

	target, err := parseSigned[int64](fields[0], 64)
	if err != nil {
		return id, fmt.Errorf("%w: target: %v", ErrMalformedMessageID, err)
	}
	seqs, err := parseList[int32](fields[1], 32)
	if err != nil {
		return id, fmt.Errorf("%w: seqs: %v", ErrMalformedMessageID, err)
	}
	rands, err := parseList[int32](fields[2], 32)
	if err != nil {
		return id, fmt.Errorf("%w: rands: %v", ErrMalformedMessageID, err)
	}

	id.Target = target
	id.Seqs = seqs
	id.Rands = rands

	if len(fields) == 4 {
		t, err := parseSigned[int32](fields[3], 32)
		if err != nil {
			return MessageID{}, fmt.Errorf("%w: time: %v", ErrMalformedMessageID, err)
		}
		id.Time = &t
	}
	return id, nil
}

func parseSigned[T constraints.Signed](s string, bits int) (T, error) {
	if s == "" {
		return 0, errors.New("empty number")
	}
	v, err := strconv.ParseInt(s, 10, bits)
	if err != nil {
		return 0, err
	}
	return T(v), nil
}

func parseList[T constraints.Signed](s string, bits int) ([]T, error) {
	if s == "" {
		return nil, errors.New("empty list")
	}
	parts := strings.Split(s, listSep)
	out := make([]T, 0, len(parts))
	negative := false
	for i, p := range parts {
		if p == "" {
			// 空片段只能作为下一个数的负号出现
			if negative || i == len(parts)-1 {
				return nil, fmt.Errorf("dangling %q in %q", listSep, s)
			}
			negative = true
			continue
		}
		if negative {
			p = "-" + p
			negative = false
		}
		v, err := parseSigned[T](p, bits)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
