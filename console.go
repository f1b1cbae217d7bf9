package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/sealdice/sealbridge/bot"
	"github.com/sealdice/sealbridge/router"
	"github.com/sealdice/sealbridge/types"
)

var historyFn = filepath.Join(os.TempDir(), ".sealbridge_history")

// console 调试控制台
//
// 每行是一个完整的 JSON 动作，或者 "动作名 {参数}" 的简写
type console struct {
	line    *liner.State
	handler router.ActionHandler
}

func newConsole(h router.ActionHandler) (*console, error) {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	names := append(bot.Actions(), "get_status", "get_version")
	line.SetCompleter(func(input string) (c []string) {
		for _, n := range names {
			if strings.HasPrefix(n, strings.ToLower(input)) {
				c = append(c, n)
			}
		}
		return
	})

	if f, err := os.Open(historyFn); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	return &console{line: line, handler: h}, nil
}

func (c *console) Close() {
	if f, err := os.Create(historyFn); err != nil {
		fmt.Println("Error writing history file: ", err)
	} else {
		_, _ = c.line.WriteHistory(f)
		_ = f.Close()
	}
	_ = c.line.Close()
}

// Loop 读取输入直到 Ctrl-C 或 EOF，之后调用 stop
func (c *console) Loop(ctx context.Context, stop context.CancelFunc) {
	defer stop()
	fmt.Printf("%s %s 调试控制台，Ctrl-C 退出\n", types.ImplName, types.VERSION)

	for ctx.Err() == nil {
		text, err := c.line.Prompt("> ")
		if err == liner.ErrPromptAborted {
			fmt.Println("Interrupted")
			return
		}
		if err != nil {
			return
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		c.line.AppendHistory(text)

		a, err := parseAction(text)
		if err != nil {
			fmt.Printf("错误: %v\n", err)
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		resp := c.handler.Call(callCtx, a)
		cancel()
		out, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(out))
	}
}

func parseAction(text string) (*types.Action, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") {
		a := &types.Action{}
		if err := json.Unmarshal([]byte(text), a); err != nil {
			return nil, err
		}
		if a.Action == "" {
			return nil, fmt.Errorf("缺少 action")
		}
		return a, nil
	}

	name, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		rest = "{}"
	}
	if !json.Valid([]byte(rest)) {
		return nil, fmt.Errorf("参数不是合法的 JSON: %s", rest)
	}
	return &types.Action{Action: name, Params: json.RawMessage(rest)}, nil
}
