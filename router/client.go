package router

import (
	"fmt"

	"github.com/sealdice/sealbridge/config"
	"github.com/sealdice/sealbridge/platform"
	"github.com/sealdice/sealbridge/platform/milky"
	"github.com/sealdice/sealbridge/platform/ob11"
)

// Factory 根据账号配置创建协议端
type Factory func(acc config.Account) (platform.Client, error)

// NewClient 默认的协议端工厂
func NewClient(acc config.Account) (platform.Client, error) {
	switch acc.Protocol {
	case config.ProtocolOneBot11:
		return ob11.New(acc.OneBot11, acc.Uin), nil
	case config.ProtocolMilky:
		return milky.New(acc.Milky, acc.Uin), nil
	}
	return nil, fmt.Errorf("unknown protocol %q", acc.Protocol)
}
