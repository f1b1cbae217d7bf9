package types

import "github.com/Masterminds/semver/v3"

var (
	VERSION = semver.MustParse(VERSION_MAIN + VERSION_PRERELEASE + VERSION_BUILD_METADATA)

	// VERSION_MAIN 主版本号
	VERSION_MAIN = "0.3.0"
	// VERSION_PRERELEASE 先行版本号
	VERSION_PRERELEASE = "-beta"
	// VERSION_BUILD_METADATA 版本编译信息，构建时注入
	VERSION_BUILD_METADATA = ""
)

// OneBotVersion 实现的 OneBot 标准版本
const OneBotVersion = "12"

// VersionInfo get_version 的返回值
func VersionInfo() map[string]any {
	return map[string]any{
		"impl":           ImplName,
		"version":        VERSION.String(),
		"onebot_version": OneBotVersion,
	}
}
