package release

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/praekelt/sideloader/internal/model"
)

// StreamExecutor 包流推送命令执行器, 测试中可替换
type StreamExecutor interface {
	// Push 执行推送命令, 命令中的 %s 替换为包文件路径
	Push(ctx context.Context, command, packagePath string) (string, error)
}

// ShellExecutor 通过 sh -c 执行推送命令
type ShellExecutor struct{}

func (ShellExecutor) Push(ctx context.Context, command, packagePath string) (string, error) {
	rendered := strings.ReplaceAll(command, "%s", packagePath)
	cmd := exec.CommandContext(ctx, "sh", "-c", rendered)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// artifactPath 构建产物在归档目录中的绝对路径
func (p *Pipeline) artifactPath(build *model.Build) string {
	return filepath.Join(p.packageDir, build.BuildFile)
}
