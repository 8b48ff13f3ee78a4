package build

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/adapter/notification"
	"github.com/praekelt/sideloader/internal/model"
	"github.com/praekelt/sideloader/internal/pkg/config"
	"github.com/praekelt/sideloader/internal/repository"
	"github.com/praekelt/sideloader/pkg/constants"
)

// ReleaseCreator 构建成功后的自动发布入口, 由发布流水线实现
type ReleaseCreator interface {
	CreateRelease(ctx context.Context, buildID, flowID int64, scheduled *time.Time) (*model.Release, error)
}

// Runner 构建执行器
//
// 每个构建请求派生一个外部构建进程, 输出增量落库, 按退出码与产物判定结果。
type Runner struct {
	cfg    *config.BuildConfig
	logger *zap.Logger

	projects repository.ProjectRepository
	builds   repository.BuildRepository
	numbers  repository.BuildNumberRepository
	flows    repository.FlowRepository

	releases ReleaseCreator
	notifier notification.Notifier

	serverURL string

	// 同项目冷却窗口, 单进程尽力而为的防抖, 不是分布式锁;
	// 进程重启即清空, 不持久化。
	mu        sync.Mutex
	lastBuild map[int64]time.Time
	cooldown  time.Duration
}

// NewRunner 创建构建执行器
func NewRunner(cfg *config.BuildConfig, serverURL string,
	projects repository.ProjectRepository,
	builds repository.BuildRepository,
	numbers repository.BuildNumberRepository,
	flows repository.FlowRepository,
	releases ReleaseCreator,
	notifier notification.Notifier,
	logger *zap.Logger) *Runner {

	return &Runner{
		cfg:       cfg,
		logger:    logger,
		projects:  projects,
		builds:    builds,
		numbers:   numbers,
		flows:     flows,
		releases:  releases,
		notifier:  notifier,
		serverURL: serverURL,
		lastBuild: make(map[int64]time.Time),
		cooldown:  config.ParseDuration(cfg.Cooldown, 30*time.Minute),
	}
}

// validGitURL 源码地址是否可用
func validGitURL(giturl string) bool {
	if strings.HasPrefix(giturl, "git@") {
		return true
	}
	u, err := url.Parse(giturl)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// Start 执行一次构建, 同步阻塞直到终态; 调用方负责并发
func (r *Runner) Start(ctx context.Context, buildID int64) error {
	build, err := r.builds.FindByID(buildID)
	if err != nil {
		return err
	}
	project, err := r.projects.FindByID(build.ProjectID)
	if err != nil {
		return err
	}

	// 冷却窗口内的重复触发静默忽略
	if !r.acquire(project.ID) {
		r.logger.Info("项目处于构建冷却窗口, 忽略本次触发",
			zap.Int64("project_id", project.ID),
			zap.Int64("build_id", buildID))
		return nil
	}

	log := r.logger.Sugar().With(zap.Int64("build_id", buildID), zap.String("project", project.Name))

	if !validGitURL(project.GithubURL) {
		log.Errorf("无效的源码地址: %s", project.GithubURL)
		r.appendLog(buildID, "", fmt.Sprintf("Invalid source URL: %s\n", project.GithubURL))
		_ = r.builds.SetState(buildID, constants.BuildStateFailed)
		r.notify(ctx, project, notification.NotifyBuildFailed,
			fmt.Sprintf("Build <%s|#%d> failed", r.buildLink(buildID), buildID))
		return nil
	}

	repo := project.RepoName()
	num, err := r.numbers.Get(repo)
	if err != nil {
		return err
	}
	num++
	if err := r.numbers.Set(repo, num); err != nil {
		return err
	}

	r.notify(ctx, project, notification.NotifyBuildStart,
		fmt.Sprintf("Build <%s|#%d> started for branch %s", r.buildLink(buildID), num, project.Branch))

	logText, exitErr := r.execute(ctx, buildID, project, num)

	if exitErr != nil {
		log.Errorf("构建进程失败: %v", exitErr)
		_ = r.builds.SetState(buildID, constants.BuildStateFailed)
		r.notify(ctx, project, notification.NotifyBuildFailed,
			fmt.Sprintf("Build <%s|#%d> failed", r.buildLink(buildID), num))
		return nil
	}

	// 退出码为0不足以证明成功, 必须产出包文件
	artifact, err := r.findArtifact()
	if err != nil || artifact == "" {
		log.Errorf("构建退出码为0但未找到产物: %v", err)
		r.appendLog(buildID, logText, "No package artifact produced\n")
		_ = r.builds.SetState(buildID, constants.BuildStateFailed)
		r.notify(ctx, project, notification.NotifyBuildFailed,
			fmt.Sprintf("Build <%s|#%d> failed", r.buildLink(buildID), num))
		return nil
	}

	filename, err := r.archiveArtifact(artifact)
	if err != nil {
		log.Errorf("归档产物失败: %v", err)
		_ = r.builds.SetState(buildID, constants.BuildStateFailed)
		r.notify(ctx, project, notification.NotifyBuildFailed,
			fmt.Sprintf("Build <%s|#%d> failed", r.buildLink(buildID), num))
		return nil
	}

	if err := r.builds.SetFile(buildID, filename); err != nil {
		return err
	}
	if err := r.builds.SetState(buildID, constants.BuildStateSuccess); err != nil {
		return err
	}

	r.notify(ctx, project, notification.NotifyBuildSuccess,
		fmt.Sprintf("Build <%s|#%d> successful", r.buildLink(buildID), num))

	// 构建成功后, 为项目下所有自动发布流创建发布
	r.autoRelease(ctx, buildID, project.ID)

	return nil
}

// acquire 尝试获取项目构建许可
func (r *Runner) acquire(projectID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.lastBuild[projectID]; ok {
		if time.Since(last) < r.cooldown {
			return false
		}
	}
	r.lastBuild[projectID] = time.Now()
	return true
}

// execute 派生外部构建进程, 合并输出逐行落库
func (r *Runner) execute(ctx context.Context, buildID int64, project *model.Project, num int) (string, error) {
	args := []string{
		"--branch", project.Branch,
		"--build", strconv.Itoa(num),
		"--id", project.IDHash,
	}
	if project.DeployFile != "" {
		args = append(args, "--deploy-file", project.DeployFile)
	}
	if project.PackageName != "" {
		args = append(args, "--name", project.PackageName)
	}
	if project.BuildScript != "" {
		args = append(args, "--build-script", project.BuildScript)
	}
	if project.PostinstallScript != "" {
		args = append(args, "--postinst-script", project.PostinstallScript)
	}
	if project.PackageManager != "" {
		args = append(args, "--packman", project.PackageManager)
	}
	if project.DeployType != "" {
		args = append(args, "--dtype", project.DeployType)
	}
	args = append(args, project.GithubURL)

	cmd := exec.CommandContext(ctx, r.cfg.Buildpack, args...)
	cmd.Dir = r.cfg.Workspace

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		text := fmt.Sprintf("Failed to spawn build process: %v\n", err)
		r.appendLog(buildID, "", text)
		return text, err
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		done <- err
	}()

	// 每读到一行即追加持久化, 观察者可以tail进行中的构建。
	// ReadString 不限行长, 管道读尽(io.EOF)才退出, 超长的无换行
	// 输出(\r进度条之类)也会被完整消费而不是堵住子进程。
	var logText strings.Builder
	reader := bufio.NewReader(pr)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			logText.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				logText.WriteString("\n")
			}
			_ = r.builds.UpdateLog(buildID, logText.String())
		}
		if err != nil {
			break
		}
	}

	return logText.String(), <-done
}

// findArtifact 在构建输出目录查找第一个包产物
func (r *Runner) findArtifact() (string, error) {
	dir := filepath.Join(r.cfg.Workspace, "package")
	for _, pattern := range []string{"*.deb", "*.rpm"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", nil
}

// archiveArtifact 将产物移入共享包归档目录, 返回文件名
func (r *Runner) archiveArtifact(artifact string) (string, error) {
	filename := filepath.Base(artifact)
	if err := os.MkdirAll(r.cfg.PackageDir, 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(artifact, filepath.Join(r.cfg.PackageDir, filename)); err != nil {
		return "", err
	}
	return filename, nil
}

// autoRelease 为项目的自动发布流逐个创建发布
func (r *Runner) autoRelease(ctx context.Context, buildID, projectID int64) {
	flows, err := r.flows.ListAutoByProject(projectID)
	if err != nil {
		r.logger.Error("查询自动发布流失败", zap.Error(err))
		return
	}

	for _, flow := range flows {
		if _, err := r.releases.CreateRelease(ctx, buildID, flow.ID, nil); err != nil {
			r.logger.Error("自动创建发布失败",
				zap.Int64("build_id", buildID),
				zap.Int64("flow_id", flow.ID),
				zap.Error(err))
		}
	}
}

// appendLog 在既有日志后追加文本
func (r *Runner) appendLog(buildID int64, current, text string) {
	_ = r.builds.UpdateLog(buildID, current+text)
}

func (r *Runner) buildLink(buildID int64) string {
	return fmt.Sprintf("%s/projects/build/view/%d", r.serverURL, buildID)
}

// notify 发送项目通知, 尽力而为, 不影响构建结果落库
func (r *Runner) notify(ctx context.Context, project *model.Project, typ notification.NotificationType, text string) {
	if !project.Notifications {
		return
	}
	msg := &notification.Message{
		Type:    typ,
		Text:    text,
		Channel: project.SlackChannel,
	}
	if err := r.notifier.Send(ctx, msg); err != nil {
		r.logger.Warn("发送构建通知失败", zap.Error(err))
	}
}
