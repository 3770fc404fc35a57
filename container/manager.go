// Package container runs script commands inside a Docker container that
// bind-mounts the workspace.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/everydev1618/devins/process"
)

const (
	LabelWorkspace  = "devins.workspace"
	LabelManagedBy  = "devins.managed-by"
	DefaultImage    = "golang:1.25"
	containerPrefix = "devins-"
	mountPoint      = "/workspace"
)

// ErrDockerUnavailable is returned when no Docker daemon could be reached.
var ErrDockerUnavailable = errors.New("docker not available")

// Manager runs commands in a per-workspace container.
type Manager struct {
	client     *client.Client
	root       string
	name       string
	defaultImg string
	user       string
	mu         sync.RWMutex
	available  bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithImage sets the container image.
func WithImage(img string) ManagerOption {
	return func(m *Manager) {
		m.defaultImg = img
	}
}

// WithUser sets the uid:gid commands run as.
func WithUser(user string) ManagerOption {
	return func(m *Manager) {
		m.user = user
	}
}

// NewManager creates a container manager for the workspace at root.
// If Docker is unavailable, it returns a Manager with IsAvailable() == false.
func NewManager(root string, opts ...ManagerOption) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	m := &Manager{
		root:       abs,
		name:       containerPrefix + sanitize(filepath.Base(abs)),
		defaultImg: DefaultImage,
		user:       "1000:1000",
	}

	for _, opt := range opts {
		opt(m)
	}

	cli, err := createDockerClient()
	if err != nil {
		return m, nil
	}

	m.client = cli
	m.available = true
	return m, nil
}

// createDockerClient tries DOCKER_HOST first, then common socket locations.
func createDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := cli.Ping(ctx); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	socketPaths := []string{
		"unix://" + os.Getenv("HOME") + "/.docker/run/docker.sock", // Docker Desktop macOS
		"unix:///var/run/docker.sock",                               // Linux default
		"unix://" + os.Getenv("HOME") + "/.colima/docker.sock",     // Colima
	}

	for _, socketPath := range socketPaths {
		cli, err := client.NewClientWithOpts(
			client.WithHost(socketPath),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = cli.Ping(ctx)
		cancel()

		if err == nil {
			return cli, nil
		}
		cli.Close()
	}

	return nil, fmt.Errorf("could not connect to Docker daemon")
}

// IsAvailable returns whether Docker is available.
func (m *Manager) IsAvailable() bool {
	return m.available
}

// Name returns the container name for this workspace.
func (m *Manager) Name() string {
	return m.name
}

// Start ensures the workspace container exists and is running.
func (m *Manager) Start(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.available {
		return "", ErrDockerUnavailable
	}

	if existing, err := m.getContainer(ctx); err == nil {
		inspect, err := m.client.ContainerInspect(ctx, existing)
		if err == nil {
			if inspect.State.Running {
				return existing, nil
			}
			if err := m.client.ContainerStart(ctx, existing, container.StartOptions{}); err != nil {
				return "", fmt.Errorf("failed to start existing container: %w", err)
			}
			return existing, nil
		}
	}

	if err := m.ensureImage(ctx, m.defaultImg); err != nil {
		return "", fmt.Errorf("failed to pull image: %w", err)
	}

	containerCfg := &container.Config{
		Image:      m.defaultImg,
		WorkingDir: mountPoint,
		Labels: map[string]string{
			LabelWorkspace: m.root,
			LabelManagedBy: "devins",
		},
		Tty:       true,
		OpenStdin: true,
		Cmd:       []string{"tail", "-f", "/dev/null"}, // Keep container running
		User:      m.user,
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: m.root,
				Target: mountPoint,
			},
		},
		NetworkMode: "host",
	}

	resp, err := m.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, m.name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	return resp.ID, nil
}

// Remove stops and removes the workspace container.
func (m *Manager) Remove(ctx context.Context) error {
	if !m.available {
		return ErrDockerUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	containerID, err := m.getContainer(ctx)
	if err != nil {
		return nil // Container doesn't exist, that's fine
	}

	timeout := 5
	_ = m.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})

	return m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// Run executes cmd inside the workspace container, starting it if needed.
// Relative working directories resolve under the mount point.
func (m *Manager) Run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	if !m.available {
		return nil, ErrDockerUnavailable
	}

	m.mu.RLock()
	containerID, err := m.getContainer(ctx)
	m.mu.RUnlock()
	if err != nil {
		containerID, err = m.Start(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to auto-start container: %w", err)
		}
	}

	workDir := mountPoint
	if cmd.Dir != "" {
		workDir = m.containerPath(cmd.Dir)
	}

	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = process.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCfg := container.ExecOptions{
		Cmd:          cmd.Argv(),
		Env:          cmd.Env,
		WorkingDir:   workDir,
		AttachStdin:  cmd.Stdin != "",
		AttachStdout: true,
		AttachStderr: true,
	}

	execResp, err := m.client.ContainerExecCreate(execCtx, containerID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := m.client.ContainerExecAttach(execCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attachResp.Close()

	if cmd.Stdin != "" {
		if _, err := io.Copy(attachResp.Conn, strings.NewReader(cmd.Stdin)); err != nil {
			return nil, fmt.Errorf("failed to write stdin: %w", err)
		}
		_ = attachResp.CloseWrite()
	}

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		if execCtx.Err() != nil {
			return nil, fmt.Errorf("command %q: %w", cmd.String(), execCtx.Err())
		}
		return nil, fmt.Errorf("failed to read output: %w", err)
	}

	inspectResp, err := m.client.ContainerExecInspect(execCtx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &process.Result{
		ExitCode: inspectResp.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Logs returns the last lines of the container log.
func (m *Manager) Logs(ctx context.Context, tail int) (string, error) {
	if !m.available {
		return "", ErrDockerUnavailable
	}

	m.mu.RLock()
	containerID, err := m.getContainer(ctx)
	m.mu.RUnlock()
	if err != nil {
		return "", fmt.Errorf("workspace container not found: %w", err)
	}

	reader, err := m.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var output strings.Builder
	_, err = stdcopy.StdCopy(&output, &output, reader)
	if err != nil && err != io.EOF {
		return "", err
	}

	return output.String(), nil
}

// containerPath maps a host path under the workspace to the mount point.
func (m *Manager) containerPath(dir string) string {
	if !filepath.IsAbs(dir) {
		return filepath.ToSlash(filepath.Join(mountPoint, dir))
	}
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return mountPoint
	}
	return filepath.ToSlash(filepath.Join(mountPoint, rel))
}

// getContainer finds the workspace container by name.
func (m *Manager) getContainer(ctx context.Context) (string, error) {
	containers, err := m.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("name", m.name),
		),
	})
	if err != nil {
		return "", err
	}

	for _, c := range containers {
		for _, n := range c.Names {
			if n == "/"+m.name {
				return c.ID, nil
			}
		}
	}

	return "", fmt.Errorf("container not found: %s", m.name)
}

// ensureImage pulls an image if not present locally.
func (m *Manager) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := m.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := m.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close closes the Docker client.
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "workspace"
	}
	return b.String()
}
