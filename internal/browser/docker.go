package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
	"github.com/ternarybob/flowqueue/internal/httpclient"
)

const (
	devtoolsPort      = "3000/tcp"
	containerDownload = "/downloads"
)

// DockerLauncher runs Chrome in a browserless container and connects over the remote debugging port
type DockerLauncher struct {
	client *client.Client
	config *common.BrowserConfig
	logger arbor.ILogger
}

// NewDockerLauncher creates a docker client from the environment, or from docker_host when set
func NewDockerLauncher(config *common.BrowserConfig, logger arbor.ILogger) (*DockerLauncher, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if config.DockerHost != "" {
		opts = append(opts, client.WithHost(config.DockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerLauncher{client: cli, config: config, logger: logger}, nil
}

// Launch starts a container, waits for its devtools endpoint and attaches chromedp to it.
// Headless is implied by the container image.
func (l *DockerLauncher) Launch(ctx context.Context, headless bool) (*Browser, error) {
	startTime := time.Now()

	if err := l.ensureImage(ctx); err != nil {
		return nil, err
	}

	downloadDir, err := os.MkdirTemp("", "flowqueue-downloads-")
	if err != nil {
		return nil, fmt.Errorf("failed to create download staging dir: %w", err)
	}
	// The browser inside the container runs as an unprivileged user
	if err := os.Chmod(downloadDir, 0777); err != nil {
		os.RemoveAll(downloadDir)
		return nil, fmt.Errorf("failed to open download staging dir: %w", err)
	}

	name := "flowqueue-" + uuid.New().String()[:8]
	containerConfig := &container.Config{
		Image: l.config.DockerImage,
		Labels: map[string]string{
			"managed-by": "flowqueue",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			devtoolsPort: struct{}{},
		},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolsPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "0"}},
		},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: downloadDir, Target: containerDownload},
		},
	}

	resp, err := l.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		os.RemoveAll(downloadDir)
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := resp.ID

	b := &Browser{
		hostDownloadDir:    downloadDir,
		browserDownloadDir: containerDownload,
		logger:             l.logger,
		cleanup: func(ctx context.Context) error {
			return l.removeContainer(ctx, containerID)
		},
	}

	if err := l.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := l.client.ContainerInspect(ctx, containerID)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[devtoolsPort]
	if len(bindings) == 0 {
		_ = b.Close()
		return nil, fmt.Errorf("container %s exposes no devtools port", name)
	}
	port := bindings[0].HostPort

	timeout := common.ParseDuration(l.config.StartupTimeout, 30*time.Second)
	if err := waitForBrowserReady(ctx, port, timeout); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	allocatorCtx, allocatorCancel := chromedp.NewRemoteAllocator(context.Background(), fmt.Sprintf("ws://127.0.0.1:%s", port))
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	b.ctx = browserCtx
	b.cancelBrowser = browserCancel
	b.cancelAllocator = allocatorCancel

	if err := start(ctx, browserCtx, timeout); err != nil {
		_ = b.Close()
		return nil, err
	}

	l.logger.Info().
		Str("container", name).
		Str("port", port).
		Dur("startup_time", time.Since(startTime)).
		Msg("Docker browser launched")

	return b, nil
}

func (l *DockerLauncher) ensureImage(ctx context.Context) error {
	images, err := l.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == l.config.DockerImage {
				return nil
			}
		}
	}

	l.logger.Info().Str("image", l.config.DockerImage).Msg("Pulling browser image")
	reader, err := l.client.ImagePull(ctx, l.config.DockerImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (l *DockerLauncher) removeContainer(ctx context.Context, containerID string) error {
	timeout := 10
	if err := l.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		l.logger.Warn().Err(err).Str("container", containerID).Msg("Failed to stop container")
	}
	if err := l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Close releases the docker client
func (l *DockerLauncher) Close() error {
	return l.client.Close()
}

// waitForBrowserReady polls the /json/version endpoint until it answers
func waitForBrowserReady(ctx context.Context, port string, timeout time.Duration) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	deadline := time.Now().Add(timeout)
	httpClient := httpclient.NewDefaultHTTPClient(2 * time.Second)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	return fmt.Errorf("devtools endpoint not ready after %s", timeout)
}
