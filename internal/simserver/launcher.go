// Package simserver runs the CybORG game API as a local docker container so
// sessions can be played without the hosted endpoint.
package simserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/csai/cyborg-arviz-agent/internal/config"
)

const (
	labelManaged = "arviz_agent.managed"
	labelPort    = "arviz_agent.port"
	labelImage   = "arviz_agent.image"
)

var (
	ErrImageNotAllowed = errors.New("image_not_allowed")
	ErrNotRunning      = errors.New("simulation_not_running")
	ErrStartupTimeout  = errors.New("simulation_startup_timeout")
)

type Status struct {
	Running     bool   `json:"running"`
	ContainerID string `json:"container_id,omitempty"`
	Name        string `json:"name"`
	Image       string `json:"image,omitempty"`
	State       string `json:"state"`
	BaseURL     string `json:"base_url,omitempty"`
}

type Launcher struct {
	cfg    config.SimulationConfig
	docker *client.Client
	log    *slog.Logger
	probe  *http.Client
	mu     sync.Mutex
}

func New(ctx context.Context, cfg config.SimulationConfig, logger *slog.Logger) (*Launcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker ping: %w", err)
	}
	return &Launcher{cfg: cfg, docker: cli, log: logger, probe: &http.Client{Timeout: 2 * time.Second}}, nil
}

func (l *Launcher) Close() error { return l.docker.Close() }

// Up starts the simulation container, or reuses a running one, and waits
// until its API answers. It returns the base URL to hand to the game client.
func (l *Launcher) Up(ctx context.Context) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !imageAllowed(l.cfg.ImageAllowPrefixes, l.cfg.Image) {
		return Status{}, ErrImageNotAllowed
	}
	st, err := l.status(ctx)
	if err != nil {
		return Status{}, err
	}
	if st.Running {
		l.log.Info("simulation_reused", slog.String("container_id", st.ContainerID), slog.String("base_url", st.BaseURL))
		return st, l.waitReady(ctx, st.BaseURL)
	}
	if st.ContainerID != "" {
		if err := l.removeContainer(ctx, st.ContainerID); err != nil {
			return Status{}, fmt.Errorf("remove stale container: %w", err)
		}
	}

	if err := l.ensureNetwork(ctx); err != nil {
		return Status{}, err
	}
	if l.cfg.PullImage {
		if err := l.pullImage(ctx, l.cfg.Image); err != nil {
			return Status{}, fmt.Errorf("image pull: %w", err)
		}
	}

	exposed, bindings := portBindings(l.cfg.Port)
	hc := &container.HostConfig{
		CapDrop:      []string{"ALL"},
		SecurityOpt:  []string{"no-new-privileges:true"},
		PortBindings: bindings,
		Resources: container.Resources{
			Memory:   l.cfg.ContainerMemoryBytes,
			NanoCPUs: int64(l.cfg.ContainerCPUCores * 1e9),
		},
	}
	if l.cfg.ContainerPidsLimit > 0 {
		p := l.cfg.ContainerPidsLimit
		hc.PidsLimit = &p
	}

	resp, err := l.docker.ContainerCreate(ctx,
		&container.Config{Image: l.cfg.Image, Labels: managedLabels(l.cfg), ExposedPorts: exposed},
		hc,
		&network.NetworkingConfig{EndpointsConfig: map[string]*network.EndpointSettings{l.cfg.NetworkName: {}}},
		nil,
		l.cfg.ContainerName,
	)
	if err != nil {
		return Status{}, fmt.Errorf("container create: %w", err)
	}
	if err := l.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = l.removeContainer(ctx, resp.ID)
		return Status{}, fmt.Errorf("container start: %w", err)
	}

	st = Status{
		Running:     true,
		ContainerID: resp.ID,
		Name:        l.cfg.ContainerName,
		Image:       l.cfg.Image,
		State:       "running",
		BaseURL:     baseURL(l.cfg.Port),
	}
	l.log.Info("simulation_started",
		slog.String("container_id", resp.ID),
		slog.String("image", l.cfg.Image),
		slog.String("base_url", st.BaseURL))
	if err := l.waitReady(ctx, st.BaseURL); err != nil {
		return st, err
	}
	return st, nil
}

// Down removes the simulation container and its network. It is a no-op when
// nothing is running.
func (l *Launcher) Down(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.status(ctx)
	if err != nil {
		return err
	}
	if st.ContainerID != "" {
		if err := l.removeContainer(ctx, st.ContainerID); err != nil {
			return fmt.Errorf("container remove: %w", err)
		}
		l.log.Info("simulation_stopped", slog.String("container_id", st.ContainerID))
	}
	return l.removeNetwork(ctx)
}

func (l *Launcher) Status(ctx context.Context) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status(ctx)
}

func (l *Launcher) status(ctx context.Context) (Status, error) {
	args := filters.NewArgs(
		filters.Arg("label", labelManaged+"=true"),
		filters.Arg("name", l.cfg.ContainerName),
	)
	containers, err := l.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return Status{}, fmt.Errorf("container list: %w", err)
	}
	for _, c := range containers {
		if firstName(c.Names) != l.cfg.ContainerName {
			continue
		}
		port := l.cfg.Port
		if v, err := strconv.Atoi(c.Labels[labelPort]); err == nil && v > 0 {
			port = v
		}
		st := Status{
			ContainerID: c.ID,
			Name:        l.cfg.ContainerName,
			Image:       c.Image,
			State:       c.State,
			Running:     c.State == "running",
		}
		if st.Running {
			st.BaseURL = baseURL(port)
		}
		return st, nil
	}
	return Status{Name: l.cfg.ContainerName, State: "absent"}, nil
}

func (l *Launcher) waitReady(ctx context.Context, base string) error {
	timeout := time.Duration(l.cfg.StartupTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if l.answers(ctx, base) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s", ErrStartupTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// answers reports whether anything is serving HTTP at base. Any status code
// counts; the API has no health route.
func (l *Launcher) answers(ctx context.Context, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/games", nil)
	if err != nil {
		return false
	}
	resp, err := l.probe.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return true
}

func (l *Launcher) ensureNetwork(ctx context.Context) error {
	if _, err := l.docker.NetworkInspect(ctx, l.cfg.NetworkName, network.InspectOptions{}); err == nil {
		return nil
	}
	_, err := l.docker.NetworkCreate(ctx, l.cfg.NetworkName, network.CreateOptions{Driver: "bridge", Labels: map[string]string{
		labelManaged: "true",
	}})
	if err != nil {
		return fmt.Errorf("network create: %w", err)
	}
	return nil
}

func (l *Launcher) removeNetwork(ctx context.Context) error {
	if err := l.docker.NetworkRemove(ctx, l.cfg.NetworkName); err != nil && !isNotFound(err) {
		return fmt.Errorf("network remove: %w", err)
	}
	return nil
}

func (l *Launcher) removeContainer(ctx context.Context, id string) error {
	timeout := 10
	if err := l.docker.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		l.log.Warn("simulation_stop_warning", slog.String("container_id", id), slog.String("error", err.Error()))
	}
	if err := l.docker.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (l *Launcher) pullImage(ctx context.Context, ref string) error {
	reader, err := l.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func imageAllowed(prefixes []string, ref string) bool {
	if ref == "" {
		return false
	}
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(ref, p) {
			return true
		}
	}
	return false
}

func managedLabels(cfg config.SimulationConfig) map[string]string {
	return map[string]string{
		labelManaged: "true",
		labelPort:    strconv.Itoa(cfg.Port),
		labelImage:   cfg.Image,
	}
}

// portBindings publishes the API port on loopback only.
func portBindings(port int) (nat.PortSet, nat.PortMap) {
	p := nat.Port(strconv.Itoa(port) + "/tcp")
	return nat.PortSet{p: struct{}{}},
		nat.PortMap{p: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(port)}}}
}

func baseURL(port int) string {
	return "http://127.0.0.1:" + strconv.Itoa(port)
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func isNotFound(err error) bool {
	return client.IsErrNotFound(err) || strings.Contains(strings.ToLower(err.Error()), "not found")
}
