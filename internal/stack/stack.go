// Package stack checks that the docker compose project hosting the services
// under test is up.
package stack

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/rs/zerolog/log"
	"github.com/testcontainers/testcontainers-go"
)

const (
	projectLabel = "com.docker.compose.project"
	serviceLabel = "com.docker.compose.service"
)

// Service is one compose service container
type Service struct {
	Name  string
	State string
}

func (s Service) Running() bool { return s.State == "running" }

// Lister returns the containers of a compose project
type Lister interface {
	Services(ctx context.Context, project string) ([]Service, error)
}

// DockerLister asks the local docker daemon
type DockerLister struct{}

func (DockerLister) Services(ctx context.Context, project string) ([]Service, error) {
	cli, err := testcontainers.NewDockerClientWithOpts(ctx)
	if err != nil {
		return nil, &DockerNotRunningError{Err: err}
	}
	defer cli.Close()

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", projectLabel+"="+project)),
	})
	if err != nil {
		return nil, &DockerNotRunningError{Err: err}
	}

	services := make([]Service, 0, len(containers))
	for _, c := range containers {
		name := c.Labels[serviceLabel]
		if name == "" {
			continue
		}
		services = append(services, Service{Name: name, State: string(c.State)})
	}
	return services, nil
}

// Verify requires every expected service of the project to have a running
// container. An empty project means the stack is managed elsewhere and is
// not checked.
func Verify(ctx context.Context, l Lister, project string, expected []string) error {
	if project == "" {
		log.Debug().Msg("no compose project configured, assuming stack is running")
		return nil
	}

	services, err := l.Services(ctx, project)
	if err != nil {
		return fmt.Errorf("listing compose project %s: %w", project, err)
	}

	running := make(map[string]bool, len(services))
	for _, s := range services {
		if s.Running() {
			running[s.Name] = true
		}
	}

	var missing []string
	for _, name := range expected {
		if !running[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("compose project %s: services not running: %s", project, strings.Join(missing, ", "))
	}

	log.Debug().Str("project", project).Int("services", len(running)).Msg("compose stack is running")
	return nil
}

// DockerNotRunningError provides instructions for starting Docker
type DockerNotRunningError struct {
	Err error
}

func (e *DockerNotRunningError) Unwrap() error { return e.Err }

func (e *DockerNotRunningError) Error() string {
	var hint string

	switch runtime.GOOS {
	case "darwin", "windows":
		hint = "open Docker Desktop and wait for it to start"
	case "linux":
		hint = "start the daemon with `sudo systemctl start docker` and make sure your user is in the docker group"
	default:
		hint = "start Docker and try again"
	}

	return fmt.Sprintf("docker is not reachable (%v): %s", e.Err, hint)
}
