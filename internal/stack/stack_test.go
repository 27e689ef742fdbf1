package stack

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeLister struct {
	services []Service
	err      error
	calls    int
}

func (f *fakeLister) Services(ctx context.Context, project string) ([]Service, error) {
	f.calls++
	return f.services, f.err
}

func TestVerify(t *testing.T) {
	expected := []string{"wildbook", "wbia", "opensearch", "db"}

	tests := []struct {
		name     string
		project  string
		services []Service
		err      error
		wantErr  string
	}{
		{
			name:    "no project",
			project: "",
		},
		{
			name:    "all running",
			project: "wildme",
			services: []Service{
				{Name: "wildbook", State: "running"},
				{Name: "wbia", State: "running"},
				{Name: "opensearch", State: "running"},
				{Name: "db", State: "running"},
			},
		},
		{
			name:    "some stopped",
			project: "wildme",
			services: []Service{
				{Name: "wildbook", State: "running"},
				{Name: "wbia", State: "exited"},
				{Name: "db", State: "running"},
			},
			wantErr: "services not running: opensearch, wbia",
		},
		{
			name:    "docker down",
			project: "wildme",
			err:     &DockerNotRunningError{Err: errors.New("dial unix /var/run/docker.sock")},
			wantErr: "docker is not reachable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &fakeLister{services: tt.services, err: tt.err}
			err := Verify(context.Background(), l, tt.project, expected)

			if tt.project == "" && l.calls != 0 {
				t.Error("expected docker not to be queried without a project")
			}
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDockerNotRunningError_Unwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := error(&DockerNotRunningError{Err: cause})
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
}
