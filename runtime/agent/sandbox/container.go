// Container-backed Instance implementation using testcontainers-go, the
// default isolation technology for sandboxed tool execution. spec.md leaves
// the specific isolation technology an open question (§9); this is the
// concrete choice, swappable via the Factory type.
package sandbox

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"

	"goatomic.dev/runtime/runtime/agent/agenterr"
)

// ContainerInstance wraps a single testcontainers-go container as a sandbox
// Instance: a fresh, disposable environment for one session's tool
// execution.
type ContainerInstance struct {
	Image     string
	SessionID string

	container testcontainers.Container
}

// Connect starts the container with the session ID in its environment. It
// sets no CPU or memory limits on the container.
func (c *ContainerInstance) Connect(ctx context.Context) error {
	req := testcontainers.ContainerRequest{
		Image:      c.Image,
		Env:        map[string]string{"AGENTCORE_SESSION_ID": c.SessionID},
		WaitingFor: nil,
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return agenterr.NewWithCause(agenterr.KindSandboxRejected, fmt.Sprintf("sandbox: start container for session %s", c.SessionID), err)
	}
	c.container = container
	return nil
}

// Disconnect terminates the container, releasing its resources back to the
// host.
func (c *ContainerInstance) Disconnect(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return agenterr.NewWithCause(agenterr.KindInternal, "sandbox: terminate container", err)
	}
	return nil
}

// ContainerFactory builds a Factory that creates one ContainerInstance per
// session from the given image.
func ContainerFactory(image string) Factory {
	return func(ctx context.Context, sessionID string) (Instance, error) {
		return &ContainerInstance{Image: image, SessionID: sessionID}, nil
	}
}
