// Package docker implements the Docker provider. Containers, images,
// networks and volumes map one to one onto Engine API calls; the daemon
// connection comes from the standard environment (DOCKER_HOST and
// friends) and is only dialed on first use.
package docker

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/converge-io/converge/internal/provider"
)

const (
	typeContainer = "docker_container"
	typeImage     = "docker_image"
	typeNetwork   = "docker_network"
	typeVolume    = "docker_volume"
)

// The daemon cannot reconfigure most of a running container; only the
// restart policy changes in place, everything else forces replacement.
var schemas = map[string]provider.TypeSchema{
	typeContainer: {
		Type: typeContainer,
		Immutable: []string{
			"name", "image", "command", "ports", "env", "networks",
			"volumes", "labels", "working_dir", "user", "logging",
		},
	},
	typeImage:   {Type: typeImage, Immutable: []string{"name"}},
	typeNetwork: {Type: typeNetwork, Immutable: []string{"name", "driver", "internal", "labels"}},
	typeVolume:  {Type: typeVolume, Immutable: []string{"name", "driver"}},
}

type Provider struct {
	mu     sync.Mutex
	client *client.Client
}

var _ provider.Interface = (*Provider)(nil)

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	p.client = cli
	return nil
}

func (p *Provider) Name() string { return "docker" }

func (p *Provider) Schema(typ string) (provider.TypeSchema, error) {
	schema, ok := schemas[typ]
	if !ok {
		return provider.TypeSchema{}, fmt.Errorf("docker: unknown resource type %q", typ)
	}
	return schema, nil
}

func (p *Provider) Create(ctx context.Context, typ string, attrs map[string]any) (string, map[string]any, error) {
	if _, err := p.Schema(typ); err != nil {
		return "", nil, err
	}
	if err := p.ensureClient(); err != nil {
		return "", nil, err
	}
	switch typ {
	case typeContainer:
		return p.createContainer(ctx, attrs)
	case typeImage:
		return p.createImage(ctx, attrs)
	case typeNetwork:
		return p.createNetwork(ctx, attrs)
	default:
		return p.createVolume(ctx, attrs)
	}
}

func (p *Provider) Read(ctx context.Context, typ, id string) (map[string]any, error) {
	if _, err := p.Schema(typ); err != nil {
		return nil, err
	}
	if err := p.ensureClient(); err != nil {
		return nil, err
	}
	switch typ {
	case typeContainer:
		return p.readContainer(ctx, id)
	case typeImage:
		return p.readImage(ctx, id)
	case typeNetwork:
		return p.readNetwork(ctx, id)
	default:
		return p.readVolume(ctx, id)
	}
}

func (p *Provider) Update(ctx context.Context, typ, id string, attrs map[string]any) (map[string]any, error) {
	if _, err := p.Schema(typ); err != nil {
		return nil, err
	}
	if err := p.ensureClient(); err != nil {
		return nil, err
	}
	if typ == typeContainer {
		if restart := str(attrs["restart"]); restart != "" {
			_, err := p.client.ContainerUpdate(ctx, id, container.UpdateConfig{
				RestartPolicy: container.RestartPolicy{
					Name: container.RestartPolicyMode(restart),
				},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to update container: %w", err)
			}
		}
	}
	// Every other attribute is immutable, so an update that reaches us
	// has nothing further to push.
	return p.Read(ctx, typ, id)
}

func (p *Provider) Delete(ctx context.Context, typ, id string) error {
	if _, err := p.Schema(typ); err != nil {
		return err
	}
	if err := p.ensureClient(); err != nil {
		return err
	}
	switch typ {
	case typeContainer:
		timeout := 10 // seconds
		_ = p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
		err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove container: %w", err)
		}
	case typeImage:
		_, err := p.client.ImageRemove(ctx, id, image.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove image: %w", err)
		}
	case typeNetwork:
		if err := p.client.NetworkRemove(ctx, id); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove network: %w", err)
		}
	default:
		if err := p.client.VolumeRemove(ctx, id, true); err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove volume: %w", err)
		}
	}
	return nil
}

func (p *Provider) createContainer(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	imageName := str(attrs["image"])
	name := str(attrs["name"])
	if imageName == "" || name == "" {
		return "", nil, fmt.Errorf("docker_container: attributes %q and %q are required", "name", "image")
	}

	if err := p.pullImage(ctx, imageName); err != nil {
		return "", nil, err
	}

	hostConfig := &container.HostConfig{
		PortBindings: containerPorts(attrs["ports"]),
		Binds:        containerBinds(strList(attrs["volumes"])),
	}
	if networks := strList(attrs["networks"]); len(networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(networks[0])
	}
	if restart := str(attrs["restart"]); restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(restart),
		}
	}
	if logging, ok := attrs["logging"].(map[string]any); ok {
		hostConfig.LogConfig = container.LogConfig{
			Type:   str(logging["driver"]),
			Config: strMap(logging["options"]),
		}
	}

	config := &container.Config{
		Image:      imageName,
		Cmd:        strList(attrs["command"]),
		Env:        envList(strMap(attrs["env"])),
		Labels:     strMap(attrs["labels"]),
		WorkingDir: str(attrs["working_dir"]),
		User:       str(attrs["user"]),
	}

	resp, err := p.client.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, &v1.Platform{}, name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create container: %w", err)
	}
	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", nil, fmt.Errorf("failed to start container: %w", err)
	}

	out, err := p.readContainer(ctx, resp.ID)
	return resp.ID, out, err
}

func (p *Provider) readContainer(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, &provider.NotFoundError{Type: typeContainer, ID: id}
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	return map[string]any{
		"name":   strings.TrimPrefix(resp.Name, "/"),
		"image":  resp.Config.Image,
		"status": resp.State.Status,
	}, nil
}

func (p *Provider) createImage(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := str(attrs["name"])
	if name == "" {
		return "", nil, fmt.Errorf("docker_image: missing required attribute %q", "name")
	}
	if err := p.pullImage(ctx, name); err != nil {
		return "", nil, err
	}
	inspect, _, err := p.client.ImageInspectWithRaw(ctx, name)
	if err != nil {
		return "", nil, fmt.Errorf("failed to inspect image: %w", err)
	}
	out, err := p.readImage(ctx, inspect.ID)
	return inspect.ID, out, err
}

func (p *Provider) readImage(ctx context.Context, id string) (map[string]any, error) {
	inspect, _, err := p.client.ImageInspectWithRaw(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, &provider.NotFoundError{Type: typeImage, ID: id}
		}
		return nil, fmt.Errorf("failed to inspect image: %w", err)
	}
	tags := make([]any, len(inspect.RepoTags))
	for i, tag := range inspect.RepoTags {
		tags[i] = tag
	}
	return map[string]any{
		"image_id": inspect.ID,
		"tags":     tags,
	}, nil
}

func (p *Provider) createNetwork(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := str(attrs["name"])
	if name == "" {
		return "", nil, fmt.Errorf("docker_network: missing required attribute %q", "name")
	}
	resp, err := p.client.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver:   str(attrs["driver"]),
		Internal: toBool(attrs["internal"]),
		Labels:   strMap(attrs["labels"]),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create network: %w", err)
	}
	out, err := p.readNetwork(ctx, resp.ID)
	return resp.ID, out, err
}

func (p *Provider) readNetwork(ctx context.Context, id string) (map[string]any, error) {
	resp, err := p.client.NetworkInspect(ctx, id, network.InspectOptions{})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, &provider.NotFoundError{Type: typeNetwork, ID: id}
		}
		return nil, fmt.Errorf("failed to inspect network: %w", err)
	}
	return map[string]any{
		"name":     resp.Name,
		"driver":   resp.Driver,
		"internal": resp.Internal,
	}, nil
}

func (p *Provider) createVolume(ctx context.Context, attrs map[string]any) (string, map[string]any, error) {
	name := str(attrs["name"])
	if name == "" {
		return "", nil, fmt.Errorf("docker_volume: missing required attribute %q", "name")
	}
	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: str(attrs["driver"]),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create volume: %w", err)
	}
	out, err := p.readVolume(ctx, vol.Name)
	return vol.Name, out, err
}

func (p *Provider) readVolume(ctx context.Context, id string) (map[string]any, error) {
	vol, err := p.client.VolumeInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, &provider.NotFoundError{Type: typeVolume, ID: id}
		}
		return nil, fmt.Errorf("failed to inspect volume: %w", err)
	}
	return map[string]any{
		"name":       vol.Name,
		"driver":     vol.Driver,
		"mountpoint": vol.Mountpoint,
	}, nil
}

// pullImage refreshes the local copy. A failed pull is only fatal when
// the image is absent locally, so air-gapped daemons keep working.
func (p *Provider) pullImage(ctx context.Context, name string) error {
	reader, err := p.client.ImagePull(ctx, name, image.PullOptions{})
	if err == nil {
		// The pull is not complete until the stream closes.
		io.Copy(io.Discard, reader)
		reader.Close()
		return nil
	}
	if _, _, inspectErr := p.client.ImageInspectWithRaw(ctx, name); inspectErr == nil {
		return nil
	}
	return fmt.Errorf("failed to pull image %s: %w", name, err)
}

// containerPorts maps {"8080": 80} declarations onto daemon port
// bindings, container side always tcp.
func containerPorts(raw any) nat.PortMap {
	ports, _ := raw.(map[string]any)
	bindings := nat.PortMap{}
	for hostPort, containerPort := range ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", toInt(containerPort)))
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   "0.0.0.0",
			HostPort: hostPort,
		})
	}
	return bindings
}

// containerBinds resolves relative host paths so binds behave the same
// no matter where the daemon was started.
func containerBinds(volumes []string) []string {
	var binds []string
	for _, v := range volumes {
		parts := strings.SplitN(v, ":", 2)
		if len(parts) == 2 && (strings.HasPrefix(parts[0], "./") || strings.HasPrefix(parts[0], "../")) {
			if abs, err := filepath.Abs(parts[0]); err == nil {
				binds = append(binds, abs+":"+parts[1])
				continue
			}
		}
		binds = append(binds, v)
	}
	return binds
}

func envList(env map[string]string) []string {
	var out []string
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func strList(v any) []string {
	raw, _ := v.([]any)
	var out []string
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func strMap(v any) map[string]string {
	raw, _ := v.(map[string]any)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, e := range raw {
		out[k] = fmt.Sprintf("%v", e)
	}
	return out
}
