package spec

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/swarm"

	"github.com/cassinyio/swarmspawner/pkg/config"
)

// ErrNoContainerSpec is returned when neither the static configuration nor
// the session overrides provide a usable container template for a cold
// start.
var ErrNoContainerSpec = errors.New("a container template is needed to create a service")

// ownerPlaceholder is substituted with the owner hash in mount sources and
// driver device paths. The literal spelling is part of the configuration
// contract with existing deployments.
const ownerPlaceholder = "{username}"

// Overrides are the per-session user options honored when the spawner is
// configured to accept them. Each non-empty field replaces the matching
// static template field wholesale; there is no per-key merging below field
// granularity.
type Overrides struct {
	// ServerName changes the session suffix of the service name. It is
	// consumed by the lifecycle controller, not by the builder.
	ServerName string `yaml:"name" json:"name"`

	Container *config.ContainerTemplate `yaml:"container" json:"container"`
	Resources *config.Resources         `yaml:"resources" json:"resources"`
	Networks  []string                  `yaml:"networks" json:"networks"`
	Placement []string                  `yaml:"placement" json:"placement"`
}

// Builder merges static configuration, session overrides and computed
// values into immutable service-creation requests. It holds no mutable
// state and never modifies the configuration it was built from.
type Builder struct {
	cfg *config.Config
}

// NewBuilder returns a Builder over the given static configuration.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build produces the service spec for one create call. env is the required
// environment computed from the hub session; its keys override any value
// the template or overrides carry. ownerHash resolves the {username}
// placeholder in mount paths. The resolved image is returned separately
// for logging.
func (b *Builder) Build(ov *Overrides, env map[string]string, ownerHash string) (swarm.ServiceSpec, string, error) {
	tmpl := b.cfg.Container.Clone()
	if tmpl == nil {
		if ov == nil || ov.Container == nil {
			if b.cfg.ServiceImage == "" {
				return swarm.ServiceSpec{}, "", ErrNoContainerSpec
			}
		}
		tmpl = &config.ContainerTemplate{}
	}

	if ov != nil && ov.Container != nil {
		mergeContainer(tmpl, ov.Container)
	}

	image := tmpl.Image
	if image == "" {
		image = b.cfg.ServiceImage
	}
	if image == "" {
		return swarm.ServiceSpec{}, "", ErrNoContainerSpec
	}

	mounts, err := resolveMounts(tmpl.Mounts, ownerHash)
	if err != nil {
		return swarm.ServiceSpec{}, "", err
	}

	resources := b.cfg.Resources
	if ov != nil && ov.Resources != nil {
		mergeResources(&resources, ov.Resources)
	}
	reqs, err := swarmResources(resources)
	if err != nil {
		return swarm.ServiceSpec{}, "", err
	}

	networks := b.cfg.Networks
	if ov != nil && len(ov.Networks) > 0 {
		networks = ov.Networks
	}

	constraints := tmpl.Constraints
	if ov != nil && len(ov.Placement) > 0 {
		constraints = ov.Placement
	}

	container := &swarm.ContainerSpec{
		Image:   image,
		Command: tmpl.Command,
		Args:    tmpl.Args,
		Dir:     tmpl.Dir,
		User:    tmpl.User,
		Labels:  tmpl.Labels,
		Env:     environList(tmpl.Env, env),
		Mounts:  mounts,
	}

	task := swarm.TaskSpec{
		ContainerSpec: container,
		Resources:     reqs,
	}
	if len(constraints) > 0 {
		task.Placement = &swarm.Placement{Constraints: constraints}
	}
	for _, n := range networks {
		task.Networks = append(task.Networks, swarm.NetworkAttachmentConfig{Target: n})
	}

	one := uint64(1)
	out := swarm.ServiceSpec{
		TaskTemplate: task,
		Mode: swarm.ServiceMode{
			Replicated: &swarm.ReplicatedService{Replicas: &one},
		},
	}
	return out, image, nil
}

// mergeContainer overlays non-empty override fields onto the template.
func mergeContainer(dst, src *config.ContainerTemplate) {
	if src.Image != "" {
		dst.Image = src.Image
	}
	if len(src.Command) > 0 {
		dst.Command = append([]string(nil), src.Command...)
	}
	if len(src.Args) > 0 {
		dst.Args = append([]string(nil), src.Args...)
	}
	if src.Dir != "" {
		dst.Dir = src.Dir
	}
	if src.User != "" {
		dst.User = src.User
	}
	if len(src.Env) > 0 {
		if dst.Env == nil {
			dst.Env = make(map[string]string, len(src.Env))
		}
		for k, v := range src.Env {
			dst.Env[k] = v
		}
	}
	if len(src.Labels) > 0 {
		if dst.Labels == nil {
			dst.Labels = make(map[string]string, len(src.Labels))
		}
		for k, v := range src.Labels {
			dst.Labels[k] = v
		}
	}
	if len(src.Mounts) > 0 {
		dst.Mounts = nil
		for _, m := range src.Mounts {
			dst.Mounts = append(dst.Mounts, m.Clone())
		}
	}
	if len(src.Constraints) > 0 {
		dst.Constraints = append([]string(nil), src.Constraints...)
	}
}

func mergeResources(dst, src *config.Resources) {
	if src.CPULimit != 0 {
		dst.CPULimit = src.CPULimit
	}
	if src.MemoryLimit != "" {
		dst.MemoryLimit = src.MemoryLimit
	}
	if src.CPUReservation != 0 {
		dst.CPUReservation = src.CPUReservation
	}
	if src.MemoryReservation != "" {
		dst.MemoryReservation = src.MemoryReservation
	}
}

// resolveMounts converts template mounts, substituting the owner hash into
// each source and driver device path.
func resolveMounts(in []config.Mount, ownerHash string) ([]mount.Mount, error) {
	var out []mount.Mount
	for _, m := range in {
		if m.Target == "" {
			return nil, fmt.Errorf("mount %q has no target", m.Source)
		}

		typ := mount.Type(m.Type)
		if typ == "" {
			typ = mount.TypeVolume
		}

		resolved := mount.Mount{
			Type:     typ,
			Source:   substituteOwner(m.Source, ownerHash),
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		}

		if m.Driver != "" || len(m.DriverOptions) > 0 {
			opts := make(map[string]string, len(m.DriverOptions))
			for k, v := range m.DriverOptions {
				if k == "device" {
					v = substituteOwner(v, ownerHash)
				}
				opts[k] = v
			}
			resolved.VolumeOptions = &mount.VolumeOptions{
				DriverConfig: &mount.Driver{
					Name:    m.Driver,
					Options: opts,
				},
			}
		}

		out = append(out, resolved)
	}
	return out, nil
}

func substituteOwner(s, ownerHash string) string {
	return strings.ReplaceAll(s, ownerPlaceholder, ownerHash)
}

// environList flattens the template environment plus the required session
// environment into the K=V form the cluster expects. Required keys win.
// Sorted for deterministic specs.
func environList(template, required map[string]string) []string {
	merged := make(map[string]string, len(template)+len(required))
	for k, v := range template {
		merged[k] = v
	}
	for k, v := range required {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

// swarmResources converts the resource template, applying the cluster's
// nano-CPU unit.
func swarmResources(r config.Resources) (*swarm.ResourceRequirements, error) {
	limitMem, err := r.MemoryLimitBytes()
	if err != nil {
		return nil, err
	}
	resMem, err := r.MemoryReservationBytes()
	if err != nil {
		return nil, err
	}

	out := &swarm.ResourceRequirements{}
	if r.CPULimit != 0 || limitMem != 0 {
		out.Limits = &swarm.Limit{
			NanoCPUs:    int64(r.CPULimit * 1e9),
			MemoryBytes: limitMem,
		}
	}
	if r.CPUReservation != 0 || resMem != 0 {
		out.Reservations = &swarm.Resources{
			NanoCPUs:    int64(r.CPUReservation * 1e9),
			MemoryBytes: resMem,
		}
	}
	return out, nil
}
