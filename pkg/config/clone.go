package config

// Clone deep-copies the template so spec building never mutates the
// stored configuration.
func (t *ContainerTemplate) Clone() *ContainerTemplate {
	if t == nil {
		return nil
	}
	out := &ContainerTemplate{
		Image:       t.Image,
		Dir:         t.Dir,
		User:        t.User,
		Command:     append([]string(nil), t.Command...),
		Args:        append([]string(nil), t.Args...),
		Constraints: append([]string(nil), t.Constraints...),
		Env:         cloneMap(t.Env),
		Labels:      cloneMap(t.Labels),
	}
	for _, m := range t.Mounts {
		out.Mounts = append(out.Mounts, m.Clone())
	}
	return out
}

// Clone deep-copies a mount, including driver options.
func (m Mount) Clone() Mount {
	out := m
	out.DriverOptions = cloneMap(m.DriverOptions)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
