package stage

// Health reports whether a stage can currently accept work.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy marks the named stage as ready.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy marks the named stage as not ready, with a human-readable reason.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
