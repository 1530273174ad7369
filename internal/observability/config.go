package observability

// Config holds the opt-in diagnostics toggles of the relay HTTP surface.
type Config struct {
	// EnablePprofTrace mounts net/http/pprof under /debug/pprof/.
	EnablePprofTrace bool
}
