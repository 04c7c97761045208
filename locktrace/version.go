package locktrace

// Version information for locktrace.
const (
	// Version is the current version of the locktrace runtime.
	Version = "0.1.0"

	// VersionMajor is the major version number.
	VersionMajor = 0

	// VersionMinor is the minor version number.
	VersionMinor = 1

	// VersionPatch is the patch version number.
	VersionPatch = 0
)

// Info provides runtime information about the tracer.
type Info struct {
	// Version is the runtime version string.
	Version string

	// Symbols lists the intercepted primitives.
	Symbols []string

	// Active reports whether the shim is currently preloaded.
	Active bool
}

// GetInfo returns information about the locktrace runtime.
//
// Example:
//
//	info := locktrace.GetInfo()
//	fmt.Printf("locktrace %s active=%v\n", info.Version, info.Active)
func GetInfo() Info {
	return Info{
		Version: Version,
		Symbols: []string{"pthread_mutex_lock", "pthread_mutex_unlock"},
		Active:  active() != nil,
	}
}
