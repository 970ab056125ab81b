package cameras

// Store persists camera descriptors.
type Store interface {
	// Load loads the descriptors from storage
	Load() error

	// Save saves the descriptors to storage
	Save() error

	// Path returns the backing file, for watching
	Path() string

	// AddCamera adds a new descriptor
	AddCamera(d Descriptor) error

	// UpdateCamera replaces an existing descriptor
	UpdateCamera(id string, d Descriptor) error

	// RemoveCamera removes a descriptor
	RemoveCamera(id string) error

	// GetCamera retrieves a descriptor by ID
	GetCamera(id string) (Descriptor, bool)

	// GetAllCameras returns a copy of all descriptors keyed by ID
	GetAllCameras() map[string]Descriptor
}
