package dataobject

import (
	"fmt"
	"sync"

	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
)

// Registry holds the fully resolved object graph the driver hands the
// core. It is populated once during setup and read-only during execution.
type Registry struct {
	mu      sync.RWMutex
	objects map[idtype.DataObjectID]DataObject
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[idtype.DataObjectID]DataObject)}
}

// Register adds a data object, rejecting duplicate ids.
func (r *Registry) Register(obj DataObject) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.objects[obj.ID()]; exists {
		return fmt.Errorf("dataobject: duplicate id %q", obj.ID())
	}
	r.objects[obj.ID()] = obj
	return nil
}

// Get looks up a data object by id.
func (r *Registry) Get(id idtype.DataObjectID) (DataObject, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	obj, ok := r.objects[id]
	if !ok {
		return nil, fmt.Errorf("dataobject: unknown id %q", id)
	}
	return obj, nil
}

// RequireCapability looks up id and verifies it implements every
// capability in required, rejecting configurations that reference a data
// object lacking one of them.
func (r *Registry) RequireCapability(id idtype.DataObjectID, required ...Capability) (DataObject, error) {
	obj, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	have := Capabilities(obj)
	var missing []Capability
	for _, cap := range required {
		if !have[cap] {
			missing = append(missing, cap)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("dataobject %q is missing required capabilities: %v", id, missing)
	}
	return obj, nil
}
