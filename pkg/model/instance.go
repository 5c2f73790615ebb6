package model

import "fmt"

// Instance is one occurrence of an object, containing resources.
type Instance struct {
	id uint16

	// object is the owning object; used for lookup only.
	object *Object

	// Resources in creation order, plus an index by ID.
	resources []*Resource
	index     map[uint16]*Resource
}

func newInstance(id uint16, obj *Object) *Instance {
	return &Instance{
		id:     id,
		object: obj,
		index:  make(map[uint16]*Resource),
	}
}

// ID returns the instance ID.
func (i *Instance) ID() uint16 {
	return i.id
}

// Object returns the object this instance belongs to.
func (i *Instance) Object() *Object {
	return i.object
}

// Path returns the instance path.
func (i *Instance) Path() Path {
	return InstancePath(i.object.ID(), i.id)
}

// CreateResource adds a resource to the instance.
// Returns ErrDuplicateID if a resource with the same ID exists; the
// instance is unchanged in that case.
func (i *Instance) CreateResource(meta ResourceMetadata) (*Resource, error) {
	if _, exists := i.index[meta.ID]; exists {
		return nil, fmt.Errorf("%w: resource %d in %s", ErrDuplicateID, meta.ID, i.Path())
	}

	r := newResource(meta, i)
	i.resources = append(i.resources, r)
	i.index[meta.ID] = r
	return r, nil
}

// Resource returns a resource by ID.
func (i *Instance) Resource(id uint16) (*Resource, error) {
	r, exists := i.index[id]
	if !exists {
		return nil, fmt.Errorf("%w: resource %d in %s", ErrNotFound, id, i.Path())
	}
	return r, nil
}

// Resources returns the resources in creation order.
func (i *Instance) Resources() []*Resource {
	out := make([]*Resource, len(i.resources))
	copy(out, i.resources)
	return out
}

// ResourceCount returns the number of resources.
func (i *Instance) ResourceCount() int {
	return len(i.resources)
}

func (i *Instance) tree() *Tree {
	if i.object == nil {
		return nil
	}
	return i.object.tree
}
