package model

import "fmt"

// Object groups instances of one kind.
type Object struct {
	id   uint16
	name string

	tree *Tree

	// Instances in creation order, plus an index by ID.
	instances []*Instance
	index     map[uint16]*Instance
	nextID    uint16
}

// ID returns the object ID.
func (o *Object) ID() uint16 {
	return o.id
}

// Name returns the object name.
func (o *Object) Name() string {
	return o.name
}

// SetName sets the human-readable object name.
func (o *Object) SetName(name string) {
	o.name = name
}

// CreateInstance adds an instance with the next free ID.
func (o *Object) CreateInstance() (*Instance, error) {
	for {
		if _, exists := o.index[o.nextID]; !exists {
			break
		}
		if o.nextID == ^uint16(0) {
			return nil, fmt.Errorf("%w: no free instance id in /%d", ErrDuplicateID, o.id)
		}
		o.nextID++
	}
	return o.CreateInstanceWithID(o.nextID)
}

// CreateInstanceWithID adds an instance with an explicit ID.
// Returns ErrDuplicateID if the ID is taken.
func (o *Object) CreateInstanceWithID(id uint16) (*Instance, error) {
	if _, exists := o.index[id]; exists {
		return nil, fmt.Errorf("%w: instance %d in /%d", ErrDuplicateID, id, o.id)
	}

	inst := newInstance(id, o)
	o.instances = append(o.instances, inst)
	o.index[id] = inst
	return inst, nil
}

// Instance returns an instance by ID.
func (o *Object) Instance(id uint16) (*Instance, error) {
	inst, exists := o.index[id]
	if !exists {
		return nil, fmt.Errorf("%w: instance %d in /%d", ErrNotFound, id, o.id)
	}
	return inst, nil
}

// Instances returns the instances in creation order.
func (o *Object) Instances() []*Instance {
	out := make([]*Instance, len(o.instances))
	copy(out, o.instances)
	return out
}

// InstanceCount returns the number of instances.
func (o *Object) InstanceCount() int {
	return len(o.instances)
}
