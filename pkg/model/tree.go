package model

import (
	"fmt"
	"strings"
)

// Notifier is told when an observed resource changes value.
// The client uses it to schedule the change notification to the server.
type Notifier interface {
	ResourceChanged(r *Resource)
}

// ValueSubscriber is notified when a remote write has been applied.
type ValueSubscriber interface {
	OnValueUpdated(r *Resource, value []byte)
}

// Tree is the full set of top-level objects.
type Tree struct {
	objects []*Object
	index   map[uint16]*Object

	notifier    Notifier
	subscribers []ValueSubscriber
}

// NewTree creates an empty resource tree.
func NewTree() *Tree {
	return &Tree{
		index: make(map[uint16]*Object),
	}
}

// CreateObject adds a top-level object.
// Returns ErrDuplicateID if the ID is taken; the tree is unchanged then.
func (t *Tree) CreateObject(id uint16) (*Object, error) {
	if _, exists := t.index[id]; exists {
		return nil, fmt.Errorf("%w: object /%d", ErrDuplicateID, id)
	}

	obj := &Object{
		id:    id,
		tree:  t,
		index: make(map[uint16]*Instance),
	}
	t.objects = append(t.objects, obj)
	t.index[id] = obj
	return obj, nil
}

// Object returns an object by ID.
func (t *Tree) Object(id uint16) (*Object, error) {
	obj, exists := t.index[id]
	if !exists {
		return nil, fmt.Errorf("%w: object /%d", ErrNotFound, id)
	}
	return obj, nil
}

// Objects returns the objects in creation order.
func (t *Tree) Objects() []*Object {
	out := make([]*Object, len(t.objects))
	copy(out, t.objects)
	return out
}

// ObjectCount returns the number of objects.
func (t *Tree) ObjectCount() int {
	return len(t.objects)
}

// SetNotifier sets the receiver of observed-resource changes.
func (t *Tree) SetNotifier(n Notifier) {
	t.notifier = n
}

// Subscribe adds a subscriber for applied remote writes.
func (t *Tree) Subscribe(sub ValueSubscriber) {
	t.subscribers = append(t.subscribers, sub)
}

// Unsubscribe removes a subscriber.
func (t *Tree) Unsubscribe(sub ValueSubscriber) {
	for i, s := range t.subscribers {
		if s == sub {
			t.subscribers = append(t.subscribers[:i], t.subscribers[i+1:]...)
			return
		}
	}
}

// Lookup returns the resource at path.
func (t *Tree) Lookup(p Path) (*Resource, error) {
	if p.Depth != DepthResource {
		return nil, fmt.Errorf("%w: %s is not a resource path", ErrInvalidPath, p)
	}
	obj, err := t.Object(p.ObjectID)
	if err != nil {
		return nil, err
	}
	inst, err := obj.Instance(p.InstanceID)
	if err != nil {
		return nil, err
	}
	return inst.Resource(p.ResourceID)
}

// Read performs a remote read.
func (t *Tree) Read(p Path) ([]byte, error) {
	r, err := t.Lookup(p)
	if err != nil {
		return nil, err
	}
	if !r.metadata.Operations.CanRead() {
		return nil, fmt.Errorf("%w: read %s", ErrOperationNotAllowed, p)
	}
	return r.Value(), nil
}

// Write performs a remote write. The value is checked against the
// resource's operations and declared type before it replaces the old one.
func (t *Tree) Write(p Path, value []byte) error {
	r, err := t.Lookup(p)
	if err != nil {
		return err
	}
	if !r.metadata.Operations.CanWrite() {
		return fmt.Errorf("%w: write %s", ErrOperationNotAllowed, p)
	}
	if err := r.validate(value); err != nil {
		return err
	}

	r.SetValue(value)

	for _, sub := range t.subscribersSnapshot() {
		sub.OnValueUpdated(r, r.Value())
	}
	return nil
}

// Execute performs a remote execute.
func (t *Tree) Execute(p Path, args []byte) error {
	r, err := t.Lookup(p)
	if err != nil {
		return err
	}
	return r.Execute(args)
}

// Observe starts or stops a server observation of a resource.
func (t *Tree) Observe(p Path, enable bool) error {
	r, err := t.Lookup(p)
	if err != nil {
		return err
	}
	if enable && (!r.metadata.Observable || !r.metadata.Operations.CanRead()) {
		return fmt.Errorf("%w: observe %s", ErrOperationNotAllowed, p)
	}
	r.observed = enable
	if !enable {
		r.pending = false
	}
	return nil
}

// Pending returns observed resources with unreported changes.
func (t *Tree) Pending() []*Resource {
	var out []*Resource
	for _, obj := range t.objects {
		for _, inst := range obj.instances {
			for _, r := range inst.resources {
				if r.pending {
					out = append(out, r)
				}
			}
		}
	}
	return out
}

// Links returns the registration link list, e.g. "</3/0>,</3200/0>".
func (t *Tree) Links() string {
	var links []string
	for _, obj := range t.objects {
		if len(obj.instances) == 0 {
			links = append(links, fmt.Sprintf("</%d>", obj.id))
			continue
		}
		for _, inst := range obj.instances {
			links = append(links, fmt.Sprintf("<%s>", inst.Path()))
		}
	}
	return strings.Join(links, ",")
}

func (t *Tree) subscribersSnapshot() []ValueSubscriber {
	subs := make([]ValueSubscriber, len(t.subscribers))
	copy(subs, t.subscribers)
	return subs
}
