package model

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Operations is the set of remote operations allowed on a resource.
type Operations uint8

const (
	// OpRead allows reading the resource.
	OpRead Operations = 1 << iota

	// OpWrite allows writing the resource.
	OpWrite

	// OpExecute allows executing the resource.
	OpExecute

	// Common combinations.

	// OpReadWrite is read and write.
	OpReadWrite = OpRead | OpWrite

	// OpNone allows nothing remotely.
	OpNone Operations = 0
)

// CanRead returns true if reading is allowed.
func (o Operations) CanRead() bool { return o&OpRead != 0 }

// CanWrite returns true if writing is allowed.
func (o Operations) CanWrite() bool { return o&OpWrite != 0 }

// CanExecute returns true if executing is allowed.
func (o Operations) CanExecute() bool { return o&OpExecute != 0 }

// String returns the operations as a string.
func (o Operations) String() string {
	var s string
	if o.CanRead() {
		s += "R"
	}
	if o.CanWrite() {
		s += "W"
	}
	if o.CanExecute() {
		s += "E"
	}
	if s == "" {
		return "-"
	}
	return s
}

// DataType is the declared type of a resource value.
type DataType uint8

const (
	DataTypeOpaque DataType = iota
	DataTypeBool
	DataTypeInteger
	DataTypeString
)

// String returns the data type name.
func (d DataType) String() string {
	switch d {
	case DataTypeOpaque:
		return "opaque"
	case DataTypeBool:
		return "bool"
	case DataTypeInteger:
		return "integer"
	case DataTypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Resource errors.
var (
	ErrDuplicateID         = errors.New("duplicate identifier")
	ErrNotFound            = errors.New("not found")
	ErrOperationNotAllowed = errors.New("operation not allowed")
	ErrInvalidValue        = errors.New("invalid value for resource type")
)

// ResourceMetadata describes a resource's properties.
type ResourceMetadata struct {
	// ID is the resource identifier within the instance.
	ID uint16

	// Name is the human-readable resource name.
	Name string

	// Type is the declared value type.
	Type DataType

	// Operations defines the remotely allowed operations.
	Operations Operations

	// Observable marks resources whose changes are reported to the server.
	Observable bool

	// Default is the initial value.
	Default []byte

	// Unit is the unit of measurement, if any.
	Unit string
}

// Resource is a leaf of the tree holding one typed value.
type Resource struct {
	metadata ResourceMetadata
	instance *Instance
	value    []byte

	// observed is set while the server holds an observation.
	observed bool

	// pending is set when a notification is owed to the server.
	pending bool

	execute ExecuteHandler
}

func newResource(meta ResourceMetadata, inst *Instance) *Resource {
	return &Resource{
		metadata: meta,
		instance: inst,
		value:    bytes.Clone(meta.Default),
	}
}

// ID returns the resource ID.
func (r *Resource) ID() uint16 {
	return r.metadata.ID
}

// Name returns the resource name.
func (r *Resource) Name() string {
	return r.metadata.Name
}

// Metadata returns a copy of the resource metadata.
func (r *Resource) Metadata() ResourceMetadata {
	return r.metadata
}

// Path returns the full address of the resource.
func (r *Resource) Path() Path {
	return Path{
		ObjectID:   r.instance.object.ID(),
		InstanceID: r.instance.ID(),
		ResourceID: r.metadata.ID,
		Depth:      DepthResource,
	}
}

// Value returns a copy of the current value.
func (r *Resource) Value() []byte {
	return bytes.Clone(r.value)
}

// SetValue replaces the stored value.
// If the resource is observable and the server observes it, the tree's
// notifier is told about the change.
func (r *Resource) SetValue(value []byte) {
	r.value = bytes.Clone(value)
	r.changed()
}

// SetBool stores a boolean in text form ("0" or "1").
func (r *Resource) SetBool(v bool) {
	if v {
		r.SetValue([]byte("1"))
		return
	}
	r.SetValue([]byte("0"))
}

// SetInt stores an integer in decimal text form.
func (r *Resource) SetInt(v int64) {
	r.SetValue(strconv.AppendInt(nil, v, 10))
}

// SetString stores a string.
func (r *Resource) SetString(v string) {
	r.SetValue([]byte(v))
}

// Bool decodes the current value as a boolean.
func (r *Resource) Bool() (bool, error) {
	return parseBool(r.value)
}

// Int decodes the current value as an integer.
func (r *Resource) Int() (int64, error) {
	return parseInt(r.value)
}

// String returns the current value as text.
func (r *Resource) String() string {
	return string(r.value)
}

// IsObservable reports whether changes may be notified to the server.
func (r *Resource) IsObservable() bool {
	return r.metadata.Observable
}

// IsObserved reports whether the server currently observes the resource.
func (r *Resource) IsObserved() bool {
	return r.observed
}

// NotificationPending reports whether a change has not been reported yet.
func (r *Resource) NotificationPending() bool {
	return r.pending
}

// ClearPending marks the last change as reported.
func (r *Resource) ClearPending() {
	r.pending = false
}

func (r *Resource) changed() {
	if !r.metadata.Observable || !r.observed {
		return
	}
	r.pending = true
	if tree := r.instance.tree(); tree != nil && tree.notifier != nil {
		tree.notifier.ResourceChanged(r)
	}
}

// validate checks that value is a legal encoding of the declared type.
func (r *Resource) validate(value []byte) error {
	switch r.metadata.Type {
	case DataTypeBool:
		if _, err := parseBool(value); err != nil {
			return err
		}
	case DataTypeInteger:
		if _, err := parseInt(value); err != nil {
			return err
		}
	case DataTypeString:
		if !utf8.Valid(value) {
			return fmt.Errorf("%w: expected utf-8 string", ErrInvalidValue)
		}
	}
	return nil
}

func parseBool(b []byte) (bool, error) {
	switch string(b) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("%w: expected bool, got %q", ErrInvalidValue, b)
	}
}

func parseInt(b []byte) (int64, error) {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expected integer, got %q", ErrInvalidValue, b)
	}
	return v, nil
}
