package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned when a path string cannot be parsed.
var ErrInvalidPath = errors.New("invalid path")

// Depth is the number of significant path segments.
type Depth uint8

const (
	DepthObject   Depth = 1
	DepthInstance Depth = 2
	DepthResource Depth = 3
)

// Path addresses an object, an instance or a resource.
type Path struct {
	ObjectID   uint16 `cbor:"1,keyasint"`
	InstanceID uint16 `cbor:"2,keyasint,omitempty"`
	ResourceID uint16 `cbor:"3,keyasint,omitempty"`
	Depth      Depth  `cbor:"4,keyasint"`
}

// ResourcePath returns the path of a single resource.
func ResourcePath(objectID, instanceID, resourceID uint16) Path {
	return Path{ObjectID: objectID, InstanceID: instanceID, ResourceID: resourceID, Depth: DepthResource}
}

// InstancePath returns the path of an object instance.
func InstancePath(objectID, instanceID uint16) Path {
	return Path{ObjectID: objectID, InstanceID: instanceID, Depth: DepthInstance}
}

// String formats the path as "/object/instance/resource".
func (p Path) String() string {
	switch p.Depth {
	case DepthObject:
		return fmt.Sprintf("/%d", p.ObjectID)
	case DepthInstance:
		return fmt.Sprintf("/%d/%d", p.ObjectID, p.InstanceID)
	default:
		return fmt.Sprintf("/%d/%d/%d", p.ObjectID, p.InstanceID, p.ResourceID)
	}
}

// ParsePath parses "/3", "/3/0" or "/3/0/1". The leading slash is optional.
func ParsePath(s string) (Path, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) == 0 || len(parts) > 3 || parts[0] == "" {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}

	ids := make([]uint16, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
		}
		ids[i] = uint16(v)
	}

	p := Path{ObjectID: ids[0], Depth: Depth(len(ids))}
	if len(ids) > 1 {
		p.InstanceID = ids[1]
	}
	if len(ids) > 2 {
		p.ResourceID = ids[2]
	}
	return p, nil
}
