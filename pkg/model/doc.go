// Package model implements the resource tree a device exposes to its
// management server.
//
// # Hierarchy
//
// The tree has three levels:
//
//	Tree > Object > Instance > Resource
//
// An Object groups instances of the same kind (e.g. object 3 is the Device
// object). An Instance holds the resources of one concrete occurrence, and a
// Resource is the smallest addressable, typed unit:
//
//	Tree
//	├── Object 3 (Device)
//	│   └── Instance 0
//	│       ├── 0  Manufacturer   string  R
//	│       ├── 1  ModelNumber    string  R
//	│       └── 2  SerialNumber   string  R
//	├── Object 3200 (Digital input)
//	│   └── Instance 0
//	│       └── 5501 Counter      integer R, observable
//	└── Object 32769 (TriColorLED)
//	    └── Instance 0
//	        ├── 1 Red   bool RW
//	        ├── 2 Green bool RW
//	        ├── 3 Blue  bool RW
//	        └── 4 Disco      E
//
// # Addressing
//
// Resources are addressed by Path, the (ObjectID, InstanceID, ResourceID)
// tuple written as "/3/0/1".
//
// # Operations
//
// Each resource declares the operations a remote server may perform on it
// (Read, Write, Execute). Local code always may change a value through
// SetValue; remote writes go through Tree.Write which validates the
// declared type and operations first.
//
// # Ownership
//
// The tree is owned by a single goroutine (the scheduler's). None of the
// types in this package are safe for concurrent use.
package model
