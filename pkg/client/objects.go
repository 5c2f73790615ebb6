package client

import (
	"fmt"

	"github.com/m2mlink/m2m-go/pkg/hardware"
	"github.com/m2mlink/m2m-go/pkg/model"
)

// Object IDs.
const (
	ObjectDevice uint16 = 3
	ObjectButton uint16 = 3200
	ObjectLED    uint16 = 32769
)

// Device object resources.
const (
	ResourceManufacturer uint16 = 0
	ResourceModelNumber  uint16 = 1
	ResourceSerialNumber uint16 = 2
	ResourceDeviceType   uint16 = 17
)

// ResourceClickCounter is the observable button counter.
const ResourceClickCounter uint16 = 5501

// LED object resources.
const (
	ResourceRed   uint16 = 1
	ResourceGreen uint16 = 2
	ResourceBlue  uint16 = 3
	ResourceDisco uint16 = 4
)

// Paths of the resources the client drives.
var (
	CounterPath = model.ResourcePath(ObjectButton, 0, ResourceClickCounter)
	RedPath     = model.ResourcePath(ObjectLED, 0, ResourceRed)
	GreenPath   = model.ResourcePath(ObjectLED, 0, ResourceGreen)
	BluePath    = model.ResourcePath(ObjectLED, 0, ResourceBlue)
	DiscoPath   = model.ResourcePath(ObjectLED, 0, ResourceDisco)
)

// DeviceInfo is the content of the device object.
type DeviceInfo struct {
	Manufacturer string
	Model        string
	Serial       string
	DeviceType   string
}

// DefaultDeviceInfo returns the values of the reference board.
func DefaultDeviceInfo() DeviceInfo {
	return DeviceInfo{
		Manufacturer: "manufacturer",
		Model:        "2015",
		Serial:       "12345",
		DeviceType:   "type",
	}
}

// objects holds the resources the client touches after setup.
type objects struct {
	counter *model.Resource
	leds    [3]*model.Resource
	disco   *model.Resource
}

func buildTree(info DeviceInfo) (*model.Tree, *objects, error) {
	tree := model.NewTree()
	objs := &objects{}

	device, err := newInstance(tree, ObjectDevice, "Device")
	if err != nil {
		return nil, nil, err
	}
	for _, r := range []struct {
		id    uint16
		name  string
		value string
	}{
		{ResourceManufacturer, "Manufacturer", info.Manufacturer},
		{ResourceModelNumber, "Model Number", info.Model},
		{ResourceSerialNumber, "Serial Number", info.Serial},
		{ResourceDeviceType, "Device Type", info.DeviceType},
	} {
		if _, err := device.CreateResource(model.ResourceMetadata{
			ID:         r.id,
			Name:       r.name,
			Type:       model.DataTypeString,
			Operations: model.OpRead,
			Default:    []byte(r.value),
		}); err != nil {
			return nil, nil, err
		}
	}

	button, err := newInstance(tree, ObjectButton, "Button")
	if err != nil {
		return nil, nil, err
	}
	objs.counter, err = button.CreateResource(model.ResourceMetadata{
		ID:         ResourceClickCounter,
		Name:       "Digital Input Counter",
		Type:       model.DataTypeInteger,
		Operations: model.OpRead,
		Observable: true,
		Default:    []byte("0"),
	})
	if err != nil {
		return nil, nil, err
	}

	led, err := newInstance(tree, ObjectLED, "TriColorLED")
	if err != nil {
		return nil, nil, err
	}
	for i, r := range []struct {
		id   uint16
		name string
	}{
		{ResourceRed, "Red"},
		{ResourceGreen, "Green"},
		{ResourceBlue, "Blue"},
	} {
		objs.leds[i], err = led.CreateResource(model.ResourceMetadata{
			ID:         r.id,
			Name:       r.name,
			Type:       model.DataTypeBool,
			Operations: model.OpReadWrite,
			Default:    []byte("0"),
		})
		if err != nil {
			return nil, nil, err
		}
	}
	objs.disco, err = led.CreateResource(model.ResourceMetadata{
		ID:         ResourceDisco,
		Name:       "Disco",
		Type:       model.DataTypeOpaque,
		Operations: model.OpExecute,
	})
	if err != nil {
		return nil, nil, err
	}
	return tree, objs, nil
}

func newInstance(tree *model.Tree, id uint16, name string) (*model.Instance, error) {
	obj, err := tree.CreateObject(id)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", name, err)
	}
	obj.SetName(name)
	return obj.CreateInstanceWithID(0)
}

// indicatorOf returns the indicator driven by an LED resource.
func (o *objects) indicatorOf(r *model.Resource) (hardware.Indicator, bool) {
	for i, led := range o.leds {
		if led == r {
			return hardware.Indicator(i), true
		}
	}
	return 0, false
}
