package log

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Events carry RFC 3339 nanosecond timestamps so that logs written by the
// device and by the server can be merged and sorted.
var (
	eventEnc cbor.EncMode
	eventDec cbor.DecMode
)

func init() {
	var err error
	eventEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("log: event encoder: %v", err))
	}
	// Older files may repeat keys; the last one wins.
	eventDec, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("log: event decoder: %v", err))
	}
}

// MarshalEvent returns the .mlog encoding of one event.
func MarshalEvent(event Event) ([]byte, error) {
	return eventEnc.Marshal(event)
}

// UnmarshalEvent decodes a single event produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var event Event
	err := eventDec.Unmarshal(data, &event)
	return event, err
}
