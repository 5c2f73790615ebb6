// Package mqttlink carries management protocol messages over MQTT.
//
// Each client endpoint owns two topics:
//
//	m2m/<endpoint>/up    client → server (requests and responses)
//	m2m/<endpoint>/down  server → client (responses and requests)
//
// Payloads are the same CBOR messages the socket bindings carry, one
// message per MQTT publish.
//
// On the device, Dialer plugs into transport.EndpointConfig so the normal
// transport.Endpoint runs over the broker. On the server side, Bridge
// relays every endpoint's topics to a transport.Server UDP listener, one
// UDP socket per endpoint.
package mqttlink
