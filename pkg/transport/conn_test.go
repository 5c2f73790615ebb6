package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/m2mlink/m2m-go/pkg/registration"
)

func TestParseServerURI(t *testing.T) {
	tests := []struct {
		uri     string
		binding registration.BindingMode
		want    ServerAddress
		wantErr error
	}{
		{"coap://example.com", registration.BindingUDP,
			ServerAddress{Network: "udp", Address: "example.com:5683", Host: "example.com"}, nil},
		{"coap://example.com:5684", registration.BindingTCP,
			ServerAddress{Network: "tcp", Address: "example.com:5684", Host: "example.com"}, nil},
		{"udp://10.0.0.1:6000", registration.BindingUDPQueue,
			ServerAddress{Network: "udp", Address: "10.0.0.1:6000", Host: "10.0.0.1"}, nil},
		{"tcp://[::1]:7000", registration.BindingUDP,
			ServerAddress{Network: "tcp", Address: "[::1]:7000", Host: "::1"}, nil},
		{"coaps://example.com", registration.BindingUDP,
			ServerAddress{Network: "tcp", Address: "example.com:5684", Host: "example.com", TLS: true}, nil},
		{"tls://example.com:9000", registration.BindingTCP,
			ServerAddress{Network: "tcp", Address: "example.com:9000", Host: "example.com", TLS: true}, nil},
		{"http://example.com", registration.BindingUDP, ServerAddress{}, ErrUnsupportedScheme},
		{"coap://", registration.BindingUDP, ServerAddress{}, registration.ErrInvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := ParseServerURI(tt.uri, tt.binding)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseServerURI() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseServerURI() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseServerURI() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUnsupportedSchemeKind(t *testing.T) {
	_, err := ParseServerURI("http://example.com", registration.BindingUDP)
	if got := registration.KindOf(err); got != registration.KindInvalidParameters {
		t.Errorf("KindOf() = %v, want InvalidParameters", got)
	}
}

func TestPacketConn(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}
	defer pc.Close()

	raw, err := net.Dial("udp", pc.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	logger := &capturingLogger{}
	conn := NewPacketConn(raw, 64)
	conn.SetLogger(logger, "udp-1")
	defer conn.Close()

	if err := conn.WriteMessage([]byte("ping")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if err := conn.WriteMessage(make([]byte, 65)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized WriteMessage() error = %v, want ErrMessageTooLarge", err)
	}

	buf := make([]byte, 128)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("server got %q, want ping", buf[:n])
	}

	// One datagram carries one message, without a length prefix.
	if _, err := pc.WriteTo([]byte("pong"), from); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if string(got) != "pong" {
		t.Errorf("ReadMessage() = %q, want pong", got)
	}

	if _, err := pc.WriteTo(make([]byte, 100), from); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if _, err := conn.ReadMessage(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("oversized ReadMessage() error = %v, want ErrMessageTooLarge", err)
	}

	if n := len(logger.Events()); n != 2 {
		t.Errorf("logged %d datagrams, want 2", n)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRandomPort(t *testing.T) {
	for i := 0; i < 1000; i++ {
		if p := RandomPort(); p < RandomPortMin || p > RandomPortMax {
			t.Fatalf("RandomPort() = %d, out of range", p)
		}
	}
}
