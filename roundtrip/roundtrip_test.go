package roundtrip

import (
	"net"
	"runtime"
	"testing"

	"github.com/m-lab/go/rtx"
	"go.uber.org/goleak"

	"github.com/m-lab/echo-probe/echo"
	"github.com/m-lab/echo-probe/echoserver"
	"github.com/m-lab/echo-probe/tsc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "default scheme and smallest legal payload",
			config:  Config{PayloadSize: echo.MinPayloadSize + 1},
			wantErr: false,
		},
		{
			name:    "payload of exactly the minimum is too small",
			config:  Config{PayloadSize: echo.MinPayloadSize, MaxMessages: 1},
			wantErr: true,
		},
		{
			name:    "zero payload",
			config:  Config{PayloadSize: 0, MaxMessages: 1},
			wantErr: true,
		},
		{
			name:    "negative max messages",
			config:  Config{PayloadSize: 64, MaxMessages: -1},
			wantErr: true,
		},
		{
			name:    "websockets",
			config:  Config{Scheme: "ws", PayloadSize: 64, MaxMessages: 1},
			wantErr: false,
		},
		{
			name:    "secure websockets",
			config:  Config{Scheme: "wss", PayloadSize: 64, MaxMessages: 1},
			wantErr: false,
		},
		{
			name:    "unknown scheme",
			config:  Config{Scheme: "udp", PayloadSize: 64, MaxMessages: 1},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunRejectsBadConfigsBeforeDialing(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	rtx.Must(err, "Could not listen")
	defer listener.Close()
	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := listener.Accept()
		if err == nil {
			accepted <- struct{}{}
			conn.Close()
		}
	}()

	defer func() {
		if recover() == nil {
			t.Error("a payload of the minimum size should be fatal")
		}
		select {
		case <-accepted:
			t.Error("the probe should not have dialed at all")
		default:
		}
	}()
	Run(Config{
		Address:     listener.Addr().String(),
		PayloadSize: echo.MinPayloadSize,
		MaxMessages: 1,
	})
}

func TestRunMeasuresEveryRoundTrip(t *testing.T) {
	srv, err := echoserver.ListenTCP("127.0.0.1:0")
	rtx.Must(err, "Could not start the echo server")
	defer srv.Close()

	record := Run(Config{
		Address:     srv.Addr().String(),
		PayloadSize: 64,
		MaxMessages: 1000,
	})

	if record.MessageCount < 1000 {
		t.Errorf("measured %d round trips, want at least 1000", record.MessageCount)
	}
	if len(record.Samples) != record.MessageCount {
		t.Errorf("%d samples for %d round trips", len(record.Samples), record.MessageCount)
	}
	for i, sample := range record.Samples {
		if sample == 0 {
			t.Errorf("sample %d is zero", i)
		}
	}
	if record.BytesEchoed < 64*1000 {
		t.Errorf("echoed %d bytes, want at least %d", record.BytesEchoed, 64*1000)
	}
	if record.Protocol != "tcp" {
		t.Errorf("protocol is %q, want tcp", record.Protocol)
	}
	if record.UUID == "" {
		t.Error("the record should carry the connection uuid")
	}
	if record.ClientPort == 0 || record.ServerPort == 0 {
		t.Errorf("the record should carry both endpoints, got client %d server %d",
			record.ClientPort, record.ServerPort)
	}
	if record.ServerPort != srv.Port() {
		t.Errorf("server port is %d, want %d", record.ServerPort, srv.Port())
	}
	if record.EndTime.Before(record.StartTime) {
		t.Error("the run should not end before it starts")
	}
	if record.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("schema version is %d, want %d", record.SchemaVersion, CurrentSchemaVersion)
	}
	if record.CounterIsHardware != tsc.Supported() {
		t.Error("the record misreports the cycle counter")
	}
	if runtime.GOOS == "linux" && record.TCPInfo == nil {
		t.Error("on Linux the record should carry a final TCP_INFO snapshot")
	}
}

func TestRunOverWebSockets(t *testing.T) {
	srv, err := echoserver.ListenWS("127.0.0.1:0")
	rtx.Must(err, "Could not start the echo server")
	defer srv.Close()

	record := Run(Config{
		Scheme:      "ws",
		Address:     srv.Addr().String(),
		PayloadSize: 64,
		MaxMessages: 100,
	})

	// Messages are framed over websockets, so every pop returns exactly
	// one echoed payload and the counts come out exact.
	if record.MessageCount != 100 {
		t.Errorf("measured %d round trips, want 100", record.MessageCount)
	}
	if record.BytesEchoed != 64*100 {
		t.Errorf("echoed %d bytes, want %d", record.BytesEchoed, 64*100)
	}
	if record.Protocol != "ws" {
		t.Errorf("protocol is %q, want ws", record.Protocol)
	}
}

func TestRunWithPayloadsLargerThanOneSegment(t *testing.T) {
	srv, err := echoserver.ListenTCP("127.0.0.1:0")
	rtx.Must(err, "Could not start the echo server")
	defer srv.Close()

	// 20000 bytes split across three segments per push, while every pop
	// returns at most one segment. The byte counter, not the message
	// counter, decides when the run is over.
	record := Run(Config{
		Address:     srv.Addr().String(),
		PayloadSize: 20000,
		MaxMessages: 3,
	})

	if record.BytesEchoed < 60000 {
		t.Errorf("echoed %d bytes, want at least 60000", record.BytesEchoed)
	}
	if record.MessageCount < 3 {
		t.Errorf("measured %d round trips, want at least 3", record.MessageCount)
	}
	if len(record.Samples) != record.MessageCount {
		t.Errorf("%d samples for %d round trips", len(record.Samples), record.MessageCount)
	}
}

func TestRunWithZeroMessagesOnlyConnects(t *testing.T) {
	srv, err := echoserver.ListenTCP("127.0.0.1:0")
	rtx.Must(err, "Could not start the echo server")
	defer srv.Close()

	record := Run(Config{
		Address:     srv.Addr().String(),
		PayloadSize: 64,
		MaxMessages: 0,
	})

	if record.MessageCount != 0 || record.BytesEchoed != 0 || len(record.Samples) != 0 {
		t.Errorf("a zero-message run should measure nothing, got %+v", record)
	}
	if record.UUID == "" {
		t.Error("even a zero-message run should identify its connection")
	}
}
