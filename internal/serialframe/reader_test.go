package serialframe

import (
	"bytes"
	"errors"
	"testing"
)

// memPort is an in-memory Port. An empty reader behaves like a serial
// read timeout (io.EOF with no bytes).
type memPort struct {
	r       *bytes.Reader
	chunk   int
	flushes int
	readErr error
}

func newMemPort(stream ...[]byte) *memPort {
	return &memPort{r: bytes.NewReader(bytes.Join(stream, nil))}
}

func (p *memPort) Read(b []byte) (int, error) {
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.chunk > 0 && len(b) > p.chunk {
		b = b[:p.chunk]
	}
	return p.r.Read(b)
}

func (p *memPort) Available() (int, error) { return p.r.Len(), nil }

func (p *memPort) Flush() error {
	p.flushes++
	p.r = bytes.NewReader(nil)
	return nil
}

func payloadOf(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%50)
	}
	return b
}

func TestReader_GarbageAroundFrame(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	port := newMemPort(garbage(10), mustEncode(t, payload), garbage(300))

	got, err := NewReader(port, DefaultConfig()).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Expected %v, got %v", payload, got)
	}
}

func TestReader_NoExtraReadWhenWindowHoldsPayload(t *testing.T) {
	wire := mustEncode(t, payloadOf(10, 1))
	port := newMemPort(wire, garbage(400))

	if _, err := NewReader(port, DefaultConfig()).ReadFrame(); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	want := len(wire) + 400 - DefaultPeekSize
	if port.r.Len() != want {
		t.Errorf("Expected only one window read (%d left), got %d left", want, port.r.Len())
	}
}

func TestReader_ResyncAfterHeaderlessWindows(t *testing.T) {
	payload := payloadOf(50, 9)
	port := newMemPort(garbage(3*DefaultPeekSize+17), mustEncode(t, payload), garbage(DefaultPeekSize))

	got, err := NewReader(port, DefaultConfig()).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Payload mismatch after resync")
	}
}

func TestReader_MaxScan(t *testing.T) {
	port := newMemPort(garbage(10*DefaultPeekSize))
	cfg := DefaultConfig()
	cfg.MaxScan = 2

	_, err := NewReader(port, cfg).ReadFrame()
	if !errors.Is(err, ErrNoHeader) {
		t.Fatalf("Expected ErrNoHeader, got %v", err)
	}
	if port.r.Len() != 8*DefaultPeekSize {
		t.Errorf("Expected exactly 2 windows read, %d bytes left", port.r.Len())
	}
}

func TestReader_HeaderStraddlesWindows(t *testing.T) {
	payload := payloadOf(40, 3)
	for _, offset := range []int{DefaultPeekSize - 3, DefaultPeekSize - 2, DefaultPeekSize - 1, DefaultPeekSize - 5} {
		port := newMemPort(garbage(offset), mustEncode(t, payload), garbage(DefaultPeekSize))

		got, err := NewReader(port, DefaultConfig()).ReadFrame()
		if err != nil {
			t.Fatalf("offset %d: ReadFrame failed: %v", offset, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("offset %d: payload mismatch", offset)
		}
	}
}

func TestReader_ReadsRemainderOfLargeFrame(t *testing.T) {
	payload := payloadOf(1000, 7)
	port := newMemPort(garbage(5), mustEncode(t, payload))
	port.chunk = 64

	got, err := NewReader(port, DefaultConfig()).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Payload mismatch for multi-read frame")
	}
	if port.r.Len() != 0 {
		t.Errorf("Expected stream fully consumed, %d bytes left", port.r.Len())
	}
}

func TestReader_ConsecutiveFrames(t *testing.T) {
	frames := [][]byte{payloadOf(300, 1), payloadOf(400, 2), payloadOf(500, 3)}
	var stream [][]byte
	for _, f := range frames {
		stream = append(stream, mustEncode(t, f))
	}
	reader := NewReader(newMemPort(stream...), DefaultConfig())

	for i, want := range frames {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: ReadFrame failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: payload mismatch", i)
		}
	}
}

func TestReader_Timeout(t *testing.T) {
	_, err := NewReader(newMemPort(), DefaultConfig()).ReadFrame()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
}

func TestReader_PortError(t *testing.T) {
	port := newMemPort(garbage(10))
	port.readErr = errors.New("device unplugged")

	_, err := NewReader(port, DefaultConfig()).ReadFrame()
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected a port error, got %v", err)
	}
}

func TestReader_IncompleteFrame(t *testing.T) {
	wire := mustEncode(t, payloadOf(300, 5))
	truncated := wire[:len(wire)-20]

	_, err := NewReader(newMemPort(truncated), DefaultConfig()).ReadFrame()
	if !errors.Is(err, ErrIncompleteFrame) {
		t.Fatalf("Expected ErrIncompleteFrame, got %v", err)
	}
	if err.Error() != "incomplete jpeg frame" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestReader_MissingRemainderTimesOut(t *testing.T) {
	// the whole window is consumed by the scan, nothing follows
	wire := mustEncode(t, payloadOf(DefaultPeekSize, 5))
	truncated := wire[:DefaultPeekSize]

	_, err := NewReader(newMemPort(truncated), DefaultConfig()).ReadFrame()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout reading the remainder, got %v", err)
	}
}

func TestReader_BacklogDrop(t *testing.T) {
	tests := []struct {
		name        string
		trailing    int
		wantFlushes int
	}{
		{"below limit", 1000, 0},
		{"above limit", DefaultBacklogLimit + DefaultPeekSize + 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newMemPort(mustEncode(t, payloadOf(20, 1)), garbage(tt.trailing))

			if _, err := NewReader(port, DefaultConfig()).ReadFrame(); err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if port.flushes != tt.wantFlushes {
				t.Errorf("Expected %d flushes, got %d", tt.wantFlushes, port.flushes)
			}
			if tt.wantFlushes > 0 && port.r.Len() != 0 {
				t.Errorf("Expected backlog dropped, %d bytes left", port.r.Len())
			}
		})
	}
}

func TestReader_BacklogDropAfterFailure(t *testing.T) {
	port := newMemPort(garbage(2*DefaultPeekSize + DefaultBacklogLimit + 100))
	cfg := DefaultConfig()
	cfg.MaxScan = 1

	if _, err := NewReader(port, cfg).ReadFrame(); err == nil {
		t.Fatal("Expected ErrNoHeader")
	}
	if port.flushes != 1 {
		t.Errorf("Expected backlog drop after a failed read, got %d flushes", port.flushes)
	}
}

var _ Port = (*memPort)(nil)
