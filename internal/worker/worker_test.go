package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

const testDim = 512

// faceResponse builds a framed OK response containing one face per vector.
func faceResponse(vecs ...[testDim]float32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(0)                                       // Status OK
	binary.Write(payload, binary.BigEndian, uint32(len(vecs))) // NumFaces

	for _, vec := range vecs {
		binary.Write(payload, binary.BigEndian, [4]int32{10, 10, 20, 20}) // Box
		binary.Write(payload, binary.BigEndian, vec)                      // Vec
		binary.Write(payload, binary.BigEndian, float32(0.99))            // Quality

		imgData := []byte{0xCA, 0xFE}
		binary.Write(payload, binary.BigEndian, uint32(len(imgData))) // ImgLen
		payload.Write(imgData)                                        // ImgData
	}
	return frame(payload.Bytes())
}

func errorResponse(msg string) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(1) // Status ERROR
	binary.Write(payload, binary.BigEndian, uint32(len(msg)))
	payload.WriteString(msg)
	return frame(payload.Bytes())
}

func frame(body []byte) []byte {
	out := new(bytes.Buffer)
	binary.Write(out, binary.BigEndian, uint32(len(body)))
	out.Write(body)
	return out.Bytes()
}

func mockWorker(id int, responses ...[]byte) (*PythonWorker, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	for _, r := range responses {
		dataPipeMock.Write(r)
	}
	return &PythonWorker{
		ID:       id,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		dim:      testDim,
		// Cmd is nil because we aren't testing process management, just the protocol
	}, stdinMock
}

func TestDetectFaces(t *testing.T) {
	vec := [testDim]float32{}
	vec[0] = 0.5 // Set one value to verify

	w, stdinMock := mockWorker(1, faceResponse(vec))

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	faces, err := w.DetectFaces(context.Background(), inputFrame)
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}

	// Verify Go sent the correct data TO Python: 4 bytes header + 4 bytes data
	sentData := stdinMock.Bytes()
	if len(sentData) != 4+len(inputFrame) {
		t.Errorf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sentData))
	}
	if binary.BigEndian.Uint32(sentData[:4]) != uint32(len(inputFrame)) {
		t.Errorf("Expected length header %d, got %d", len(inputFrame), binary.BigEndian.Uint32(sentData[:4]))
	}

	// Verify Go read the correct data FROM Python
	if len(faces) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(faces))
	}
	if len(faces[0].Vec) != testDim {
		t.Fatalf("Expected vector of length %d, got %d", testDim, len(faces[0].Vec))
	}
	// Use epsilon for float comparison
	if math.Abs(faces[0].Vec[0]-0.5) > 1e-9 {
		t.Errorf("Expected vector[0] approx 0.5, got %f", faces[0].Vec[0])
	}
	if math.Abs(faces[0].Quality-0.99) > 1e-6 {
		t.Errorf("Expected quality approx 0.99, got %f", faces[0].Quality)
	}
	if !bytes.Equal(faces[0].Thumb, []byte{0xCA, 0xFE}) {
		t.Errorf("Expected thumbnail CAFE, got %X", faces[0].Thumb)
	}
}

func TestDetectFaces_NoFaces(t *testing.T) {
	w, _ := mockWorker(1, faceResponse())

	faces, err := w.DetectFaces(context.Background(), []byte("frame"))
	if err != nil {
		t.Fatalf("DetectFaces failed: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("Expected 0 faces, got %d", len(faces))
	}
}

func TestDetectFaces_Error(t *testing.T) {
	errMsg := "Python Exception: Import Error"
	w, _ := mockWorker(1, errorResponse(errMsg))

	_, err := w.DetectFaces(context.Background(), []byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
	// A well-formed error response keeps the stream in sync
	if w.Broken() {
		t.Error("Worker should not be marked broken after a framed error response")
	}
}

func TestDetectFaces_CrashMarksBroken(t *testing.T) {
	// No response at all: the process died before answering
	w, _ := mockWorker(1)

	if _, err := w.DetectFaces(context.Background(), []byte("frame")); err == nil {
		t.Fatal("Expected error from empty pipe, got nil")
	}
	if !w.Broken() {
		t.Fatal("Expected worker to be marked broken")
	}
	if _, err := w.DetectFaces(context.Background(), []byte("frame")); !errors.Is(err, ErrBroken) {
		t.Errorf("Expected ErrBroken on reuse, got %v", err)
	}
}

func TestDecodeFaces_Truncated(t *testing.T) {
	body := faceResponse([testDim]float32{1})[4:]
	if _, err := decodeFaces(body[:len(body)-3], testDim); err == nil {
		t.Error("Expected error for truncated payload, got nil")
	}
}

func TestDecodeFaces_BogusCount(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"huge count, no records", []byte{statusOK, 0x40, 0, 0, 0}},
		{"count one more than sent", append([]byte{statusOK, 0, 0, 0, 2}, faceResponse([testDim]float32{1})[9:]...)},
		{"error message longer than payload", []byte{statusError, 0x7f, 0, 0, 0, 'x'}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeFaces(tt.body, testDim); err == nil {
				t.Error("Expected error for inconsistent length header, got nil")
			}
		})
	}
}

func TestDecodeFaces_NonFinite(t *testing.T) {
	vec := [testDim]float32{}
	vec[3] = float32(math.NaN())
	if _, err := decodeFaces(faceResponse(vec)[4:], testDim); err == nil {
		t.Error("Expected error for NaN component, got nil")
	}
}
