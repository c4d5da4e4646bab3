package types

// Embedding is the fixed-length face vector produced by the extractor.
// A nil Embedding means no face was found.
type Embedding []float64

// FaceResult is a single face decoded from the worker response.
type FaceResult struct {
	Loc     []int     `json:"loc"` // [top, right, bottom, left]
	Vec     []float64 `json:"vec"`
	Quality float64   `json:"quality"`
	Thumb   []byte    `json:"-"` // JPEG crop of the face, may be empty
}

// GalleryEntry is one enrolled identity as read from the blob store.
type GalleryEntry struct {
	Key   string // identity key (email)
	Name  string // blob object name, e.g. faces/alice@example.com.jpg
	Image []byte
}

// Match is the accepted identity for a probe.
type Match struct {
	Key   string  `json:"email"`
	Score float64 `json:"similarity"`
}

// Status marks the kind of attendance event.
type Status string

const (
	StatusPresent Status = "present"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent:
		return true
	}
	return false
}

// AttendanceEvent is one immutable ledger row.
type AttendanceEvent struct {
	ID          string `json:"id"`
	IdentityKey string `json:"email"`
	Timestamp   string `json:"timestamp"` // local time, "2006-01-02 15:04:05"
	Status      Status `json:"status"`
}
