package types

import "time"

// ProcessingStatus tracks the transcription lifecycle of an uploaded recording.
// Valid transitions: PENDING -> PROCESSING -> DONE | ERROR.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "PENDING"
	ProcessingInProgress ProcessingStatus = "PROCESSING"
	ProcessingDone       ProcessingStatus = "DONE"
	ProcessingError      ProcessingStatus = "ERROR"
)

// MinutesStatus tracks the minutes ("ata") generation lifecycle, independent
// of transcription. Empty means generation was never requested.
type MinutesStatus string

const (
	MinutesNone       MinutesStatus = ""
	MinutesGenerating MinutesStatus = "GENERATING"
	MinutesDone       MinutesStatus = "DONE"
	MinutesError      MinutesStatus = "ERROR"
)

// SupportedFormats are the accepted upload extensions, without the dot.
var SupportedFormats = []string{"mp3", "wav", "m4a"}

// AudioRecord is one uploaded meeting recording and everything derived from it.
type AudioRecord struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	StoredName   string `json:"storedName"`
	FilePath     string `json:"filePath"`
	SizeBytes    int64  `json:"sizeBytes"`
	Format       string `json:"format"`
	UserID       string `json:"userId"`
	MeetingRef   string `json:"meetingRef,omitempty"`

	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	Transcript       string           `json:"transcript,omitempty"`
	ProcessedAt      *time.Time       `json:"processedAt,omitempty"`
	ProcessingError  string           `json:"processingError,omitempty"`

	MinutesGenerated   bool          `json:"minutesGenerated"`
	MinutesText        string        `json:"minutesText,omitempty"`
	MinutesStatus      MinutesStatus `json:"minutesStatus,omitempty"`
	MinutesGeneratedAt *time.Time    `json:"minutesGeneratedAt,omitempty"`
	MinutesError       string        `json:"minutesError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Signature is a simple electronic endorsement of a generated minutes
// document, bound to it by a SHA-256 hash of the minutes text at signing time.
type Signature struct {
	ID           string    `json:"id"`
	RecordID     string    `json:"recordId"`
	SignerName   string    `json:"signerName"`
	SignerTaxID  string    `json:"signerTaxId,omitempty"`
	SignerEmail  string    `json:"signerEmail,omitempty"`
	SignerRole   string    `json:"signerRole,omitempty"`
	Kind         string    `json:"kind"`
	DocumentHash string    `json:"documentHash"`
	SignerIP     string    `json:"signerIp,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	SignedAt     time.Time `json:"signedAt"`
}

// SignatureKindSimple is the only signature kind this service issues.
const SignatureKindSimple = "SIMPLE"

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MIMETypes maps each supported format to its accepted content types.
var MIMETypes = map[string][]string{
	"mp3": {"audio/mpeg", "audio/mp3"},
	"wav": {"audio/wav", "audio/wave", "audio/x-wav"},
	"m4a": {"audio/m4a", "audio/x-m4a", "audio/mp4"},
}

// IsSupportedFormat reports whether ext (without dot, lower case) is accepted.
func IsSupportedFormat(ext string) bool {
	for _, f := range SupportedFormats {
		if f == ext {
			return true
		}
	}
	return false
}

// IsValidMIME reports whether the declared content type matches the format.
// A missing or generic content type is tolerated; not every client sends a
// real one.
func IsValidMIME(ext, contentType string) bool {
	if contentType == "" || contentType == "application/octet-stream" {
		return true
	}
	for _, m := range MIMETypes[ext] {
		if m == contentType {
			return true
		}
	}
	return false
}
