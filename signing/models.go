package signing

import "time"

// SessionStatus enumerates the lifecycle states of a signing session.
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusDeclined   SessionStatus = "declined"
	StatusExpired    SessionStatus = "expired"
)

// Terminal reports whether no further signer transitions are accepted.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDeclined, StatusExpired:
		return true
	default:
		return false
	}
}

// SignerStatus enumerates the per-signer lifecycle states.
type SignerStatus string

const (
	SignerPending  SignerStatus = "pending"
	SignerSigned   SignerStatus = "signed"
	SignerDeclined SignerStatus = "declined"
)

// FieldKind identifies what a signature field collects.
type FieldKind string

const (
	FieldSignature FieldKind = "signature"
	FieldInitial   FieldKind = "initial"
	FieldDate      FieldKind = "date"
	FieldText      FieldKind = "text"
	FieldCheckbox  FieldKind = "checkbox"
)

// SignatureField is one placement on one page requiring a value from
// exactly one signer. Geometry is opaque to the engine and passed through
// for rendering.
type SignatureField struct {
	ID             string
	Kind           FieldKind
	Label          string
	Required       bool
	Page           int
	X              float64
	Y              float64
	Width          float64
	Height         float64
	SignerEmail    string
	Value          *string
	SignatureImage []byte
}

// Signer is one required party on a session, identified by email.
// Status is monotone: pending -> signed or pending -> declined.
type Signer struct {
	Email    string
	Name     string
	Role     string
	Status   SignerStatus
	SignedAt *time.Time
	SignedIP *string
}

// SigningSession is the aggregate root: one document, its signers, its
// fields, and a single terminal outcome.
type SigningSession struct {
	ID           string
	DocumentRef  string
	DocumentName string
	DocumentURL  string
	Status       SessionStatus
	Signers      []Signer
	Fields       []SignatureField
	CreatedAt    time.Time
	ExpiresAt    time.Time
	CompletedAt  *time.Time
	EmailSubject string
	EmailMessage string
}

// SignerByEmail returns a pointer into the session's signer list, or nil.
func (s *SigningSession) SignerByEmail(email string) *Signer {
	for i := range s.Signers {
		if s.Signers[i].Email == email {
			return &s.Signers[i]
		}
	}
	return nil
}

// AllSigned reports whether every signer has signed.
func (s *SigningSession) AllSigned() bool {
	for i := range s.Signers {
		if s.Signers[i].Status != SignerSigned {
			return false
		}
	}
	return len(s.Signers) > 0
}

// Clone returns a deep copy so readers never observe a partially-updated
// signer or field list.
func (s *SigningSession) Clone() SigningSession {
	out := *s
	out.Signers = make([]Signer, len(s.Signers))
	copy(out.Signers, s.Signers)
	for i := range out.Signers {
		if t := s.Signers[i].SignedAt; t != nil {
			c := *t
			out.Signers[i].SignedAt = &c
		}
		if ip := s.Signers[i].SignedIP; ip != nil {
			c := *ip
			out.Signers[i].SignedIP = &c
		}
	}
	out.Fields = make([]SignatureField, len(s.Fields))
	copy(out.Fields, s.Fields)
	for i := range out.Fields {
		if v := s.Fields[i].Value; v != nil {
			c := *v
			out.Fields[i].Value = &c
		}
		if img := s.Fields[i].SignatureImage; img != nil {
			out.Fields[i].SignatureImage = append([]byte(nil), img...)
		}
	}
	if t := s.CompletedAt; t != nil {
		c := *t
		out.CompletedAt = &c
	}
	return out
}

// SignerParams describes one required party at session creation.
type SignerParams struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// FieldParams describes one field placement at session creation.
type FieldParams struct {
	Kind        FieldKind `json:"kind"`
	Label       string    `json:"label"`
	Required    bool      `json:"required"`
	Page        int       `json:"page"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	SignerEmail string    `json:"signer_email"`
}

// CreateParams carries everything needed to open a session.
type CreateParams struct {
	DocumentRef    string
	DocumentName   string
	DocumentURL    string
	Signers        []SignerParams
	Fields         []FieldParams
	EmailSubject   string
	EmailMessage   string
	ExpirationDays int
}

// FieldValue is one submitted value addressed by field id.
type FieldValue struct {
	FieldID        string `json:"field_id"`
	Value          string `json:"value"`
	SignatureImage []byte `json:"signature_image,omitempty"`
}

// SubmitParams carries a signer's submission.
type SubmitParams struct {
	SessionID   string
	SignerEmail string
	Values      []FieldValue
	IP          string
	UserAgent   string
}

// DeclineParams carries a signer's refusal with a free-text reason.
type DeclineParams struct {
	SessionID   string
	SignerEmail string
	Reason      string
	IP          string
	UserAgent   string
}
