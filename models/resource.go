package models

import (
	"time"
)

// Kind identifies which resource family a record belongs to. Slugs are
// unique per kind, not globally.
type Kind string

const (
	KindPaste Kind = "paste"
	KindFile  Kind = "file"
	KindURL   Kind = "url"
	KindQR    Kind = "qr"
	KindLink  Kind = "link"
)

// Kinds lists every resource kind, in sweep order.
var Kinds = []Kind{KindPaste, KindFile, KindURL, KindQR, KindLink}

// Valid reports whether k is a known resource kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPaste, KindFile, KindURL, KindQR, KindLink:
		return true
	}
	return false
}

// HasExternalPayload reports whether records of this kind keep their
// content outside the metadata record. The sweeper must delete that
// payload together with the record.
func (k Kind) HasExternalPayload() bool {
	return k == KindFile
}

// AllowsNeverExpire reports whether a record of this kind may be created
// without an expiry time. Only short URLs support it; every other kind is
// forced onto a bounded retention window.
func (k Kind) AllowsNeverExpire() bool {
	return k == KindURL
}

// Resource is a shareable record addressed by a short slug: a text paste,
// an uploaded file, a shortened URL, a QR record, or a bio-link page.
type Resource struct {
	Slug         string     `json:"slug" bson:"slug"`
	Kind         Kind       `json:"kind" bson:"kind"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	UsageCount   int64      `json:"usage_count" bson:"usage_count"`
	UsageCeiling int64      `json:"usage_ceiling,omitempty" bson:"usage_ceiling,omitempty"`
	PasswordHash string     `json:"-" bson:"password_hash,omitempty"`
	Size         int64      `json:"size" bson:"size"`
	ContentType  string     `json:"content_type,omitempty" bson:"content_type,omitempty"`

	// Kind-specific fields.
	Filename  string `json:"filename,omitempty" bson:"filename,omitempty"`     // file
	TargetURL string `json:"target_url,omitempty" bson:"target_url,omitempty"` // url

	// Inline payload for paste/qr/link kinds. File bytes live in the
	// payload store, not here.
	Content []byte `json:"-" bson:"content,omitempty"`
}

// IsExpired reports whether the resource's expiry time has passed.
// A nil ExpiresAt means the resource never expires.
func (r *Resource) IsExpired(now time.Time) bool {
	if r.ExpiresAt == nil {
		return false
	}
	return now.After(*r.ExpiresAt)
}

// IsExhausted reports whether the resource has reached its usage ceiling.
// A zero ceiling means unlimited use.
func (r *Resource) IsExhausted() bool {
	return r.UsageCeiling > 0 && r.UsageCount >= r.UsageCeiling
}

// IsDead reports whether the resource is logically dead: expired or
// exhausted. Dead resources must be refused even before the sweeper has
// physically removed them.
func (r *Resource) IsDead(now time.Time) bool {
	return r.IsExpired(now) || r.IsExhausted()
}

// HasPassword reports whether access to this resource is password-gated.
func (r *Resource) HasPassword() bool {
	return r.PasswordHash != ""
}

// Remaining returns how many uses are left, or -1 when no ceiling is set.
func (r *Resource) Remaining() int64 {
	if r.UsageCeiling <= 0 {
		return -1
	}
	left := r.UsageCeiling - r.UsageCount
	if left < 0 {
		return 0
	}
	return left
}
