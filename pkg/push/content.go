// Package push contains the domain values shared by the notifier entry points:
// the inbound events, the recipients resolved for them and the provider payload.
package push

import "strings"

// ContentKind tags what a chat message carries.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindImage ContentKind = "image"
	KindVideo ContentKind = "video"
)

const (
	imagePrefix = "IMAGE:"
	videoPrefix = "VIDEO:"

	PhotoBody = "📷 Photo"
	VideoBody = "🎥 Video"
)

// Content is a chat message body with an explicit kind.
type Content struct {
	Kind  ContentKind
	Value string
}

// ParseContent maps the legacy "IMAGE:" / "VIDEO:" prefix convention onto a
// tagged Content. Anything else is text and kept verbatim.
func ParseContent(raw string) Content {
	switch {
	case strings.HasPrefix(raw, imagePrefix):
		return Content{Kind: KindImage, Value: strings.TrimPrefix(raw, imagePrefix)}
	case strings.HasPrefix(raw, videoPrefix):
		return Content{Kind: KindVideo, Value: strings.TrimPrefix(raw, videoPrefix)}
	default:
		return Content{Kind: KindText, Value: raw}
	}
}

// NotificationBody is the text shown on the device for this content.
func (c Content) NotificationBody() string {
	switch c.Kind {
	case KindImage:
		return PhotoBody
	case KindVideo:
		return VideoBody
	default:
		return c.Value
	}
}
