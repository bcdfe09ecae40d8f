package model

import "strings"

// Channel identifies one messaging surface.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelFacebook  Channel = "facebook"
	ChannelLeadAds   Channel = "leadads"
)

// NormalizeChannel lowercases a channel identifier so that conversation
// uniqueness comparisons are case-insensitive.
func NormalizeChannel(c string) Channel {
	return Channel(strings.ToLower(strings.TrimSpace(c)))
}

// IsPhoneBased reports whether contacts on this channel are identified
// by phone number rather than a provider user id.
func (c Channel) IsPhoneBased() bool {
	return c == ChannelWhatsApp || c == ChannelLeadAds
}

// Known reports whether the channel is one the pipeline understands.
func (c Channel) Known() bool {
	switch c {
	case ChannelWhatsApp, ChannelInstagram, ChannelFacebook, ChannelLeadAds:
		return true
	}
	return false
}
