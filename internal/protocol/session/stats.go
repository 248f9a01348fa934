package session

import (
	"sort"
	"time"
)

type ChannelStats struct {
	Name    string `json:"name"`
	Closed  bool   `json:"closed"`
	Pending int    `json:"pending"`
}

// Stats is a point-in-time view of one session.
type Stats struct {
	ID             string         `json:"id"`
	VirtualHost    string         `json:"virtual_host"`
	Remote         string         `json:"remote"`
	OpenedAt       time.Time      `json:"opened_at"`
	Channels       []ChannelStats `json:"channels"`
	FramesSent     uint64         `json:"frames_sent"`
	FramesReceived uint64         `json:"frames_received"`
	FramesDemuxed  uint64         `json:"frames_demuxed"`
	FramesDropped  uint64         `json:"frames_dropped"`
	ReadMisses     uint64         `json:"read_misses"`
}

func (s *Session) snapshot() Stats {
	out := Stats{
		ID:             s.id,
		VirtualHost:    s.cfg.VirtualHost,
		Remote:         remoteAddr(s.conn),
		OpenedAt:       s.opened,
		Channels:       make([]ChannelStats, 0, len(s.channels)),
		FramesSent:     s.sent,
		FramesReceived: s.received,
		FramesDemuxed:  s.demuxed,
		FramesDropped:  s.dropped,
		ReadMisses:     s.misses,
	}
	for name, st := range s.channels {
		out.Channels = append(out.Channels, ChannelStats{
			Name:    name,
			Closed:  st.closed,
			Pending: s.inbox.Len(name),
		})
	}
	sort.Slice(out.Channels, func(i, j int) bool {
		return out.Channels[i].Name < out.Channels[j].Name
	})
	return out
}
