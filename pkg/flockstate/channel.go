package flockstate

import "time"

// Channel is a group discussion primitive shared by a set of agents.
type Channel struct {
	ChannelID           string     `json:"channelId"`
	Name                string     `json:"name"`
	Topic               string     `json:"topic,omitempty"`
	CreatedBy           string     `json:"createdBy"`
	Members             []string   `json:"members"`
	Archived            bool       `json:"archived"`
	ArchiveReadyMembers []string   `json:"archiveReadyMembers,omitempty"`
	ArchivingStartedAt  *time.Time `json:"archivingStartedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy safe for the caller to mutate.
func (c *Channel) Clone() *Channel {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Members = append([]string(nil), c.Members...)
	cp.ArchiveReadyMembers = append([]string(nil), c.ArchiveReadyMembers...)
	if c.ArchivingStartedAt != nil {
		t := *c.ArchivingStartedAt
		cp.ArchivingStartedAt = &t
	}
	return &cp
}

// HasMember reports whether agentID is a member of the channel.
func (c *Channel) HasMember(agentID string) bool {
	for _, m := range c.Members {
		if m == agentID {
			return true
		}
	}
	return false
}

// ChannelMessage is one message posted to a channel. Seq is assigned
// server-side and is strictly increasing per channel, starting at 1.
type ChannelMessage struct {
	ChannelID string    `json:"channelId"`
	Seq       int64     `json:"seq"`
	AgentID   string    `json:"agentId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Clone returns a copy safe for the caller to mutate.
func (m *ChannelMessage) Clone() *ChannelMessage {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}
