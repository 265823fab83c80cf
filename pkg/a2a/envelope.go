// Package a2a builds and extracts Flock's message envelope on top of the
// real github.com/a2aproject/a2a-go wire types, grounded on this module's
// A2A executor reference's part type-switching (DataPart/TextPart handling).
package a2a

import (
	"github.com/a2aproject/a2a-go/a2a"
)

// FlockType is the closed set of flockMeta.flockType values.
type FlockType string

const (
	TypeTask            FlockType = "task"
	TypeReview          FlockType = "review"
	TypeInfo            FlockType = "info"
	TypeStatusUpdate    FlockType = "status-update"
	TypeGeneral         FlockType = "general"
	TypeWorkerTask      FlockType = "worker-task"
	TypeSysadminRequest FlockType = "sysadmin-request"
	TypeTriageDecision  FlockType = "triage-decision"
)

// Urgency is the closed set of flockMeta.urgency values.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Meta is the flockMeta sidecar carried on a data part.
type Meta struct {
	FlockType FlockType      `json:"flockType"`
	Urgency   Urgency        `json:"urgency,omitempty"`
	Project   string         `json:"project,omitempty"`
	FromHome  string         `json:"fromHome,omitempty"`
	Extra     map[string]any `json:"-"`
}

const metaKey = "flockMeta"

// Build constructs an A2A message. A text-only call (meta == nil and no
// extra data) produces a single TextPart message; presence of meta or extra
// data appends one DataPart carrying flockMeta alongside the extra fields.
func Build(role a2a.MessageRole, text string, meta *Meta, extraData map[string]any) *a2a.Message {
	parts := []a2a.Part{a2a.TextPart{Text: text}}

	if meta != nil || len(extraData) > 0 {
		data := map[string]any{}
		for k, v := range extraData {
			data[k] = v
		}
		if meta != nil {
			data[metaKey] = metaToMap(meta)
		}
		parts = append(parts, a2a.DataPart{Data: data})
	}

	return a2a.NewMessage(role, parts...)
}

func metaToMap(m *Meta) map[string]any {
	out := map[string]any{}
	for k, v := range m.Extra {
		out[k] = v
	}
	out["flockType"] = string(m.FlockType)
	if m.Urgency != "" {
		out["urgency"] = string(m.Urgency)
	}
	if m.Project != "" {
		out["project"] = m.Project
	}
	if m.FromHome != "" {
		out["fromHome"] = m.FromHome
	}
	return out
}

// Extract returns the concatenated text of all TextParts and the flockMeta
// of the first DataPart that carries one. The first data part bearing
// flockMeta wins; later ones are ignored for meta purposes.
func Extract(msg *a2a.Message) (text string, meta *Meta, extraData map[string]any) {
	if msg == nil {
		return "", nil, nil
	}
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case a2a.TextPart:
			text += p.Text
		case a2a.DataPart:
			if meta != nil {
				continue
			}
			if raw, ok := p.Data[metaKey]; ok {
				if rawMap, ok := raw.(map[string]any); ok {
					meta = mapToMeta(rawMap)
					extraData = map[string]any{}
					for k, v := range p.Data {
						if k != metaKey {
							extraData[k] = v
						}
					}
				}
			}
		}
	}
	return text, meta, extraData
}

func mapToMeta(raw map[string]any) *Meta {
	m := &Meta{}
	if v, ok := raw["flockType"].(string); ok {
		m.FlockType = FlockType(v)
	}
	if v, ok := raw["urgency"].(string); ok {
		m.Urgency = Urgency(v)
	}
	if v, ok := raw["project"].(string); ok {
		m.Project = v
	}
	if v, ok := raw["fromHome"].(string); ok {
		m.FromHome = v
	}
	m.Extra = map[string]any{}
	for k, v := range raw {
		switch k {
		case "flockType", "urgency", "project", "fromHome":
		default:
			m.Extra[k] = v
		}
	}
	return m
}
