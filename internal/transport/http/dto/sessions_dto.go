package dto

import (
	"time"

	"github.com/gatewaylabs/bffgate/backend/internal/domain/model"
)

type SessionView struct {
	ID             string    `json:"id"`
	DeviceID       string    `json:"device_id"`
	DeviceName     string    `json:"device_name,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Current        bool      `json:"current"`
}

type ListSessionsResponse struct {
	Sessions []SessionView `json:"sessions"`
}

func SessionViewOf(session model.Session, currentSessionID string) SessionView {
	view := SessionView{
		ID:             session.ID,
		DeviceID:       session.DeviceID,
		Status:         string(session.Status),
		CreatedAt:      session.CreatedAt,
		LastActivityAt: session.LastActivityAt,
		Current:        session.ID == currentSessionID,
	}
	if session.DeviceName != nil {
		view.DeviceName = *session.DeviceName
	}
	if session.UserAgent != nil {
		view.UserAgent = *session.UserAgent
	}
	if session.IPAddress != nil {
		view.IPAddress = *session.IPAddress
	}
	return view
}
