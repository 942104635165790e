// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import "time"

// Person is a user of the chat service. The signed-in user's Person is
// held by profile.Reconciler; other people appear as message senders,
// conversation members, and typers.
type Person struct {
	ID          string
	Name        string
	AvatarURL   string
	Email       string
	PhoneNumber string
	SMS         bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PersonPayload is the wire shape of a user profile.
type PersonPayload struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	SMS         bool   `json:"sms,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	UpdatedAt   int64  `json:"updated_at,omitempty"`
}

// PersonFromPayload validates payload and converts it.
func PersonFromPayload(payload PersonPayload) (Person, error) {
	if err := validatePayload("person", payload); err != nil {
		return Person{}, err
	}
	return Person{
		ID:          payload.ID,
		Name:        payload.Name,
		AvatarURL:   payload.ImageURL,
		Email:       payload.Email,
		PhoneNumber: payload.PhoneNumber,
		SMS:         payload.SMS,
		CreatedAt:   fromUnix(payload.CreatedAt),
		UpdatedAt:   fromUnix(payload.UpdatedAt),
	}, nil
}

// Payload converts p back to its wire shape.
func (p Person) Payload() PersonPayload {
	return PersonPayload{
		ID:          p.ID,
		Name:        p.Name,
		ImageURL:    p.AvatarURL,
		Email:       p.Email,
		PhoneNumber: p.PhoneNumber,
		SMS:         p.SMS,
		CreatedAt:   toUnix(p.CreatedAt),
		UpdatedAt:   toUnix(p.UpdatedAt),
	}
}

// fromUnix maps the wire's zero timestamp to the zero time.
func fromUnix(seconds int64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

func toUnix(moment time.Time) int64 {
	if moment.IsZero() {
		return 0
	}
	return moment.Unix()
}
