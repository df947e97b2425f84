package models

import "time"

// Booking is a bin pickup booking created by a field user.
type Booking struct {
	BinID     string    `json:"bin_id"`
	RouteID   string    `json:"route_id,omitempty"`
	UserID    string    `json:"user_id"`
	Date      time.Time `json:"date"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is a free-form report about a bin or route.
type Feedback struct {
	BinID   string `json:"bin_id,omitempty"`
	UserID  string `json:"user_id"`
	Rating  int    `json:"rating"`
	Message string `json:"message"`
}

// Bin is the read model cached for offline display.
type Bin struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	FillLevel int       `json:"fill_level"`
	UpdatedAt time.Time `json:"updated_at"`
}
