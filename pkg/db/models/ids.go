package models

import "github.com/google/uuid"

// assignID fills a primary key client-side so rows created through associations
// carry their id before insert on every driver.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
