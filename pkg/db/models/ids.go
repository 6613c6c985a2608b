// Package models holds the GORM row types. Table names are pinned so they match the
// goose migrations regardless of GORM's pluralization.
package models

import "github.com/google/uuid"

func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
