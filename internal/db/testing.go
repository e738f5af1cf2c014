package db

import (
	"database/sql"

	"github.com/google/uuid"
)

// OpenForTesting returns a fresh, uniquely named in-memory store database.
func OpenForTesting() (*sql.DB, error) {
	return OpenInMemory("test-"+uuid.NewString(), StoreSchema)
}
