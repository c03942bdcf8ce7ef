package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/code-sleuth/roeum-go/pkg/db"
)

// SetupTestDB opens a fresh SQLite database in a temporary directory. The
// connection is closed when the test ends.
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "queue.db")
	database, err := db.Open("sqlite://" + path)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		if err := database.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
	})

	return database
}

// RecordExists reports whether table has a row with idColumn = id.
func RecordExists(t *testing.T, database *db.DB, table, idColumn string, id any) bool {
	t.Helper()
	// #nosec G201 -- table and column names are hardcoded, not user input
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, idColumn)
	var count int
	if err := database.QueryRow(query, id).Scan(&count); err != nil {
		t.Fatalf("Failed to check if record exists: %v", err)
	}
	return count > 0
}

// GetRecordCount returns the number of rows in table.
func GetRecordCount(t *testing.T, database *db.DB, table string) int {
	t.Helper()
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table) // #nosec G201 -- table name is hardcoded, not user input
	var count int
	if err := database.QueryRow(query).Scan(&count); err != nil {
		t.Fatalf("Failed to get record count: %v", err)
	}
	return count
}

// StatusCount returns the number of queue rows with status.
func StatusCount(t *testing.T, database *db.DB, status string) int {
	t.Helper()
	var count int
	if err := database.QueryRow("SELECT COUNT(*) FROM embedding_queue WHERE status = ?", status).Scan(&count); err != nil {
		t.Fatalf("Failed to count %s rows: %v", status, err)
	}
	return count
}
