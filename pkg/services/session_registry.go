package services

import (
	"strings"

	"github.com/haoxai/import-engine/pkg/models"
)

// SessionRegistry indexes the rows created during the current import run so
// later sheets can resolve foreign keys to them before, or instead of,
// querying the database. It lives exactly as long as one run and is owned
// by a single orchestrator goroutine, so it needs no locking.
type SessionRegistry struct {
	records map[string][]models.SessionRecord
	// journal holds table keys in record order so Rewind can pop entries.
	journal []string
}

// NewSessionRegistry creates an empty run-scoped registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{records: make(map[string][]models.SessionRecord)}
}

// Record remembers a newly created row and the identifying field values it
// was created with.
func (r *SessionRegistry) Record(table string, assignedID any, matchFields map[string]string) {
	key := strings.ToLower(table)
	r.records[key] = append(r.records[key], models.SessionRecord{
		Table:       table,
		AssignedID:  assignedID,
		MatchFields: matchFields,
	})
	r.journal = append(r.journal, key)
}

// Mark returns a checkpoint of the registry's current state.
func (r *SessionRegistry) Mark() int {
	return len(r.journal)
}

// Rewind discards every record made since mark. Used when a row's savepoint
// is rolled back, so the registry never points at rows the database undid.
func (r *SessionRegistry) Rewind(mark int) {
	for len(r.journal) > mark {
		key := r.journal[len(r.journal)-1]
		r.journal = r.journal[:len(r.journal)-1]
		recs := r.records[key]
		r.records[key] = recs[:len(recs)-1]
	}
}

// Lookup finds the assigned ID of a row created earlier in this run whose
// field value matches. First match wins; records are searched in creation
// order.
func (r *SessionRegistry) Lookup(table, field, value string) (any, bool) {
	field = strings.ToLower(field)
	for _, record := range r.records[strings.ToLower(table)] {
		if record.MatchFields[field] == value {
			return record.AssignedID, true
		}
	}
	return nil, false
}

// Count returns how many rows were recorded for a table this run.
func (r *SessionRegistry) Count(table string) int {
	return len(r.records[strings.ToLower(table)])
}
