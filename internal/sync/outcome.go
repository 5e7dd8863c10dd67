package sync

import (
	"encoding/json"
	"fmt"
	"time"
)

// TypeCounts holds per record type write counts.
type TypeCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// RecordError is a failed database write for one record. The rest of the
// batch is still processed.
type RecordError struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Action string `json:"action"`
	Err    error  `json:"-"`
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("failed to %s record %s: %v", e.Action, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// MarshalJSON includes the message, which the error value itself would lose.
func (e *RecordError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Action string `json:"action"`
		Error  string `json:"error"`
	}{e.ID, e.Type, e.Action, msg})
}

// PendingConflict is a conflict left for a person to resolve.
type PendingConflict struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	FileUpdatedAt     time.Time `json:"fileUpdatedAt"`
	DatabaseUpdatedAt time.Time `json:"databaseUpdatedAt"`
}

// Outcome summarizes one Sync call.
type Outcome struct {
	RunID              string                 `json:"runId"`
	TotalRecords       int                    `json:"totalRecords"`
	Created            int                    `json:"created"`
	Updated            int                    `json:"updated"`
	Conflicts          int                    `json:"conflicts"`
	ConflictResolution Strategy               `json:"conflictResolution"`
	Details            map[string]*TypeCounts `json:"details"`
	Errors             []*RecordError         `json:"errors,omitempty"`
	Pending            []PendingConflict      `json:"pending,omitempty"`
	Duration           time.Duration          `json:"-"`
}

// Mutated reports whether the run wrote anything to the database.
func (o *Outcome) Mutated() bool {
	return o.Created > 0 || o.Updated > 0
}

func (o *Outcome) counts(typ string) *TypeCounts {
	c, ok := o.Details[typ]
	if !ok {
		c = &TypeCounts{}
		o.Details[typ] = c
	}
	return c
}
