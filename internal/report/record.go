// Package report turns run results into persisted and printable forms.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"trade_engine/internal/domain"
	"trade_engine/internal/engine"
)

// SchemaVersion is the version written into every record.
const SchemaVersion = 1

// Record is the versioned, self-contained output of one run.
type Record struct {
	Version int               `json:"version"`
	Run     *engine.RunResult `json:"run"`
	Stats   Stats             `json:"stats"`
}

func FromResult(res *engine.RunResult) Record {
	return Record{Version: SchemaVersion, Run: res, Stats: Summarize(res)}
}

// Encode writes the record as indented JSON. The output depends only on
// the run, so identical backtests encode identically.
func (r Record) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}

func Decode(rd io.Reader) (Record, error) {
	var r Record
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if r.Version != SchemaVersion {
		return Record{}, &domain.ValidationError{Field: "version", Reason: fmt.Sprintf("unsupported record version %d", r.Version)}
	}
	if r.Run == nil {
		return Record{}, &domain.ValidationError{Field: "run", Reason: "missing run"}
	}
	return r, nil
}

// Entity converts the record into its storage row.
func (r Record) Entity(createdAt time.Time) (domain.RunEntity, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return domain.RunEntity{}, fmt.Errorf("marshal record: %w", err)
	}
	return domain.RunEntity{
		ID:             r.Run.RunID,
		Mode:           string(r.Run.Mode),
		Version:        r.Version,
		Events:         r.Run.Events,
		InitialCapital: r.Run.InitialCapital,
		FinalEquity:    r.Run.FinalEquity,
		Halted:         r.Run.Halted,
		Payload:        payload,
		CreatedAt:      createdAt,
	}, nil
}

func FromEntity(e domain.RunEntity) (Record, error) {
	var r Record
	if err := json.Unmarshal(e.Payload, &r); err != nil {
		return Record{}, fmt.Errorf("unmarshal run %s: %w", e.ID, err)
	}
	if r.Version != SchemaVersion {
		return Record{}, &domain.ValidationError{Field: "version", Reason: fmt.Sprintf("unsupported record version %d", r.Version)}
	}
	return r, nil
}
