package statemachine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Record is the persisted form of a machine:
//
//	{"state": "...", "dates": {"<state>": "<RFC3339>"}, "error": "...", "<kind>": {...}}
//
// where kind is "order" or "fill".
type Record struct {
	Kind   string
	State  State
	Dates  map[State]time.Time
	Error  string
	Object json.RawMessage
}

func (r Record) MarshalJSON() ([]byte, error) {
	if r.Kind == "" {
		return nil, errors.New("statemachine: record has no kind")
	}
	out := map[string]any{
		"state": r.State,
		r.Kind:  r.Object,
	}
	if len(r.Dates) > 0 {
		out["dates"] = r.Dates
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// ParseRecord decodes a stored record of the given kind. Older records that
// carry a "history" array of state names instead of "dates" are accepted;
// states with no known entry time get the zero time.
func ParseRecord(kind string, data []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal %s record: %w", kind, err)
	}

	rec := Record{Kind: kind}
	if err := json.Unmarshal(raw["state"], &rec.State); err != nil || rec.State == "" {
		return Record{}, fmt.Errorf("%s record has no state", kind)
	}
	if d, ok := raw["dates"]; ok {
		if err := json.Unmarshal(d, &rec.Dates); err != nil {
			return Record{}, fmt.Errorf("malformed dates in %s record: %w", kind, err)
		}
	}
	if h, ok := raw["history"]; ok {
		var history []State
		if err := json.Unmarshal(h, &history); err != nil {
			return Record{}, fmt.Errorf("malformed history in %s record: %w", kind, err)
		}
		if rec.Dates == nil {
			rec.Dates = make(map[State]time.Time, len(history))
		}
		for _, s := range history {
			if _, ok := rec.Dates[s]; !ok {
				rec.Dates[s] = time.Time{}
			}
		}
	}
	if e, ok := raw["error"]; ok {
		if err := json.Unmarshal(e, &rec.Error); err != nil {
			return Record{}, fmt.Errorf("malformed error in %s record: %w", kind, err)
		}
	}
	obj, ok := raw[kind]
	if !ok {
		return Record{}, fmt.Errorf("%s record is missing its %s", kind, kind)
	}
	rec.Object = obj
	return rec, nil
}
