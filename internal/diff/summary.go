package diff

import (
	"context"
	"fmt"
	"sort"

	"github.com/quarrylabs/quarry/internal/graph"
)

// ReferenceCounter reports surviving graph references for entity names. The
// remote graph engine satisfies this.
type ReferenceCounter interface {
	EntityReferences(ctx context.Context, names []string) (map[string]int, error)
}

// FieldChange records one entity attribute whose value changed between
// extraction runs.
type FieldChange struct {
	Entity   string      `json:"entity"`
	Field    string      `json:"field"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
}

// RemovedEntity distinguishes an entity that merely left this document from
// one with no surviving references anywhere in the graph.
type RemovedEntity struct {
	Name string `json:"name"`
	// FromGraph is true only when no references remain anywhere; false means
	// the entity is still held alive by other documents or surviving chunks.
	FromGraph bool `json:"from_graph"`
}

// Summary is the structured diff reported back to callers after re-ingestion.
type Summary struct {
	ChunksAdded     int             `json:"chunks_added"`
	ChunksRemoved   int             `json:"chunks_removed"`
	ChunksUnchanged int             `json:"chunks_unchanged"`
	FieldChanges    []FieldChange   `json:"field_changes,omitempty"`
	RemovedEntities []RemovedEntity `json:"removed_entities,omitempty"`
}

// BuildSummary compares old and new extracted entity sets and classifies
// removals against live reference counts. Counting requires a graph query:
// chunk-set comparison alone cannot tell whether another document still
// references a departed entity.
func BuildSummary(ctx context.Context, refs ReferenceCounter, res Result, oldEntities, newEntities []graph.Entity) (Summary, error) {
	summary := Summary{}
	summary.ChunksAdded, summary.ChunksRemoved, summary.ChunksUnchanged = res.Counts()

	oldByName := entitiesByName(oldEntities)
	newByName := entitiesByName(newEntities)

	for _, name := range sortedNames(newByName) {
		oldEnt, ok := oldByName[name]
		if !ok {
			continue
		}
		newEnt := newByName[name]
		for _, field := range sortedFields(oldEnt.Attributes, newEnt.Attributes) {
			oldVal, oldOK := oldEnt.Attributes[field]
			newVal, newOK := newEnt.Attributes[field]
			if oldOK && newOK && fmt.Sprint(oldVal) == fmt.Sprint(newVal) {
				continue
			}
			summary.FieldChanges = append(summary.FieldChanges, FieldChange{
				Entity:   name,
				Field:    field,
				OldValue: oldVal,
				NewValue: newVal,
			})
		}
	}

	var removedNames []string
	for _, name := range sortedNames(oldByName) {
		if _, ok := newByName[name]; !ok {
			removedNames = append(removedNames, name)
		}
	}
	if len(removedNames) > 0 {
		counts := map[string]int{}
		if refs != nil {
			var err error
			counts, err = refs.EntityReferences(ctx, removedNames)
			if err != nil {
				return Summary{}, fmt.Errorf("entity reference counts: %w", err)
			}
		}
		for _, name := range removedNames {
			summary.RemovedEntities = append(summary.RemovedEntities, RemovedEntity{
				Name:      name,
				FromGraph: counts[name] == 0,
			})
		}
	}
	return summary, nil
}

// Map converts the summary to a generic payload for sync logs and task results.
func (s Summary) Map() map[string]interface{} {
	out := map[string]interface{}{
		"chunks_added":     s.ChunksAdded,
		"chunks_removed":   s.ChunksRemoved,
		"chunks_unchanged": s.ChunksUnchanged,
	}
	if len(s.FieldChanges) > 0 {
		out["field_changes"] = s.FieldChanges
	}
	if len(s.RemovedEntities) > 0 {
		out["removed_entities"] = s.RemovedEntities
	}
	return out
}

func entitiesByName(entities []graph.Entity) map[string]graph.Entity {
	out := make(map[string]graph.Entity, len(entities))
	for _, e := range entities {
		out[e.Name] = e
	}
	return out
}

func sortedNames(m map[string]graph.Entity) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedFields(a, b map[string]interface{}) []string {
	seen := map[string]struct{}{}
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
