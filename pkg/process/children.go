package process

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tangramdotdev/tangram/pkg/database"
)

// AddProcessChild inserts child under parent's child list, after
// checking that doing so would not create a cycle, per spec.md §4.6.
func (m *Manager) AddProcessChild(ctx context.Context, parent, child string, options ReferentOptions, token string) error {
	conn, err := m.db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	if err != nil {
		return fmt.Errorf("acquire add-child connection: %w", err)
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return fmt.Errorf("begin add-child transaction: %w", err)
	}
	if err := m.addProcessChildWithTransaction(ctx, tx, parent, child, options, token); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add-child transaction: %w", err)
	}
	m.streams.Publish(parent, Event{Kind: "children", Data: child})
	if m.messenger != nil {
		data, _ := json.Marshal(struct{}{})
		_ = m.messenger.Publish(ctx, "processes."+parent+".children", data)
	}
	return nil
}

func (m *Manager) addProcessChildWithTransaction(ctx context.Context, tx database.Transaction, parent, child string, options ReferentOptions, token string) error {
	// Determine if adding this child creates a cycle: walk ancestors of
	// parent (processes that have parent as a transitive child) and
	// check whether child appears among them.
	row, err := tx.QueryOne(ctx, `WITH RECURSIVE ancestors(id) AS (
			SELECT ? AS id
			UNION ALL
			SELECT process_children.process FROM ancestors
			JOIN process_children ON ancestors.id = process_children.child
		)
		SELECT EXISTS(SELECT 1 FROM ancestors WHERE id = ?) AS cyclical`, parent, child)
	if err != nil {
		return fmt.Errorf("cycle check for %s -> %s: %w", parent, child, err)
	}
	cyclical := asBool(row["cyclical"])
	if cyclical {
		return fmt.Errorf("adding process %s as a child of %s creates a cycle", child, parent)
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("marshal referent options: %w", err)
	}

	if _, err := tx.Execute(ctx, `INSERT INTO process_children (process, position, child, options, token)
		VALUES (?, (SELECT COALESCE(MAX(position) + 1, 0) FROM process_children WHERE process = ?), ?, ?, ?)
		ON CONFLICT (process, child) DO NOTHING`,
		parent, parent, child, string(optionsJSON), nullableString(token)); err != nil {
		return fmt.Errorf("insert process child %s under %s: %w", child, parent, err)
	}

	return updateParentDepths(ctx, tx, []string{child})
}

// updateParentDepths propagates depth upward from childIDs: each
// parent's depth becomes max(depth, 1 + max child depth), iterating
// until a round updates nothing, per
// original_source/packages/server/src/process/spawn.rs's
// update_parent_depths_sqlite.
func updateParentDepths(ctx context.Context, tx database.Transaction, childIDs []string) error {
	current := childIDs
	for len(current) > 0 {
		var updated []string
		for _, childID := range current {
			rows, err := tx.QueryAll(ctx, `SELECT process_children.process AS process, MAX(processes.depth) AS max_child_depth
				FROM process_children
				JOIN processes ON processes.id = process_children.child
				WHERE process_children.child = ?
				GROUP BY process_children.process`, childID)
			if err != nil {
				return fmt.Errorf("query parent depths for %s: %w", childID, err)
			}
			for _, row := range rows {
				parent := asString(row["process"])
				maxChildDepth, ok := row["max_child_depth"].(int64)
				if !ok {
					continue
				}
				newDepth := maxChildDepth + 1
				n, err := tx.Execute(ctx, `UPDATE processes SET depth = MAX(depth, ?) WHERE id = ? AND depth < ?`,
					newDepth, parent, newDepth)
				if err != nil {
					return fmt.Errorf("update depth for %s: %w", parent, err)
				}
				if n > 0 {
					updated = append(updated, parent)
				}
			}
		}
		if len(updated) == 0 {
			break
		}
		current = updated
	}
	return nil
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	default:
		return false
	}
}
