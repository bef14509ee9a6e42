package engine

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crowdreach/automation/internal/models"
)

// Node is one materialized action. Children are present only on if_else
// nodes, keyed by branch label.
type Node struct {
	Action   *models.Action
	Children map[string][]*models.Action
}

// Tree is a workflow's action tree, built once per run from the flat
// action rows so branch children are never re-queried mid-run. The tree is
// two levels deep: ordered roots, and yes/no children under if_else roots.
type Tree struct {
	Roots []*Node
}

// LoadTree fetches all actions of a workflow and materializes them.
// Children attached to a non-if_else parent or carrying an unknown branch
// label violate the authoring invariants and are rejected.
func LoadTree(db *gorm.DB, workflowID uuid.UUID) (*Tree, error) {
	var actions []models.Action
	if err := db.Where("workflow_id = ?", workflowID).Order("position asc").Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("failed to load actions for workflow %s: %w", workflowID, err)
	}

	nodes := make(map[uuid.UUID]*Node)
	tree := &Tree{}
	for i := range actions {
		a := &actions[i]
		if a.ParentActionID != nil {
			continue
		}
		n := &Node{Action: a, Children: map[string][]*models.Action{}}
		nodes[a.ID] = n
		tree.Roots = append(tree.Roots, n)
	}

	for i := range actions {
		a := &actions[i]
		if a.ParentActionID == nil {
			continue
		}
		parent, ok := nodes[*a.ParentActionID]
		if !ok {
			return nil, fmt.Errorf("action %s references unknown parent %s", a.ID, a.ParentActionID)
		}
		if parent.Action.Kind != models.ActionIfElse {
			return nil, fmt.Errorf("action %s is a child of non-conditional action %s", a.ID, parent.Action.ID)
		}
		if a.Branch != models.BranchYes && a.Branch != models.BranchNo {
			return nil, fmt.Errorf("action %s has invalid branch label %q", a.ID, a.Branch)
		}
		parent.Children[a.Branch] = append(parent.Children[a.Branch], a)
	}

	sort.SliceStable(tree.Roots, func(i, j int) bool {
		return tree.Roots[i].Action.Order < tree.Roots[j].Action.Order
	})
	for _, n := range tree.Roots {
		for branch := range n.Children {
			children := n.Children[branch]
			sort.SliceStable(children, func(i, j int) bool {
				return children[i].Order < children[j].Order
			})
		}
	}
	return tree, nil
}
