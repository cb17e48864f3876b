package store

import (
	"sort"

	"dripline/models"
)

// sortSteps orders steps by position, then by id for stable ties.
func sortSteps(steps []models.DripStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Position != steps[j].Position {
			return steps[i].Position < steps[j].Position
		}
		return steps[i].ID < steps[j].ID
	})
}

// insertAt places step at pos, shifting later steps. A negative pos appends.
func insertAt(steps []models.DripStep, step models.DripStep, pos int) ([]models.DripStep, error) {
	if pos < 0 {
		pos = len(steps)
	}
	if pos > len(steps) {
		return nil, ErrPositionOutOfRange
	}
	out := make([]models.DripStep, 0, len(steps)+1)
	out = append(out, steps[:pos]...)
	out = append(out, step)
	out = append(out, steps[pos:]...)
	densify(out)
	return out, nil
}

// reorder returns steps in the order of ids, which must name every step once.
func reorder(steps []models.DripStep, ids []uint) ([]models.DripStep, error) {
	if len(ids) != len(steps) {
		return nil, ErrInvalidStepOrder
	}
	byID := make(map[uint]models.DripStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	out := make([]models.DripStep, 0, len(steps))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			return nil, ErrInvalidStepOrder
		}
		delete(byID, id)
		out = append(out, s)
	}
	densify(out)
	return out, nil
}

// without removes the step with id and renumbers the rest.
func without(steps []models.DripStep, id uint) ([]models.DripStep, bool) {
	out := make([]models.DripStep, 0, len(steps))
	found := false
	for _, s := range steps {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	densify(out)
	return out, found
}

func densify(steps []models.DripStep) {
	for i := range steps {
		steps[i].Position = i
	}
}
