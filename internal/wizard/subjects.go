package wizard

import (
	"context"
	"slices"

	"github.com/pavelanni/mea/internal/model"
	"github.com/pavelanni/mea/internal/schema"
	"github.com/pavelanni/mea/internal/subjects"
)

// Strategy returns the subject strategy of the level.
func (c *Controller) Strategy() model.SubjectStrategy { return c.subjects.Strategy() }

// Selection returns the current subject selection.
func (c *Controller) Selection() model.SubjectSelection { return c.subjects.Selection() }

// ActiveSubjects returns the subjects currently reported on.
func (c *Controller) ActiveSubjects() []model.SubjectRecord { return c.subjects.Active() }

// CanSplit reports whether the level offers a component breakdown.
func (c *Controller) CanSplit() bool { return c.subjects.CanSplit() }

// SearchLibrary filters the level's subject library.
func (c *Controller) SearchLibrary(term string) []string {
	return subjects.SearchLibrary(c.cfg.Level, term)
}

// AddCustomSubject adds a free-text subject and reports whether it was added.
func (c *Controller) AddCustomSubject(ctx context.Context, name string) (bool, error) {
	if c.submitted != nil {
		return false, ErrSubmitted
	}
	if !c.subjects.AddCustom(name) {
		return false, nil
	}
	c.save(ctx)
	return true, nil
}

// RemoveCustomSubject drops a custom subject and its failure count.
func (c *Controller) RemoveCustomSubject(ctx context.Context, name string) error {
	return c.applySubjectEffect(ctx, func() subjects.Effect {
		return c.subjects.RemoveCustom(name)
	})
}

// ToggleLibrarySubject selects or deselects a library subject.
func (c *Controller) ToggleLibrarySubject(ctx context.Context, name string) error {
	return c.applySubjectEffect(ctx, func() subjects.Effect {
		return c.subjects.ToggleLibrary(name)
	})
}

// SetQuickMode switches bulk selection of the core subject list.
func (c *Controller) SetQuickMode(ctx context.Context, enabled bool) error {
	return c.applySubjectEffect(ctx, func() subjects.Effect {
		return c.subjects.SetQuickMode(enabled, c.answers)
	})
}

// SetSplit toggles the component breakdown of the split subject.
func (c *Controller) SetSplit(ctx context.Context, enabled bool) error {
	return c.applySubjectEffect(ctx, func() subjects.Effect {
		c.subjects.SetSplit(enabled)
		return subjects.Effect{}
	})
}

func (c *Controller) applySubjectEffect(ctx context.Context, op func() subjects.Effect) error {
	if c.submitted != nil {
		return ErrSubmitted
	}
	before := c.subjects.Selection()
	eff := op()
	eff.Apply(c.answers)
	after := c.subjects.Selection()
	if eff.Empty() && slices.Equal(before.Library, after.Library) &&
		slices.Equal(before.Custom, after.Custom) &&
		before.Split == after.Split && before.QuickMode == after.QuickMode {
		return nil
	}
	c.save(ctx)
	return nil
}

// GroupView is a period range group with its collapse state.
type GroupView struct {
	schema.Group
	Expanded bool
}

// Groups returns the range groups of the current step.
func (c *Controller) Groups() []GroupView {
	groups := schema.Groups(c.sections[c.step])
	out := make([]GroupView, len(groups))
	for i, g := range groups {
		out[i] = GroupView{Group: g, Expanded: c.expanded[g.Range]}
	}
	return out
}

// ToggleGroup flips the collapse state of a range group.
func (c *Controller) ToggleGroup(rg string) {
	if _, ok := c.expanded[rg]; !ok {
		return
	}
	c.expanded[rg] = !c.expanded[rg]
}
