package client

import (
	"fmt"

	"hyperstack/client/views"
)

// State builds a typed state view for entity/viewName as declared in the
// connected stack. Returns ErrUnknownView if undeclared, or
// ErrViewModeMismatch if the declared view is a list view.
func State[T any](c *Client, entity, viewName string) (*views.State[T], error) {
	def, err := c.viewDef(entity, viewName)
	if err != nil {
		return nil, err
	}
	if def.Mode != ModeState {
		return nil, wrapModeErr(entity, viewName)
	}
	return views.NewState[T](def.View, c.adapter, c.registry, c.rec), nil
}

// List builds a typed list view for entity/viewName as declared in the
// connected stack. Returns ErrUnknownView if undeclared, or
// ErrViewModeMismatch if the declared view is a state view.
func List[T any](c *Client, entity, viewName string) (*views.List[T], error) {
	def, err := c.viewDef(entity, viewName)
	if err != nil {
		return nil, err
	}
	if def.Mode != ModeList {
		return nil, wrapModeErr(entity, viewName)
	}
	return views.NewList[T](def.View, c.adapter, c.registry, c.rec), nil
}

func wrapModeErr(entity, viewName string) error {
	return fmt.Errorf("%w: %s/%s", ErrViewModeMismatch, entity, viewName)
}
