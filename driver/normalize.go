package driver

import "errors"

// ErrNilDescriptor is returned by Normalize when handed a nil descriptor;
// the caller (controller device enumeration) records it as that device's
// driver error.
var ErrNilDescriptor = errors.New("driver: nil descriptor")

// Normalize converts a driver Descriptor into the flat per-category Catalog
// (see types.go). Enumeration order follows input order. Duplicate category
// reference ids and, within a category, duplicate state reference ids
// overwrite, last write wins, by ordinary map assignment. Commands are
// appended to a slice, one per code, so a repeated command id appears more
// than once in Category.Commands.
func Normalize(desc *Descriptor) (Catalog, error) {
	if desc == nil {
		return nil, ErrNilDescriptor
	}

	catalog := make(Catalog, len(desc.Categories))
	for _, cat := range desc.Categories {
		states := make(map[string]*State, len(cat.States))
		for _, sd := range cat.States {
			states[sd.ReferenceID] = buildState(sd)
		}

		var commands []*Command
		for _, capability := range cat.Capabilities {
			for _, cmd := range capability.Commands {
				for _, code := range cmd.Codes {
					commands = append(commands, buildCommand(cat.ReferenceID, capability.ReferenceID, cmd, code, states))
				}
			}
		}

		catalog[cat.ReferenceID] = &Category{
			Name:     cat.Name,
			RefID:    cat.ReferenceID,
			States:   states,
			Commands: commands,
			Macros:   cat.Macros,
		}
	}
	return catalog, nil
}

func buildState(sd StateDescriptor) *State {
	value := sd.DefaultValue
	return &State{
		ID:              sd.ReferenceID,
		Name:            sd.Name,
		Type:            sd.Type,
		Value:           value,
		NormalizedValue: CoerceNormalized(value, sd.Type),
		Category:        sd.Category,
		IsCustomState:   sd.IsCustomState,
		CustomData:      sd.CustomData,
	}
}

// buildCommand emits one Command per code: state_references
// on the code become dynamic parameters pointing at the category's states,
// declared parameters become static parameters carrying type/constraints.
func buildCommand(categoryID, capabilityID string, cmd CommandDescriptor, code CodeDescriptor, states map[string]*State) *Command {
	c := &Command{
		ID:         cmd.ReferenceID,
		Name:       cmd.Name,
		Category:   categoryID,
		Capability: capabilityID,
		Params:     make(map[string]*Parameter, len(code.StateReferences)+len(code.Parameters)),
		States:     make(map[string]*State, len(code.StateReferences)),
	}

	for _, ref := range code.StateReferences {
		state, ok := states[ref]
		if !ok {
			continue
		}
		c.Params[state.Name] = &Parameter{
			Name:    state.Name,
			Dynamic: true,
			StateID: state.ID,
		}
		c.States[state.ID] = state
	}

	for _, p := range code.Parameters {
		c.Params[p.Name] = &Parameter{
			Name:        p.Name,
			Type:        p.Type,
			Constraints: p.Constraints,
		}
	}

	return c
}
