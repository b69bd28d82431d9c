// Package driver normalises a controller-delivered driver descriptor into
// the flat per-category catalog of states and commands that Device
// (package controller) exposes to callers.
package driver

import "encoding/json"

// Descriptor is the wire shape of a driver as delivered by
// GET device-drivers/{driverId}?version={n}. Field names and nesting are
// grounded on the controller wire protocol's prose description; no wire field is invented
// beyond what that section names.
type Descriptor struct {
	Categories []CategoryDescriptor `json:"categories"`
}

// CategoryDescriptor groups capabilities, the states they reference, and
// macros under one reference id.
type CategoryDescriptor struct {
	Name string `json:"name"`
	ReferenceID string `json:"reference_id"`
	Capabilities []CapabilityDescriptor `json:"capabilities"`
	States []StateDescriptor `json:"states"`
	Macros []MacroDescriptor `json:"macros"`
}

// CapabilityDescriptor groups a set of commands.
type CapabilityDescriptor struct {
	ReferenceID string `json:"reference_id"`
	Name string `json:"name"`
	Commands []CommandDescriptor `json:"commands"`
}

// CommandDescriptor carries one or more codes; a Command
// record is emitted once per code, so a command with N codes yields N
// entries in the normalised output.
type CommandDescriptor struct {
	ReferenceID string `json:"reference_id"`
	Name string `json:"name"`
	Codes []CodeDescriptor `json:"codes"`
}

// CodeDescriptor names the states a code implicitly changes
// (state_references, becoming dynamic parameters) and the parameters it
// declares directly (becoming static parameters).
type CodeDescriptor struct {
	StateReferences []string `json:"state_references"`
	Parameters []ParameterDescriptor `json:"parameters"`
}

// ParameterDescriptor is a static, non-state-backed command parameter.
type ParameterDescriptor struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// StateDescriptor is a named, typed observable value on a device.
type StateDescriptor struct {
	ReferenceID string `json:"reference_id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Category string `json:"category,omitempty"`
	IsCustomState bool `json:"is_custom_state,omitempty"`
	CustomData map[string]any `json:"custom_data,omitempty"`
	DefaultValue string `json:"default_value,omitempty"`
}

// MacroDescriptor is opaque beyond its identity: the protocol only says
// categories carry macros, without specifying their internal structure, so
// this module preserves them for pass-through rather than expanding them
// into the command catalog.
type MacroDescriptor struct {
	ReferenceID string `json:"reference_id"`
	Name string `json:"name"`
	Actions json.RawMessage `json:"actions,omitempty"`
}

// State is the normalised, live record for one observable value on a
// device. Value is always the raw string as
// delivered by the controller; NormalizedValue is coerced to a number when
// Type is "number" and otherwise equals Value.
type State struct {
	ID string
	Name string
	Type string
	Value string
	NormalizedValue any
	Category string
	IsCustomState bool
	CustomData map[string]any
}

// Parameter is one argument a Command accepts. Dynamic parameters mirror a
// state (sending the command implicitly changes that state); static
// parameters carry only type/constraint metadata.
type Parameter struct {
	Name string
	Dynamic bool
	StateID string
	Type string
	Constraints map[string]any
}

// Command is an invocable action on a device.
// Commands are immutable once enumerated and keyed by stable reference ID.
type Command struct {
	ID string
	Name string
	Category string
	Capability string
	Params map[string]*Parameter
	States map[string]*State
}

// Category is one entry in the flat catalog Normalize produces: a map of
// the category's states, keyed by their own reference id, and the list of
// commands it exposes.
type Category struct {
	Name string
	RefID string
	States map[string]*State
	Commands []*Command
	Macros []MacroDescriptor
}

// Catalog maps category reference id to the normalised Category.
type Catalog map[string]*Category
