package controller

import (
	"fmt"
	"strings"

	"github.com/kramer-control/brain-client-go/driver"
)

// Outbound message type tags.
const (
	msgPasscodeAuth   = "passcode_auth_msg"
	msgGetBrainStat   = "get_brain_stat_message"
	msgGetExpressMode = "get_express_mode_flag_msg"
	msgSetHandset     = "set_handset_message"
	msgUIMessage      = "ui_message"
	msgWatchStates    = "watch_states_message"
	msgSendMacro      = "send_macro_message"
	msgRemoteAuth     = "remote_auth_msg"
)

// Inbound message type tags.
const (
	inPacketBrainStatus  = "brain_status_message"
	inPacketBrainColor   = "brain_status_color_msg"
	inPacketExpressMode  = "express_mode_flag_msg"
	inPacketUnauthorized = "unauthorized_message"
	inPacketAuthorized   = "authorized_message"
	inPacketStateChange  = "state_change_message"
	inPacketSystemState  = "system_state_message"
)

func passcodeAuthMessage(pin string) map[string]any {
	return map[string]any{"type": msgPasscodeAuth, "passcode": pin}
}

func remoteAuthMessage(payload any) map[string]any {
	return map[string]any{"type": msgRemoteAuth, "payload": payload}
}

func getBrainStatMessage() map[string]any {
	return map[string]any{"type": msgGetBrainStat}
}

func getExpressModeMessage() map[string]any {
	return map[string]any{"type": msgGetExpressMode}
}

func setHandsetMessage(handsetID string, layout any) map[string]any {
	return map[string]any{"type": msgSetHandset, "handset_id": handsetID, "layout": layout}
}

func uiMessage(action string, payload any) map[string]any {
	return map[string]any{"type": msgUIMessage, "action": action, "payload": payload}
}

// watchStatesMessage builds the subscribe/unsubscribe RPC for one device.
// watchedStates is preserved on the wire even when empty; the server is
// reported to ignore it either way.
func watchStatesMessage(deviceID string, watch bool, watchedStates []string) map[string]any {
	if watchedStates == nil {
		watchedStates = []string{}
	}
	return map[string]any{
		"type":           msgWatchStates,
		"device_id":      deviceID,
		"watch":          watch,
		"watched_states": watchedStates,
	}
}

// sendMacroMessage builds the single-action macro envelope sendCommand and
// setCustomState both use.
func sendMacroMessage(deviceID, driverID, categoryID, capabilityID, commandID string, params map[string]string) map[string]any {
	action := map[string]any{
		"command_id":       commandID,
		"category_id":      categoryID,
		"capability_id":    capabilityID,
		"device_id":        deviceID,
		"device_driver_id": driverID,
		"parameters":       params,
	}
	return map[string]any{"type": msgSendMacro, "actions": []any{action}}
}

// staticParams renders a Command's static parameter values: names
// uppercased, values stringified.
func staticParams(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// customStateParams builds the single "New_Value" parameter setCustomState sends.
func customStateParams(value string) map[string]string {
	return map[string]string{"New_Value": value}
}

// stateChangeWire is the shape of one entry in an inbound
// state_change_message.
type stateChangeWire struct {
	DeviceID             string `json:"device_id"`
	StateID              string `json:"state_id"`
	StateKey             string `json:"state_key"`
	StateName            string `json:"state_name"`
	StateValue           string `json:"state_value"`
	StateNormalizedValue any    `json:"state_normalized_value"`
}

func parseStateChanges(msg map[string]any) []stateChangeWire {
	raw, _ := msg["changes"].([]any)
	changes := make([]stateChangeWire, 0, len(raw))
	for _, item := range raw {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		changes = append(changes, stateChangeWire{
			DeviceID:             asString(fields["device_id"]),
			StateID:              asString(fields["state_id"]),
			StateKey:             asString(fields["state_key"]),
			StateName:            asString(fields["state_name"]),
			StateValue:           asString(fields["state_value"]),
			StateNormalizedValue: fields["state_normalized_value"],
		})
	}
	return changes
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// deviceWire is the shape of one entry in the REST devices list response.
type deviceWire struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	DriverID       string `json:"device_driver_id"`
	DriverVersion  int    `json:"device_driver_version"`
	IsSystemDevice bool   `json:"is_system_device"`
}

func parseDeviceList(body map[string]any) []deviceWire {
	raw, _ := body["devices"].([]any)
	devices := make([]deviceWire, 0, len(raw))
	for _, item := range raw {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		version := 0
		switch v := fields["device_driver_version"].(type) {
		case float64:
			version = int(v)
		}
		devices = append(devices, deviceWire{
			ID:             asString(fields["id"]),
			Name:           asString(fields["name"]),
			Description:    asString(fields["description"]),
			DriverID:       asString(fields["device_driver_id"]),
			DriverVersion:  version,
			IsSystemDevice: asBool(fields["is_system_device"]),
		})
	}
	return devices
}

func driverFetchEndpoint(driverID string, version int) string {
	return fmt.Sprintf("device-drivers/%s?version=%d", driverID, version)
}

func parseDriverDescriptor(body map[string]any) (*driver.Descriptor, error) {
	raw, err := jsonCodec.Marshal(body)
	if err != nil {
		return nil, err
	}
	var desc driver.Descriptor
	if err := jsonCodec.Unmarshal(raw, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}
