package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"

	"github.com/dvselas/protect-sync/internal/journal"
	"github.com/dvselas/protect-sync/internal/protect"
)

// Command kinds accepted on protectsync/command/{kind}.
const (
	CommandStartPatrol  = "start_patrol"
	CommandStopPatrol   = "stop_patrol"
	CommandGotoPreset   = "goto_preset"
	CommandTriggerAlarm = "trigger_alarm"
)

// handleCommandMessage processes one inbound command message. The
// command kind is the last topic segment; the payload carries the
// request id, target device and parameters.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) error {
	kind := path.Base(topic)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		// Without a request id there is no ack topic to answer on.
		b.commandsFailed.Add(1)
		return fmt.Errorf("parse command on %s: %w", topic, err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}

	b.commandsHandled.Add(1)
	b.logInfo("received command",
		"request_id", cmd.ID,
		"command", kind,
		"device_id", cmd.DeviceID)

	if err := b.executeCommand(kind, cmd); err != nil {
		b.commandsFailed.Add(1)
		b.logError("command failed", err)
	}
	return nil
}

// executeCommand delegates one command to the controller client and
// publishes the terminal acknowledgment. Commands are synchronous REST
// calls, so a single ack reports the outcome.
func (b *Bridge) executeCommand(kind string, cmd CommandMessage) error {
	// Derive timeout from bridge context so commands are cancelled on shutdown
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	var (
		code string
		err  error
	)
	switch kind {
	case CommandStartPatrol:
		code, err = b.execStartPatrol(ctx, cmd)
	case CommandStopPatrol:
		code, err = b.execStopPatrol(ctx, cmd)
	case CommandGotoPreset:
		code, err = b.execGotoPreset(ctx, cmd)
	case CommandTriggerAlarm:
		code, err = b.execTriggerAlarm(ctx, cmd)
	default:
		code, err = ErrCodeInvalidCommand, fmt.Errorf("unknown command: %s", kind)
	}

	if err != nil {
		b.publishAckError(cmd, kind, code, err.Error())
		b.recordCommand(cmd, kind, err)
		return err
	}

	b.publishAck(cmd, kind)
	b.recordCommand(cmd, kind, nil)
	return nil
}

// execStartPatrol starts a scripted PTZ patrol. The slot parameter
// defaults to 0 when omitted.
func (b *Bridge) execStartPatrol(ctx context.Context, cmd CommandMessage) (string, error) {
	if cmd.DeviceID == "" {
		return ErrCodeInvalidParameters, fmt.Errorf("device_id is required")
	}

	slot := 0
	if v, ok := intParam(cmd.Parameters, "slot"); ok {
		slot = v
	}

	if err := b.client.StartPatrol(ctx, cmd.DeviceID, slot); err != nil {
		return ackCodeForError(err), err
	}
	return "", nil
}

// execStopPatrol stops the active PTZ patrol.
func (b *Bridge) execStopPatrol(ctx context.Context, cmd CommandMessage) (string, error) {
	if cmd.DeviceID == "" {
		return ErrCodeInvalidParameters, fmt.Errorf("device_id is required")
	}

	if err := b.client.StopPatrol(ctx, cmd.DeviceID); err != nil {
		return ackCodeForError(err), err
	}
	return "", nil
}

// execGotoPreset moves a PTZ camera to a saved preset. The slot
// parameter is required; -1 selects the home position.
func (b *Bridge) execGotoPreset(ctx context.Context, cmd CommandMessage) (string, error) {
	if cmd.DeviceID == "" {
		return ErrCodeInvalidParameters, fmt.Errorf("device_id is required")
	}

	slot, ok := intParam(cmd.Parameters, "slot")
	if !ok {
		return ErrCodeInvalidParameters, fmt.Errorf("missing 'slot' parameter")
	}

	if err := b.client.GotoPreset(ctx, cmd.DeviceID, slot); err != nil {
		return ackCodeForError(err), err
	}
	return "", nil
}

// execTriggerAlarm fires an alarm-manager webhook. The trigger comes
// from the trigger_id parameter, falling back to device_id.
func (b *Bridge) execTriggerAlarm(ctx context.Context, cmd CommandMessage) (string, error) {
	trigger := commandTarget(CommandTriggerAlarm, cmd)
	if trigger == "" {
		return ErrCodeInvalidParameters, fmt.Errorf("missing 'trigger_id' parameter")
	}

	if err := b.client.TriggerAlarm(ctx, trigger); err != nil {
		return ackCodeForError(err), err
	}
	return "", nil
}

// publishAck publishes a successful command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, kind string) {
	b.sendAck(NewAckMessage(cmd, kind, AckAccepted))
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, kind, code, message string) {
	b.sendAck(NewAckError(cmd, kind, code, message))
}

// sendAck marshals and publishes one acknowledgment. Acks are not
// retained; the journal keeps the durable record.
func (b *Bridge) sendAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := b.topics.Ack(ack.RequestID)
	if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
		b.publishErrors.Add(1)
		b.logError("failed to publish ack", err)
		return
	}
	b.acksPublished.Add(1)
}

// recordCommand journals one handled command with its outcome.
func (b *Bridge) recordCommand(cmd CommandMessage, kind string, cmdErr error) {
	target := commandTarget(kind, cmd)
	if target == "" {
		// Nothing to key the entry on; the command already failed
		// parameter validation.
		return
	}

	entry := journal.Entry{
		DeviceID: target,
		Kind:     kind,
		Payload: map[string]any{
			"request_id": cmd.ID,
			"status":     string(AckAccepted),
		},
		Source: journal.SourceCommand,
	}
	if cmdErr != nil {
		entry.Payload["status"] = string(AckFailed)
		entry.Payload["error"] = cmdErr.Error()
	}
	if cmd.Source != "" {
		entry.Payload["source"] = cmd.Source
	}
	b.record(entry)
}

// commandTarget returns the identity a command acts on: the alarm
// trigger id for trigger_alarm, the device id for everything else.
func commandTarget(kind string, cmd CommandMessage) string {
	if kind == CommandTriggerAlarm {
		if trigger := stringParam(cmd.Parameters, "trigger_id"); trigger != "" {
			return trigger
		}
	}
	return cmd.DeviceID
}

// ackCodeForError maps a controller client error onto an ack error
// code.
func ackCodeForError(err error) string {
	switch {
	case errors.Is(err, protect.ErrValidation):
		return ErrCodeInvalidParameters
	case errors.Is(err, protect.ErrAuth):
		return ErrCodeAuthFailed
	case errors.Is(err, protect.ErrNetwork):
		return ErrCodeControllerUnreachable
	case errors.Is(err, protect.ErrProtocol):
		return ErrCodeProtocolError
	case errors.Is(err, protect.ErrNotRunning):
		return ErrCodeNotRunning
	default:
		return ErrCodeBridgeError
	}
}

// intParam reads an integer command parameter. JSON numbers decode as
// float64, so both representations are accepted.
func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// stringParam reads a string command parameter.
func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
