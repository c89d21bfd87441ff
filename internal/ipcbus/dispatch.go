package ipcbus

import (
	"encoding/json"
	"fmt"

	"github.com/petervdpas/voipcore/internal/callengine"
)

// wireEventState maps the daemon's call-state-changed wire tokens
// onto
// the call engine's Event alphabet. UNHOLD has no dedicated Event — the
// event table resumes a held call via EventCurrent, the same as answering.
var wireEventState = map[string]callengine.Event{
	"RINGING": callengine.EventRinging,
	"CURRENT": callengine.EventCurrent,
	"UNHOLD":  callengine.EventCurrent,
	"BUSY":    callengine.EventBusy,
	"HOLD":    callengine.EventHold,
	"FAILURE": callengine.EventFailure,
	"HUNGUP":  callengine.EventHungUp,
}

// applyInbound dispatches one inbound envelope to the account
// list and call registry.
func (b *Bus) applyInbound(env Envelope) error {
	switch env.Event {
	case "registration_state_changed":
		var e RegistrationStateChanged
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("registration_state_changed: %w", err)
		}
		if b.accounts == nil {
			return nil
		}
		acc, ok := b.accounts.ByID(e.AccountID)
		if !ok {
			return fmt.Errorf("registration_state_changed: unknown account %s", e.AccountID)
		}
		acc.OnRegistrationStateChanged(e.NewState)
		return nil

	case "incoming_call":
		var e IncomingCall
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("incoming_call: %w", err)
		}
		b.calls.AddIncoming(e.CallID, e.AccountID, "", "")
		if b.accounts != nil {
			if acc, ok := b.accounts.ByID(e.AccountID); ok {
				acc.AttachCall(e.CallID)
			}
		}
		return nil

	case "call_state_changed":
		var e CallStateChanged
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("call_state_changed: %w", err)
		}
		c, ok := b.calls.Get(e.CallID)
		if !ok {
			// An outbound call this process never dialed (e.g. placed by
			// another client of the same daemon) first shows up here as
			// RINGING; register the observer-side call object for it.
			if e.StateName == "RINGING" {
				b.calls.AddRinging(e.CallID, "", "")
				return nil
			}
			return fmt.Errorf("call_state_changed: unknown call %s", e.CallID)
		}
		event, ok := wireEventState[e.StateName]
		if !ok {
			return fmt.Errorf("call_state_changed: unrecognized state %q", e.StateName)
		}
		c.ApplyEvent(event)
		if c.State() == callengine.Over {
			b.calls.Remove(e.CallID)
		}
		return nil

	case "conference_created":
		var e ConferenceCreated
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("conference_created: %w", err)
		}
		b.calls.AddConference(e.ConfID)
		return nil

	case "conference_state_changed":
		var e ConferenceStateChanged
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("conference_state_changed: %w", err)
		}
		c, ok := b.calls.Get(e.ConfID)
		if !ok {
			return fmt.Errorf("conference_state_changed: unknown conference %s", e.ConfID)
		}
		if event, ok := wireEventState[e.State]; ok {
			c.ApplyEvent(event)
		}
		return nil

	case "conference_removed":
		var e ConferenceRemoved
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("conference_removed: %w", err)
		}
		b.calls.Remove(e.ConfID)
		return nil

	case "incoming_message":
		var e IncomingMessage
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("incoming_message: %w", err)
		}
		log.Infow("incoming message", "call_id", e.CallID, "from", e.From)
		return nil

	case "voicemail_notify":
		var e VoicemailNotify
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("voicemail_notify: %w", err)
		}
		log.Infow("voicemail notification", "account_id", e.AccountID, "count", e.Count)
		return nil

	default:
		return fmt.Errorf("unrecognized inbound event %q", env.Event)
	}
}
