package registry

import (
	"encoding/json"
	"fmt"

	"github.com/Jeong-dawon/MultiFlexer/internal/core"
	"github.com/Jeong-dawon/MultiFlexer/internal/signaling"
)

type HandlerFunc func(r *Registry, data json.RawMessage) error

// Handlers maps inbound signaling events to registry operations.
var Handlers = map[string]HandlerFunc{
	signaling.EventSenderList:         handleSenderList,
	signaling.EventShareStarted:       handleShareStarted,
	signaling.EventShareStopped:       handleShareStopped,
	signaling.EventSignal:             handleSignal,
	signaling.EventSenderDisconnected: removeHandler(signaling.EventSenderDisconnected),
	signaling.EventSenderLeft:         removeHandler(signaling.EventSenderLeft),
	signaling.EventRemoveSender:       removeHandler(signaling.EventRemoveSender),
	signaling.EventRoomDeleted:        handleRoomDeleted,
}

func handleSenderList(r *Registry, data json.RawMessage) error {
	var list []signaling.SenderEntry
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decode %s: %w", signaling.EventSenderList, err)
		}
	}

	return r.OnSenderList(list)
}

func handleShareStarted(r *Registry, data json.RawMessage) error {
	ref, err := signaling.ParseSenderRef(data)
	if err != nil {
		return err
	}

	return r.OnShareStarted(signaling.SenderEntry{ID: ref.Resolve(), Name: ref.Name})
}

func handleShareStopped(r *Registry, data json.RawMessage) error {
	ref, err := signaling.ParseSenderRef(data)
	if err != nil {
		return err
	}

	return r.OnShareStopped(core.SenderID(ref.Resolve()))
}

func handleSignal(r *Registry, data json.RawMessage) error {
	var sig signaling.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return fmt.Errorf("decode %s: %w", signaling.EventSignal, err)
	}

	return r.OnSignal(sig)
}

func removeHandler(reason string) HandlerFunc {
	return func(r *Registry, data json.RawMessage) error {
		ref, err := signaling.ParseSenderRef(data)
		if err != nil {
			return err
		}

		r.RemoveSender(core.SenderID(ref.Resolve()), reason)
		return nil
	}
}

func handleRoomDeleted(r *Registry, _ json.RawMessage) error {
	r.OnRoomDeleted()
	return nil
}
