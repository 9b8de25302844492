package collab

import (
	"context"
	"encoding/json"

	"github.com/git-yup-ai/sim/internal/v1/types"
)

// handleCursorUpdate mutates only the sender's presence and fans the new
// position out to the rest of the room. Clients already throttle at the
// edge, so no further throttling here.
func (b *Broker) handleCursorUpdate(ctx context.Context, client types.ClientInterface, raw json.RawMessage) {
	var cursor types.CursorPosition
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return // presence deltas are best-effort, drop silently
	}

	room, ok := b.registry.WorkflowRoomFor(client.GetSocketID())
	if !ok {
		return
	}
	if !room.UpdateCursor(client.GetSocketID(), cursor) {
		return
	}

	room.Broadcast(ctx, types.EventCursorUpdate, types.CursorBroadcast{
		SocketID: client.GetSocketID(),
		UserID:   client.GetUser().UserID,
		Cursor:   cursor,
	}, client.GetSocketID())
}

// handleSelectionUpdate mirrors handleCursorUpdate for the selected element.
func (b *Broker) handleSelectionUpdate(ctx context.Context, client types.ClientInterface, raw json.RawMessage) {
	var sel types.Selection
	if err := json.Unmarshal(raw, &sel); err != nil {
		return
	}
	switch sel.Kind {
	case types.SelectionKindBlock, types.SelectionKindEdge, types.SelectionKindNone:
	default:
		return
	}

	room, ok := b.registry.WorkflowRoomFor(client.GetSocketID())
	if !ok {
		return
	}
	if !room.UpdateSelection(client.GetSocketID(), sel) {
		return
	}

	room.Broadcast(ctx, types.EventSelectionUpdate, types.SelectionBroadcast{
		SocketID:  client.GetSocketID(),
		UserID:    client.GetUser().UserID,
		Selection: sel,
	}, client.GetSocketID())
}
