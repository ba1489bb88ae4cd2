package ws

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func drainFrames(c *Client) []string {
	var frames []string
	for {
		select {
		case frame := <-c.send:
			frames = append(frames, string(frame))
		default:
			return frames
		}
	}
}

func TestHubDeliversOnlyToRoomMembers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := NewClient(nil, "a", zerolog.Nop())
	b := NewClient(nil, "b", zerolog.Nop())
	hub.JoinRoom("game_X", a)
	hub.JoinRoom("game_Y", b)

	hub.Broadcast("game_X", "ping", map[string]string{"v": "1"})

	if frames := drainFrames(a); len(frames) != 1 {
		t.Fatalf("member got %d frames", len(frames))
	}
	if frames := drainFrames(b); len(frames) != 0 {
		t.Fatalf("non-member got %d frames", len(frames))
	}
}

func TestHubDetachRemovesFromEveryRoom(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient(nil, "a", zerolog.Nop())
	hub.JoinRoom("game_X", c)
	hub.JoinRoom("dashboard_1", c)

	if hub.RoomSize("game_X") != 1 || hub.RoomSize("dashboard_1") != 1 {
		t.Fatal("client not registered")
	}
	hub.Detach(c)
	if hub.RoomSize("game_X") != 0 || hub.RoomSize("dashboard_1") != 0 {
		t.Fatal("client still registered after detach")
	}
	// Broadcasting after detach must not panic on the closed queue.
	hub.Broadcast("game_X", "ping", nil)
	c.Send("ping", nil)
}

func TestSlowClientDropsOldestFrame(t *testing.T) {
	c := NewClient(nil, "slow", zerolog.Nop())
	for i := 0; i < cap(c.send)+1; i++ {
		c.Send("seq", i)
	}
	frames := drainFrames(c)
	if len(frames) != cap(c.send) {
		t.Fatalf("expected a full queue, got %d frames", len(frames))
	}

	var first Envelope
	if err := json.Unmarshal([]byte(frames[0]), &first); err != nil {
		t.Fatalf("frame decode: %v", err)
	}
	// Frame 0 was dropped to make room for the newest.
	if first.Payload.(float64) != 1 {
		t.Fatalf("expected oldest surviving frame 1, got %v", first.Payload)
	}
	var last Envelope
	_ = json.Unmarshal([]byte(frames[len(frames)-1]), &last)
	if last.Payload.(float64) != float64(cap(c.send)) {
		t.Fatalf("newest frame missing, got %v", last.Payload)
	}
}
