package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/szaher/llmhub/internal/protocol"
	"github.com/szaher/llmhub/internal/store"
	"github.com/szaher/llmhub/internal/testutil"
)

type recorded struct {
	Event string
	Data  any
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []recorded
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recorded{Event: event, Data: data})
	return nil
}

func (f *fakeConn) all() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.events...)
}

func (f *fakeConn) named(event string) []recorded {
	var out []recorded
	for _, r := range f.all() {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

func newTestHub() *Hub {
	return New(nil, nil, nil, Config{})
}

// registerAdapter connects and registers an adapter session in one step.
func registerAdapter(t *testing.T, h *Hub, conn *fakeConn, name string) {
	t.Helper()
	ch := h.AdapterChannel()
	ch.Connect(conn)
	ch.Message(conn, testutil.Envelope(t, protocol.EventRegister, protocol.RegisterPayload{
		Name: name, Type: "local", Capabilities: []string{"chat"},
	}))
}

func TestClientJoinSnapshotBeforeStream(t *testing.T) {
	h := newTestHub()

	a1 := &fakeConn{id: "adapter-1"}
	a2 := &fakeConn{id: "adapter-2"}
	registerAdapter(t, h, a1, "ollama-1")
	registerAdapter(t, h, a2, "lmstudio-1")

	client := &fakeConn{id: "client-1"}
	h.ClientChannel().Connect(client)

	a3 := &fakeConn{id: "adapter-3"}
	registerAdapter(t, h, a3, "late-adapter")

	events := client.all()
	if len(events) < 2 {
		t.Fatalf("client saw %d events, want snapshot then roster update", len(events))
	}
	if events[0].Event != protocol.EventConnected {
		t.Fatalf("first event = %q, want %q", events[0].Event, protocol.EventConnected)
	}

	snapshot := events[0].Data.(ConnectedPayload)
	if snapshot.ClientID != "client-1" {
		t.Errorf("ClientID = %q", snapshot.ClientID)
	}
	if len(snapshot.AvailableLLMs) != 2 {
		t.Fatalf("snapshot has %d adapters, want exactly the 2 registered before join", len(snapshot.AvailableLLMs))
	}
	for _, a := range snapshot.AvailableLLMs {
		if a.Name == "late-adapter" {
			t.Error("snapshot contains an adapter that registered after join")
		}
	}

	updates := client.named(protocol.EventLLMUpdate)
	if len(updates) != 1 {
		t.Fatalf("got %d llm-update events, want 1 for the late adapter", len(updates))
	}
	up := updates[0].Data.(LLMUpdatePayload)
	if up.Type != "connected" || up.LLM == nil || up.LLM.Name != "late-adapter" {
		t.Errorf("llm-update = %+v", up)
	}
}

func TestEmptyRosterSnapshotIsNotNull(t *testing.T) {
	h := newTestHub()
	client := &fakeConn{id: "c"}
	h.ClientChannel().Connect(client)

	snapshot := client.all()[0].Data.(ConnectedPayload)
	if snapshot.AvailableLLMs == nil {
		t.Error("AvailableLLMs must be an empty slice, not nil")
	}
}

func TestTargetedDispatch(t *testing.T) {
	h := newTestHub()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	c := &fakeConn{id: "c"}
	registerAdapter(t, h, a, "model-a")
	registerAdapter(t, h, b, "model-b")
	registerAdapter(t, h, c, "model-c")

	ack, err := h.Submit("client-1", protocol.ChatPayload{
		Message: "hi",
		Models:  protocol.ModelTargets{"a", "b"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.Status != "processing" || ack.ChatID == "" {
		t.Errorf("ack = %+v", ack)
	}

	for _, target := range []*fakeConn{a, b} {
		got := target.named(protocol.EventProcess)
		if len(got) != 1 {
			t.Fatalf("adapter %s received %d process messages, want 1", target.id, len(got))
		}
		p := got[0].Data.(protocol.ProcessPayload)
		if p.ChatID != ack.ChatID || p.Message != "hi" {
			t.Errorf("process payload = %+v", p)
		}
	}
	if got := c.named(protocol.EventProcess); len(got) != 0 {
		t.Errorf("non-targeted adapter received %d process messages", len(got))
	}
}

func TestBroadcastDispatchSnapshots(t *testing.T) {
	h := newTestHub()
	a := &fakeConn{id: "a"}
	registerAdapter(t, h, a, "model-a")

	ack, err := h.Submit("client-1", protocol.ChatPayload{Message: "hi", Models: protocol.ModelTargets{"all"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// An adapter registering after dispatch is not retroactively included.
	late := &fakeConn{id: "late"}
	registerAdapter(t, h, late, "late")

	if got := a.named(protocol.EventProcess); len(got) != 1 {
		t.Errorf("adapter received %d process messages, want 1", len(got))
	}
	if got := late.named(protocol.EventProcess); len(got) != 0 {
		t.Errorf("late adapter received %d process messages for chat %s", len(got), ack.ChatID)
	}
}

func TestSubmitWithNoAdaptersIsSilentlyAccepted(t *testing.T) {
	h := newTestHub()
	client := &fakeConn{id: "client-1"}
	h.ClientChannel().Connect(client)

	ack, err := h.Submit("client-1", protocol.ChatPayload{Message: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ack.Status != "processing" {
		t.Errorf("ack status = %q, want processing", ack.Status)
	}
	if got := client.named(protocol.EventLLMResponse); len(got) != 0 {
		t.Errorf("client saw %d responses for an undispatchable chat", len(got))
	}
}

func TestSubmitRejectsEmptyMessage(t *testing.T) {
	h := newTestHub()
	if _, err := h.Submit("client-1", protocol.ChatPayload{}); err != ErrEmptyMessage {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestChatOverClientChannel(t *testing.T) {
	h := newTestHub()
	adapter := &fakeConn{id: "ollama-1-conn"}
	registerAdapter(t, h, adapter, "ollama-1")

	client := &fakeConn{id: "client-a"}
	ch := h.ClientChannel()
	ch.Connect(client)

	ch.Message(client, testutil.Envelope(t, protocol.EventChat, protocol.ChatPayload{Message: "hi", Models: protocol.ModelTargets{"all"}}))

	acks := client.named(protocol.EventChatAck)
	if len(acks) != 1 {
		t.Fatalf("got %d chat acks, want 1", len(acks))
	}
	ack := acks[0].Data.(protocol.ChatAckPayload)
	if ack.Status != "processing" || ack.ChatID == "" {
		t.Fatalf("ack = %+v", ack)
	}

	process := adapter.named(protocol.EventProcess)
	if len(process) != 1 {
		t.Fatalf("adapter got %d process messages, want 1", len(process))
	}
	if p := process[0].Data.(protocol.ProcessPayload); p.ChatID != ack.ChatID || p.Message != "hi" {
		t.Errorf("process = %+v", p)
	}

	// Adapter responds; the client streams the result.
	h.AdapterChannel().Message(adapter, testutil.Envelope(t, protocol.EventResponse, protocol.ResponsePayload{
		ChatID: ack.ChatID, Response: "hello", ModelID: "ollama-1", Status: "complete",
	}))

	responses := client.named(protocol.EventLLMResponse)
	if len(responses) != 1 {
		t.Fatalf("client got %d llm-response events, want 1", len(responses))
	}
	r := responses[0].Data.(protocol.LLMResponsePayload)
	if r.ChatID != ack.ChatID || r.ModelID != "ollama-1" || r.Response != "hello" || r.Status != "complete" {
		t.Errorf("llm-response = %+v", r)
	}
}

func TestMalformedChatKeepsConnectionOpen(t *testing.T) {
	h := newTestHub()
	client := &fakeConn{id: "client-a"}
	ch := h.ClientChannel()
	ch.Connect(client)

	ch.Message(client, testutil.Envelope(t, protocol.EventChat, protocol.ChatPayload{}))

	acks := client.named(protocol.EventChatAck)
	if len(acks) != 1 {
		t.Fatalf("got %d chat acks, want 1", len(acks))
	}
	ack := acks[0].Data.(protocol.ChatAckPayload)
	if ack.Status != "error" || ack.Error == "" {
		t.Errorf("ack = %+v, want error status with message", ack)
	}
	if h.tracker.Len() != 1 {
		t.Error("client should remain connected after a rejected chat")
	}
}

func TestPingPong(t *testing.T) {
	h := newTestHub()
	client := &fakeConn{id: "client-a"}
	ch := h.ClientChannel()
	ch.Connect(client)

	ch.Message(client, testutil.Envelope(t, protocol.EventPing, nil))

	pongs := client.named(protocol.EventPong)
	if len(pongs) != 1 {
		t.Fatalf("got %d pongs, want 1", len(pongs))
	}
	p := pongs[0].Data.(protocol.PongPayload)
	if p.Type != "pong" || p.ServerTime == 0 {
		t.Errorf("pong = %+v", p)
	}
}

func TestResponseFanIn(t *testing.T) {
	h := newTestHub()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	registerAdapter(t, h, a, "model-a")
	registerAdapter(t, h, b, "model-b")

	client := &fakeConn{id: "client-a"}
	h.ClientChannel().Connect(client)

	ack, err := h.Submit("client-a", protocol.ChatPayload{Message: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	adapterCh := h.AdapterChannel()
	adapterCh.Message(a, testutil.Envelope(t, protocol.EventResponse, protocol.ResponsePayload{
		ChatID: ack.ChatID, Response: "from a", ModelID: "model-a",
	}))
	adapterCh.Message(b, testutil.Envelope(t, protocol.EventResponse, protocol.ResponsePayload{
		ChatID: ack.ChatID, Response: "from b", ModelID: "model-b",
	}))

	responses := client.named(protocol.EventLLMResponse)
	if len(responses) != 2 {
		t.Fatalf("client got %d llm-response events, want 2 independent ones", len(responses))
	}
	first := responses[0].Data.(protocol.LLMResponsePayload)
	second := responses[1].Data.(protocol.LLMResponsePayload)
	if first.ModelID != "model-a" || second.ModelID != "model-b" {
		t.Errorf("responses out of receipt order: %q then %q", first.ModelID, second.ModelID)
	}
	// Default status fills in.
	if first.Status != "complete" {
		t.Errorf("default status = %q, want complete", first.Status)
	}

	if h.correlator.Pending() != 0 {
		t.Errorf("completed request still pending")
	}
}

func TestOrphanResponseForwarded(t *testing.T) {
	h := newTestHub()
	adapter := &fakeConn{id: "a"}
	registerAdapter(t, h, adapter, "model-a")
	client := &fakeConn{id: "client-a"}
	h.ClientChannel().Connect(client)

	h.AdapterChannel().Message(adapter, testutil.Envelope(t, protocol.EventResponse, protocol.ResponsePayload{
		ChatID: "chat_nobody_asked", Response: "surprise", ModelID: "model-a",
	}))

	responses := client.named(protocol.EventLLMResponse)
	if len(responses) != 1 {
		t.Fatalf("orphan response not forwarded, got %d events", len(responses))
	}
	if r := responses[0].Data.(protocol.LLMResponsePayload); r.ChatID != "chat_nobody_asked" {
		t.Errorf("llm-response = %+v", r)
	}
}

func TestAdapterDisconnectCleanup(t *testing.T) {
	h := newTestHub()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	registerAdapter(t, h, a, "model-a")
	registerAdapter(t, h, b, "model-b")

	client := &fakeConn{id: "client-a"}
	h.ClientChannel().Connect(client)

	h.AdapterChannel().Disconnect(a)

	if h.registry.Has("a") {
		t.Error("registry still lists disconnected adapter")
	}
	updates := client.named(protocol.EventLLMUpdate)
	if len(updates) != 1 {
		t.Fatalf("got %d llm-update events, want 1 disconnect", len(updates))
	}
	if up := updates[0].Data.(LLMUpdatePayload); up.Type != "disconnected" || up.LLMID != "a" {
		t.Errorf("llm-update = %+v", up)
	}

	// Subsequent broadcast only reaches the survivor.
	if _, err := h.Submit("client-a", protocol.ChatPayload{Message: "hi"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := a.named(protocol.EventProcess); len(got) != 0 {
		t.Errorf("disconnected adapter received %d process messages", len(got))
	}
	if got := b.named(protocol.EventProcess); len(got) != 1 {
		t.Errorf("surviving adapter received %d process messages, want 1", len(got))
	}
}

func TestDisconnectWhilePendingSynthesizesError(t *testing.T) {
	h := newTestHub()
	a := &fakeConn{id: "a"}
	registerAdapter(t, h, a, "model-a")

	client := &fakeConn{id: "client-a"}
	h.ClientChannel().Connect(client)

	ack, err := h.Submit("client-a", protocol.ChatPayload{Message: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	h.AdapterChannel().Disconnect(a)

	responses := client.named(protocol.EventLLMResponse)
	if len(responses) != 1 {
		t.Fatalf("got %d llm-response events, want 1 synthetic error", len(responses))
	}
	r := responses[0].Data.(protocol.LLMResponsePayload)
	if r.ChatID != ack.ChatID || r.Status != "error" {
		t.Errorf("synthetic response = %+v", r)
	}
	if h.correlator.Pending() != 0 {
		t.Error("settled request still pending")
	}
}

func TestStatusUpdateBroadcast(t *testing.T) {
	h := newTestHub()
	a := &fakeConn{id: "a"}
	registerAdapter(t, h, a, "model-a")
	client := &fakeConn{id: "client-a"}
	h.ClientChannel().Connect(client)

	h.AdapterChannel().Message(a, testutil.Envelope(t, protocol.EventStatusUpdate, protocol.StatusUpdatePayload{Status: "processing"}))

	updates := client.named(protocol.EventLLMUpdate)
	if len(updates) != 1 {
		t.Fatalf("got %d llm-update events, want 1", len(updates))
	}
	up := updates[0].Data.(LLMUpdatePayload)
	if up.Type != "status-change" || up.LLMID != "a" || string(up.Status) != "processing" {
		t.Errorf("llm-update = %+v", up)
	}
}

func TestStatusUpdateFromUnregisteredAdapter(t *testing.T) {
	h := newTestHub()
	a := &fakeConn{id: "a"}
	h.AdapterChannel().Connect(a)

	client := &fakeConn{id: "client-a"}
	h.ClientChannel().Connect(client)

	// Never registered; tolerated, nothing broadcast.
	h.AdapterChannel().Message(a, testutil.Envelope(t, protocol.EventStatusUpdate, protocol.StatusUpdatePayload{Status: "idle"}))

	if got := client.named(protocol.EventLLMUpdate); len(got) != 0 {
		t.Errorf("unregistered adapter produced %d roster events", len(got))
	}
}

func TestUnregisteredAdapterIsNotRoutable(t *testing.T) {
	h := newTestHub()
	a := &fakeConn{id: "a"}
	h.AdapterChannel().Connect(a)

	if _, err := h.Submit("client-a", protocol.ChatPayload{Message: "hi"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := a.named(protocol.EventProcess); len(got) != 0 {
		t.Errorf("unregistered adapter received %d process messages", len(got))
	}
}

func TestStateUpdateRebroadcast(t *testing.T) {
	h := newTestHub()
	state := &fakeConn{id: "state-1"}
	stateCh := h.StateChannel()
	stateCh.Connect(state)

	client := &fakeConn{id: "client-a"}
	h.ClientChannel().Connect(client)

	stateCh.Message(state, testutil.Envelope(t, protocol.EventStateUpdate, protocol.StateUpdatePayload{
		Type: "project-saved",
	}))

	changes := client.named(protocol.EventStateChange)
	if len(changes) != 1 {
		t.Fatalf("got %d state-change events, want 1", len(changes))
	}
	c := changes[0].Data.(protocol.StateChangePayload)
	if c.Type != "project-saved" || c.Timestamp == "" {
		t.Errorf("state-change = %+v", c)
	}
}

func TestFileRequestRelay(t *testing.T) {
	h := newTestHub()
	adapter := &fakeConn{id: "a"}
	registerAdapter(t, h, adapter, "model-a")
	state := &fakeConn{id: "state-1"}
	h.StateChannel().Connect(state)

	h.AdapterChannel().Message(adapter, testutil.Envelope(t, protocol.EventFileRequest, protocol.FileRequestPayload{
		FileID: "f-9", Operation: "read",
	}))

	acks := adapter.named(protocol.EventFileAck)
	if len(acks) != 1 {
		t.Fatalf("got %d file acks, want 1", len(acks))
	}
	if a := acks[0].Data.(protocol.FileAckPayload); a.FileID != "f-9" || a.Status != "processing" {
		t.Errorf("file-ack = %+v", a)
	}

	ops := state.named(protocol.EventFileOperation)
	if len(ops) != 1 {
		t.Fatalf("state channel got %d file-operation events, want 1", len(ops))
	}
	op := ops[0].Data.(protocol.FileOperationPayload)
	if op.FileID != "f-9" || op.Operation != "read" || op.RequesterID != "a" {
		t.Errorf("file-operation = %+v", op)
	}
}

func TestConcurrentRegisterAndDispatch(t *testing.T) {
	h := newTestHub()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := &fakeConn{id: fmt.Sprintf("a-%d", i)}
			registerAdapter(t, h, conn, fmt.Sprintf("model-%d", i))
		}(i)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.Submit("client", protocol.ChatPayload{Message: "hi"}); err != nil {
				t.Errorf("Submit: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if h.registry.Len() != 20 {
		t.Errorf("registry has %d adapters, want 20", h.registry.Len())
	}
}

func TestAuditRecordsWritten(t *testing.T) {
	mem := store.NewMemoryStore()
	h := New(nil, nil, mem, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	adapter := &fakeConn{id: "a"}
	registerAdapter(t, h, adapter, "model-a")

	ack, err := h.Submit("client-a", protocol.ChatPayload{Message: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.AdapterChannel().Message(adapter, testutil.Envelope(t, protocol.EventResponse, protocol.ResponsePayload{
		ChatID: ack.ChatID, Response: "hello", ModelID: "model-a",
	}))

	testutil.Eventually(t, 2*time.Second, func() bool {
		_, chatErr := mem.Get(context.Background(), "chat:"+ack.ChatID)
		_, respErr := mem.Get(context.Background(), "response:"+ack.ChatID+":model-a")
		return chatErr == nil && respErr == nil
	}, "audit records for chat and response")

	fields, err := mem.Get(context.Background(), "chat:"+ack.ChatID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fields["message"] != "hi" || fields["framework"] != protocol.DefaultFramework {
		t.Errorf("chat record = %v", fields)
	}
}

func TestRequestExpiryNotifiesOnce(t *testing.T) {
	h := New(nil, nil, nil, Config{RequestTTL: 50 * time.Millisecond})

	adapter := &fakeConn{id: "a"}
	registerAdapter(t, h, adapter, "model-a")
	client := &fakeConn{id: "client-a"}
	h.ClientChannel().Connect(client)

	ack, err := h.Submit("client-a", protocol.ChatPayload{Message: "hi"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	testutil.Eventually(t, 5*time.Second, func() bool {
		return len(client.named(protocol.EventLLMResponse)) > 0
	}, "timeout notification")

	responses := client.named(protocol.EventLLMResponse)
	if len(responses) != 1 {
		t.Fatalf("got %d timeout notifications, want exactly 1", len(responses))
	}
	r := responses[0].Data.(protocol.LLMResponsePayload)
	if r.ChatID != ack.ChatID || r.Status != "error" {
		t.Errorf("timeout response = %+v", r)
	}
	if h.correlator.Pending() != 0 {
		t.Error("expired request still pending")
	}
}
