package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type publishMessage struct {
	Tenant string
}

func (publishMessage) Type() string { return "botfactory.test.publish" }

func (m publishMessage) Validate() error {
	if m.Tenant == "" {
		return errors.New("tenant is required")
	}
	return nil
}

type untypedMessage struct{}

func (untypedMessage) Type() string { return "" }

type mirroredMessage struct{}

func (mirroredMessage) Type() string { return "botfactory.test.mirrored" }

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage(publishMessage{Tenant: "acme"}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessage(untypedMessage{}); err == nil {
		t.Fatalf("expected empty type to fail")
	}
	if err := ValidateMessage(publishMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestBus_DispatchesToHandlerUntilClosed(t *testing.T) {
	bus := NewBus(nil)
	var tenants []string
	err := Handle(bus, command.CommandFunc[publishMessage](func(_ context.Context, msg publishMessage) error {
		tenants = append(tenants, msg.Tenant)
		return nil
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := Dispatch(context.Background(), publishMessage{Tenant: "acme"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(tenants) != 1 || tenants[0] != "acme" {
		t.Fatalf("unexpected handled tenants %v", tenants)
	}

	bus.Close()
	_ = Dispatch(context.Background(), publishMessage{Tenant: "other"})
	if len(tenants) != 1 {
		t.Fatalf("expected closed bus to stop handling, got %v", tenants)
	}
}

func TestBus_DispatchRejectsInvalidMessage(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	called := false
	_ = Handle(bus, command.CommandFunc[publishMessage](func(context.Context, publishMessage) error {
		called = true
		return nil
	}))
	if err := Dispatch(context.Background(), publishMessage{}); err == nil {
		t.Fatalf("expected invalid message to be rejected")
	}
	if called {
		t.Fatalf("handler must not run for invalid message")
	}
}

func TestBus_MirrorsCommandsToQueueRegistry(t *testing.T) {
	bus := NewBus(command.NewRegistry())
	defer bus.Close()
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := bus.MirrorToQueue("queue", queueRegistry); err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if err := Handle(bus, command.CommandFunc[mirroredMessage](func(context.Context, mirroredMessage) error { return nil })); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := bus.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, ok := queueRegistry.Get("botfactory.test.mirrored"); !ok {
		t.Fatalf("expected command mirrored into queue registry")
	}
}
