package core

import (
	"testing"
)

func TestExecutableRegistry(t *testing.T) {
	registry := NewExecutableRegistry()
	factory := func(SubscriptionConfig) (Executable, error) { return stubExecutable{}, nil }

	if err := registry.Register(" Webhook ", factory); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("webhook", factory); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := registry.Register("", factory); err == nil {
		t.Fatalf("expected empty type to fail")
	}
	if err := registry.Register("polling", nil); err == nil {
		t.Fatalf("expected nil factory to fail")
	}

	exec, err := registry.Build(SubscriptionConfig{Type: "WEBHOOK"})
	if err != nil || exec == nil {
		t.Fatalf("expected build by normalized type, got %v", err)
	}

	_, err = registry.Build(SubscriptionConfig{Type: "smtp"})
	if !HasTextCode(err, ErrorExecutableFactoryNotAvailable) {
		t.Fatalf("expected missing factory error, got %v", err)
	}
	if types := registry.Types(); len(types) != 1 || types[0] != "webhook" {
		t.Fatalf("unexpected types: %v", types)
	}
}
