package engine

import (
	"context"
	"testing"

	"github.com/arashdev/simorgh/internal/outbound"
	"github.com/arashdev/simorgh/internal/ruleengine"
	"github.com/arashdev/simorgh/pkg/policy"
	"github.com/arashdev/simorgh/pkg/socks5"
)

func TestRunRequiresAListenAddress(t *testing.T) {
	rules := ruleengine.New(nil, nil, policy.Rule{Policy: "reject"}, 0)
	e := New(Config{Rules: rules, Outbound: outbound.New(0)}, socks5.NewServer(socks5.ServerConfig{}))

	if err := e.Run(context.Background()); err != ErrListenerNotConfigured {
		t.Fatalf("got %v, want ErrListenerNotConfigured", err)
	}
}
