package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"splunkdesk/internal/discovery"
)

// DefaultSendTimeout bounds a single delegated request.
const DefaultSendTimeout = 120 * time.Second

// A2ASender delivers messages to discovered agents over A2A.
type A2ASender struct {
	cards   map[string]*a2a.AgentCard
	timeout time.Duration
	retry   retrypolicy.RetryPolicy[a2a.SendMessageResult]

	mu      sync.Mutex
	clients map[string]*a2aclient.Client
}

// NewA2ASender creates a sender for the discovered agents. Clients are
// created on first use.
func NewA2ASender(agents []*discovery.Agent, timeout time.Duration) *A2ASender {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	cards := make(map[string]*a2a.AgentCard, len(agents))
	for _, a := range agents {
		cards[a.Name] = a.Card
	}
	return &A2ASender{
		cards:   cards,
		timeout: timeout,
		clients: make(map[string]*a2aclient.Client, len(agents)),
		// Dial failures only: the request never reached the agent.
		retry: retrypolicy.NewBuilder[a2a.SendMessageResult]().
			HandleIf(func(_ a2a.SendMessageResult, err error) bool { return isDialError(err) }).
			WithMaxRetries(2).
			WithBackoff(250*time.Millisecond, 2*time.Second).
			ReturnLastFailure().
			Build(),
	}
}

// Send implements Sender.
func (s *A2ASender) Send(ctx context.Context, agentName, text string) (string, error) {
	client, err := s.client(ctx, agentName)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	slog.Info("router: sending to agent", "agent", agentName, "len", len(text))
	result, err := failsafe.With[a2a.SendMessageResult](s.retry).WithContext(ctx).Get(func() (a2a.SendMessageResult, error) {
		msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: text})
		return client.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	})
	if err != nil {
		return "", fmt.Errorf("A2A call to %s failed: %w", agentName, err)
	}
	if result == nil {
		return "", ErrNoResponse
	}
	return ExtractText(result), nil
}

func (s *A2ASender) client(ctx context.Context, agentName string) (*a2aclient.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[agentName]; ok {
		return c, nil
	}
	card, ok := s.cards[agentName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentName)
	}
	c, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, fmt.Errorf("create A2A client for %s: %w", agentName, err)
	}
	s.clients[agentName] = c
	return c, nil
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
