package alert

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/streamwatch/internal/resilience"
	"github.com/MrWong99/streamwatch/pkg/types"
)

func TestFormatTimestamp(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{5 * time.Second, "00:00:05"},
		{90 * time.Second, "00:01:30"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{25*time.Hour + 59*time.Minute, "25:59:00"},
		{1500 * time.Millisecond, "00:00:01"},
		{-time.Second, "00:00:00"},
	}
	for _, tc := range cases {
		if got := FormatTimestamp(tc.d); got != tc.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestAlert_String(t *testing.T) {
	a := Alert{
		Keyword:   "fire",
		Match:     types.MatchExact,
		Score:     1,
		Timestamp: 65 * time.Second,
		Context:   "fire reported downtown",
	}
	got := a.String()
	want := `ALERT | Time: 00:01:05 | Keyword: "fire" | Context: "fire reported downtown"`
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	err := n.Notify(context.Background(), Alert{
		Keyword:   "flood",
		Match:     types.MatchFuzzy,
		Score:     0.91,
		Timestamp: 3 * time.Second,
		Context:   "flud warnings issued",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"keyword alert", "flood", "00:00:03", "fuzzy"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

// recordNotifier collects delivered alerts.
type recordNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (n *recordNotifier) Name() string { return "record" }

func (n *recordNotifier) Notify(_ context.Context, a Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return n.err
}

func (n *recordNotifier) delivered() []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Alert, len(n.alerts))
	copy(out, n.alerts)
	return out
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	rec := &recordNotifier{}
	d := NewDispatcher([]Notifier{rec})
	d.Start(context.Background())

	for i := 0; i < 5; i++ {
		d.Dispatch(Alert{Keyword: "kw", Timestamp: time.Duration(i) * time.Second})
	}
	d.Stop()

	got := rec.delivered()
	if len(got) != 5 {
		t.Fatalf("delivered %d alerts, want 5", len(got))
	}
	for i, a := range got {
		if a.Timestamp != time.Duration(i)*time.Second {
			t.Errorf("alert %d timestamp = %v, want %v", i, a.Timestamp, time.Duration(i)*time.Second)
		}
	}
}

func TestDispatcher_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	// No worker started: the queue fills up and further dispatches must
	// return immediately.
	d := NewDispatcher([]Notifier{&recordNotifier{}}, WithQueueSize(2))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Dispatch(Alert{Keyword: "kw"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}

func TestDispatcher_NotifierErrorDoesNotStopDelivery(t *testing.T) {
	failing := &recordNotifier{err: errors.New("endpoint down")}
	healthy := &recordNotifier{}
	d := NewDispatcher([]Notifier{failing, healthy})
	d.Start(context.Background())

	d.Dispatch(Alert{Keyword: "one"})
	d.Dispatch(Alert{Keyword: "two"})
	d.Stop()

	if got := len(healthy.delivered()); got != 2 {
		t.Errorf("healthy notifier got %d alerts, want 2", got)
	}
	if got := len(failing.delivered()); got != 2 {
		t.Errorf("failing notifier should still be attempted, got %d calls", got)
	}
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	d := NewDispatcher(nil)
	d.Start(context.Background())
	d.Stop()
	d.Stop()
}

// fakeWebhook records WebhookExecute calls.
type fakeWebhook struct {
	mu       sync.Mutex
	contents []string
	err      error
}

func (f *fakeWebhook) WebhookExecute(_, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.contents = append(f.contents, data.Content)
	return &discordgo.Message{}, nil
}

func TestWebhookNotifier_PostsAlertLine(t *testing.T) {
	hook := &fakeWebhook{}
	n := NewWebhookNotifier(hook, "id", "token")

	a := Alert{Keyword: "fire", Timestamp: 5 * time.Second, Context: "fire!"}
	if err := n.Notify(context.Background(), a); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(hook.contents) != 1 || hook.contents[0] != a.String() {
		t.Errorf("posted %v, want the alert line %q", hook.contents, a.String())
	}
}

func TestWebhookNotifier_BreakerShortCircuits(t *testing.T) {
	hook := &fakeWebhook{err: errors.New("503")}
	n := NewWebhookNotifier(hook, "id", "token",
		WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{
			Name:         "test",
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		})),
	)

	a := Alert{Keyword: "fire"}
	for i := 0; i < 2; i++ {
		if err := n.Notify(context.Background(), a); err == nil {
			t.Fatal("expected delivery failure")
		}
	}

	// The breaker is open now: delivery fails fast without reaching the hook.
	err := n.Notify(context.Background(), a)
	if !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
}
