// Package notify delivers out-of-band alerts (SMS and voice) for processors
// that need to reach people outside Discord.
package notify

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/goliatone/go-botfactory/core"
)

// DefaultOriginationNumber is the sender number used when a tenant sets none.
const DefaultOriginationNumber = "+18664799447"

var e164Pattern = regexp.MustCompile(`^\+[0-9]{11}$`)

// ValidNumber reports whether number has the +12223334444 shape.
func ValidNumber(number string) bool {
	return e164Pattern.MatchString(number)
}

type SMS struct {
	AppID       string
	Origination string
	Destination string
	Body        string
}

type Voice struct {
	Origination string
	Destination string
	SSML        string
}

type Notifier interface {
	SendSMS(ctx context.Context, msg SMS) error
	SendVoice(ctx context.Context, msg Voice) error
}

// LogNotifier records alerts through the observer instead of calling a
// telephony provider. It keeps the sent alerts for inspection.
type LogNotifier struct {
	observer *core.Observer

	mu     sync.Mutex
	sms    []SMS
	voices []Voice
}

func NewLogNotifier(observer *core.Observer) *LogNotifier {
	if observer == nil {
		observer = core.NopObserver()
	}
	return &LogNotifier{observer: observer}
}

func (n *LogNotifier) SendSMS(ctx context.Context, msg SMS) error {
	startedAt := time.Now()
	err := validate(msg.Origination, msg.Destination)
	n.observer.Observe(ctx, startedAt, "send_sms", err, map[string]any{
		"app_id":      msg.AppID,
		"destination": msg.Destination,
	})
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sms = append(n.sms, msg)
	return nil
}

func (n *LogNotifier) SendVoice(ctx context.Context, msg Voice) error {
	startedAt := time.Now()
	err := validate(msg.Origination, msg.Destination)
	n.observer.Observe(ctx, startedAt, "send_voice", err, map[string]any{
		"destination": msg.Destination,
	})
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.voices = append(n.voices, msg)
	return nil
}

func (n *LogNotifier) Sent() ([]SMS, []Voice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SMS(nil), n.sms...), append([]Voice(nil), n.voices...)
}

func validate(origination string, destination string) error {
	if !ValidNumber(origination) {
		return core.BadInputError(fmt.Sprintf("notify: invalid origination number %q", origination), nil)
	}
	if !ValidNumber(destination) {
		return core.BadInputError(fmt.Sprintf("notify: invalid destination number %q", destination), nil)
	}
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
