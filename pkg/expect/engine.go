// Package expect drives interactive command dialogues over a remote
// shell stream. A Dialogue sends one command and classifies the output
// with ordered pattern rules until one of them ends the exchange.
package expect

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrDialogueFailed means a failure rule matched the device output.
	ErrDialogueFailed = errors.New("device reported failure")
	// ErrUnrecognizedOutput means the stream ended while buffered
	// output matched no rule.
	ErrUnrecognizedOutput = errors.New("unrecognized device output")
	// ErrReissueLimit means a retry rule kept matching until the
	// re-issue budget ran out.
	ErrReissueLimit = errors.New("re-issue limit reached")
)

// maxIssues bounds how often a single dialogue sends its command,
// counting the first send.
const maxIssues = 3

// Action tells the engine what a matched rule means.
type Action int

const (
	// ActionWait absorbs the matched output and keeps waiting.
	ActionWait Action = iota
	// ActionSucceed ends the dialogue successfully.
	ActionSucceed
	// ActionFail ends the dialogue with the rule's reason.
	ActionFail
	// ActionReissue sends the command again.
	ActionReissue
)

func (a Action) String() string {
	switch a {
	case ActionWait:
		return "wait"
	case ActionSucceed:
		return "succeed"
	case ActionFail:
		return "fail"
	case ActionReissue:
		return "reissue"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Rule pairs an output pattern with the action taken when it matches.
// Rules earlier in a Dialogue take priority over later ones, so failure
// patterns belong before progress and prompt patterns.
type Rule struct {
	Pattern *regexp.Regexp
	Action  Action
	// Reason names the failure when Action is ActionFail.
	Reason string
	// Err, when set on an ActionFail rule, becomes the wrapped
	// sentinel of the returned error in place of ErrDialogueFailed.
	// Callers use it to classify failures without parsing messages.
	Err error
}

// Dialogue describes a single command exchange.
type Dialogue struct {
	// Send is the command line. The engine appends the line ending.
	Send string
	// Rules classify the output, in priority order. At least one rule
	// must be ActionSucceed or the dialogue can only fail.
	Rules []Rule
	// Timeout bounds the whole exchange including re-issues. Zero
	// means the engine default.
	Timeout time.Duration
	// Sensitive keeps Send out of logs and error messages.
	Sensitive bool
}

// label is what logs and errors call the command.
func (d Dialogue) label() string {
	if d.Sensitive {
		return "(sensitive)"
	}
	return d.Send
}

// Outcome carries what a finished dialogue produced.
type Outcome struct {
	// RuleIndex is the position in Dialogue.Rules of the rule that
	// ended the dialogue, or -1 when none did. Dialogues with more
	// than one succeed rule branch on it.
	RuleIndex int
	// Groups holds the match text and capture groups of the rule that
	// ended the dialogue.
	Groups []string
	// Output is all device output consumed during the dialogue, in
	// arrival order. Callers parse facts out of it after the fact.
	Output string
}

// Engine runs dialogues over one channel. It is not safe for
// concurrent use; a device session owns exactly one engine.
type Engine struct {
	ch      *Channel
	timeout time.Duration
	log     *logrus.Entry
}

// NewEngine returns an engine with the given default dialogue timeout.
func NewEngine(ch *Channel, timeout time.Duration, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{ch: ch, timeout: timeout, log: log}
}

// Run sends the dialogue's command and waits until a rule ends the
// exchange. Whatever the result, the channel buffer is empty when Run
// returns, so a stray banner can never bleed into the next command.
func (e *Engine) Run(ctx context.Context, d Dialogue) (Outcome, error) {
	out, err := e.run(ctx, d)
	if dropped := e.ch.Drain(); len(dropped) > 0 {
		e.log.Debugf("discarded %d bytes of trailing output after %q", len(dropped), d.label())
	}
	return out, err
}

func (e *Engine) run(ctx context.Context, d Dialogue) (Outcome, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	deadline := time.Now().Add(timeout)

	patterns := make([]*regexp.Regexp, len(d.Rules))
	for i, r := range d.Rules {
		patterns[i] = r.Pattern
	}

	issues := 0
	send := func() error {
		issues++
		e.log.Debugf("send %q (attempt %d)", d.label(), issues)
		return e.ch.SendLine(d.Send)
	}
	if err := send(); err != nil {
		return Outcome{RuleIndex: -1}, err
	}

	var output strings.Builder
	for {
		m, err := e.ch.Expect(ctx, patterns, time.Until(deadline))
		if err != nil {
			leftover := string(e.ch.Drain())
			output.WriteString(leftover)
			return Outcome{RuleIndex: -1, Output: output.String()}, e.classify(d, timeout, leftover, err)
		}
		output.WriteString(m.Consumed)

		rule := d.Rules[m.Index]
		e.log.Debugf("command %q matched %q (%s)", d.label(), rule.Pattern, rule.Action)
		switch rule.Action {
		case ActionSucceed:
			return Outcome{RuleIndex: m.Index, Groups: m.Groups, Output: output.String()}, nil
		case ActionFail:
			sentinel := ErrDialogueFailed
			if rule.Err != nil {
				sentinel = rule.Err
			}
			return Outcome{RuleIndex: m.Index, Output: output.String()},
				fmt.Errorf("%w: command %q: %s (matched %.120q)", sentinel, d.label(), rule.Reason, m.Groups[0])
		case ActionReissue:
			if issues >= maxIssues {
				return Outcome{RuleIndex: m.Index, Output: output.String()},
					fmt.Errorf("%w: command %q still busy after %d attempts",
						ErrReissueLimit, d.label(), issues)
			}
			if err := send(); err != nil {
				return Outcome{RuleIndex: m.Index, Output: output.String()}, err
			}
		default: // ActionWait
		}
	}
}

func (e *Engine) classify(d Dialogue, timeout time.Duration, leftover string, err error) error {
	switch {
	case errors.Is(err, ErrExpectTimeout):
		return fmt.Errorf("command %q produced no recognizable output within %s: %w", d.label(), timeout, err)
	case errors.Is(err, ErrChannelClosed) && leftover != "":
		// The device answered with something no rule accounts for and
		// then went away. Surface the tail so the operator can see it.
		return fmt.Errorf("%w after command %q: %q", ErrUnrecognizedOutput, d.label(), tail(leftover, 160))
	default:
		return fmt.Errorf("command %q: %w", d.label(), err)
	}
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
