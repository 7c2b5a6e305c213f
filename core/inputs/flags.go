package inputs

import (
	"fmt"
	"sort"
)

const (
	FlagProactiveSpeak = "proactive_speak"
	FlagSkipMemory     = "skip_memory"
	FlagSkipHistory    = "skip_history"
)

type Flags struct {
	ProactiveSpeak bool
	SkipMemory     bool
	SkipHistory    bool
}

// ParseFlags reads the loosely typed flag bag sent by clients. Keys outside
// the recognised set are rejected.
func ParseFlags(raw map[string]bool) (Flags, error) {
	var flags Flags
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch key {
		case FlagProactiveSpeak:
			flags.ProactiveSpeak = raw[key]
		case FlagSkipMemory:
			flags.SkipMemory = raw[key]
		case FlagSkipHistory:
			flags.SkipHistory = raw[key]
		default:
			return Flags{}, fmt.Errorf("%w: %q", ErrUnknownFlag, key)
		}
	}
	return flags, nil
}

// Intent is how a submission relates to whatever the group is currently
// processing.
type Intent string

const (
	IntentNormal         Intent = "normal"
	IntentInterrupt      Intent = "interrupt"
	IntentProactiveSpeak Intent = "proactive_speak"
)

var intents = []Intent{IntentNormal, IntentInterrupt, IntentProactiveSpeak}

func ParseIntent(raw string) (Intent, error) {
	if raw == "" {
		return IntentNormal, nil
	}
	for _, intent := range intents {
		if string(intent) == raw {
			return intent, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIntent, raw)
}

func (i Intent) Preempts() bool {
	return i == IntentInterrupt || i == IntentProactiveSpeak
}
