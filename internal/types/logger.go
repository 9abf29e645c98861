package types

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/dustin/go-humanize"
)

type logger struct {
}

func NewLogger() MessageHandler {
	return &logger{}
}

func (l *logger) Receive(message Message) {
	switch m := message.Message.(type) {
	case SessionStats:
		log.Printf("Stats: mode=%s epoch=%d mission=%s pending=%d issued=%s completed=%s timeouts=%s unmatched=%s stale=%s telemetry-age=%s",
			m.Mode, m.Epoch, m.MissionState, m.Pending,
			humanize.Comma(int64(m.Issued)), humanize.Comma(int64(m.Completed)), humanize.Comma(int64(m.TimedOut)),
			humanize.Comma(int64(m.Unmatched)), humanize.Comma(int64(m.Stale)), m.TelemetryAge)
		return
	}

	if message.MessageType == MessageAircraftState {
		return
	}

	b, _ := json.Marshal(message.Message)
	log.Printf("Message: %s (%s -> %s): %s", message.MessageType, message.From, message.To, string(b))
}

func (l *logger) Run(ctx context.Context, wg *sync.WaitGroup, post PostFn) {
}
