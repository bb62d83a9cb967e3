package notifier

import (
	"context"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/rs/zerolog/log"
)

var _ coursechange.Notifier = Noop{}

// Noop logs messages instead of sending them
type Noop struct {
}

func NewNoop() Noop {
	return Noop{}
}

func (n Noop) Notify(ctx context.Context, msg coursechange.Message) error {
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg(msg.Body)
	return nil
}
