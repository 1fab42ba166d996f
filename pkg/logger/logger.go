package logger

import (
	"context"

	eh "github.com/looplab/eventhorizon"
	"github.com/sirupsen/logrus"
)

func Logger() *logrus.Entry {
	return logrus.StandardLogger().WithField("module", "datanova-exchange")
}

// Component returns the module logger tagged with a component name.
func Component(name string) *logrus.Entry {
	return Logger().WithField("component", name)
}

// Configure sets the level and output format of the standard logger.
func Configure(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

type EventLogger struct{}

func (e EventLogger) HandlerType() eh.EventHandlerType {
	return eh.EventHandlerType("EventLogger")
}

func (e EventLogger) HandleEvent(ctx context.Context, event eh.Event) error {
	Logger().WithField("event", event.EventType()).Debugf("[Eventlogger]: %+v", event)
	return nil
}

func (e EventLogger) CommandLogger(h eh.CommandHandler) eh.CommandHandler {
	return eh.CommandHandlerFunc(func(ctx context.Context, command eh.Command) error {
		Logger().WithField("command", command.CommandType()).Debugf("CMD %#v", command)
		return h.HandleCommand(ctx, command)
	})
}
