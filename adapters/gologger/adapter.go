package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Loggers is the logging surface of one botfactory component, in both the
// go-logger and go-job shapes.
type Loggers struct {
	Component string
	Provider  glog.LoggerProvider
	Logger    glog.Logger
	Job       job.Logger
}

// ForComponent resolves the loggers for component. A provider wins over a
// fixed logger and hands out a child named after the component; with neither
// the component logs nowhere.
func ForComponent(component string, provider glog.LoggerProvider, logger glog.Logger) Loggers {
	component = strings.TrimSpace(component)
	resolvedProvider, resolved := glog.Resolve(component, provider, logger)
	if provider != nil && component != "" {
		if named := provider.GetLogger(component); named != nil {
			resolved = named
		}
	}
	resolved = glog.Ensure(resolved)
	return Loggers{
		Component: component,
		Provider:  resolvedProvider,
		Logger:    resolved,
		Job:       job.GoLogger(resolved),
	}
}

// JobProvider exposes the resolved provider to go-job workers.
func (l Loggers) JobProvider() job.LoggerProvider {
	if l.Provider == nil {
		return nil
	}
	return job.GoLoggerProvider(l.Provider)
}
