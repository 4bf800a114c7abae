package scheduler

import "github.com/ethereum/go-ethereum/log"

// Multi fans every callback out to several listeners in order
type Multi []Listener

var _ Listener = Multi(nil)
var _ InvocationGuard = Multi(nil)

func (m Multi) OnBeforeClass(class Class) {
	for _, l := range m {
		l.OnBeforeClass(class)
	}
}

func (m Multi) OnAfterClass(class Class) {
	for _, l := range m {
		l.OnAfterClass(class)
	}
}

func (m Multi) OnConfigurationFailure(r *Result) {
	for _, l := range m {
		l.OnConfigurationFailure(r)
	}
}

func (m Multi) OnConfigurationSkip(r *Result) {
	for _, l := range m {
		l.OnConfigurationSkip(r)
	}
}

func (m Multi) OnTestStart(r *Result) {
	for _, l := range m {
		l.OnTestStart(r)
	}
}

func (m Multi) OnTestSuccess(r *Result) {
	for _, l := range m {
		l.OnTestSuccess(r)
	}
}

func (m Multi) OnTestFailure(r *Result) {
	for _, l := range m {
		l.OnTestFailure(r)
	}
}

func (m Multi) OnTestSkipped(r *Result) {
	for _, l := range m {
		l.OnTestSkipped(r)
	}
}

func (m Multi) OnTestFailedWithTimeout(r *Result) {
	for _, l := range m {
		l.OnTestFailedWithTimeout(r)
	}
}

func (m Multi) OnTestFailedWithinSuccessPercentage(r *Result) {
	for _, l := range m {
		l.OnTestFailedWithinSuccessPercentage(r)
	}
}

// BeforeInvocation returns the first error reported by a guarding listener
func (m Multi) BeforeInvocation(r *Result) error {
	for _, l := range m {
		if g, ok := l.(InvocationGuard); ok {
			if err := g.BeforeInvocation(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoggingListener logs every callback at debug level
type LoggingListener struct {
	log log.Logger
}

var _ Listener = (*LoggingListener)(nil)

// NewLoggingListener creates a listener writing to logger
func NewLoggingListener(logger log.Logger) *LoggingListener {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &LoggingListener{log: logger.New("component", "scheduler-events")}
}

func (l *LoggingListener) OnBeforeClass(class Class) {
	l.log.Debug("Before class", "class", class.Name)
}

func (l *LoggingListener) OnAfterClass(class Class) {
	l.log.Debug("After class", "class", class.Name)
}

func (l *LoggingListener) OnConfigurationFailure(r *Result) {
	l.logResult("Configuration failure", r)
}

func (l *LoggingListener) OnConfigurationSkip(r *Result) {
	l.logResult("Configuration skipped", r)
}

func (l *LoggingListener) OnTestStart(r *Result) {
	l.logResult("Test started", r)
}

func (l *LoggingListener) OnTestSuccess(r *Result) {
	l.logResult("Test succeeded", r)
}

func (l *LoggingListener) OnTestFailure(r *Result) {
	l.logResult("Test failed", r)
}

func (l *LoggingListener) OnTestSkipped(r *Result) {
	l.logResult("Test skipped", r)
}

func (l *LoggingListener) OnTestFailedWithTimeout(r *Result) {
	l.logResult("Test timed out", r)
}

func (l *LoggingListener) OnTestFailedWithinSuccessPercentage(r *Result) {
	l.logResult("Test failed within success percentage", r)
}

func (l *LoggingListener) logResult(msg string, r *Result) {
	l.log.Debug(msg,
		"class", r.Class.Name,
		"method", r.Method.Name,
		"id", r.ID,
		"thread", r.Thread,
		"invocation", r.InvocationIndex,
		"error", r.Err,
	)
}
