package metrics

import (
	"errors"

	"rgbdtrain/pkg/logger"
)

// Sink is implemented by every scalar recorder in this package
type Sink interface {
	Record(name string, value float64, index int) error
}

// LogSink writes each scalar as a debug log event
type LogSink struct {
	logger logger.Logger
}

// NewLogSink creates a sink that logs through log
func NewLogSink(log logger.Logger) *LogSink {
	if log == nil {
		log = logger.GetLogger()
	}
	return &LogSink{logger: log}
}

func (s *LogSink) Record(name string, value float64, index int) error {
	s.logger.DebugWithFields("Scalar", map[string]interface{}{
		"name":  name,
		"value": value,
		"index": index,
	})
	return nil
}

// Multi fans each record out to several sinks in order and stops at the
// first error
type Multi []Sink

func (m Multi) Record(name string, value float64, index int) error {
	for _, s := range m {
		if err := s.Record(name, value, index); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink that holds resources and joins their errors
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
