// Package types holds the small interfaces shared across lila: logging,
// subprocess execution and HTTP.
package types

// Logger is the structured logger handed around in contexts. Fields are
// zap.Field values; anything else is ignored.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	// Fatalf logs and exits the process.
	Fatalf(msg string, fields ...interface{})
}

// MockLogger discards everything. Tests put it in a context to silence logging.
type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...interface{})  {}
func (m *MockLogger) Info(msg string, fields ...interface{})   {}
func (m *MockLogger) Warn(msg string, fields ...interface{})   {}
func (m *MockLogger) Error(msg string, fields ...interface{})  {}
func (m *MockLogger) Fatalf(msg string, fields ...interface{}) {}
