package util

import "github.com/influxdata/influxdb-client-go/api/write"

// MockWriteAPI is a no-op metrics sink used when no InfluxDB endpoint
// is configured, and by tests.
type MockWriteAPI struct{}

func (m *MockWriteAPI) WriteRecord(line string)       {}
func (m *MockWriteAPI) WritePoint(point *write.Point) {}
func (m *MockWriteAPI) Flush()                        {}
func (m *MockWriteAPI) Close()                        {}

// Errors returns nil; the mock never produces write errors.
func (m *MockWriteAPI) Errors() <-chan error { return nil }
