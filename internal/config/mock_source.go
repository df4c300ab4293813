// Copyright 2025 Upbound Inc.
// All rights reserved

package config

// MockSource is a mock Source.
type MockSource struct {
	InitializeFn     func() error
	GetSettingsFn    func() (*Settings, error)
	UpdateSettingsFn func(*Settings) error
}

// Initialize calls the underlying initialize function.
func (m *MockSource) Initialize() error {
	return m.InitializeFn()
}

// GetSettings calls the underlying get-settings function.
func (m *MockSource) GetSettings() (*Settings, error) {
	return m.GetSettingsFn()
}

// UpdateSettings calls the underlying update-settings function.
func (m *MockSource) UpdateSettings(s *Settings) error {
	return m.UpdateSettingsFn(s)
}
