package updater

import (
	"reflect"

	"github.com/golang/mock/gomock"
)

// MockInstaller is a hand-written gomock double for Installer, in the shape
// mockgen would generate from updater.Installer.
type MockInstaller struct {
	ctrl     *gomock.Controller
	recorder *MockInstallerMockRecorder
}

type MockInstallerMockRecorder struct {
	mock *MockInstaller
}

func NewMockInstaller(ctrl *gomock.Controller) *MockInstaller {
	mock := &MockInstaller{ctrl: ctrl}
	mock.recorder = &MockInstallerMockRecorder{mock}
	return mock
}

func (m *MockInstaller) EXPECT() *MockInstallerMockRecorder {
	return m.recorder
}

func (m *MockInstaller) Install(artifactPath string, restart bool) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Install", artifactPath, restart)
	ret0, _ := ret[0].(error)
	return ret0
}

func (mr *MockInstallerMockRecorder) Install(artifactPath, restart interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Install", reflect.TypeOf((*MockInstaller)(nil).Install), artifactPath, restart)
}
