package vfs

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestCheckAccess(t *testing.T) {
	owner := AccessInfo{UID: 100, GID: 200, Mode: 0640}

	for _, tt := range []struct {
		name    string
		ioc     *IOContext
		mask    AccessMask
		wantErr bool
	}{
		{"owner can read", &IOContext{UID: 100, GID: 200}, MaskRead, false},
		{"owner can write", &IOContext{UID: 100, GID: 200}, MaskWrite, false},
		{"owner cannot exec", &IOContext{UID: 100, GID: 200}, MaskExec, true},
		{"group can read", &IOContext{UID: 1, GID: 200}, MaskRead, false},
		{"group cannot write", &IOContext{UID: 1, GID: 200}, MaskWrite, true},
		{"other cannot read", &IOContext{UID: 1, GID: 1}, MaskRead, true},
		{"root bypasses read/write", &IOContext{UID: 0, GID: 0}, MaskRead | MaskWrite, false},
		{"root still needs some exec bit", &IOContext{UID: 0, GID: 0}, MaskExec, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := checkAccess(tt.ioc, owner, tt.mask)
			if tt.wantErr && !errors.Is(err, unix.EACCES) {
				t.Errorf("checkAccess() error = %v, want EACCES", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("checkAccess() error = %v, want nil", err)
			}
		})
	}
}

func TestCheckAccessRootWithAnyExecBit(t *testing.T) {
	execOwner := AccessInfo{UID: 100, GID: 200, Mode: 0700}
	if err := checkAccess(&IOContext{UID: 0, GID: 0}, execOwner, MaskExec); err != nil {
		t.Errorf("root with an executable owner bit should pass: %v", err)
	}
}
