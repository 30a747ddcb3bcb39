// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

//go:build windows

package machine

import (
	"context"
	"runtime"
	"unsafe"

	"github.com/juju/errors"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/sessionguard"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")
	modnetapi32 = windows.NewLazySystemDLL("netapi32.dll")
	modwtsapi32 = windows.NewLazySystemDLL("wtsapi32.dll")

	procSetComputerNameExW          = modkernel32.NewProc("SetComputerNameExW")
	procNetJoinDomain               = modnetapi32.NewProc("NetJoinDomain")
	procNetLocalGroupGetMembers     = modnetapi32.NewProc("NetLocalGroupGetMembers")
	procNetLocalGroupAddMembers     = modnetapi32.NewProc("NetLocalGroupAddMembers")
	procNetLocalGroupDelMembers     = modnetapi32.NewProc("NetLocalGroupDelMembers")
	procWTSQuerySessionInformationW = modwtsapi32.NewProc("WTSQuerySessionInformationW")
)

const (
	computerNamePhysicalDNSHostname = 5

	// pendingNameKey holds the DNS host name in effect after the next
	// reboot.
	pendingNameKey   = `SYSTEM\CurrentControlSet\Services\Tcpip\Parameters`
	pendingNameValue = "NV Hostname"

	statusMoreData   = 234
	maxPreferredSize = 32768
	wtsUserName      = 5
	sFalse           = windows.Errno(1)
)

// localGroupMembersInfo3 is LOCALGROUP_MEMBERS_INFO_3.
type localGroupMembersInfo3 struct {
	domainAndName *uint16
}

// Machine is the Windows platform layer.
type Machine struct{}

// New returns the Machine of the current platform.
func New() *Machine {
	return &Machine{}
}

// Facts is part of the domainjoin.Machine interface.
func (m *Machine) Facts(ctx context.Context) (identity.Facts, error) {
	active, err := activeName()
	if err != nil {
		return identity.Facts{}, errors.Trace(err)
	}
	pending, err := pendingName()
	if errors.Is(err, errors.NotFound) {
		pending = active
	} else if err != nil {
		return identity.Facts{}, errors.Trace(err)
	}
	domain, err := domainName()
	if err != nil {
		return identity.Facts{}, errors.Trace(err)
	}
	info := windows.RtlGetVersion()
	return identity.Facts{
		ActiveName:  active,
		PendingName: pending,
		Domain:      domain,
		OSVersion:   osVersion(info.MajorVersion, info.MinorVersion, info.BuildNumber),
	}, nil
}

func activeName() (string, error) {
	buf := make([]uint16, 256)
	n := uint32(len(buf))
	if err := windows.GetComputerNameEx(computerNamePhysicalDNSHostname, &buf[0], &n); err != nil {
		return "", errors.Annotate(err, "reading computer name")
	}
	return windows.UTF16ToString(buf[:n]), nil
}

func pendingName() (string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, pendingNameKey, registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return "", errors.NotFoundf("pending computer name")
	} else if err != nil {
		return "", errors.Annotatef(err, "opening HKLM\\%s", pendingNameKey)
	}
	defer k.Close()

	name, _, err := k.GetStringValue(pendingNameValue)
	if errors.Is(err, registry.ErrNotExist) {
		return "", errors.NotFoundf("pending computer name")
	} else if err != nil {
		return "", errors.Annotate(err, "reading pending computer name")
	}
	return name, nil
}

func domainName() (string, error) {
	var (
		name   *uint16
		status uint32
	)
	if err := windows.NetGetJoinInformation(nil, &name, &status); err != nil {
		return "", errors.Annotate(err, "reading domain membership")
	}
	defer windows.NetApiBufferFree((*byte)(unsafe.Pointer(name)))
	if status != windows.NetSetupDomainName {
		return "", nil
	}
	return windows.UTF16PtrToString(name), nil
}

// Rename is part of the domainjoin.Machine interface.
func (m *Machine) Rename(ctx context.Context, name string) error {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return errors.Trace(err)
	}
	r1, _, e1 := procSetComputerNameExW.Call(computerNamePhysicalDNSHostname, uintptr(unsafe.Pointer(p)))
	if r1 == 0 {
		return errors.Annotatef(e1, "renaming computer to %q", name)
	}
	return nil
}

// JoinDomain is part of the domainjoin.Machine interface.
func (m *Machine) JoinDomain(ctx context.Context, req identity.JoinRequest) error {
	return join(netJoinDomain, req)
}

func netJoinDomain(domain, ou, account string, secret []byte, flags uint32) uint32 {
	d := utf16PtrOrNil(domain)
	o := utf16PtrOrNil(ou)
	a := utf16PtrOrNil(account)
	s := utf16PtrOrNil(string(secret))
	r1, _, _ := procNetJoinDomain.Call(
		0,
		uintptr(unsafe.Pointer(d)),
		uintptr(unsafe.Pointer(o)),
		uintptr(unsafe.Pointer(a)),
		uintptr(unsafe.Pointer(s)),
		uintptr(flags),
	)
	return uint32(r1)
}

// utf16PtrOrNil returns nil for empty or invalid strings.
func utf16PtrOrNil(s string) *uint16 {
	if s == "" {
		return nil
	}
	p, err := windows.UTF16PtrFromString(s)
	if err != nil {
		return nil
	}
	return p
}

// LookupGroupName is part of the sessionguard.GroupAPI interface.
func (m *Machine) LookupGroupName(sid string) (string, error) {
	s, err := windows.StringToSid(sid)
	if err != nil {
		return "", errors.Annotatef(err, "parsing %s", sid)
	}
	name, _, _, err := s.LookupAccount("")
	if err != nil {
		return "", errors.Annotatef(err, "looking up %s", sid)
	}
	return name, nil
}

// Members is part of the sessionguard.GroupAPI interface.
func (m *Machine) Members(group string, resume sessionguard.ResumeHandle) ([]string, sessionguard.ResumeHandle, error) {
	g, err := windows.UTF16PtrFromString(group)
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	var (
		buf         *byte
		read, total uint32
	)
	handle := uintptr(resume)
	r1, _, _ := procNetLocalGroupGetMembers.Call(
		0,
		uintptr(unsafe.Pointer(g)),
		3,
		uintptr(unsafe.Pointer(&buf)),
		maxPreferredSize,
		uintptr(unsafe.Pointer(&read)),
		uintptr(unsafe.Pointer(&total)),
		uintptr(unsafe.Pointer(&handle)),
	)
	if buf != nil {
		defer windows.NetApiBufferFree(buf)
	}
	if r1 != 0 && r1 != statusMoreData {
		return nil, 0, errors.Annotatef(&StatusError{Op: "NetLocalGroupGetMembers", Status: uint32(r1)}, "listing members of %q", group)
	}

	members := make([]string, 0, read)
	if read > 0 {
		entries := unsafe.Slice((*localGroupMembersInfo3)(unsafe.Pointer(buf)), read)
		for _, e := range entries {
			members = append(members, windows.UTF16PtrToString(e.domainAndName))
		}
	}
	if r1 != statusMoreData {
		handle = 0
	}
	return members, sessionguard.ResumeHandle(handle), nil
}

// AddMember is part of the sessionguard.GroupAPI interface.
func (m *Machine) AddMember(group, user string) error {
	if status := changeMembers(procNetLocalGroupAddMembers, group, user); status != 0 {
		return errors.Annotatef(&StatusError{Op: "NetLocalGroupAddMembers", Status: status}, "adding %q to %q", user, group)
	}
	return nil
}

// RemoveMember is part of the sessionguard.GroupAPI interface.
func (m *Machine) RemoveMember(group, user string) error {
	if status := changeMembers(procNetLocalGroupDelMembers, group, user); status != 0 {
		return errors.Annotatef(&StatusError{Op: "NetLocalGroupDelMembers", Status: status}, "removing %q from %q", user, group)
	}
	return nil
}

func changeMembers(proc *windows.LazyProc, group, user string) uint32 {
	g := utf16PtrOrNil(group)
	info := localGroupMembersInfo3{domainAndName: utf16PtrOrNil(user)}
	r1, _, _ := proc.Call(
		0,
		uintptr(unsafe.Pointer(g)),
		3,
		uintptr(unsafe.Pointer(&info)),
		1,
	)
	return uint32(r1)
}

// SessionUser returns the user logged on to a session.
func (m *Machine) SessionUser(session uint32) (string, error) {
	var (
		buf *uint16
		n   uint32
	)
	r1, _, e1 := procWTSQuerySessionInformationW.Call(
		0,
		uintptr(session),
		wtsUserName,
		uintptr(unsafe.Pointer(&buf)),
		uintptr(unsafe.Pointer(&n)),
	)
	if r1 == 0 {
		return "", errors.Annotatef(e1, "querying session %d", session)
	}
	defer windows.WTSFreeMemory(uintptr(unsafe.Pointer(buf)))
	return windows.UTF16PtrToString(buf), nil
}

// InitializeCOM initialises COM for the calling goroutine, which stays
// locked to its thread until the returned func is called.
func InitializeCOM() (func(), error) {
	runtime.LockOSThread()
	err := windows.CoInitializeEx(0, windows.COINIT_MULTITHREADED)
	if err != nil && !errors.Is(err, sFalse) {
		runtime.UnlockOSThread()
		return nil, errors.Annotate(err, "initializing COM")
	}
	return func() {
		windows.CoUninitialize()
		runtime.UnlockOSThread()
	}, nil
}
