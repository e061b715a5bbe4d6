package restore

import (
	"context"
	"sync"

	"github.com/sls-project/sls/pkg/types"
)

// FakeTarget is an in-memory Target for tests, matching the style of
// pkg/hostproc's FakeHost.
type FakeTarget struct {
	mu sync.Mutex

	TornDown      bool
	VMSpace       types.AddressSpaceDescriptor
	MappedRegions []types.RegionDescriptor
	Pages         map[uintptr][]byte
	Actions       []types.SignalAction
	ThreadCount   int
	ThreadStates  map[int]types.ThreadDescriptor
	Killed        bool
	Resumed       bool

	FailOn string // name of the method to fail, for error-path tests
}

func (f *FakeTarget) shouldFail(name string) bool {
	return f.FailOn == name
}

func (f *FakeTarget) TearDown(ctx context.Context, pid int) error {
	if f.shouldFail("TearDown") {
		return errFake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TornDown = true
	f.MappedRegions = nil
	f.Pages = make(map[uintptr][]byte)
	return nil
}

func (f *FakeTarget) SetAddressSpace(ctx context.Context, pid int, vmspace types.AddressSpaceDescriptor) error {
	if f.shouldFail("SetAddressSpace") {
		return errFake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.VMSpace = vmspace
	return nil
}

func (f *FakeTarget) MapRegion(ctx context.Context, pid int, region types.RegionDescriptor) error {
	if f.shouldFail("MapRegion") {
		return errFake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MappedRegions = append(f.MappedRegions, region)
	return nil
}

func (f *FakeTarget) WritePage(ctx context.Context, pid int, region types.RegionDescriptor, page types.SavedPage) error {
	if f.shouldFail("WritePage") {
		return errFake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Pages == nil {
		f.Pages = make(map[uintptr][]byte)
	}
	f.Pages[page.VAddr] = page.Bytes
	return nil
}

func (f *FakeTarget) SetSignalActions(ctx context.Context, pid int, actions []types.SignalAction) error {
	if f.shouldFail("SetSignalActions") {
		return errFake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Actions = actions
	return nil
}

func (f *FakeTarget) EnsureThreadCount(ctx context.Context, pid int, want int) error {
	if f.shouldFail("EnsureThreadCount") {
		return errFake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ThreadCount = want
	return nil
}

func (f *FakeTarget) SetThreadState(ctx context.Context, pid int, ordinal int, desc types.ThreadDescriptor) error {
	if f.shouldFail("SetThreadState") {
		return errFake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ThreadStates == nil {
		f.ThreadStates = make(map[int]types.ThreadDescriptor)
	}
	f.ThreadStates[ordinal] = desc
	return nil
}

func (f *FakeTarget) Kill(ctx context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Killed = true
	return nil
}

func (f *FakeTarget) Continue(ctx context.Context, pid int) error {
	if f.shouldFail("Continue") {
		return errFake
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resumed = true
	return nil
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errFake = fakeError("fake target failure")
