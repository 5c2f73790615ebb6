package registration

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/m2mlink/m2m-go/pkg/model"
	"github.com/m2mlink/m2m-go/pkg/scheduler"
	"github.com/m2mlink/m2m-go/pkg/security"
)

var epoch = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

const testLinks = "</3/0>,</3200/0>,</32769/0>"

type mockProtocol struct {
	mock.Mock
}

func (m *mockProtocol) Bootstrap(sec *security.Context, endpoint string, out Outcomes) error {
	return m.Called(sec, endpoint, out).Error(0)
}

func (m *mockProtocol) Register(sec *security.Context, reg Registration, out Outcomes) error {
	return m.Called(sec, reg, out).Error(0)
}

func (m *mockProtocol) Update(location string, reg Registration, out Outcomes) error {
	return m.Called(location, reg, out).Error(0)
}

func (m *mockProtocol) Deregister(location string, out Outcomes) error {
	return m.Called(location, out).Error(0)
}

func (m *mockProtocol) Notify(location string, path model.Path, value []byte, out Outcomes) error {
	return m.Called(location, path, value, out).Error(0)
}

type recordingObserver struct {
	events []string
}

func (r *recordingObserver) BootstrapDone(sec *security.Context) {
	r.events = append(r.events, "bootstrap:"+sec.ServerURI)
}

func (r *recordingObserver) Registered(res Result) {
	r.events = append(r.events, "registered:"+res.Location)
}

func (r *recordingObserver) RegistrationUpdated(Result) {
	r.events = append(r.events, "updated")
}

func (r *recordingObserver) Unregistered() {
	r.events = append(r.events, "unregistered")
}

func (r *recordingObserver) Error(kind ErrorKind) {
	r.events = append(r.events, "error:"+kind.String())
}

type fixture struct {
	sched    *scheduler.Scheduler
	clock    *scheduler.ManualClock
	proto    *mockProtocol
	observer *recordingObserver
	session  *Session
	sec      *security.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := scheduler.NewManualClock(epoch)
	f := &fixture{
		clock:    clock,
		sched:    scheduler.NewWithConfig(scheduler.Config{Clock: clock}),
		proto:    &mockProtocol{},
		observer: &recordingObserver{},
		sec:      &security.Context{ServerURI: "udp://localhost:5683"},
	}
	f.session = NewSession(f.sched, f.proto, f.observer, DefaultConfig("m2m-device-01"))
	t.Cleanup(func() { f.proto.AssertExpectations(t) })
	return f
}

// respondAfter posts fn on the scheduler after d, the way a transport would
// deliver a response.
func (f *fixture) respondAfter(d time.Duration, fn func()) func(mock.Arguments) {
	return func(mock.Arguments) {
		f.sched.Post(fn, d)
	}
}

func (f *fixture) register(t *testing.T, lifetime time.Duration) {
	t.Helper()
	f.proto.On("Register", f.sec, mock.MatchedBy(func(r Registration) bool {
		return r.Links == testLinks && r.Endpoint == "m2m-device-01"
	}), f.session).Return(nil).Once().Run(f.respondAfter(10*time.Millisecond, func() {
		f.session.RegistrationDone(Result{Location: "/rd/5a3f", Lifetime: lifetime})
	}))

	require.NoError(t, f.session.Register(f.sec, testLinks))
	assert.Equal(t, StateAwaitingRegistration, f.session.State())

	f.sched.RunFor(10 * time.Millisecond)
	require.Equal(t, StateRegistered, f.session.State())
}

func TestRegisterSchedulesUpdateBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	f.register(t, 3600*time.Second)

	assert.Equal(t, "/rd/5a3f", f.session.Location())
	assert.Equal(t, 3600*time.Second, f.session.Lifetime())

	registeredAt := f.clock.Now()
	assert.Equal(t, registeredAt.Add(3540*time.Second), f.session.NextUpdate())

	var updateCalls []time.Time
	f.proto.On("Update", "/rd/5a3f", mock.Anything, f.session).Return(nil).Run(func(mock.Arguments) {
		updateCalls = append(updateCalls, f.clock.Now())
		f.sched.Post(func() { f.session.UpdateDone(Result{}) }, 5*time.Millisecond)
	})

	// Nothing before the deadline.
	f.sched.RunUntil(registeredAt.Add(3539 * time.Second))
	assert.Empty(t, updateCalls)

	f.sched.RunUntil(registeredAt.Add(3540*time.Second + 5*time.Millisecond))
	require.Len(t, updateCalls, 1)
	assert.Equal(t, registeredAt.Add(3540*time.Second), updateCalls[0])
	assert.Equal(t, StateRegistered, f.session.State())

	// Rescheduled from the update completion.
	f.sched.RunFor(3540*time.Second + 5*time.Millisecond)
	assert.Len(t, updateCalls, 2)

	want := []string{"registered:/rd/5a3f", "updated", "updated"}
	if diff := cmp.Diff(want, f.observer.events); diff != "" {
		t.Errorf("observer events mismatch (-want +got):\n%s", diff)
	}
}

func TestShortLifetimeUpdatesAtHalf(t *testing.T) {
	f := newFixture(t)
	f.register(t, 100*time.Second)

	assert.Equal(t, f.clock.Now().Add(50*time.Second), f.session.NextUpdate())
}

func TestUnregisterStopsScheduler(t *testing.T) {
	f := newFixture(t)
	f.register(t, 3600*time.Second)

	maintenanceRuns := 0
	f.session.Track(f.sched.PostPeriodic(func() { maintenanceRuns++ }, 25*time.Second))

	f.proto.On("Deregister", "/rd/5a3f", f.session).Return(nil).Once().
		Run(f.respondAfter(10*time.Millisecond, f.session.UnregisterDone))

	require.NoError(t, f.session.RequestUnregister())
	assert.Equal(t, StateAwaitingUnregistration, f.session.State())

	f.sched.RunFor(time.Hour)

	assert.Equal(t, StateUnregistered, f.session.State())
	assert.True(t, f.sched.Stopped())
	assert.Equal(t, 0, maintenanceRuns)
	assert.Equal(t, 0, f.sched.Len())
	assert.Empty(t, f.session.Location())
	assert.Equal(t, []string{"registered:/rd/5a3f", "unregistered"}, f.observer.events)
}

func TestOperationsRejectedWhileBusy(t *testing.T) {
	states := []struct {
		state State
		enter func(t *testing.T, f *fixture)
	}{
		{StateBootstrapping, func(t *testing.T, f *fixture) {
			f.proto.On("Bootstrap", f.sec, "m2m-device-01", f.session).Return(nil).Once()
			require.NoError(t, f.session.StartBootstrap(f.sec))
		}},
		{StateAwaitingRegistration, func(t *testing.T, f *fixture) {
			f.proto.On("Register", f.sec, mock.Anything, f.session).Return(nil).Once()
			require.NoError(t, f.session.Register(f.sec, testLinks))
		}},
		{StateAwaitingUpdate, func(t *testing.T, f *fixture) {
			f.register(t, time.Hour)
			f.proto.On("Update", "/rd/5a3f", mock.Anything, f.session).Return(nil).Once()
			require.NoError(t, f.session.RequestUpdate())
		}},
		{StateAwaitingUnregistration, func(t *testing.T, f *fixture) {
			f.register(t, time.Hour)
			f.proto.On("Deregister", "/rd/5a3f", f.session).Return(nil).Once()
			require.NoError(t, f.session.RequestUnregister())
		}},
	}
	ops := []struct {
		name string
		call func(f *fixture) error
	}{
		{"Register", func(f *fixture) error { return f.session.Register(f.sec, testLinks) }},
		{"StartBootstrap", func(f *fixture) error { return f.session.StartBootstrap(f.sec) }},
		{"RequestUpdate", func(f *fixture) error { return f.session.RequestUpdate() }},
		{"RequestUnregister", func(f *fixture) error { return f.session.RequestUnregister() }},
	}

	for _, st := range states {
		t.Run(st.state.String(), func(t *testing.T) {
			f := newFixture(t)
			st.enter(t, f)
			require.Equal(t, st.state, f.session.State())

			for _, op := range ops {
				err := op.call(f)
				assert.ErrorIs(t, err, ErrInvalidState, op.name)
				assert.Equal(t, st.state, f.session.State(), op.name)
			}
		})
	}
}

func TestRegisterAfterUnregisterRejected(t *testing.T) {
	f := newFixture(t)
	f.register(t, time.Hour)
	f.proto.On("Deregister", "/rd/5a3f", f.session).Return(nil).Once().
		Run(f.respondAfter(time.Millisecond, f.session.UnregisterDone))

	require.NoError(t, f.session.RequestUnregister())
	f.sched.RunFor(time.Second)
	require.Equal(t, StateUnregistered, f.session.State())

	assert.ErrorIs(t, f.session.Register(f.sec, testLinks), ErrInvalidState)
	assert.ErrorIs(t, f.session.StartBootstrap(f.sec), ErrInvalidState)
	assert.Equal(t, StateUnregistered, f.session.State())
	assert.Equal(t, 0, f.sched.Len())
	f.proto.AssertNumberOfCalls(t, "Register", 1)
}

func TestNotRegisteredOperations(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.session.RequestUpdate(), ErrNotRegistered)
	assert.ErrorIs(t, f.session.RequestUnregister(), ErrNotRegistered)
	assert.ErrorIs(t, f.session.Notify(model.ResourcePath(3200, 0, 5501), []byte("1")), ErrNotRegistered)
	assert.Equal(t, StateIdle, f.session.State())
}

func TestSynchronousFailureSurfacedOnScheduler(t *testing.T) {
	f := newFixture(t)
	dialErr := &net.OpError{Op: "dial", Net: "udp", Err: errors.New("connection refused")}
	f.proto.On("Register", f.sec, mock.Anything, f.session).Return(dialErr).Once()

	require.NoError(t, f.session.Register(f.sec, testLinks))

	// Reported through the scheduler, not inline.
	assert.Equal(t, StateAwaitingRegistration, f.session.State())
	assert.Empty(t, f.observer.events)

	f.sched.RunFor(0)
	assert.Equal(t, StateFailed, f.session.State())
	assert.Equal(t, KindNetworkError, f.session.Failure())
	assert.Equal(t, []string{"error:NetworkError"}, f.observer.events)
}

func TestAsyncFailureNotRetried(t *testing.T) {
	f := newFixture(t)
	f.proto.On("Register", f.sec, mock.Anything, f.session).Return(nil).Once().
		Run(f.respondAfter(time.Second, func() { f.session.Error(KindTimeout) }))

	require.NoError(t, f.session.Register(f.sec, testLinks))
	f.sched.RunFor(time.Hour)

	assert.Equal(t, StateFailed, f.session.State())
	assert.Equal(t, KindTimeout, f.session.Failure())
	f.proto.AssertNumberOfCalls(t, "Register", 1)
}

func TestErrorCancelsSessionTasks(t *testing.T) {
	f := newFixture(t)
	f.register(t, 3600*time.Second)

	ran := false
	f.session.Track(f.sched.Post(func() { ran = true }, time.Minute))

	f.session.Error(KindNotAllowed)
	f.sched.RunFor(2 * time.Hour)

	assert.False(t, ran)
	assert.True(t, f.session.NextUpdate().IsZero())
	f.proto.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnexpectedOutcomeDropped(t *testing.T) {
	f := newFixture(t)

	f.session.UpdateDone(Result{Lifetime: time.Minute})
	f.session.RegistrationDone(Result{Location: "/rd/x"})
	f.session.UnregisterDone()

	assert.Equal(t, StateIdle, f.session.State())
	assert.Empty(t, f.session.Location())
	assert.Empty(t, f.observer.events)
	assert.False(t, f.sched.Stopped())
}

func TestBootstrapThenRegister(t *testing.T) {
	f := newFixture(t)
	bootstrapSec := &security.Context{ServerURI: "udp://bootstrap:5683"}
	serverSec := &security.Context{ServerURI: "udp://mgmt:5683", Mode: security.ModePSK, Identity: "m2m-device-01", Key: []byte("k")}

	f.proto.On("Bootstrap", bootstrapSec, "m2m-device-01", f.session).Return(nil).Once().
		Run(f.respondAfter(time.Millisecond, func() { f.session.BootstrapDone(serverSec) }))
	f.proto.On("Register", serverSec, mock.Anything, f.session).Return(nil).Once()

	require.NoError(t, f.session.StartBootstrap(bootstrapSec))
	assert.Equal(t, StateBootstrapping, f.session.State())

	f.sched.RunFor(time.Millisecond)
	assert.Equal(t, StateIdle, f.session.State())
	assert.Same(t, serverSec, f.session.Security())

	require.NoError(t, f.session.Register(nil, testLinks))
	assert.Equal(t, []string{"bootstrap:udp://mgmt:5683"}, f.observer.events)
}

func TestBootstrapFailure(t *testing.T) {
	f := newFixture(t)
	f.proto.On("Bootstrap", f.sec, "m2m-device-01", f.session).Return(nil).Once().
		Run(f.respondAfter(time.Millisecond, func() { f.session.Error(KindBootstrapFailed) }))

	require.NoError(t, f.session.StartBootstrap(f.sec))
	f.sched.RunFor(time.Second)

	assert.Equal(t, StateFailed, f.session.State())
	assert.Equal(t, KindBootstrapFailed, f.session.Failure())
}

func TestReRegisterAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.proto.On("Register", f.sec, mock.Anything, f.session).Return(fmt.Errorf("%w: busy", ErrNetwork)).Once()

	require.NoError(t, f.session.Register(f.sec, testLinks))
	f.sched.RunFor(0)
	require.Equal(t, StateFailed, f.session.State())

	f.register(t, time.Hour)
	assert.Equal(t, "/rd/5a3f", f.session.Location())
}

func TestUnregisterFromFailedWithoutLocation(t *testing.T) {
	f := newFixture(t)
	f.session.Error(KindNetworkError)

	require.NoError(t, f.session.RequestUnregister())
	f.sched.RunFor(0)

	assert.Equal(t, StateUnregistered, f.session.State())
	f.proto.AssertNotCalled(t, "Deregister", mock.Anything, mock.Anything)
}

func TestNotifyWhileRegistered(t *testing.T) {
	f := newFixture(t)
	f.register(t, time.Hour)

	p := model.ResourcePath(3200, 0, 5501)
	f.proto.On("Notify", "/rd/5a3f", p, []byte("3"), f.session).Return(nil).Once()

	assert.NoError(t, f.session.Notify(p, []byte("3")))
}

func TestUpdateDelay(t *testing.T) {
	tests := []struct {
		lifetime, margin, want time.Duration
	}{
		{3600 * time.Second, 60 * time.Second, 3540 * time.Second},
		{120 * time.Second, 60 * time.Second, 60 * time.Second},
		{100 * time.Second, 60 * time.Second, 50 * time.Second},
		{time.Hour, 0, 30 * time.Minute},
		{0, 60 * time.Second, 0},
	}
	for _, tt := range tests {
		if got := UpdateDelay(tt.lifetime, tt.margin); got != tt.want {
			t.Errorf("UpdateDelay(%v, %v) = %v, want %v", tt.lifetime, tt.margin, got, tt.want)
		}
	}
}
