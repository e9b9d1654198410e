package healthstatus

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/metal-stack/failover/pkg/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	status HealthStatus
	err    error
}

var (
	ok   = sample{status: HealthStatusHealthy}
	fail = sample{status: HealthStatusUnhealthy}
	oops = sample{status: HealthStatusUnhealthy, err: errIntentional}
)

func repeat(s sample, n int) []sample {
	res := make([]sample, n)
	for i := range res {
		res[i] = s
	}
	return res
}

func concat(parts ...[]sample) []sample {
	var res []sample
	for _, p := range parts {
		res = append(res, p...)
	}
	return res
}

func states(s HealthStatus, n int) []HealthStatus {
	res := make([]HealthStatus, n)
	for i := range res {
		res[i] = s
	}
	return res
}

func joinStates(parts ...[]HealthStatus) []HealthStatus {
	var res []HealthStatus
	for _, p := range parts {
		res = append(res, p...)
	}
	return res
}

func TestHysteresisCounted(t *testing.T) {
	tests := []struct {
		name    string
		config  HysteresisConfig
		samples []sample
		want    []HealthStatus
	}{
		{
			name: "fails after three and recovers after five",
			config: HysteresisConfig{
				InitialState: HealthStatusHealthy,
				FailAfter:    units.Count(3),
				OKAfter:      units.Count(5),
			},
			samples: concat(repeat(ok, 2), repeat(fail, 4), repeat(ok, 6)),
			want: joinStates(
				states(HealthStatusHealthy, 2),
				states(HealthStatusHealthy, 2), states(HealthStatusUnhealthy, 2),
				states(HealthStatusUnhealthy, 4), states(HealthStatusHealthy, 2),
			),
		},
		{
			name: "errors neither change state nor counters",
			config: HysteresisConfig{
				InitialState: HealthStatusHealthy,
				FailAfter:    units.Count(2),
				OKAfter:      units.Count(2),
			},
			samples: concat([]sample{ok}, repeat(oops, 4), repeat(fail, 3), repeat(oops, 4)),
			want: joinStates(
				states(HealthStatusHealthy, 5),
				[]HealthStatus{HealthStatusHealthy}, states(HealthStatusUnhealthy, 2),
				states(HealthStatusUnhealthy, 4),
			),
		},
		{
			name: "errors between disagreements keep the accumulated count",
			config: HysteresisConfig{
				InitialState: HealthStatusHealthy,
				FailAfter:    units.Count(2),
				OKAfter:      units.Count(1),
			},
			samples: []sample{fail, oops, oops, fail},
			want:    []HealthStatus{HealthStatusHealthy, HealthStatusHealthy, HealthStatusHealthy, HealthStatusUnhealthy},
		},
		{
			name: "agreeing sample resets the disagreement",
			config: HysteresisConfig{
				InitialState: HealthStatusHealthy,
				FailAfter:    units.Count(2),
				OKAfter:      units.Count(1),
			},
			samples: []sample{fail, ok, fail, ok, fail, fail},
			want: []HealthStatus{
				HealthStatusHealthy, HealthStatusHealthy, HealthStatusHealthy,
				HealthStatusHealthy, HealthStatusHealthy, HealthStatusUnhealthy,
			},
		},
		{
			name: "single sample thresholds pass through",
			config: HysteresisConfig{
				InitialState: HealthStatusUnhealthy,
				FailAfter:    units.Count(1),
				OKAfter:      units.Count(1),
			},
			samples: []sample{ok, fail, ok, ok, fail},
			want: []HealthStatus{
				HealthStatusHealthy, HealthStatusUnhealthy, HealthStatusHealthy,
				HealthStatusHealthy, HealthStatusUnhealthy,
			},
		},
		{
			name:    "defaults to healthy",
			config:  HysteresisConfig{FailAfter: units.Count(1), OKAfter: units.Count(1)},
			samples: []sample{oops},
			want:    []HealthStatus{HealthStatusHealthy},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := newSettableCheck("task", HealthStatusHealthy)
			hc, err := Hysteresis(testLogger(t), task, tt.config)
			require.NoError(t, err)

			var got []HealthStatus
			for _, s := range tt.samples {
				task.set(s.status, s.err)
				status, err := hc.Check(t.Context())
				require.NoError(t, err)
				got = append(got, status)
			}

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHysteresisTimed(t *testing.T) {
	task := newSettableCheck("task", HealthStatusHealthy)
	hc, err := Hysteresis(testLogger(t), task, HysteresisConfig{
		InitialState: HealthStatusHealthy,
		FailAfter:    units.Duration(500 * time.Millisecond),
		OKAfter:      units.Duration(300 * time.Millisecond),
	})
	require.NoError(t, err)

	check := func(want HealthStatus) {
		t.Helper()
		got, err := hc.Check(t.Context())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	check(HealthStatusHealthy)
	check(HealthStatusHealthy)

	task.set(HealthStatusUnhealthy, nil)
	check(HealthStatusHealthy)
	check(HealthStatusHealthy)
	time.Sleep(500 * time.Millisecond)
	check(HealthStatusUnhealthy)
	check(HealthStatusUnhealthy)

	task.set(HealthStatusHealthy, nil)
	check(HealthStatusUnhealthy)
	check(HealthStatusUnhealthy)
	time.Sleep(300 * time.Millisecond)
	check(HealthStatusHealthy)
	check(HealthStatusHealthy)
}

func TestHysteresisTimedWithClock(t *testing.T) {
	task := newSettableCheck("task", HealthStatusUnhealthy)
	hc, err := Hysteresis(testLogger(t), task, HysteresisConfig{
		InitialState: HealthStatusHealthy,
		FailAfter:    units.Duration(time.Minute),
		OKAfter:      units.Count(1),
	})
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hc.now = func() time.Time { return now }

	for _, step := range []struct {
		advance time.Duration
		want    HealthStatus
	}{
		{0, HealthStatusHealthy},
		{30 * time.Second, HealthStatusHealthy},
		{29 * time.Second, HealthStatusHealthy},
		{time.Second, HealthStatusUnhealthy},
		{time.Hour, HealthStatusUnhealthy},
	} {
		now = now.Add(step.advance)
		got, err := hc.Check(t.Context())
		require.NoError(t, err)
		assert.Equal(t, step.want, got, "after advancing %s", step.advance)
	}
}

func TestHysteresisRejectsInvalidThresholds(t *testing.T) {
	task := newSettableCheck("task", HealthStatusHealthy)

	invalid := []units.Threshold{{}, {Kind: units.Kind(42), Count: 1}}
	for _, c := range []int64{-2, -1, 0} {
		invalid = append(invalid, units.Count(c), units.Duration(time.Duration(c)*time.Second))
	}

	for _, th := range invalid {
		_, err := Hysteresis(testLogger(t), task, HysteresisConfig{FailAfter: th, OKAfter: units.Count(1)})
		require.ErrorIs(t, err, units.ErrInvalidArgument, "fail_after %s", th)
		assert.Contains(t, err.Error(), "fail_after")

		_, err = Hysteresis(testLogger(t), task, HysteresisConfig{FailAfter: units.Count(1), OKAfter: th})
		require.ErrorIs(t, err, units.ErrInvalidArgument, "ok_after %s", th)
		assert.Contains(t, err.Error(), "ok_after")
	}

	_, err := Hysteresis(testLogger(t), nil, HysteresisConfig{FailAfter: units.Count(1), OKAfter: units.Count(1)})
	require.ErrorIs(t, err, units.ErrInvalidArgument)
}

func TestHysteresisIsStable(t *testing.T) {
	for _, initial := range []HealthStatus{HealthStatusHealthy, HealthStatusUnhealthy} {
		task := newSettableCheck("task", initial)
		hc, err := Hysteresis(testLogger(t), task, HysteresisConfig{
			InitialState: initial,
			FailAfter:    units.Count(1),
			OKAfter:      units.Count(1),
		})
		require.NoError(t, err)
		assert.Equal(t, "task", hc.ServiceName())

		for range 20 {
			got, err := hc.Check(t.Context())
			require.NoError(t, err)
			require.Equal(t, initial, got)
		}
	}
}

func TestHysteresisSerializesConcurrentChecks(t *testing.T) {
	const (
		failAfter = 50
		callers   = 100
	)

	task := newSettableCheck("task", HealthStatusUnhealthy)
	hc, err := Hysteresis(testLogger(t), task, HysteresisConfig{
		InitialState: HealthStatusHealthy,
		FailAfter:    units.Count(failAfter),
		OKAfter:      units.Count(1),
	})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		lock    sync.Mutex
		healthy int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := hc.Check(t.Context())
			assert.NoError(t, err)
			if got.Healthy() {
				lock.Lock()
				healthy++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	// exactly the samples below the threshold were answered with the old state
	assert.Equal(t, failAfter-1, healthy)
	assert.Equal(t, int64(callers), task.checks.Load())
}
