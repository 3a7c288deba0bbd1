package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("judge"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered under the namespace", func() {
				So(m, ShouldNotBeNil)
				m.sessionsCreated.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_judge_sessions_created_total"], ShouldBeTrue)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording session lifecycle metrics", func() {
			before := testutil.ToFloat64(globalManager.sessionsCreated)
			RecordSessionCreated()
			RecordRoundAdvanced("1")
			RecordSessionCompleted()
			RecordSequenceViolation()
			RecordValidationFailure("matchName")
			RecordBusyRejection()
			RecordStaleDiscard("advance_round")
			UpdateOpenSessions(3)

			Convey("Then counters move", func() {
				So(testutil.ToFloat64(globalManager.sessionsCreated), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.openSessions), ShouldEqual, 3)
			})
		})

		Convey("When recording auth metrics", func() {
			SetAuthenticated(true)
			So(testutil.ToFloat64(globalManager.authState), ShouldEqual, 1)
			SetAuthenticated(false)
			So(testutil.ToFloat64(globalManager.authState), ShouldEqual, 0)

			So(func() {
				RecordLogin("ok")
				RecordLogin("rejected")
				RecordLogout()
				RecordForcedLogout()
			}, ShouldNotPanic)
		})

		Convey("When recording transport metrics", func() {
			So(func() {
				RecordBackendCall("authenticate", "ok", 12)
				RecordHTTPRequest("sessions", "POST", "201")
				RecordHTTPRequestDuration("sessions", "POST", "201", 3)
			}, ShouldNotPanic)
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
