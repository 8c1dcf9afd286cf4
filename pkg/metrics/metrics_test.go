package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating on a private registry with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered under the namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.eventsApplied.WithLabelValues("hint_used").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_events_applied_total"], ShouldBeTrue)
			})
		})

		Convey("When empty options are given", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithNamespace(""), WithSubsystem(""), WithHistogramBuckets(nil), WithPrometheusRegistry(registry))

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "flagrace")
				So(manager.subsystem, ShouldEqual, "scoring")
				So(len(manager.histogramBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestGlobalHelpers(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When domain events are recorded", func() {
			before := testutil.ToFloat64(global().eventsApplied.WithLabelValues("submission_recorded"))
			RecordEventApplied("submission_recorded")
			RecordPointsAwarded(400)
			RecordPointsAwarded(-5)
			RecordPenaltyMinutes(0)

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(global().eventsApplied.WithLabelValues("submission_recorded")), ShouldEqual, before+1)
				So(testutil.ToFloat64(global().pointsAwarded), ShouldBeGreaterThanOrEqualTo, 400)
			})
		})

		Convey("When gauges are updated", func() {
			UpdateQueueSize(7)
			UpdateProjectionSize(12)
			UpdateFeedSubscribers("teams", 3)

			Convey("Then they hold the last value", func() {
				So(testutil.ToFloat64(global().queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(global().projectionSize), ShouldEqual, 12)
				So(testutil.ToFloat64(global().feedSubscribers.WithLabelValues("teams")), ShouldEqual, 3)
			})
		})

		Convey("When every helper is exercised", func() {
			So(func() {
				RecordEventIngested("hint_used")
				RecordEventDuplicate("ingest")
				RecordEventRejected("malformed")
				RecordEventSkipped("reference_missing")
				RecordEventRetried()
				RecordApplyLatency(1.5)
				RecordAggregateError()
				RecordProjectionRefresh("ok")
				RecordProjectionFallback()
				RecordAnomalyFinding("fast_solve", "high")
				RecordMatrixRebuild()
				RecordResetRun("complete")
				RecordResetPassError("submissions")
				RecordExport()
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.5)
				RecordQueueEnqueueError("queue_full")
				UpdateWorkerCount(4)
				RecordWorkerProcessingLatency(3)
				RecordFeedDropped("events")
				RecordHTTPRequest("leaderboard", "GET", "200")
				RecordHTTPRequestDuration("leaderboard", "GET", "200", 2)
				RecordHTTPRateLimited("submissions")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
				RecordSystemGCPauseTime(0.2)
				UpdateTotalTeams(5)
			}, ShouldNotPanic)
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}

func TestInit(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		before := GetRegistry()
		defer Init()

		Convey("When it is initialized with a namespace and buckets", func() {
			Init(WithNamespace("ctf"), WithSubsystem("finals"), WithHistogramBuckets([]float64{1, 5, 25}))
			RecordApplyLatency(3)
			families, err := GetRegistry().Gather()

			Convey("Then a fresh registry serves the renamed collectors", func() {
				So(err, ShouldBeNil)
				So(GetRegistry(), ShouldNotEqual, before)
				var buckets int
				for _, f := range families {
					if f.GetName() == "ctf_finals_apply_latency_milliseconds" {
						buckets = len(f.GetMetric()[0].GetHistogram().GetBucket())
					}
				}
				So(buckets, ShouldEqual, 3)
				So(global().namespace, ShouldEqual, "ctf")
			})
		})

		Convey("When buckets are not strictly increasing", func() {
			Init(WithHistogramBuckets([]float64{5, 1}))

			Convey("Then the default buckets are kept", func() {
				So(IncreasingBuckets([]float64{5, 1}), ShouldBeFalse)
				So(IncreasingBuckets([]float64{1, 1}), ShouldBeFalse)
				So(IncreasingBuckets([]float64{0.5, 1}), ShouldBeTrue)
				So(global().histogramBuckets, ShouldResemble, []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500})
			})
		})
	})
}
