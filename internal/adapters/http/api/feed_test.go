package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/flagrace/internal/adapters/http/api"
	"github.com/okian/flagrace/internal/adapters/mq/feed"
	"github.com/okian/flagrace/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type brokerDeps struct {
	broker     *feed.Broker
	subscribed chan struct{}
}

func (d *brokerDeps) Subscribe(topics ...feed.Topic) (*feed.Subscription, error) {
	sub, err := d.broker.Subscribe(topics...)
	close(d.subscribed)
	return sub, err
}

func TestFeedHandler(t *testing.T) {
	Convey("Given a feed handler over a broker", t, func() {
		deps := &brokerDeps{broker: feed.NewBroker(), subscribed: make(chan struct{})}
		h := api.NewFeedHandler(deps, time.Hour, logger.Get())

		Convey("When a client streams the teams topic", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/feed?topics=teams", http.NoBody)
			done := make(chan struct{})
			go func() {
				defer close(done)
				h.HandleFeed(w, req)
			}()
			<-deps.subscribed
			deps.broker.Publish(context.Background(), feed.TopicLeaderboard, nil)
			deps.broker.Publish(context.Background(), feed.TopicTeams, map[string]string{"id": "team-x"})
			deps.broker.Close()
			<-done

			Convey("Then only matching notifications are written as events", func() {
				body := w.Body.String()
				So(w.Header().Get("Content-Type"), ShouldEqual, "text/event-stream")
				So(body, ShouldStartWith, ": connected")
				So(body, ShouldContainSubstring, "event: teams\ndata: ")
				So(body, ShouldContainSubstring, `"team-x"`)
				So(body, ShouldNotContainSubstring, "event: leaderboard")
			})
		})

		Convey("When the client leaves", func() {
			ctx, cancel := context.WithCancel(context.Background())
			req := httptest.NewRequest("GET", "/feed", http.NoBody).WithContext(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				h.HandleFeed(httptest.NewRecorder(), req)
			}()
			<-deps.subscribed
			cancel()

			Convey("Then the handler returns", func() {
				select {
				case <-done:
				case <-time.After(2 * time.Second):
					So("handler still running", ShouldBeEmpty)
				}
			})
		})

		Convey("When an unknown topic is requested", func() {
			w := httptest.NewRecorder()
			h.HandleFeed(w, httptest.NewRequest("GET", "/feed?topics=teams,bogus", http.NoBody))

			Convey("Then the request is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Reset(func() { deps.broker.Close() })
	})
}
