package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okian/flagrace/internal/adapters/http/api"
	service "github.com/okian/flagrace/internal/app"
	"github.com/okian/flagrace/internal/domain/model"
	"github.com/okian/flagrace/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const seedYAML = `
teams:
  - {id: red, name: Red, group_id: g1}
  - {id: blue, name: Blue, group_id: g1}
levels:
  - {id: l1, name: One, order: 1, base_points: 200, hint_type: points, flag: "FLAG{one}", is_active: true}
`

// server starts a seeded service behind the API.
func server() (*httptest.Server, *service.Service) {
	seed, err := service.ParseSeed([]byte(seedYAML))
	So(err, ShouldBeNil)
	svc := service.New(service.WithWorkerCount(1))
	So(svc.Start(context.Background()), ShouldBeNil)
	So(svc.ApplySeed(context.Background(), seed), ShouldBeNil)
	mux := http.NewServeMux()
	api.NewServer(svc).Register(context.Background(), mux)
	return httptest.NewServer(mux), svc
}

func execute(srv *httptest.Server, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestFlagctl(t *testing.T) {
	Convey("Given a running flagrace server", t, func() {
		srv, svc := server()
		defer func() {
			srv.Close()
			_ = svc.Stop(context.Background())
		}()

		Convey("When an event is initialized", func() {
			out, err := execute(srv, "init", "--name", "Finals", "--teams", "10", "--groups", "3", "--levels", "4")

			Convey("Then the computed layout is printed", func() {
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, `event "Finals": 10 teams in 3 groups (4 per group), 4 levels`)
			})
		})

		Convey("When init misses required flags", func() {
			_, err := execute(srv, "init", "--name", "x")

			Convey("Then cobra rejects it", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a team has scored", func() {
			_, err := svc.SubmitFlag(context.Background(), service.SubmitRequest{TeamID: "blue", LevelID: "l1", Flag: "FLAG{one}", TimeTaken: 50})
			So(err, ShouldBeNil)
			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				if e, err := svc.Rank(context.Background(), "blue"); err == nil && e.Score == 200 {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}

			Convey("Then the leaderboard table ranks it first", func() {
				out, err := execute(srv, "leaderboard", "-n", "5")
				So(err, ShouldBeNil)
				lines := strings.Split(strings.TrimSpace(out), "\n")
				So(len(lines), ShouldEqual, 3)
				So(lines[0], ShouldStartWith, "RANK")
				So(lines[1], ShouldContainSubstring, "Blue")
				So(lines[1], ShouldContainSubstring, "200")
			})

			Convey("Then JSON output decodes", func() {
				out, err := execute(srv, "lb", "--json")
				So(err, ShouldBeNil)
				var entries []model.LeaderboardEntry
				So(json.Unmarshal([]byte(out), &entries), ShouldBeNil)
				So(entries[0].TeamID, ShouldEqual, "blue")
			})

			Convey("Then team stats are printed", func() {
				out, err := execute(srv, "stats", "blue")
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "score")
				So(out, ShouldContainSubstring, "200")
				So(out, ShouldContainSubstring, "50.0s")
			})

			Convey("Then an unknown team is an error", func() {
				_, err := execute(srv, "stats", "green")
				So(errors.Is(err, ErrRequest), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "404 not_found")
			})

			Convey("Then the export is written to a file", func() {
				path := filepath.Join(t.TempDir(), "snap.json")
				out, err := execute(srv, "export", "-o", path)
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, path)
				data, err := os.ReadFile(path)
				So(err, ShouldBeNil)
				var snap model.Snapshot
				So(json.Unmarshal(data, &snap), ShouldBeNil)
				So(len(snap.Submissions), ShouldEqual, 1)
			})

			Convey("Then reset needs confirmation", func() {
				_, err := execute(srv, "reset")
				So(err, ShouldEqual, errNotConfirmed)
			})

			Convey("Then a confirmed reset clears the competition", func() {
				out, err := execute(srv, "reset", "--yes")
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "competition reset")
				status, err := execute(srv, "reset", "--status")
				So(err, ShouldBeNil)
				So(strings.TrimSpace(status), ShouldEqual, "reset complete")
			})
		})

		Convey("When anomalies are listed on a quiet competition", func() {
			out, err := execute(srv, "anomalies")

			Convey("Then none are reported", func() {
				So(err, ShouldBeNil)
				So(strings.TrimSpace(out), ShouldEqual, "no anomalies")
			})
		})

		Convey("When an announcement is made", func() {
			out, err := execute(srv, "announce", "Level 2 opens soon")

			Convey("Then the server keeps it", func() {
				So(err, ShouldBeNil)
				So(out, ShouldStartWith, "announced ")
				So(svc.Announcements()[0].Message, ShouldEqual, "Level 2 opens soon")
			})
		})
	})

	Convey("Given an unreachable server", t, func() {
		var out bytes.Buffer
		cmd := newRootCmd(&out)
		cmd.SetArgs([]string{"--server", "http://127.0.0.1:1", "--timeout", "500ms", "anomalies"})

		Convey("Then the command fails", func() {
			So(cmd.Execute(), ShouldNotBeNil)
		})
	})
}
