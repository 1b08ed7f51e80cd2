package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	Convey("Given the Logger package", t, func() {
		Convey("When creating a logger with console output only", func() {
			logger, err := New("info", "")

			So(err, ShouldBeNil)
			So(logger, ShouldNotBeNil)
			So(func() { logger.Infof("backup %s created", "nightly") }, ShouldNotPanic)
		})

		Convey("When creating a logger with a log file", func() {
			logFile := filepath.Join(t.TempDir(), "logs", "archivist.log")

			logger, err := New("debug", logFile)
			So(err, ShouldBeNil)

			logger.Named("usecase").Debugf("State %s -> %s", "idle", "creating")
			logger.Close()

			Convey("Entries are written as JSON with the logger name", func() {
				content, err := os.ReadFile(logFile)
				So(err, ShouldBeNil)
				So(string(content), ShouldContainSubstring, `"logger":"usecase"`)
				So(string(content), ShouldContainSubstring, "State idle -> creating")
			})
		})

		Convey("When the level is unknown it falls back to info", func() {
			logFile := filepath.Join(t.TempDir(), "archivist.log")

			logger, err := New("loud", logFile)
			So(err, ShouldBeNil)

			logger.Debugf("hidden")
			logger.Infof("shown")
			logger.Close()

			content, err := os.ReadFile(logFile)
			So(err, ShouldBeNil)
			So(strings.Contains(string(content), "hidden"), ShouldBeFalse)
			So(string(content), ShouldContainSubstring, "shown")
		})

		Convey("When the log directory cannot be created", func() {
			blocker := filepath.Join(t.TempDir(), "file")
			So(os.WriteFile(blocker, nil, 0644), ShouldBeNil)

			logger, err := New("info", filepath.Join(blocker, "test.log"))

			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to create log directory")
			So(logger, ShouldBeNil)
		})

		Convey("Nop discards output", func() {
			So(func() { Nop().Errorf("ignored %d", 1) }, ShouldNotPanic)
		})
	})
}
